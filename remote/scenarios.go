package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dutlab/plugin"
)

// Env is shared by every scenario: how to dial and how long to wait.
type Env struct {
	Dialer  Dialer
	Connect RetryPolicy
	Reboot  RetryPolicy
	// Settle is the fixed wait after a reboot is triggered; the job's delay
	// parameter is added on top.
	Settle time.Duration
}

// DefaultEnv uses real SSH with the observed connect windows.
func DefaultEnv() Env {
	return Env{
		Dialer:  SSHDialer{Timeout: 5 * time.Second},
		Connect: DefaultConnectPolicy,
		Reboot:  DefaultRebootPolicy,
		Settle:  60 * time.Second,
	}
}

// queryScenario runs one read-only command per iteration over a single session.
type queryScenario struct {
	env     Env
	name    string
	label   string
	command string
	judge   func(outputs []string) plugin.Result
}

func (q *queryScenario) Name() string { return q.name }

func (q *queryScenario) Run(ctx context.Context, iterations int, params plugin.Params, out io.Writer) plugin.Result {
	target, err := TargetFromParams(params)
	if err != nil {
		return plugin.Failf("%s", MissingCredentialsMessage(target))
	}
	if iterations <= 0 {
		iterations = 1
	}
	delay := params.Seconds("delay", time.Second)

	sess, err := Connect(ctx, q.env.Dialer, target, q.env.Connect, out)
	if err != nil {
		return plugin.Failf("SSH connection failed")
	}
	defer sess.Close()

	outputs := make([]string, 0, iterations)
	for i := 0; i < iterations; i++ {
		stdout, stderr, err := sess.Exec(ctx, q.command)
		if stderr != "" {
			fmt.Fprintf(out, "Iteration %d error: %s\n", i+1, stderr)
			return plugin.Failf("%s", stderr)
		}
		if err != nil {
			fmt.Fprintf(out, "Command execution failed: %v\n", err)
			return plugin.Failf("%v", err)
		}
		fmt.Fprintln(out, "\n---------------------------------------------------------")
		fmt.Fprintf(out, "%s :: Iteration %d:\n\n%s\n\n", q.label, i+1, stdout)
		outputs = append(outputs, stdout)

		if i < iterations-1 {
			if err := sleep(ctx, delay); err != nil {
				return plugin.Failf("%v", err)
			}
		}
	}
	return q.judge(outputs)
}

// NewCPUInformation passes when every iteration reports the same processor info.
func NewCPUInformation(env Env) plugin.Plugin {
	return &queryScenario{
		env:     env,
		name:    "cpuinformation",
		label:   "CPU Information",
		command: `cat /proc/cpuinfo || systeminfo | findstr /C:"Processor"`,
		judge: func(outputs []string) plugin.Result {
			if len(outputs) == 0 {
				return plugin.Failf("No CPU output captured")
			}
			for _, o := range outputs[1:] {
				if o != outputs[0] {
					return plugin.Failf("Inconsistent CPU outputs")
				}
			}
			return plugin.Passed(map[string]any{"details": outputs[0]})
		},
	}
}

// NewActiveProcessInformation passes when process listings were collected.
func NewActiveProcessInformation(env Env) plugin.Plugin {
	return &queryScenario{
		env:     env,
		name:    "activeprocessinformation",
		label:   "Active Process Information",
		command: "tasklist",
		judge: func(outputs []string) plugin.Result {
			if len(outputs) == 0 {
				return plugin.Failf("No tasklist output captured")
			}
			return plugin.Passed(map[string]any{"details": fmt.Sprintf("Collected %d tasklist dumps", len(outputs))})
		},
	}
}

// restartScenario reboots the target once per iteration. The endpoint drops
// right after the command, so each iteration dials a fresh session and then
// waits the fixed settle period.
type restartScenario struct {
	env Env
}

// NewRestart returns the remote reboot test.
func NewRestart(env Env) plugin.Plugin { return &restartScenario{env: env} }

func (r *restartScenario) Name() string { return "restartTest" }

func (r *restartScenario) Run(ctx context.Context, iterations int, params plugin.Params, out io.Writer) plugin.Result {
	target, err := TargetFromParams(params)
	if err != nil {
		return plugin.Failf("%s", MissingCredentialsMessage(target))
	}
	if iterations <= 0 {
		iterations = 1
	}
	wait := r.env.Settle + params.Seconds("delay", 0)

	for i := 0; i < iterations; i++ {
		sess, err := Connect(ctx, r.env.Dialer, target, r.env.Reboot, out)
		if err != nil {
			return plugin.Failf("SSH connection failed on iteration %d", i+1)
		}
		_, stderr, execErr := sess.Exec(ctx, "shutdown /r /t 0")
		_ = sess.Close()
		if stderr != "" {
			fmt.Fprintf(out, "[ERROR] Iteration %d restart command error: %s\n", i+1, stderr)
			return plugin.Failf("%s", stderr)
		}
		if execErr != nil && errors.Is(execErr, context.Canceled) {
			return plugin.Failf("%v", execErr)
		}
		if execErr != nil {
			// the session usually dies with the reboot
			fmt.Fprintf(out, "[INFO] Restart command returned: %v\n", execErr)
		}
		fmt.Fprintf(out, "[INFO] Restart command issued on iteration %d.\n", i+1)
		fmt.Fprintf(out, "[INFO] Waiting %s for reboot...\n", wait)
		if err := sleep(ctx, wait); err != nil {
			return plugin.Failf("%v", err)
		}
	}
	return plugin.Passed(map[string]any{"details": fmt.Sprintf("Completed %d restarts", iterations)})
}

// Register adds every remote scenario to reg's remote-capable set.
func Register(reg *plugin.Registry, env Env) error {
	for _, p := range []plugin.Plugin{
		NewCPUInformation(env),
		NewActiveProcessInformation(env),
		NewRestart(env),
	} {
		if err := reg.Register(plugin.Remote, p); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
