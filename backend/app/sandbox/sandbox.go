// Package sandbox runs a local plugin in a child process and parses what it printed.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"dutlab/artifact"
	"dutlab/backend/app/outcome"
	"dutlab/plugin"

	"github.com/rs/zerolog"
)

type Config struct {
	// Command is the plugin host and any leading arguments.
	Command []string
	WorkDir string
	// Env is appended to the minimal PATH/HOME environment.
	Env []string
}

// Sandbox is the local executor for managed devices.
type Sandbox struct {
	cfg       Config
	registry  *plugin.Registry
	parser    *outcome.Parser
	artifacts artifact.Store
	log       zerolog.Logger
}

func New(cfg Config, reg *plugin.Registry, parser *outcome.Parser, artifacts artifact.Store, log zerolog.Logger) (*Sandbox, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("sandbox: host command is empty")
	}
	return &Sandbox{cfg: cfg, registry: reg, parser: parser, artifacts: artifacts, log: log}, nil
}

// Run never returns an error. The child is not cancelled once launched; ctx
// only scopes logging.
func (s *Sandbox) Run(ctx context.Context, inv plugin.Invocation) plugin.Result {
	start := time.Now()
	fail := func(msg string) plugin.Result {
		if err := s.artifacts.WriteError(inv.JobID, msg); err != nil {
			s.log.Warn().Err(err).Uint64("job_id", inv.JobID).Msg("write error artifact")
		}
		return plugin.Augment(plugin.Failf("%s", msg), inv.Serial, time.Since(start))
	}

	if _, _, ok := s.registry.Lookup(inv.TestName); !ok {
		s.log.Warn().Uint64("job_id", inv.JobID).Str("test", inv.TestName).Msg("plugin not registered")
		return fail("Test script not found")
	}

	params := inv.Params.Clone()
	if inv.Iterations > 0 {
		params["iterations"] = inv.Iterations
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return fail(fmt.Sprintf("Subprocess failed: encode params: %v", err))
	}

	capture, err := s.artifacts.Create(inv.JobID)
	if err != nil {
		s.log.Error().Err(err).Uint64("job_id", inv.JobID).Msg("open capture file")
		return fail("Log file not created")
	}

	args := append([]string{}, s.cfg.Command[1:]...)
	args = append(args, "-test", inv.TestName, "-iterations", fmt.Sprint(max(inv.Iterations, 1)), "-params", string(encoded))
	cmd := exec.Command(s.cfg.Command[0], args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = s.environ()
	cmd.Stdout = capture
	cmd.Stderr = capture
	setProcessGroup(cmd)

	s.log.Info().Uint64("job_id", inv.JobID).Str("test", inv.TestName).Str("serial", inv.Serial).Msg("plugin launched")
	if err := cmd.Start(); err != nil {
		capture.Close()
		return fail(fmt.Sprintf("Subprocess failed: %v", err))
	}
	waitErr := cmd.Wait()
	killGroup(cmd.Process.Pid)
	capture.Close()

	raw, err := s.artifacts.Read(inv.JobID)
	if err != nil {
		return fail("Log file not created")
	}
	res := s.parser.Parse(raw, inv.Serial, time.Since(start))

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.Metrics["exit_code"] = exitErr.ExitCode()
		if res.Outcome == plugin.Fail {
			if _, ok := res.Metrics["error"]; !ok {
				res.Metrics["error"] = fmt.Sprintf("Plugin exited with code %d", exitErr.ExitCode())
			}
		}
	} else if waitErr != nil {
		res = plugin.Augment(plugin.Failf("Subprocess failed: %v", waitErr), inv.Serial, time.Since(start))
	}

	s.log.Info().Uint64("job_id", inv.JobID).Str("outcome", string(res.Outcome)).Dur("elapsed", time.Since(start)).Msg("plugin finished")
	return res
}

func (s *Sandbox) environ() []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	return append(env, s.cfg.Env...)
}
