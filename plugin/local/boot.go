// Package local holds the tests that drive a DUT through its serial console.
// Until serial links to real hardware exist they simulate boot cycles.
package local

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"dutlab/plugin"
)

// BootCycle repeatedly power-cycles a device and reports a single verdict.
type BootCycle struct {
	TestName string
	Label    string
	Interval time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBootCycle returns a cycle test; seed pins the simulated verdicts.
func NewBootCycle(name, label string, interval time.Duration, seed uint64) *BootCycle {
	return &BootCycle{
		TestName: name,
		Label:    label,
		Interval: interval,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (b *BootCycle) Name() string { return b.TestName }

func (b *BootCycle) Run(ctx context.Context, iterations int, _ plugin.Params, out io.Writer) plugin.Result {
	if iterations <= 0 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		fmt.Fprintf(out, "%s Iteration %d: Booting system... %d\n", b.Label, i+1, b.intn(9000)+1000)
		fmt.Fprintln(out, b.noise(20))
		if err := sleep(ctx, b.Interval); err != nil {
			return plugin.Failf("%s interrupted: %v", b.Label, err)
		}
	}
	outcome := plugin.Fail
	if b.intn(2) == 0 {
		outcome = plugin.Pass
	}
	fmt.Fprintf(out, "Result: %s\n", outcome)
	return plugin.Result{Outcome: outcome, Metrics: map[string]any{
		"cycles": iterations,
	}}
}

func (b *BootCycle) intn(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.IntN(n)
}

func (b *BootCycle) noise(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(32 + b.rnd.IntN(95))
	}
	return string(buf)
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

// Register adds the local boot tests to reg.
func Register(reg *plugin.Registry, interval time.Duration) error {
	seed := uint64(time.Now().UnixNano())
	for _, p := range []plugin.Plugin{
		NewBootCycle("s4", "S4", interval, seed),
		NewBootCycle("warm_boot", "Warm Boot", interval, seed+1),
	} {
		if err := reg.Register(plugin.Local, p); err != nil {
			return err
		}
	}
	return nil
}
