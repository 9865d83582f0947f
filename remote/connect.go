package remote

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RetryPolicy bounds the connect phase, the only timeout in the system.
// Attempts are unbounded within Window and spaced by Backoff.
type RetryPolicy struct {
	Window  time.Duration
	Backoff time.Duration
}

var (
	DefaultConnectPolicy = RetryPolicy{Window: 20 * time.Second, Backoff: 2 * time.Second}
	DefaultRebootPolicy  = RetryPolicy{Window: 30 * time.Second, Backoff: 2 * time.Second}
)

// Connect dials t until it succeeds or the window has fully elapsed.
// Progress lines go to out so they land in the job's capture file.
func Connect(ctx context.Context, d Dialer, t Target, p RetryPolicy, out io.Writer) (Session, error) {
	if p.Backoff <= 0 {
		p.Backoff = DefaultConnectPolicy.Backoff
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		fmt.Fprintf(out, "[INFO] Attempting SSH to %s as %s (attempt %d)...\n", t.Address, t.Username, attempt)
		sess, err := d.Dial(ctx, t)
		if err == nil {
			fmt.Fprintf(out, "[INFO] Connected to %s as %s\n", t.Address, t.Username)
			return sess, nil
		}
		lastErr = err
		fmt.Fprintf(out, "[WARN] SSH attempt failed: %v\n", err)

		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, t.Address, ctx.Err())
		case <-timer.C:
		}
		if time.Since(start) >= p.Window {
			fmt.Fprintf(out, "[ERROR] Connection failed after %s to %s\n", p.Window, t.Address)
			return nil, fmt.Errorf("%w: %s after %s: %v", ErrConnectionFailed, t.Address, p.Window, lastErr)
		}
	}
}
