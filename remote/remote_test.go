package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"dutlab/artifact"
	"dutlab/internal/testutil/testlog"
	"dutlab/plugin"
)

type execStep struct {
	stdout string
	stderr string
	err    error
}

type fakeSession struct {
	mu       sync.Mutex
	steps    []execStep
	pointer  int
	commands []string
	closed   bool
}

func (s *fakeSession) Exec(_ context.Context, cmd string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	if len(s.steps) == 0 {
		return "", "", nil
	}
	if s.pointer >= len(s.steps) {
		last := s.steps[len(s.steps)-1]
		return last.stdout, last.stderr, last.err
	}
	step := s.steps[s.pointer]
	s.pointer++
	return step.stdout, step.stderr, step.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeDialer fails the first failures dials, then hands out session.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	always   bool
	calls    int
	session  *fakeSession
	targets  []Target
}

func (d *fakeDialer) Dial(_ context.Context, t Target) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.targets = append(d.targets, t)
	if d.always || d.calls <= d.failures {
		return nil, errors.New("connection refused")
	}
	return d.session, nil
}

func testEnv(d Dialer) Env {
	fast := RetryPolicy{Window: 40 * time.Millisecond, Backoff: 5 * time.Millisecond}
	return Env{Dialer: d, Connect: fast, Reboot: fast, Settle: time.Millisecond}
}

var creds = plugin.Params{"ip": "10.0.0.7", "username": "lab", "password": "secret", "delay": 0}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{failures: 2, session: &fakeSession{}}
	var out bytes.Buffer
	sess, err := Connect(context.Background(), d, Target{Address: "10.0.0.7", Username: "lab"}, RetryPolicy{Window: time.Second, Backoff: time.Millisecond}, &out)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess == nil || d.calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d", d.calls)
	}
	if !strings.Contains(out.String(), "attempt 3") {
		t.Fatalf("progress lines missing:\n%s", out.String())
	}
}

func TestConnectFailsOnlyAfterWindowElapses(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{always: true}
	window := 60 * time.Millisecond
	start := time.Now()
	_, err := Connect(context.Background(), d, Target{Address: "10.0.0.9", Username: "lab"}, RetryPolicy{Window: window, Backoff: 10 * time.Millisecond}, io.Discard)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if elapsed < window {
		t.Fatalf("gave up after %s, before the %s window", elapsed, window)
	}
	if d.calls < 2 {
		t.Fatalf("expected repeated attempts within the window, got %d", d.calls)
	}
}

func TestTargetFromParamsRequiresAddressAndUser(t *testing.T) {
	_, err := TargetFromParams(plugin.Params{"ip": "10.0.0.2"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	msg := MissingCredentialsMessage(Target{Address: "10.0.0.2"})
	if !strings.HasPrefix(msg, "Missing required") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestCPUInformationConsistency(t *testing.T) {
	testlog.Start(t)
	same := &fakeSession{steps: []execStep{{stdout: "model name: x"}, {stdout: "model name: x"}}}
	res := NewCPUInformation(testEnv(&fakeDialer{session: same})).Run(context.Background(), 2, creds, io.Discard)
	if res.Outcome != plugin.Pass || res.Metrics["details"] != "model name: x" {
		t.Fatalf("expected pass with details, got %+v", res)
	}
	if !same.closed {
		t.Fatalf("session not closed")
	}

	drift := &fakeSession{steps: []execStep{{stdout: "a"}, {stdout: "b"}}}
	res = NewCPUInformation(testEnv(&fakeDialer{session: drift})).Run(context.Background(), 2, creds, io.Discard)
	if res.Outcome != plugin.Fail || res.Metrics["error"] != "Inconsistent CPU outputs" {
		t.Fatalf("expected inconsistent failure, got %+v", res)
	}
}

func TestStderrIsFatal(t *testing.T) {
	testlog.Start(t)
	sess := &fakeSession{steps: []execStep{{stdout: "ok"}, {stderr: "Access denied"}}}
	res := NewActiveProcessInformation(testEnv(&fakeDialer{session: sess})).Run(context.Background(), 3, creds, io.Discard)
	if res.Outcome != plugin.Fail || res.Metrics["error"] != "Access denied" {
		t.Fatalf("expected stderr failure, got %+v", res)
	}
	if len(sess.commands) != 2 {
		t.Fatalf("expected run to stop after the failing iteration, ran %d", len(sess.commands))
	}
}

func TestActiveProcessCountsDumps(t *testing.T) {
	testlog.Start(t)
	sess := &fakeSession{steps: []execStep{{stdout: "System Idle Process"}}}
	res := NewActiveProcessInformation(testEnv(&fakeDialer{session: sess})).Run(context.Background(), 3, creds, io.Discard)
	if res.Outcome != plugin.Pass || res.Metrics["details"] != "Collected 3 tasklist dumps" {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, c := range sess.commands {
		if c != "tasklist" {
			t.Fatalf("unexpected command %q", c)
		}
	}
}

func TestRestartReconnectsEachIterationAndSettles(t *testing.T) {
	testlog.Start(t)
	sess := &fakeSession{steps: []execStep{{err: io.EOF}}}
	d := &fakeDialer{session: sess}
	env := testEnv(d)
	env.Settle = 20 * time.Millisecond

	start := time.Now()
	res := NewRestart(env).Run(context.Background(), 2, creds, io.Discard)
	if res.Outcome != plugin.Pass || res.Metrics["details"] != "Completed 2 restarts" {
		t.Fatalf("unexpected result %+v", res)
	}
	if d.calls != 2 {
		t.Fatalf("expected a fresh connection per iteration, got %d dials", d.calls)
	}
	if time.Since(start) < 2*env.Settle {
		t.Fatalf("settle period not honoured")
	}
	if sess.commands[0] != "shutdown /r /t 0" {
		t.Fatalf("unexpected reboot command %q", sess.commands[0])
	}
}

func TestRestartConnectFailureNamesIteration(t *testing.T) {
	testlog.Start(t)
	res := NewRestart(testEnv(&fakeDialer{always: true})).Run(context.Background(), 1, creds, io.Discard)
	if res.Metrics["error"] != "SSH connection failed on iteration 1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunnerUnreachableTarget(t *testing.T) {
	testlog.Start(t)
	reg := plugin.NewRegistry()
	if err := Register(reg, testEnv(&fakeDialer{always: true})); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := artifact.New(t.TempDir())
	r := NewRunner(reg, store, testlog.Logger(t))

	res := r.Run(context.Background(), plugin.Invocation{JobID: 5, TestName: "cpuinformation", Iterations: 1, Serial: "AUTO-1", Params: creds})
	if res.Outcome != plugin.Fail || res.Metrics["error"] != "SSH connection failed" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Metrics["serial"] != "AUTO-1" {
		t.Fatalf("serial not augmented: %+v", res.Metrics)
	}
	if _, ok := res.Metrics["runtime"]; !ok {
		t.Fatalf("runtime not augmented: %+v", res.Metrics)
	}
	raw, err := store.Read(5)
	if err != nil || !strings.Contains(raw, "Attempting SSH to 10.0.0.7") {
		t.Fatalf("capture file missing connect attempts: %v\n%s", err, raw)
	}
}

func TestRunnerRejectsLocalOnlyAndUnknownTests(t *testing.T) {
	testlog.Start(t)
	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.Local, NewCPUInformation(testEnv(&fakeDialer{})))
	store := artifact.New(t.TempDir())
	r := NewRunner(reg, store, testlog.Logger(t))

	for _, name := range []string{"cpuinformation", "missing"} {
		res := r.Run(context.Background(), plugin.Invocation{JobID: 9, TestName: name, Params: creds})
		if res.Metrics["error"] != "Test script not found" {
			t.Fatalf("%s: unexpected result %+v", name, res)
		}
	}
	if _, err := os.Stat(store.ErrorPath(9)); err != nil {
		t.Fatalf("error artifact missing: %v", err)
	}
}
