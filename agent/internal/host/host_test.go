package host

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"dutlab/internal/testutil/testlog"
	"dutlab/plugin"
)

type stubPlugin struct {
	name   string
	result plugin.Result
	panics bool
	got    plugin.Params
}

func (s *stubPlugin) Name() string { return s.name }

func (s *stubPlugin) Run(_ context.Context, iterations int, params plugin.Params, out io.Writer) plugin.Result {
	s.got = params
	if s.panics {
		panic("boom")
	}
	io.WriteString(out, "progress line\n")
	return s.result
}

func lastBlock(t *testing.T, out string) plugin.Result {
	t.Helper()
	i := strings.LastIndex(out, plugin.BlockStart)
	j := strings.LastIndex(out, plugin.BlockEnd)
	if i < 0 || j < i {
		t.Fatalf("no result block in %q", out)
	}
	var r plugin.Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(out[i+len(plugin.BlockStart):j])), &r); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	return r
}

func TestParseArgsDecodesParams(t *testing.T) {
	a, err := ParseArgs([]string{"-test", "s4", "-iterations", "3", "-params", `{"delay":2,"ip":"10.0.0.1"}`}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Test != "s4" || a.Iterations != 3 {
		t.Fatalf("unexpected args: %+v", a)
	}
	if a.Params.Int("delay", 0) != 2 || a.Params.String("ip") != "10.0.0.1" {
		t.Fatalf("params not decoded: %+v", a.Params)
	}
}

func TestParseArgsRejectsBadInput(t *testing.T) {
	if _, err := ParseArgs([]string{"-iterations", "1"}, io.Discard); err == nil {
		t.Fatal("expected error without -test")
	}
	if _, err := ParseArgs([]string{"-test", "s4", "-params", "{not json"}, io.Discard); err == nil {
		t.Fatal("expected error for malformed params")
	}
	var out bytes.Buffer
	if code := Usage(&out, io.ErrUnexpectedEOF); code != ExitUsage {
		t.Fatalf("usage exit code = %d", code)
	}
	if r := lastBlock(t, out.String()); r.Outcome != plugin.Fail {
		t.Fatalf("usage outcome = %s", r.Outcome)
	}
}

func TestRunPrintsBlockAfterProgress(t *testing.T) {
	testlog.Start(t)
	reg := plugin.NewRegistry()
	p := &stubPlugin{name: "s4", result: plugin.Passed(map[string]any{"cycles": 2})}
	reg.MustRegister(plugin.Local, p)

	var out bytes.Buffer
	code := Run(context.Background(), reg, Args{Test: "s4", Iterations: 2, Params: plugin.Params{"delay": 1}}, &out, testlog.Logger(t))
	if code != ExitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(out.String(), "progress line\n") {
		t.Fatalf("progress not first: %q", out.String())
	}
	r := lastBlock(t, out.String())
	if r.Outcome != plugin.Pass || r.Metrics["cycles"] != float64(2) {
		t.Fatalf("unexpected result: %+v", r)
	}
	if p.got.Int("delay", 0) != 1 {
		t.Fatalf("params not forwarded: %+v", p.got)
	}
}

func TestRunUnknownPlugin(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), plugin.NewRegistry(), Args{Test: "nope"}, &out, testlog.Logger(t))
	if code != ExitUsage {
		t.Fatalf("exit code = %d", code)
	}
	r := lastBlock(t, out.String())
	if r.Outcome != plugin.Fail || !strings.Contains(r.Metrics["error"].(string), "Test script not found") {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRunNormalizesOutcomeAndRecoversPanics(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.Local, &stubPlugin{name: "odd", result: plugin.Result{Outcome: "Maybe"}})
	reg.MustRegister(plugin.Local, &stubPlugin{name: "crash", panics: true})

	var out bytes.Buffer
	Run(context.Background(), reg, Args{Test: "odd"}, &out, testlog.Logger(t))
	if r := lastBlock(t, out.String()); r.Outcome != plugin.Fail {
		t.Fatalf("odd outcome = %s", r.Outcome)
	}

	out.Reset()
	if code := Run(context.Background(), reg, Args{Test: "crash"}, &out, testlog.Logger(t)); code != ExitOK {
		t.Fatalf("crash exit code = %d", code)
	}
	r := lastBlock(t, out.String())
	if r.Outcome != plugin.Fail || !strings.Contains(r.Metrics["error"].(string), "panicked") {
		t.Fatalf("unexpected crash result: %+v", r)
	}
}
