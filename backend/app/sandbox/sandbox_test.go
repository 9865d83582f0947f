//go:build unix

package sandbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dutlab/artifact"
	"dutlab/backend/app/outcome"
	"dutlab/internal/testutil/testlog"
	"dutlab/plugin"
)

type namedPlugin string

func (n namedPlugin) Name() string { return string(n) }

func (n namedPlugin) Run(context.Context, int, plugin.Params, io.Writer) plugin.Result {
	return plugin.Passed(nil)
}

func newSandbox(t *testing.T, script string) (*Sandbox, artifact.Store) {
	t.Helper()
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "host.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write host script: %v", err)
	}
	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.Local, namedPlugin("s4"))
	parser, err := outcome.New(false)
	if err != nil {
		t.Fatalf("parser: %v", err)
	}
	store := artifact.New(filepath.Join(dir, "logs"))
	sb, err := New(Config{Command: []string{"/bin/sh", path}, WorkDir: dir}, reg, parser, store, testlog.Logger(t))
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	return sb, store
}

const passingHost = `#!/bin/sh
echo "S4 Iteration 1: Booting system... 2"
echo "args: $*" >&2
echo "===RESULT_START==="
echo '{"outcome":"Pass","metrics":{"cycles":1}}'
echo "===RESULT_END==="
`

func TestRunCapturesOutputAndParsesBlock(t *testing.T) {
	sb, store := newSandbox(t, passingHost)
	inv := plugin.Invocation{JobID: 1, TestName: "s4", Iterations: 2, Serial: "123456", Params: plugin.Params{"delay": 1}}

	res := sb.Run(context.Background(), inv)
	if res.Outcome != plugin.Pass {
		t.Fatalf("expected Pass, got %+v", res)
	}
	if res.Metrics["serial"] != "123456" || res.Metrics["cycles"] != float64(1) {
		t.Fatalf("unexpected metrics %+v", res.Metrics)
	}
	raw, err := store.Read(1)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !strings.Contains(raw, "-test s4 -iterations 2 -params") || !strings.Contains(raw, `"iterations":2`) {
		t.Fatalf("stderr or arguments not captured:\n%s", raw)
	}
}

func TestRunUnknownPluginDoesNotLaunch(t *testing.T) {
	sb, store := newSandbox(t, "#!/bin/sh\ntouch launched\n")
	res := sb.Run(context.Background(), plugin.Invocation{JobID: 2, TestName: "nope", Serial: "123457"})
	if res.Outcome != plugin.Fail || res.Metrics["error"] != "Test script not found" || res.Metrics["serial"] != "123457" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(store.ErrorPath(2)); err != nil {
		t.Fatalf("error artifact missing: %v", err)
	}
	if _, err := os.Stat(store.Path(2)); !os.IsNotExist(err) {
		t.Fatalf("capture file should not exist, stat err=%v", err)
	}
}

func TestRunCrashBeforeBlock(t *testing.T) {
	sb, _ := newSandbox(t, "#!/bin/sh\necho 'Result: Pass'\nexit 3\n")
	res := sb.Run(context.Background(), plugin.Invocation{JobID: 3, TestName: "s4", Serial: "123458"})
	if res.Outcome != plugin.Fail {
		t.Fatalf("expected Fail, got %+v", res)
	}
	if res.Metrics["exit_code"] != 3 || res.Metrics["error"] != "Result block missing" {
		t.Fatalf("unexpected metrics %+v", res.Metrics)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	sb, store := newSandbox(t, passingHost)
	sb.cfg.Command = []string{filepath.Join(t.TempDir(), "missing-host")}
	res := sb.Run(context.Background(), plugin.Invocation{JobID: 4, TestName: "s4"})
	msg, _ := res.Metrics["error"].(string)
	if res.Outcome != plugin.Fail || !strings.HasPrefix(msg, "Subprocess failed: ") {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := os.Stat(store.ErrorPath(4)); err != nil {
		t.Fatalf("error artifact missing: %v", err)
	}
}

func TestRunCaptureRemoved(t *testing.T) {
	sb, _ := newSandbox(t, "#!/bin/sh\nrm -f \"$LOG_FILE\"\n")
	sb.cfg.Env = []string{"LOG_FILE=" + sb.artifacts.Path(5)}
	res := sb.Run(context.Background(), plugin.Invocation{JobID: 5, TestName: "s4"})
	if res.Metrics["error"] != "Log file not created" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	if _, err := New(Config{}, plugin.NewRegistry(), nil, artifact.New(t.TempDir()), testlog.Logger(t)); err == nil {
		t.Fatalf("expected error for empty command")
	}
}
