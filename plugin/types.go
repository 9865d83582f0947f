package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type Outcome string

const (
	Pass Outcome = "Pass"
	Fail Outcome = "Fail"
)

// Result is the {outcome, metrics} shape every execution path produces.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	Metrics map[string]any `json:"metrics"`
}

// Failf builds a Fail result carrying metrics.error.
func Failf(format string, args ...any) Result {
	return Result{Outcome: Fail, Metrics: map[string]any{"error": fmt.Sprintf(format, args...)}}
}

// Passed returns a Pass result with the given metrics.
func Passed(metrics map[string]any) Result {
	if metrics == nil {
		metrics = map[string]any{}
	}
	return Result{Outcome: Pass, Metrics: metrics}
}

// NormalizeOutcome maps free-form plugin outcomes onto Pass/Fail.
func NormalizeOutcome(raw string) Outcome {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "pass") {
		return Pass
	}
	return Fail
}

// Augment guarantees the runtime (milliseconds) and serial keys are present.
// Values already reported by the plugin are kept.
func Augment(r Result, serial string, elapsed time.Duration) Result {
	if r.Outcome != Pass {
		r.Outcome = Fail
	}
	if r.Metrics == nil {
		r.Metrics = map[string]any{}
	}
	if _, ok := r.Metrics["runtime"]; !ok {
		r.Metrics["runtime"] = elapsed.Milliseconds()
	}
	if _, ok := r.Metrics["serial"]; !ok {
		r.Metrics["serial"] = serial
	}
	return r
}

// Params is the open parameter bag attached to a job (iterations, delay, ip, username, ...).
type Params map[string]any

func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (p Params) Int(key string, def int) int {
	switch t := p[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Seconds reads a delay-style value expressed in seconds.
func (p Params) Seconds(key string, def time.Duration) time.Duration {
	switch t := p[key].(type) {
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}

// Clone returns a shallow copy so jobs never share a parameter map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Invocation is what an executor needs to run one job.
type Invocation struct {
	JobID      uint64
	TestName   string
	Iterations int
	Serial     string
	Params     Params
}

// Plugin is a named test entry point. Progress output goes to out; the
// returned Result is authoritative.
type Plugin interface {
	Name() string
	Run(ctx context.Context, iterations int, params Params, out io.Writer) Result
}

// Kind is the capability set a plugin is registered under.
type Kind int

const (
	Local Kind = iota
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}
	return "local"
}
