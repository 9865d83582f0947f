// Package host runs one registered test inside the plugin host process and
// reports its verdict as a delimited result block on stdout.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"dutlab/plugin"

	"github.com/rs/zerolog"
)

// Exit codes of the plugin host.
const (
	ExitOK    = 0
	ExitUsage = 2
)

type Args struct {
	Test       string
	Iterations int
	Params     plugin.Params
	ConfigPath string
}

// ParseArgs reads -test, -iterations and -params (a JSON object).
func ParseArgs(argv []string, stderr io.Writer) (Args, error) {
	fs := flag.NewFlagSet("dutlab-agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		a      Args
		params string
	)
	fs.StringVar(&a.Test, "test", "", "Registered test name")
	fs.IntVar(&a.Iterations, "iterations", 1, "Iteration count")
	fs.StringVar(&params, "params", "{}", "Job parameters as a JSON object")
	fs.StringVar(&a.ConfigPath, "config", "config/config.yaml", "Path to configuration file")
	if err := fs.Parse(argv); err != nil {
		return a, err
	}
	if a.Test == "" {
		return a, errors.New("missing -test")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(params)))
	dec.UseNumber()
	if err := dec.Decode(&a.Params); err != nil {
		return a, fmt.Errorf("decode -params: %w", err)
	}
	if a.Params == nil {
		a.Params = plugin.Params{}
	}
	return a, nil
}

// Run executes the named plugin and always prints exactly one result block.
func Run(ctx context.Context, reg *plugin.Registry, a Args, stdout io.Writer, log zerolog.Logger) (code int) {
	p, kind, ok := reg.Lookup(a.Test)
	if !ok {
		log.Error().Str("test", a.Test).Msg("plugin not registered")
		_ = plugin.WriteResult(stdout, plugin.Failf("Test script not found: %s", a.Test))
		return ExitUsage
	}
	log.Info().Str("test", a.Test).Str("kind", kind.String()).Int("iterations", a.Iterations).Msg("running plugin")

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("test", a.Test).Msg("plugin panicked")
			_ = plugin.WriteResult(stdout, plugin.Failf("Plugin panicked: %v", rec))
			code = ExitOK
		}
	}()
	res := p.Run(ctx, a.Iterations, a.Params, stdout)
	if res.Outcome != plugin.Pass {
		res.Outcome = plugin.Fail
	}
	if err := plugin.WriteResult(stdout, res); err != nil {
		log.Error().Err(err).Msg("write result block")
		_ = plugin.WriteResult(stdout, plugin.Failf("Result not serializable: %v", err))
	}
	log.Info().Str("test", a.Test).Str("outcome", string(res.Outcome)).Msg("plugin finished")
	return ExitOK
}

// Usage prints a Fail block for argument errors so the server still finds a verdict.
func Usage(stdout io.Writer, err error) int {
	_ = plugin.WriteResult(stdout, plugin.Failf("Invalid plugin host arguments: %v", err))
	return ExitUsage
}
