package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"dutlab/artifact"
	"dutlab/plugin"

	"github.com/rs/zerolog"
)

// Runner executes jobs for unmanaged devices in-process. Only scenarios from
// the registry's remote set are eligible.
type Runner struct {
	registry  *plugin.Registry
	artifacts artifact.Store
	log       zerolog.Logger
}

func NewRunner(reg *plugin.Registry, artifacts artifact.Store, log zerolog.Logger) *Runner {
	return &Runner{registry: reg, artifacts: artifacts, log: log}
}

// Run never returns an error; every failure is a Fail result.
func (r *Runner) Run(ctx context.Context, inv plugin.Invocation) (res plugin.Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Uint64("job_id", inv.JobID).Interface("panic", rec).Msg("remote scenario panicked")
			res = plugin.Failf("Command execution failed: %v", rec)
		}
		res = plugin.Augment(res, inv.Serial, time.Since(start))
	}()

	p, kind, ok := r.registry.Lookup(inv.TestName)
	if !ok || kind != plugin.Remote {
		_ = r.artifacts.WriteError(inv.JobID, fmt.Sprintf("Error: Remote test %s is not registered.", inv.TestName))
		return plugin.Failf("Test script not found")
	}
	if target, err := TargetFromParams(inv.Params); err != nil {
		return plugin.Failf("%s", MissingCredentialsMessage(target))
	}

	var out io.Writer = io.Discard
	if f, err := r.artifacts.Create(inv.JobID); err != nil {
		r.log.Warn().Err(err).Uint64("job_id", inv.JobID).Msg("remote capture file unavailable")
	} else {
		defer f.Close()
		out = f
	}

	r.log.Info().Uint64("job_id", inv.JobID).Str("test", inv.TestName).Str("ip", inv.Params.String("ip")).Msg("remote run started")
	res = p.Run(ctx, inv.Iterations, inv.Params, out)
	_ = plugin.WriteResult(out, res)
	return res
}
