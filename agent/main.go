package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dutlab/agent/internal/config"
	"dutlab/agent/internal/host"
	"dutlab/agent/internal/logger"
	"dutlab/plugin/catalog"
	"dutlab/remote"
)

func main() {
	args, err := host.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(host.Usage(os.Stdout, err))
	}

	cfgVals := config.Init(args.ConfigPath)
	if err := logger.Init(cfgVals.LogPath, cfgVals.LogLevel); err != nil {
		logger.Errorf("Cannot open log file: %v", err)
	}

	env := remote.DefaultEnv()
	env.Dialer = remote.SSHDialer{Timeout: cfgVals.DialTimeout, KnownHostsPath: cfgVals.KnownHostsPath}
	env.Connect = remote.RetryPolicy{Window: cfgVals.ConnectWindow, Backoff: cfgVals.Backoff}
	env.Reboot = remote.RetryPolicy{Window: cfgVals.RebootWindow, Backoff: cfgVals.Backoff}
	env.Settle = cfgVals.Settle

	reg, err := catalog.New(env, cfgVals.BootInterval)
	if err != nil {
		logger.Errorf("Cannot build plugin registry: %v", err)
		os.Exit(host.Usage(os.Stdout, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := host.Run(ctx, reg, args, os.Stdout, logger.L)
	stop()
	os.Exit(code)
}
