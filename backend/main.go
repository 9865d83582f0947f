package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dutlab/backend/global"
	"dutlab/backend/initialize"
	"dutlab/backend/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the YAML config file")
	flag.Parse()

	app, err := initialize.Build(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Queue.Start(ctx); err != nil {
		global.Logger.Error().Err(err).Msg("start queue workers")
		return
	}
	for _, d := range app.Inventory.All() {
		global.Logger.Info().Int("device_id", d.ID).Str("serial", d.Serial).Str("hardware_type", d.HardwareType).Msg("managed device")
	}

	if err := server.RunHTTPServer(ctx, app.Cfg.HTTP.Host, app.Cfg.HTTP.Port, app.Router, global.Logger); err != nil {
		global.Logger.Error().Err(err).Msg("http server")
	}
	global.Logger.Info().Msg("waiting for in-flight drains")
}
