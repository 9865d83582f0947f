// Package catalog assembles the registry shared by the server and the plugin host.
package catalog

import (
	"time"

	"dutlab/plugin"
	"dutlab/plugin/local"
	"dutlab/remote"
)

// BootInterval is the simulated time per boot cycle.
const BootInterval = time.Second

func New(env remote.Env, bootInterval time.Duration) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := remote.Register(reg, env); err != nil {
		return nil, err
	}
	if err := local.Register(reg, bootInterval); err != nil {
		return nil, err
	}
	return reg, nil
}
