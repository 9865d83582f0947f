package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	LogPath        string
	LogLevel       string
	BootInterval   time.Duration
	ConnectWindow  time.Duration
	RebootWindow   time.Duration
	Backoff        time.Duration
	DialTimeout    time.Duration
	Settle         time.Duration
	KnownHostsPath string
}

var cfg AppConfig

// Init reads the agent and remote sections of path. The host runs with
// defaults when the file is absent.
func Init(path string) AppConfig {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// defaults
	v.SetDefault("agent.log_path", "")
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.boot_interval", "1s")
	v.SetDefault("dutlab.remote.connect_window", "20s")
	v.SetDefault("dutlab.remote.reboot_window", "30s")
	v.SetDefault("dutlab.remote.backoff", "2s")
	v.SetDefault("dutlab.remote.dial_timeout", "5s")
	v.SetDefault("dutlab.remote.settle", "60s")
	v.SetDefault("dutlab.remote.known_hosts", "")
	_ = v.ReadInConfig()

	cfg = AppConfig{
		LogPath:        v.GetString("agent.log_path"),
		LogLevel:       v.GetString("agent.log_level"),
		BootInterval:   v.GetDuration("agent.boot_interval"),
		ConnectWindow:  v.GetDuration("dutlab.remote.connect_window"),
		RebootWindow:   v.GetDuration("dutlab.remote.reboot_window"),
		Backoff:        v.GetDuration("dutlab.remote.backoff"),
		DialTimeout:    v.GetDuration("dutlab.remote.dial_timeout"),
		Settle:         v.GetDuration("dutlab.remote.settle"),
		KnownHostsPath: v.GetString("dutlab.remote.known_hosts"),
	}
	return cfg
}

func Get() AppConfig { return cfg }
