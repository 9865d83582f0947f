package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"dutlab/backend/app/inventory"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string
	Path   string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

type HTTP struct {
	Host string
	Port int
}

type Sandbox struct {
	Command         []string
	WorkDir         string
	LogDir          string
	LegacyTokenScan bool
}

type Remote struct {
	ConnectWindow  time.Duration
	RebootWindow   time.Duration
	Backoff        time.Duration
	DialTimeout    time.Duration
	Settle         time.Duration
	KnownHostsPath string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type Config struct {
	HTTP    HTTP
	DB      DB
	Sandbox Sandbox
	Remote  Remote
	Redis   Redis
	JWT     struct {
		Secret string
		Issuer string
		ExpMin int
	}
	Admin    struct {
		Username string
		Password string
	}
	LogLevel string
	Devices  []inventory.Device
}

// Load reads path when it exists; a missing file leaves every default in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("dutlab.http.host", "127.0.0.1")
	v.SetDefault("dutlab.http.port", 9400)
	v.SetDefault("dutlab.db.driver", "sqlite")
	v.SetDefault("dutlab.db.path", "data/dutlab.db")
	v.SetDefault("dutlab.db.host", "127.0.0.1")
	v.SetDefault("dutlab.db.port", 3306)
	v.SetDefault("dutlab.db.user", "root")
	v.SetDefault("dutlab.db.pass", "")
	v.SetDefault("dutlab.db.name", "dutlab")
	v.SetDefault("dutlab.sandbox.command", []string{"dutlab-agent"})
	v.SetDefault("dutlab.sandbox.work_dir", "")
	v.SetDefault("dutlab.sandbox.log_dir", "logs")
	v.SetDefault("dutlab.sandbox.legacy_token_scan", false)
	v.SetDefault("dutlab.remote.connect_window", "20s")
	v.SetDefault("dutlab.remote.reboot_window", "30s")
	v.SetDefault("dutlab.remote.backoff", "2s")
	v.SetDefault("dutlab.remote.dial_timeout", "5s")
	v.SetDefault("dutlab.remote.settle", "60s")
	v.SetDefault("dutlab.remote.known_hosts", "")
	v.SetDefault("dutlab.redis.addr", "")
	v.SetDefault("dutlab.redis.db", 0)
	v.SetDefault("dutlab.redis.channel", "dutlab:jobs")
	v.SetDefault("dutlab.admin.username", "admin")
	v.SetDefault("dutlab.admin.password", "admin123")
	v.SetDefault("dutlab.log_level", "info")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTP{Host: v.GetString("dutlab.http.host"), Port: v.GetInt("dutlab.http.port")},
		DB: DB{
			Driver: v.GetString("dutlab.db.driver"),
			Path:   v.GetString("dutlab.db.path"),
			Host:   v.GetString("dutlab.db.host"),
			Port:   v.GetInt("dutlab.db.port"),
			User:   v.GetString("dutlab.db.user"),
			Pass:   v.GetString("dutlab.db.pass"),
			Name:   v.GetString("dutlab.db.name"),
		},
		Sandbox: Sandbox{
			Command:         v.GetStringSlice("dutlab.sandbox.command"),
			WorkDir:         v.GetString("dutlab.sandbox.work_dir"),
			LogDir:          v.GetString("dutlab.sandbox.log_dir"),
			LegacyTokenScan: v.GetBool("dutlab.sandbox.legacy_token_scan"),
		},
		Remote: Remote{
			ConnectWindow:  v.GetDuration("dutlab.remote.connect_window"),
			RebootWindow:   v.GetDuration("dutlab.remote.reboot_window"),
			Backoff:        v.GetDuration("dutlab.remote.backoff"),
			DialTimeout:    v.GetDuration("dutlab.remote.dial_timeout"),
			Settle:         v.GetDuration("dutlab.remote.settle"),
			KnownHostsPath: v.GetString("dutlab.remote.known_hosts"),
		},
		Redis: Redis{
			Addr:     v.GetString("dutlab.redis.addr"),
			Password: v.GetString("dutlab.redis.password"),
			DB:       v.GetInt("dutlab.redis.db"),
			Channel:  v.GetString("dutlab.redis.channel"),
		},
		LogLevel: v.GetString("dutlab.log_level"),
	}

	if err := v.UnmarshalKey("dutlab.inventory.devices", &cfg.Devices); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = inventory.Defaults()
	}

	cfg.Admin.Username = v.GetString("dutlab.admin.username")
	cfg.Admin.Password = v.GetString("dutlab.admin.password")

	cfg.JWT.Secret = v.GetString("dutlab.jwt.secret")
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "dev-secret"
	}
	cfg.JWT.Issuer = v.GetString("dutlab.jwt.issuer")
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "dutlab"
	}
	cfg.JWT.ExpMin = v.GetInt("dutlab.jwt.exp_min")
	if cfg.JWT.ExpMin <= 0 {
		cfg.JWT.ExpMin = 60
	}
	return cfg, nil
}
