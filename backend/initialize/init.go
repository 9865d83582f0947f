package initialize

import (
	"context"
	"fmt"
	"net/http"

	"dutlab/artifact"
	"dutlab/backend/app/controllers"
	"dutlab/backend/app/db"
	"dutlab/backend/app/events"
	"dutlab/backend/app/inventory"
	jwtutil "dutlab/backend/app/jwt"
	"dutlab/backend/app/middleware"
	"dutlab/backend/app/observability"
	"dutlab/backend/app/outcome"
	"dutlab/backend/app/repo"
	"dutlab/backend/app/sandbox"
	"dutlab/backend/app/services"
	"dutlab/backend/config"
	"dutlab/backend/global"
	"dutlab/backend/router"
	"dutlab/plugin"
	"dutlab/plugin/catalog"
	"dutlab/remote"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	Cfg       *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Router    http.Handler
	Registry  *plugin.Registry
	Inventory *inventory.Inventory
	Queue     *services.QueueService
	Logs      *services.LogService
	Operators *services.OperatorService
	Signer    *jwtutil.Signer
}

func Build(configPath string) (*App, error) {
	ctx := context.Background()

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	global.Config = cfg
	SetLevel(cfg.LogLevel)
	observability.RegisterMetrics()

	// Connect DB
	gdb, err := db.Connect(db.Config{
		Driver:   cfg.DB.Driver,
		Path:     cfg.DB.Path,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Pass,
		DBName:   cfg.DB.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	global.Mdb = gdb
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}

	inv, err := inventory.New(cfg.Devices)
	if err != nil {
		return nil, err
	}
	statuses := repo.NewDeviceStatusRepository(gdb)
	if err := statuses.EnsureDevices(ctx, inv.IDs()); err != nil {
		return nil, err
	}

	// Executors
	env := remote.Env{
		Dialer:  remote.SSHDialer{Timeout: cfg.Remote.DialTimeout, KnownHostsPath: cfg.Remote.KnownHostsPath},
		Connect: remote.RetryPolicy{Window: cfg.Remote.ConnectWindow, Backoff: cfg.Remote.Backoff},
		Reboot:  remote.RetryPolicy{Window: cfg.Remote.RebootWindow, Backoff: cfg.Remote.Backoff},
		Settle:  cfg.Remote.Settle,
	}
	reg, err := catalog.New(env, catalog.BootInterval)
	if err != nil {
		return nil, fmt.Errorf("build plugin registry: %w", err)
	}
	parser, err := outcome.New(cfg.Sandbox.LegacyTokenScan)
	if err != nil {
		return nil, err
	}
	artifacts := artifact.New(cfg.Sandbox.LogDir)
	sb, err := sandbox.New(sandbox.Config{Command: cfg.Sandbox.Command, WorkDir: cfg.Sandbox.WorkDir}, reg, parser, artifacts, global.Logger.With().Str("executor", "sandbox").Logger())
	if err != nil {
		return nil, err
	}
	runner := remote.NewRunner(reg, artifacts, global.Logger.With().Str("executor", "remote").Logger())

	// Events
	var publisher events.Publisher = events.Nop{}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			global.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; job events may be dropped")
		}
		global.Rdb = rdb
		publisher = events.NewRedisPublisher(rdb, cfg.Redis.Channel)
	}

	// Services
	queue := services.NewQueueService(services.QueueDeps{
		Store:     statuses,
		Counter:   repo.NewJobCounterRepository(gdb),
		Logs:      repo.NewLogRepository(gdb),
		Inventory: inv,
		Local:     sb,
		Remote:    runner,
		Events:    publisher,
		Logger:    global.Logger.With().Str("service", "queue").Logger(),
	})
	logSvc := services.NewLogService(repo.NewLogRepository(gdb), global.Logger.With().Str("service", "logs").Logger())
	operatorSvc := services.NewOperatorService(repo.NewOperatorRepository(gdb))
	if err := operatorSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		global.Logger.Warn().Err(err).Msg("seed admin operator")
	}

	// Controllers
	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	mw := &middleware.Auth{Signer: signer}
	h := router.NewRouter(router.Controllers{
		HTTP:    controllers.NewHTTPController(),
		Auth:    controllers.NewAuthController(operatorSvc, signer),
		Admin:   controllers.NewAdminController(operatorSvc),
		Jobs:    controllers.NewJobController(queue, logSvc, reg, artifacts),
		Devices: controllers.NewDeviceController(queue),
	}, mw)
	// Wrap with logging middleware
	h = middleware.Logging(global.Logger, h)

	return &App{
		Cfg:       cfg,
		DB:        gdb,
		Redis:     rdb,
		Router:    h,
		Registry:  reg,
		Inventory: inv,
		Queue:     queue,
		Logs:      logSvc,
		Operators: operatorSvc,
		Signer:    signer,
	}, nil
}

// Close stops the queue workers and releases external connections.
func (a *App) Close() {
	a.Queue.Close()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = db.Close(a.DB)
}
