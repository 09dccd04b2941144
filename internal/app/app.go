// Package app assembles the daemon: config, logging, storage, the chat
// adapter, the exchange scanner, the task runner and the optional container
// and HTTP surfaces.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hivebot/internal/config"
	"hivebot/internal/container"
	"hivebot/internal/group"
	"hivebot/internal/host"
	"hivebot/internal/httpapi"
	"hivebot/internal/ipc"
	"hivebot/internal/runner"
	"hivebot/internal/storage"
	"hivebot/internal/transport/telegram"
	logx "hivebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   *storage.Store
	reg     *group.Registry
	adapter *telegram.Adapter
	hostSvc *host.Service
	scanner *ipc.Scanner
	tasks   *runner.Service

	httpSrv    *httpapi.Server
	containers *container.Manager

	mu      sync.Mutex
	started bool
	bgWG    sync.WaitGroup
	bgStop  context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mainFolder := cfg.Bus.MainFolder
	if mainFolder == "" {
		mainFolder = "main"
	}
	loc := time.Local
	if cfg.Bus.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Bus.Timezone)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("bus.timezone: %w", err)
		}
	}
	scanInterval, err := config.ParseDurationOrDefault("bus.scan_interval", cfg.Bus.ScanInterval, 5*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	runInterval, err := config.ParseDurationOrDefault("runner.interval", cfg.Runner.Interval, 15*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := group.NewRegistry(mainFolder)
	hostSvc := host.New(host.Config{Root: cfg.Bus.Root}, reg, store, adapter,
		log.With(logx.String("comp", "host")))

	scanner := ipc.NewScanner(ipc.Config{
		Root:       cfg.Bus.Root,
		Interval:   scanInterval,
		MainFolder: mainFolder,
		Location:   loc,
	}, hostSvc, store, log.With(logx.String("comp", "scanner")))

	tasks := runner.New(runner.Config{
		Interval: runInterval,
		Location: loc,
	}, store, hostSvc, log.With(logx.String("comp", "runner")))

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   store,
		reg:     reg,
		adapter: adapter,
		hostSvc: hostSvc,
		scanner: scanner,
		tasks:   tasks,
	}

	if h := cfg.HTTP; h != nil && h.Enabled {
		a.httpSrv = httpapi.NewServer(httpapi.Config{Addr: h.Addr, Token: h.Token}, hostSvc, log)
	}
	if c := cfg.Containers; c != nil && c.Enabled {
		stopTimeout, err := config.ParseDurationOrDefault("containers.stop_timeout", c.StopTimeout, 10*time.Second)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.containers, err = container.NewManager(container.Config{
			Image:       c.Image,
			Env:         c.Env,
			BusRoot:     cfg.Bus.Root,
			StopTimeout: stopTimeout,
		}, log.With(logx.String("comp", "container")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if err := a.hostSvc.LoadRegistry(ctx); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	a.adapter.OnInbound(a.hostSvc.HandleInbound)
	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	a.scanner.Start(ctx)
	a.tasks.Start(ctx)

	if a.httpSrv != nil {
		if err := a.httpSrv.Start(); err != nil {
			return fmt.Errorf("start http: %w", err)
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgStop = cancel

	if a.containers != nil {
		if err := a.containers.Adopt(ctx); err != nil {
			a.log.Warn("container adopt failed", logx.Err(err))
		}
		a.bgWG.Add(1)
		go a.reconcileLoop(bgCtx)
	}

	a.bgWG.Add(1)
	go a.watchConfig(bgCtx)

	a.started = true
	a.log.Info("started",
		logx.String("bus_root", a.scannerRoot()),
		logx.Bool("http", a.httpSrv != nil),
		logx.Bool("containers", a.containers != nil))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.log.Info("stopping")

	if a.bgStop != nil {
		a.bgStop()
	}
	a.bgWG.Wait()

	// Stop intake first so nothing new lands while services unwind.
	a.scanner.Stop(ctx)
	a.tasks.Stop(ctx)
	if a.httpSrv != nil {
		a.httpSrv.Stop(ctx)
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop error", logx.Err(err))
	}
	if a.containers != nil {
		a.containers.StopAll(ctx)
		_ = a.containers.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close error", logx.Err(err))
	}
	_ = a.logs.Close()

	a.started = false
	return nil
}

// WatchConfig runs the config file watcher until ctx is canceled. Callers
// run it in their own goroutine (main does).
func (a *App) WatchConfig(ctx context.Context) error {
	return a.cfgm.Watch(ctx)
}

// watchConfig applies reloaded config. Only the logging section is applied
// live; other sections take effect on restart.
func (a *App) watchConfig(ctx context.Context) {
	defer a.bgWG.Done()

	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			prev = cfg
		}
	}
}

// reconcileLoop keeps group containers matched to the registry.
func (a *App) reconcileLoop(ctx context.Context) {
	defer a.bgWG.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	reconcile := func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := a.containers.Reconcile(rctx, a.reg.Snapshot()); err != nil {
			a.log.Warn("container reconcile error", logx.Err(err))
		}
	}

	reconcile()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcile()
		}
	}
}

func (a *App) scannerRoot() string {
	return a.cfgm.Get().Bus.Root
}
