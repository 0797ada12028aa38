// Package app wires config, logging, transport, the collector and the
// dispatcher into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/assets"
	"relaybot/internal/collector"
	"relaybot/internal/config"
	"relaybot/internal/dispatch"
	"relaybot/internal/httpapi"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/schedule"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   schedule.Store
	router  *collector.Router
	disp    *dispatch.Dispatcher
	server  *httpapi.Server

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log = log.With(logx.String("comp", "app"))

	loc, err := loadLocation(cfg.Delivery.Timezone)
	if err != nil {
		return nil, err
	}

	adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	assetTimeout, err := cfg.Assets.RequestTimeout()
	if err != nil {
		return nil, err
	}
	uploader, err := assets.New(assets.Config{
		UploadURL: cfg.Assets.UploadURL,
		AuthToken: cfg.Assets.AuthToken,
		Timeout:   assetTimeout,
	}, log.With(logx.String("comp", "assets")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := cfg.Storage.BusyWait()
	if err != nil {
		return nil, err
	}
	storePath := strings.TrimSpace(cfg.Storage.Path)
	if storePath == "" {
		storePath = "./relaybot_schedule.json"
	}
	store, err := schedule.Open(schedule.Config{
		Driver:      cfg.Storage.Driver,
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "schedule")))
	if err != nil {
		return nil, err
	}

	session := collector.NewSession()
	router := collector.NewRouter(log.With(logx.String("comp", "collector")), session, store, adapter, uploader, loc)

	disp := dispatch.New(dispatch.Config{
		ChatIDs:    cfg.Delivery.ChatIDs,
		RatePerSec: cfg.Delivery.RatePerSec,
		Timezone:   loc,
	}, store, adapter, log.With(logx.String("comp", "dispatch")))

	srvCfg, err := serverConfig(cfg)
	if err != nil {
		return nil, err
	}
	server := httpapi.New(srvCfg, router, disp, telegram.DecodeUpdate, log.With(logx.String("comp", "http")))

	if len(cfg.Delivery.ChatIDs) == 0 {
		log.Warn("delivery.chat_ids is empty; due batches will be dropped")
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: adapter,
		store:   store,
		router:  router,
		disp:    disp,
		server:  server,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.server.Start(a.sup.Context()); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	if cfg.Dispatch.Internal {
		a.startCron(cfg.Delivery.Timezone)
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	// Validator already vetted the zone.
	loc, err := loadLocation(cfg.Delivery.Timezone)
	if err != nil {
		a.log.Warn("timezone rejected on reload", logx.Err(err))
		return
	}
	a.router.SetLocation(loc)
	a.disp.Apply(dispatch.Config{
		ChatIDs:    cfg.Delivery.ChatIDs,
		RatePerSec: cfg.Delivery.RatePerSec,
		Timezone:   loc,
	})

	if srvCfg, err := serverConfig(cfg); err == nil {
		if err := a.server.Reconfigure(ctx, srvCfg); err != nil {
			a.log.Error("http server reconfigure failed", logx.Err(err))
		}
	}

	// Toggle/restart the internal trigger (timezone changes need a fresh cron).
	a.stopCron()
	if cfg.Dispatch.Internal {
		a.startCron(cfg.Delivery.Timezone)
	}

	a.log.Info("config reloaded")
}

// startCron runs the in-process minute trigger for deployments without an
// external scheduler poking GET /dispatch.
func (a *App) startCron(timezone string) {
	loc, err := loadLocation(timezone)
	if err != nil {
		a.log.Error("internal trigger not started", logx.Err(err))
		return
	}

	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.cron != nil {
		return
	}
	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc("* * * * *", func() {
		ctx := context.Background()
		if a.sup != nil {
			ctx = a.sup.Context()
		}
		if _, err := a.disp.Run(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("internal trigger run failed", logx.Err(err))
		}
	})
	if err != nil {
		a.log.Error("internal trigger registration failed", logx.Err(err))
		return
	}
	c.Start()
	a.cron = c
	a.log.Info("internal dispatch trigger started", logx.String("tz", loc.String()))
}

func (a *App) stopCron() {
	a.cronMu.Lock()
	c := a.cron
	a.cron = nil
	a.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.stopCron()
	a.server.Stop(ctx)
	a.sup.Cancel()
	if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("shutdown wait", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	_ = a.logs.Close()
	a.log.Info("stopped")
	return nil
}

func serverConfig(cfg *config.Config) (httpapi.Config, error) {
	readTimeout, writeTimeout, idleTimeout, err := cfg.Server.Timeouts()
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		SecretToken:  cfg.Telegram.SecretToken,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Assets.UploadURL) == "" {
		return errors.New("assets.upload_url is required")
	}
	if cfg.Delivery.RatePerSec < 0 {
		return errors.New("delivery.rate_per_sec must be >= 0")
	}
	if _, err := serverConfig(cfg); err != nil {
		return err
	}
	if _, err := cfg.Assets.RequestTimeout(); err != nil {
		return err
	}
	if _, err := cfg.Storage.BusyWait(); err != nil {
		return err
	}
	if _, err := loadLocation(cfg.Delivery.Timezone); err != nil {
		return err
	}
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("delivery.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
