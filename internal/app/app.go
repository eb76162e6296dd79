// Package app wires the bridge together: config, logging, storage, the
// Telegram client, the topic router, the Graph client, the dispatcher and
// the webhook server.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"github.com/ARX-SOLUTION/instagram-bridge/internal/config"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/dedup"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/dispatch"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/eventbus"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/httpapi"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/instagram"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/storage"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/telegram"
	"github.com/ARX-SOLUTION/instagram-bridge/internal/topics"
	logx "github.com/ARX-SOLUTION/instagram-bridge/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	bus    eventbus.Bus
	store  storage.Store
	dedup  *dedup.Cache
	tg     *telegram.Client
	topics *topics.Router
	graph  *instagram.Client
	disp   *dispatch.Dispatcher
	wh     *httpapi.WebhookHandler
	srv    *httpapi.Server

	cron  *cron.Cron
	stats *pipelineStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		if store != nil {
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	retryBase, err := config.ParseDurationOrDefault("telegram.retry_base", cfg.Telegram.RetryBase, time.Second)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(telegram.Config{
		BotToken:   cfg.Telegram.BotToken,
		ChatID:     cfg.Telegram.ChatID,
		RetryMax:   cfg.Telegram.RetryMax,
		RetryBase:  retryBase,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}

	router := topics.NewRouter(topics.Config{
		Enabled:   cfg.Telegram.EnableTopics,
		CachePath: cfg.Telegram.TopicCachePath,
	}, tg, log.With(logx.String("comp", "topics")))

	graph := instagram.NewClient(instagram.Config{
		AccessToken: cfg.Instagram.AccessToken,
		IGUserID:    cfg.Instagram.IGUserID,
		AutoReply:   cfg.Instagram.AutoReply,
	}, log.With(logx.String("comp", "instagram")))

	cache := dedup.New(0, 0)

	disp := dispatch.New(dispatch.Config{
		OwnIGUserID: cfg.Instagram.IGUserID,
		AutoReply:   cfg.Instagram.AutoReply,
	}, cache, tg, router, graph, store, bus, log.With(logx.String("comp", "dispatch")))

	wh := httpapi.NewWebhookHandler(cfg.Instagram.VerifyToken, cfg.Instagram.AppSecret, disp, log.With(logx.String("comp", "webhook")))
	srv := httpapi.NewServer(httpapi.Config{
		ListenAddr: cfg.ListenAddr,
	}, wh, log.With(logx.String("comp", "http")))

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		bus:    bus,
		store:  store,
		dedup:  cache,
		tg:     tg,
		topics: router,
		graph:  graph,
		disp:   disp,
		wh:     wh,
		srv:    srv,
		stats:  newPipelineStats(),
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Config hot reload: only logging changes apply live; everything else
	// needs a restart and says so.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	cfgCh := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.logs.Apply(mapLoggingConfig(cfg))
				a.log.Info("config reloaded; non-logging changes take effect on restart")
			}
		}
	}()

	a.startStats(runCtx)
	if err := a.startMaintenance(); err != nil {
		cancel()
		return err
	}

	errCh := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		errCh <- a.srv.Start()
	}()

	// Fail fast if the listener dies immediately (port in use, bad addr).
	select {
	case err := <-errCh:
		if err != nil {
			cancel()
			return err
		}
	case <-time.After(200 * time.Millisecond):
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("bridge started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = a.srv.Shutdown(shutCtx)

	// Let in-flight webhook processing finish before tearing down state.
	done := make(chan struct{})
	go func() {
		a.wh.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.topics.Flush()
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("bridge stopped")
	_ = a.logs.Close()
	return nil
}
