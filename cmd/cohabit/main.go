package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/config"
	"github.com/dukerupert/cohabit/internal/database"
	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/logging"
	"github.com/dukerupert/cohabit/internal/metrics"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/notify"
	"github.com/dukerupert/cohabit/internal/push"
	"github.com/dukerupert/cohabit/internal/server"
	"github.com/dukerupert/cohabit/internal/session"
	"github.com/dukerupert/cohabit/internal/store"
	"github.com/dukerupert/cohabit/internal/vault"
	ws "github.com/dukerupert/cohabit/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := os.Getenv("COHABIT_CONFIG")
	if cfgPath == "" {
		cfgPath = "cohabit.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	logger.Info("config loaded", "path", cfgPath, "api", cfg.API.BaseURL, "timezone", cfg.Timezone)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	kv := store.NewKVStore(db)
	tokens, err := vault.NewTokenStore(kv, cfg.Storage.Secret)
	if err != nil {
		return err
	}
	if cfg.Storage.Secret == "" {
		logger.Warn("storage secret not set, bearer token is stored unencrypted")
	}

	m := metrics.New()

	client := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, tokens, logger)
	client.SetMetrics(m)

	sessions := session.NewManager(client, tokens, kv, logger)
	client.OnUnauthorized(sessions.HandleUnauthorized)

	calendarSvc := calendar.NewService(client, calendar.NewPalette(cfg.Colors), cfg.Location(), logger)
	ledgerSvc := ledger.NewService(client, cfg.AdminEmail, logger)

	notes, err := notify.NewService(kv, cfg.Notify, cfg.Location(), logger)
	if err != nil {
		return err
	}
	notes.SetMetrics(m)
	calendarSvc.OnChange(notes.OnScheduleChange)

	// Web push
	generated, err := push.EnsureVAPIDKeys(&cfg.Push)
	if err != nil {
		return err
	}
	if generated {
		pub, priv := cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey
		if err := config.Update(cfgPath, func(c *config.Config) {
			c.Push.VAPIDPublicKey, c.Push.VAPIDPrivateKey = pub, priv
		}); err != nil {
			logger.Warn("could not save generated VAPID keys, popups reset on restart", "error", err)
		} else {
			logger.Info("generated VAPID keys", "path", cfgPath)
		}
	}
	notifier := push.NewNotifier(push.NewService(cfg.Push), store.NewPushStore(db), client, logger)
	notifier.SetMetrics(m)
	notes.SetDeliverer(notifier)

	// Live updates to open tabs
	hub := ws.NewHub(logger)
	hub.SetMetrics(m)
	notes.Subscribe(func(u notify.Update) {
		hub.Broadcast(ws.NewMessage(ws.TypeNotifications, u))
	})
	hub.Snapshot = func() []ws.Message {
		msgs := []ws.Message{ws.NewMessage(ws.TypeSession, sessions.State().String())}
		if h, err := notes.History(); err == nil {
			msgs = append(msgs, ws.NewMessage(ws.TypeNotifications, notify.Update{Notifications: h.Notifications, Count: h.Unread()}))
		}
		return msgs
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A fresh sign-in loads the schedule so the all-members rule sees it.
	sessions.Subscribe(func(s session.Snapshot) {
		hub.Broadcast(ws.NewMessage(ws.TypeSession, s.State.String()))
		if s.State == session.StateAuthenticated && s.User != nil {
			go refreshSchedules(ctx, calendarSvc, *s.User, logger)
		}
	})
	sessions.Init(ctx)

	if err := notes.Start(ctx); err != nil {
		return err
	}
	defer notes.Stop()

	srv, err := server.New(server.Deps{
		Config:   cfg,
		Sessions: sessions,
		Calendar: calendarSvc,
		Ledger:   ledgerSvc,
		Notify:   notes,
		Notifier: notifier,
		Backend:  client,
		Hub:      hub,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	// No WriteTimeout: websocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cohabit running", "addr", "http://"+cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func refreshSchedules(ctx context.Context, svc *calendar.Service, viewer model.User, logger *slog.Logger) {
	if _, err := svc.Refresh(ctx, viewer); err != nil {
		logger.Warn("initial schedule refresh", "error", err)
	}
}
