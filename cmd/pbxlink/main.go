package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbxlink/pbxlink/internal/api"
	"github.com/pbxlink/pbxlink/internal/config"
	"github.com/pbxlink/pbxlink/internal/correlator"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/metrics"
	"github.com/pbxlink/pbxlink/internal/notify"
	"github.com/pbxlink/pbxlink/internal/originate"
	"github.com/pbxlink/pbxlink/internal/recording"
	"github.com/pbxlink/pbxlink/internal/reference"
	"github.com/pbxlink/pbxlink/internal/resolver"
	"github.com/pbxlink/pbxlink/internal/retention"
	"github.com/pbxlink/pbxlink/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting pbxlink",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	channels := database.NewChannelRepository(db)
	calls := database.NewCallRepository(db)
	events := database.NewCallEventRepository(db)
	chanData := database.NewChannelDataRepository(db)
	users := database.NewPBXUserRepository(db)
	partners := database.NewPartnerRepository(db)
	recordings := database.NewRecordingRepository(db)
	sysConfig := database.NewSystemConfigRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Load runtime settings from the database.
	store, err := settings.New(appCtx, sysConfig)
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	// Business record references. Partners are the only built-in model;
	// further models register here.
	refs := reference.NewRegistry()
	reference.RegisterPartner(refs, partners)

	res := resolver.NewDBResolver(users, partners)

	// Notifications and agent actions go over NATS when a bus is
	// configured. Without one, click-to-dial is unavailable.
	var notifier notify.Notifier = notify.Nop{}
	var sender originate.ActionSender = unavailableSender{}
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			slog.Error("failed to connect to nats", "error", err, "url", cfg.NATSURL)
			os.Exit(1)
		}
		defer nc.Close()
		notifier = nc
		sender = originate.NewNATSSender(nc.Conn())
		slog.Info("connected to nats", "url", cfg.NATSURL)
	} else {
		slog.Warn("no nats url configured, notifications and originate disabled")
	}

	recorder := recording.New(chanData, recordings, recording.LocalFetcher{}, cfg.RecordingsDir)

	corr := correlator.New(correlator.Deps{
		Channels:    channels,
		Calls:       calls,
		Events:      events,
		ChannelData: chanData,
		Users:       res,
		Partners:    res,
		References:  refs,
		Notifier:    notifier,
		Recordings:  recorder,
		Settings:    store,
	})

	orig := originate.New(calls, channels, users, refs, sender, store)

	// Background retention jobs.
	retention.New(channels, chanData, calls, store).StartTicker(appCtx, time.Hour)
	recording.StartCleanupTicker(appCtx, recordings, store, time.Hour)

	// Prometheus metrics over a dedicated registry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(calls, channels, calls, recordings, corr, time.Now()))

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	handler := api.NewServer(api.Deps{
		Cfg:        cfg,
		Settings:   store,
		Correlator: corr,
		Originate:  orig,
		Calls:      calls,
		Channels:   channels,
		Events:     events,
		Recordings: recordings,
		Users:      users,
		Partners:   partners,
		SysConfig:  sysConfig,
		JWTSecret:  jwtSecret,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. Pending recording downloads finish
	// before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}
	recorder.Wait()

	slog.Info("pbxlink stopped")
}

// unavailableSender rejects originate actions when no agent bus is
// configured.
type unavailableSender struct{}

func (unavailableSender) Send(context.Context, *originate.Action) error {
	return fmt.Errorf("no agent bus configured, set PBXLINK_NATS_URL")
}
