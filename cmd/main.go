package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkeye/internal/alert"
	"github.com/linkeye/internal/api"
	"github.com/linkeye/internal/auth"
	"github.com/linkeye/internal/bus"
	"github.com/linkeye/internal/config"
	"github.com/linkeye/internal/database"
	"github.com/linkeye/internal/history"
	"github.com/linkeye/internal/ingest"
	"github.com/linkeye/internal/links"
	"github.com/linkeye/internal/loss"
	"github.com/linkeye/internal/monitor"
	"github.com/linkeye/internal/notify"
	"github.com/linkeye/internal/report"
	"github.com/linkeye/internal/settings"
	"github.com/linkeye/internal/statestore"
	"github.com/linkeye/internal/suppression"
	"github.com/linkeye/internal/telemetry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Log.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	configDir := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := database.Initialize(database.Options{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}, logger); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	db := database.GetDB()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier := loss.Classifier{
		OriginPrefix: cfg.Cards.OriginPrefix,
		TargetPrefix: cfg.Cards.TargetPrefix,
		FanPrefix:    cfg.Cards.FanPrefix,
	}
	calculator := loss.Calculator{Classifier: classifier, StrictPairing: cfg.Alert.StrictPairing}

	settingsStore := settings.NewStore(db, settings.Defaults())
	linkManager := links.NewManager(db)
	suppressions := suppression.NewStore(db)
	historyStore := history.NewStore(db)
	alertLog := alert.NewLog(db)

	ingestStore := ingest.NewStore(db, logger)
	if err := ingestStore.Warm(ctx); err != nil {
		logger.Warn("Failed to load the previous snapshot", zap.Error(err))
	}

	// Notification destinations
	var destinations []notify.Destination
	if cfg.Alert.Slack.Token != "" {
		destinations = append(destinations, notify.NewSlack(cfg.Alert.Slack.Token, cfg.Alert.Slack.Channel))
	}
	if cfg.Alert.Email.SMTPHost != "" && len(cfg.Alert.Email.ToReceivers) > 0 {
		destinations = append(destinations, notify.NewEmail(
			cfg.Alert.Email.SMTPHost,
			cfg.Alert.Email.SMTPPort,
			cfg.Alert.Email.From,
			cfg.Alert.Email.Password,
			cfg.Alert.Email.ToReceivers,
		))
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = bus.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close(natsConn)
		destinations = append(destinations, bus.NewPublisher(natsConn, cfg.NATS.AlertSubject))
	}
	if len(destinations) == 0 {
		logger.Warn("No notification destination configured, alerts are only recorded")
	}
	fanout := notify.NewFanout(logger, 4, destinations...)

	engineDeps := alert.Deps{
		Settings:     settingsStore,
		Suppressions: suppressions,
		Links:        linkManager,
		Notifier:     fanout,
		Snapshots:    ingestStore,
		Baselines:    historyStore,
		Recorder:     alertLog,
	}
	if cfg.Redis.Addr != "" {
		backend := statestore.New(statestore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB), cfg.Redis.KeyPrefix, logger)
		if err := backend.Ping(ctx); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		engineDeps.Backend = backend
	}

	engine := alert.NewEngine(engineDeps, alert.NewState(), alert.Options{
		Calculator:        calculator,
		RapidCooldown:     cfg.Alert.RapidCooldown,
		DriftCooldown:     cfg.Alert.DriftCooldown,
		ThresholdCooldown: cfg.Alert.ThresholdCooldown,
		BaselineRefresh:   cfg.Alert.BaselineRefresh,
		AckDuration:       cfg.Alert.AckDuration,
	}, logger)
	if err := engine.Restore(ctx); err != nil {
		logger.Warn("Failed to restore alert state, starting empty", zap.Error(err))
	}

	scheduler := history.NewScheduler(settingsStore, linkManager, ingestStore, historyStore, calculator, logger)
	if err := scheduler.Validate(ctx); err != nil {
		logger.Fatal("Persistence scheduler state is unreadable", zap.Error(err))
	}

	if natsConn != nil {
		subscriber := bus.NewSubscriber(natsConn, suppressions, cfg.Alert.AckDuration, logger)
		if err := subscriber.Start(); err != nil {
			logger.Fatal("Failed to subscribe to operator commands", zap.Error(err))
		}
		defer subscriber.Stop()
	}

	source := telemetry.NewClient(cfg.NMS.BaseURL, cfg.NMS.Username, cfg.NMS.Password, cfg.NMS.Timeout, logger)
	poller := monitor.NewPoller(source, ingestStore, engine, scheduler, settingsStore,
		classifier.Relevant, cfg.NMS.Timeout, logger)
	poller.Start(ctx)
	defer poller.Stop()

	// API server
	if cfg.Server.JWTSecret == "" {
		logger.Fatal("server.jwtsecret must be set")
	}
	authenticator, err := auth.New(cfg.Server.JWTSecret, db)
	if err != nil {
		logger.Fatal("Failed to set up authentication", zap.Error(err))
	}
	if created, err := auth.EnsureAdmin(db, cfg.Server.AdminUser, cfg.Server.AdminPassword); err != nil {
		logger.Fatal("Failed to create admin user", zap.Error(err))
	} else if created {
		logger.Info("Created initial admin user", zap.String("username", cfg.Server.AdminUser))
	}

	reports, err := report.NewGenerator(db)
	if err != nil {
		logger.Fatal("Failed to set up reports", zap.Error(err))
	}

	server := api.NewServer(api.Deps{
		Reports:            reports,
		Auth:               authenticator,
		Links:              linkManager,
		Suppressions:       suppressions,
		History:            historyStore,
		Alerts:             alertLog,
		Settings:           settingsStore,
		Snapshots:          ingestStore,
		Metrics:            poller,
		Calculator:         calculator,
		SlackSigningSecret: cfg.Alert.Slack.SigningSecret,
		AckDuration:        cfg.Alert.AckDuration,
		Logger:             logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		errCh <- server.Start(cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("API server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
}
