package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chargewatch/chargewatch/internal/api/comed"
	"github.com/chargewatch/chargewatch/internal/api/fleet"
	"github.com/chargewatch/chargewatch/internal/api/handlers"
	"github.com/chargewatch/chargewatch/internal/api/twc"
	"github.com/chargewatch/chargewatch/internal/config"
	"github.com/chargewatch/chargewatch/internal/pricing"
	"github.com/chargewatch/chargewatch/internal/publisher"
	"github.com/chargewatch/chargewatch/internal/repository"
	"github.com/chargewatch/chargewatch/internal/service"
	"github.com/chargewatch/chargewatch/internal/smartcharge"
	"github.com/chargewatch/chargewatch/internal/state"
	"github.com/chargewatch/chargewatch/pkg/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting chargewatch",
		zap.Bool("twc", cfg.TWCEnabled),
		zap.Bool("fleet", cfg.FleetEnabled),
		zap.Bool("smart_charging", cfg.SmartChargingEnabled),
		zap.Bool("dry_run", cfg.SmartChargingDryRun))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.NewDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	telemetryRepo := repository.NewTelemetryRepo(db)
	sessionRepo := repository.NewSessionRepo(db)

	var twcClient *twc.Client
	if cfg.TWCEnabled {
		twcClient = twc.NewClient(cfg.TWCHost)
	}
	var fleetClient *fleet.Client
	if cfg.FleetEnabled {
		fleetClient = fleet.NewClient(cfg.FleetBaseURL, cfg.FleetToken)
	}
	comedClient := comed.NewClient(cfg.PriceFeedURL)

	var pub *publisher.MQTT
	if cfg.MQTTEnabled {
		pub, err = publisher.NewMQTT(publisher.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, logger)
		if err != nil {
			logger.Fatal("mqtt connect failed", zap.Error(err))
		}
		defer pub.Close()
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	statsEngine := pricing.NewEngine(telemetryRepo, sessionRepo,
		cfg.PriceLookbackDays, cfg.StatsCacheTTL, logger)

	var controller *smartcharge.Controller
	if cfg.SmartChargingEnabled {
		var actionPub smartcharge.ActionPublisher
		if pub != nil {
			actionPub = pub
		}
		controller = smartcharge.NewController(statsEngine, fleetClient,
			sessionRepo, actionPub, state.NewManager(logger),
			smartcharge.Config{
				DryRun:            cfg.SmartChargingDryRun,
				StopPercentile:    cfg.StopPercentile,
				ResumePercentile:  cfg.ResumePercentile,
				MinActionInterval: cfg.MinActionInterval,
			}, logger)
	}

	collector := service.NewCollector(cfg, service.Deps{
		TWC:        twcClient,
		Fleet:      fleetClient,
		Comed:      comedClient,
		Telemetry:  telemetryRepo,
		Sessions:   sessionRepo,
		Controller: controller,
		Hub:        hub,
		Pub:        pub,
	}, logger)

	if err := collector.BootstrapPriceHistory(ctx); err != nil {
		logger.Warn("price history bootstrap incomplete", zap.Error(err))
	}

	go collector.Run(ctx)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	handler := handlers.New(sessionRepo, collector, statsEngine, controller, fleetClient, hub, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.ServerHost + ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	logger.Info("stopped")
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic("build logger: " + err.Error())
	}
	return logger
}
