package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/api"
	"github.com/helioworks/sunwatch-backend-go/internal/api/handlers"
	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/database"
	"github.com/helioworks/sunwatch-backend-go/internal/forecast"
	"github.com/helioworks/sunwatch-backend-go/internal/metrics"
	"github.com/helioworks/sunwatch-backend-go/internal/notify"
	"github.com/helioworks/sunwatch-backend-go/internal/telemetry"
	"github.com/helioworks/sunwatch-backend-go/internal/websocket"
	"github.com/helioworks/sunwatch-backend-go/pkg/logger"
	"github.com/helioworks/sunwatch-backend-go/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.WithField("version", version.GetVersion()).Info("Starting SunWatch alert engine")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Engine terminated")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	repos := database.NewRepositories(db)

	// Realtime hub
	hub := websocket.NewHub(&cfg.WebSocket, log)
	go hub.Run()
	defer hub.Stop()

	// Notification pipeline
	engineMetrics := metrics.New(prometheus.DefaultRegisterer)
	channels := notify.BuildChannels(cfg.Channels)
	dispatcher := notify.NewDispatcher(channels, repos.Deliveries, engineMetrics, notify.Options{
		QueueSize:      cfg.Dispatch.QueueSize,
		Workers:        cfg.Dispatch.Workers,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		BackoffBase:    cfg.Dispatch.BackoffBaseDuration(),
		OverflowPolicy: cfg.Dispatch.OverflowPolicy,
		DrainTimeout:   cfg.Dispatch.DrainTimeoutDuration(),
	}, log)
	dispatcher.Start(ctx)

	// Alert engine
	engine, state, err := buildEngine(cfg, repos, hub, dispatcher, engineMetrics, log)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start alert engine: %w", err)
	}

	// Scheduled jobs
	scheduler, err := startScheduler(ctx, cfg, engine, repos, log)
	if err != nil {
		return err
	}

	// Telemetry source
	var kafkaSource *telemetry.KafkaSource
	if cfg.Telemetry.Mode == "kafka" {
		kafkaSource = telemetry.NewKafkaSource(cfg.Telemetry.Kafka, engine, log)
		go func() {
			if err := kafkaSource.Run(ctx); err != nil {
				log.WithError(err).Error("Kafka telemetry source stopped")
			}
		}()
	}

	// HTTP server
	h := handlers.New(cfg, engine, state, repos, hub, log)
	router := api.NewRouter(cfg, h, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	cancel()

	schedCtx := scheduler.Stop()
	<-schedCtx.Done()

	if kafkaSource != nil {
		if err := kafkaSource.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Kafka source")
		}
	}

	// HTTP goes down before the dispatcher so an in-flight request can
	// still hand its notifications off.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeoutDuration())
	defer drainCancel()
	dispatcher.Stop(drainCtx)

	log.Info("Engine stopped cleanly")
	return nil
}

func buildEngine(
	cfg *config.Config,
	repos *database.Repositories,
	hub *websocket.Hub,
	dispatcher *notify.Dispatcher,
	engineMetrics *metrics.EngineMetrics,
	log *logrus.Logger,
) (*alerts.Engine, *alerts.AlertStateManager, error) {
	var provider alerts.ForecastProvider
	if cfg.Forecast.Enabled && cfg.Forecast.URL != "" {
		provider = forecast.NewClient(cfg.Forecast.URL, cfg.Forecast.TimeoutDuration(), log)
	}

	quietStart, err := alerts.ParseClock(cfg.Engine.QuietHours.Start)
	if err != nil && cfg.Engine.QuietHours.Enabled {
		return nil, nil, fmt.Errorf("invalid quiet hours start: %w", err)
	}
	quietEnd, err := alerts.ParseClock(cfg.Engine.QuietHours.End)
	if err != nil && cfg.Engine.QuietHours.Enabled {
		return nil, nil, fmt.Errorf("invalid quiet hours end: %w", err)
	}
	quietLoc := time.Local
	if tz := cfg.Engine.QuietHours.Timezone; tz != "" {
		quietLoc, err = time.LoadLocation(tz)
		if err != nil && cfg.Engine.QuietHours.Enabled {
			return nil, nil, fmt.Errorf("invalid quiet hours timezone: %w", err)
		}
	}

	state := alerts.NewAlertStateManager(repos.Alerts, hub, log)
	throttle := alerts.NewThrottlePolicy(alerts.ThrottleSettings{
		QuietEnabled:      cfg.Engine.QuietHours.Enabled,
		QuietStart:        quietStart,
		QuietEnd:          quietEnd,
		Location:          quietLoc,
		EscalationEnabled: cfg.Engine.Escalation.Enabled,
		EscalationWait:    time.Duration(cfg.Engine.Escalation.WaitMinutes) * time.Minute,
		EscalationTiers:   cfg.Engine.Escalation.Tiers,
	}, log)

	engine := alerts.NewEngine(
		alerts.NewDaylightCalculator(log),
		alerts.NewBatteryMonitor(log),
		alerts.NewEnergyDeficitDetector(provider, log),
		alerts.NewConsumptionMonitor(log),
		alerts.NewRuleComposer(log),
		state,
		throttle,
		dispatcher,
		repos.RuleConfigs,
		engineMetrics,
		alerts.EngineOptions{
			ExpectedSampleInterval: cfg.Telemetry.ExpectedSampleIntervalDuration(),
			AutoResolve:            cfg.Engine.AutoResolve,
			EscalationStep:         cfg.Engine.EscalationStep,
		},
		log,
	)
	return engine, state, nil
}

func startScheduler(
	ctx context.Context,
	cfg *config.Config,
	engine *alerts.Engine,
	repos *database.Repositories,
	log *logrus.Logger,
) (*cron.Cron, error) {
	scheduler := cron.New()

	if cfg.Telemetry.Mode == "poll" {
		poller := telemetry.NewPoller(cfg.Telemetry.PollURL, cfg.Telemetry.ExpectedSampleIntervalDuration(), engine, log)
		spec := fmt.Sprintf("@every %s", cfg.Telemetry.PollIntervalDuration())
		if _, err := scheduler.AddFunc(spec, func() { poller.Poll(ctx) }); err != nil {
			return nil, fmt.Errorf("failed to schedule telemetry poll: %w", err)
		}
	}

	// Quiet-hours queue drains on the minute so the window end is honored
	// within a minute of accuracy.
	if _, err := scheduler.AddFunc("@every 1m", func() { engine.FlushQuietQueue(time.Now()) }); err != nil {
		return nil, fmt.Errorf("failed to schedule quiet queue flush: %w", err)
	}

	if _, err := scheduler.AddFunc("@daily", func() {
		engine.PruneDaylightCache(time.Now().AddDate(0, 0, -1))
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule daylight cache prune: %w", err)
	}

	if _, err := scheduler.AddFunc("@daily", func() {
		retention := time.Duration(cfg.Engine.DeliveryRetentionDays) * 24 * time.Hour
		if retention <= 0 {
			return
		}
		n, err := repos.Deliveries.CleanupOldRecords(ctx, time.Now().Add(-retention))
		if err != nil {
			log.WithError(err).Warn("Delivery record cleanup failed")
			return
		}
		log.WithField("removed", n).Info("Pruned old delivery records")
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule delivery cleanup: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}
