package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/taskfleet/notifier/internal/config"
	"github.com/taskfleet/notifier/internal/repository/postgres"
	"github.com/taskfleet/notifier/internal/sender"
	"github.com/taskfleet/notifier/internal/service/notification"
	"github.com/taskfleet/notifier/internal/service/preference"
	"github.com/taskfleet/notifier/internal/service/scheduler"
	"github.com/taskfleet/notifier/internal/template"
	"github.com/taskfleet/notifier/internal/worker"
	"github.com/taskfleet/notifier/pkg/logger"
	"github.com/taskfleet/notifier/pkg/messaging/redis"
	"github.com/taskfleet/notifier/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		appLogger.Fatal(err, "failed to apply schema")
	}

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		appLogger.Fatal(err, "failed to create redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	notificationRepo := postgres.NewNotificationRepository(baseRepo)
	preferenceRepo := postgres.NewPreferenceRepository(baseRepo)
	templateRepo := postgres.NewTemplateRepository(baseRepo)
	taskDir := postgres.NewTaskDirectory(baseRepo)

	renderer := template.NewRenderer(templateRepo)
	if err := template.SeedDefaults(context.Background(), templateRepo); err != nil {
		appLogger.Fatal(err, "failed to seed templates")
	}

	prefs := preference.NewService(preferenceRepo)
	m := metrics.NewMetrics("notifier")

	senders := sender.NewRegistry(
		sender.NewEmailSender(sender.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			SendRate: cfg.SMTP.SendRate,
		}),
		sender.NewPushSender(broker),
		sender.NewInAppSender(broker),
		sender.NewSMSSender(sender.SMSConfig{
			GatewayURL: cfg.SMSGateway.URL,
			From:       cfg.SMSGateway.From,
		}),
	)

	engine := notification.NewService(notificationRepo, prefs, taskDir, renderer, appLogger)
	sched := scheduler.NewService(notificationRepo, prefs, taskDir, renderer, appLogger, m)
	dispatcher := worker.NewDispatcher(notificationRepo, prefs, taskDir, senders, worker.DispatcherConfig{
		BatchSize:    cfg.Dispatcher.BatchSize,
		PollInterval: cfg.Dispatcher.PollInterval,
	}, appLogger, m)

	cron := worker.NewCron(appLogger)
	mustAdd(appLogger, cron, worker.Job{
		Name:     "dispatcher-poll",
		Interval: cfg.Dispatcher.PollInterval,
		Run:      dispatcher.Tick,
	})
	mustAdd(appLogger, cron, worker.Job{
		Name:     "overdue-sweep",
		Interval: cfg.Scheduler.OverdueSweepInterval,
		Run:      sched.SweepOverdueAlerts,
	})
	mustAdd(appLogger, cron, worker.Job{
		Name:     "daily-summaries",
		Interval: cfg.Scheduler.DailySummaryInterval,
		Run:      sched.RunDailySummaries,
	})
	mustAdd(appLogger, cron, worker.Job{
		Name:     "weekly-summaries",
		Interval: cfg.Scheduler.WeeklySummaryInterval,
		Run:      sched.RunWeeklySummaries,
	})
	mustAdd(appLogger, cron, worker.Job{
		Name:     "retention-cleanup",
		Interval: cfg.Retention.Interval,
		Run: func(ctx context.Context) error {
			_, err := engine.CleanupOld(ctx, cfg.Retention.Days)
			return err
		},
	})

	setupOps(cfg.Monitoring, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("shutting down...")
		cancel()
	}()

	cron.Start(ctx)
}

func mustAdd(log *logger.Logger, cron *worker.Cron, job worker.Job) {
	if err := cron.Add(job); err != nil {
		log.Fatal(err, "failed to register job", "job", job.Name)
	}
}

// setupOps serves liveness/readiness probes and the prometheus endpoint.
func setupOps(cfg config.MonitoringConfig, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
			log.Error(err, "ops server failed")
			os.Exit(1)
		}
	}()
}
