package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/obs"
	kafkarepo "github.com/vigilhq/vigil/internal/repository/kafka"
	pg "github.com/vigilhq/vigil/internal/repository/postgres"
	"github.com/vigilhq/vigil/internal/services/alerting"
	"github.com/vigilhq/vigil/internal/services/monitor"
	"github.com/vigilhq/vigil/internal/services/notify"
	"github.com/vigilhq/vigil/internal/services/prober"
	"github.com/vigilhq/vigil/internal/services/recorder"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func main() {
	cfgPath := flag.String("config", "config/monitor.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting monitor",
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.String("metrics_addr", cfg.Monitor.MetricsAddr),
	)

	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	statusRepo := pg.NewStatusRepo(db)
	alertRepo := pg.NewAlertRepo(db)

	rec := recorder.New(l, statusRepo, alertRepo, cfg.Recorder)
	rec.Start()

	var targets notify.Fanout
	if cfg.Notify.Slack.WebhookURL != "" {
		targets = append(targets, notify.NewSlack(cfg.Notify.Slack, l))
	}
	if cfg.Notify.SMTP.Enabled {
		targets = append(targets, notify.NewMailer(cfg.Notify.SMTP, l))
	}
	var kafkaProd *kafkarepo.Producer
	if cfg.Kafka.Enabled {
		kafkaProd = kafkarepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
		targets = append(targets, kafkarepo.NewAlertEvents(kafkaProd))
		defer func() { _ = kafkaProd.Close() }()
	}
	var notifier alert.Notifier
	if len(targets) > 0 {
		notifier = targets
	}

	mgr := alerting.NewManager(l, notifier, rec, systemClock{}, alerting.ManagerConfig{
		RenotifyInterval: cfg.Notify.RenotifyInterval,
		NotifyAttempts:   cfg.Notify.Attempts,
	})
	mgr.Start()

	// Alerts that were open when the previous process stopped stay open:
	// priming prevents duplicate "new" notifications after a restart.
	if open, err := alertRepo.ListOpen(ctx); err != nil {
		l.Warn("could not load open alerts", zap.Error(err))
	} else {
		mgr.Prime(open)
	}

	p := prober.New(cfg.HTTP, systemClock{}, l)
	sched := monitor.NewScheduler(l, p, mgr, rec, monitor.SchedulerConfig{
		State: monitor.StateConfig{
			FailureThreshold: cfg.Monitor.FailureThreshold,
			UptimeWindow:     cfg.Monitor.UptimeWindow,
			SSLWarnWindow:    cfg.Monitor.SSLWarnWindow,
		},
		MaxInFlight:   cfg.Monitor.MaxInFlight,
		ShutdownGrace: cfg.Monitor.ShutdownGrace,
	})
	for _, ep := range cfg.Endpoints {
		if err := sched.Add(ep); err != nil {
			l.Fatal("add endpoint", zap.String("endpoint", ep.Name), zap.Error(err))
		}
	}

	ms := obs.BootstrapMetricsServer(cfg.Monitor.MetricsAddr, func(hctx context.Context) error {
		pctx, cancel := context.WithTimeout(hctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(pctx)
	}, l)

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(ctx) }()

	l.Info("monitor started")

	select {
	case <-ctx.Done():
		// Run drains in-flight probes before returning.
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			l.Error("scheduler error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("scheduler error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	mgr.Close(cfg.Monitor.ShutdownGrace)
	rec.Close(cfg.Monitor.ShutdownGrace)
	l.Info("bye")
}
