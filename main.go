package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"

	"recipebox/backend/internal/app"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/logger"
)

func main() {
	// Config errors are logged before the configured logger exists
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps.DB, deps.Redis, deps.NSQProducer, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	consumers, err := startConsumers(cfg, a.Consumers)
	defer func() {
		for _, c := range consumers {
			c.Stop()
			<-c.StopChan
		}
	}()
	if err != nil {
		return err
	}

	go a.Pruner.Run(ctx)

	return a.Run(ctx)
}

// startConsumers connects one NSQ consumer per topic. Messages that exhaust
// DispatchMaxAttempts are handed to the handler's LogFailedMessage.
func startConsumers(cfg *config.Config, bindings []app.Consumer) ([]*nsq.Consumer, error) {
	var started []*nsq.Consumer
	for _, b := range bindings {
		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxAttempts = cfg.DispatchMaxAttempts
		nsqCfg.MaxInFlight = max(b.Concurrency, 1)
		nsqCfg.DefaultRequeueDelay = 5 * time.Second

		consumer, err := nsq.NewConsumer(b.Topic, b.Channel, nsqCfg)
		if err != nil {
			return started, err
		}
		consumer.SetLoggerLevel(nsq.LogLevelWarning)
		consumer.AddConcurrentHandlers(b.Handler, max(b.Concurrency, 1))

		if cfg.NSQLookupd != "" {
			err = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
		} else {
			err = consumer.ConnectToNSQD(cfg.NSQDHost)
		}
		if err != nil {
			consumer.Stop()
			return started, err
		}
		started = append(started, consumer)
		slog.Info("NSQ consumer connected", "topic", b.Topic, "channel", b.Channel, "concurrency", b.Concurrency)
	}
	return started, nil
}
