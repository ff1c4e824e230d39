package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheikh-saqib/exchange-ledger/internal/api"
	"github.com/sheikh-saqib/exchange-ledger/internal/config"
	"github.com/sheikh-saqib/exchange-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/exchange-ledger/internal/events/sarama"
	interfaces "github.com/sheikh-saqib/exchange-ledger/internal/interfaces"
	"github.com/sheikh-saqib/exchange-ledger/internal/ledger"
	"github.com/sheikh-saqib/exchange-ledger/internal/logging"
	"github.com/sheikh-saqib/exchange-ledger/internal/notify"
	"github.com/sheikh-saqib/exchange-ledger/internal/storage"
	"go.uber.org/zap"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	flag.Parse()

	if err := run(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(1)
	}
}

func run(envPath string) error {
	cfg, err := config.LoadFromEnv(envPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	ledgerService := ledger.NewLedger(store, ledger.WithLogger(logger))

	pub, err := newPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("connect %s publisher: %w", cfg.Events.Driver, err)
	}
	if pub != nil {
		defer pub.Close()
		fwd := notify.NewForwarder(pub, cfg.Events.TopicPrefix, cfg.Events.Buffer, logger)
		ledgerService.OnEvent(fwd.Handle)
		done := make(chan struct{})
		go func() {
			defer close(done)
			fwd.Run(ctx)
		}()
		defer func() {
			stop()
			<-done // drain before the publisher closes
		}()
	}

	logger.Info("ledger_starting",
		zap.String("store", cfg.Store.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.String("addr", cfg.HTTP.Addr))

	srv := api.NewServer(ledgerService, cfg.HTTP.CORSOrigins, logger)
	return srv.Run(ctx, cfg.HTTP.Addr)
}

// newPublisher returns nil when event forwarding is disabled.
func newPublisher(cfg config.Events) (interfaces.EventPublisher, error) {
	switch cfg.Driver {
	case config.EventsKafka:
		return kafka.NewPublisher(cfg.Brokers), nil
	case config.EventsSarama:
		p, err := sarama.NewPublisher(cfg.Brokers)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}
