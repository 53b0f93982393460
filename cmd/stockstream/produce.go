package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockstream/internal/adapter/broker"
	"stockstream/internal/adapter/generator"
)

func newProduceCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish random-walk prices to the Kafka topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProduce(cmd.Context(), count)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "number of updates to send (0 runs until interrupted)")
	return cmd
}

func runProduce(parent context.Context, count int) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := generator.NewTestGenerator("producer", generator.Config{
		Symbols:      cfg.Generator.Symbols,
		InitialPrice: cfg.Generator.InitialPrice,
		MaxChange:    cfg.Generator.MaxChange,
		Interval:     cfg.Generator.Interval,
	}, log)

	writer := broker.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() {
		if err := writer.Close(); err != nil {
			log.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()

	log.Info("starting producer",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Int("count", count),
	)
	sent, err := broker.NewProducer(writer, gen, cfg.Generator.Interval, log).Run(ctx, count)
	log.Info("producer stopped", zap.Int("sent", sent))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
