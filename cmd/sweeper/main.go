package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/config"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/outbox"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/stream"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	log, err := logger.New("balance-sweeper")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Errorf("open postgres: %v", err)
		return 1
	}

	producer := stream.NewKafkaProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	repository := repo.NewRepository(gdb, log)
	sweeper := outbox.NewSweeper(repository, producer, outbox.SweeperConfig{
		Interval:   time.Second,
		StuckAfter: 5 * time.Second,
		MaxRetries: cfg.Retry.MaxRetries,
		DLQTopic:   cfg.Kafka.DLQTopic,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		sig := <-stop
		log.Infof("signal %s, stopping", sig)
		cancel()
	}()

	log.Info("balance-sweeper started")
	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("sweeper: %v", err)
		return 2
	}
	return 0
}
