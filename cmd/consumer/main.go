package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/config"
	"github.com/brianYuDesign/balance-engine/internal/consumer"
	"github.com/brianYuDesign/balance-engine/internal/election"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"github.com/brianYuDesign/balance-engine/internal/stream"

	"github.com/go-redis/redis/v8"
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

	log, err := logger.New("balance-consumer")
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
	sqlDB, err := gdb.DB()
	if err != nil {
		log.Errorf("postgres pool: %v", err)
		return 1
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxConns)

	repository := repo.NewRepository(gdb, log)
	if err := repository.AutoMigrate(); err != nil {
		log.Errorf("auto-migrate: %v", err)
		return 1
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Errorf("redis ping: %v", err)
		return 1
	}

	producer := stream.NewKafkaProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	updater := snapshot.NewUpdater(rdb, snapshot.Config{
		Namespace:     cfg.Redis.Namespace,
		WorkerCount:   cfg.Snapshot.WorkerCount,
		FlushInterval: time.Duration(cfg.Snapshot.FlushInterval) * time.Millisecond,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updater.Start(ctx)

	dlq := consumer.NewKafkaDeadLetter(producer, cfg.Kafka.DLQTopic)

	workers := make([]*consumer.Worker, 0, cfg.Kafka.Partitions)
	for p := int32(0); p < cfg.Kafka.Partitions; p++ {
		partition := p
		elector := election.NewElector(gdb, partition, time.Duration(cfg.Lease.TTLMS)*time.Millisecond, log)
		sources := func(startOffset int64) (stream.Source, error) {
			return stream.NewPartitionReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, int(partition), startOffset)
		}
		w, err := consumer.NewWorker(consumer.Config{
			Partition:       partition,
			Group:           cfg.Kafka.Group,
			Topic:           cfg.Kafka.Topic,
			MaxBatch:        cfg.Batch.MaxRecords,
			MaxLatency:      time.Duration(cfg.Batch.MaxLatencyMS) * time.Millisecond,
			LongPoll:        time.Duration(cfg.Batch.LongPollMS) * time.Millisecond,
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMS) * time.Millisecond,
			BackoffFactor:   cfg.Retry.Backoff,
			RenewEvery:      time.Duration(cfg.Lease.RenewMS) * time.Millisecond,
		}, repository, repository, elector, sources, updater, dlq, log)
		if err != nil {
			log.Errorf("build worker %d: %v", partition, err)
			return 1
		}
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *consumer.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Errorf("worker exited: %v", err)
			}
		}(w)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Infof("signal %s, draining workers", sig)

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Error("drain timed out")
		updater.Stop()
		return 2
	}
	updater.Stop()
	return 0
}
