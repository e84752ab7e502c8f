package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/config"
	"github.com/brianYuDesign/balance-engine/internal/logger"
	"github.com/brianYuDesign/balance-engine/internal/outbox"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/service"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	httptransport "github.com/brianYuDesign/balance-engine/internal/transport/http"

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

	log, err := logger.New("balance-server")
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
	sqlDB.SetConnMaxIdleTime(time.Minute)

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

	writer := outbox.NewWriter(repository, producer, cfg.Kafka.Topic, log)
	cache := snapshot.NewReader(rdb, cfg.Redis.Namespace)
	svc := service.NewBalanceService(writer, repository, cache, log)
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("balance-server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serve: %v", err)
			return 2
		}
	case sig := <-stop:
		log.Infof("signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
	return 0
}
