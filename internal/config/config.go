package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Batch     BatchConfig     `yaml:"batch"`
	Lease     LeaseConfig     `yaml:"lease"`
	Retry     RetryConfig     `yaml:"retry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN              string `yaml:"dsn"`
	MaxConns         int    `yaml:"max-conns"`
	QueueLimit       int    `yaml:"queue-limit"`
	ConnectTimeoutMS int    `yaml:"connect-timeout-ms"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	DLQTopic   string   `yaml:"dlq-topic"`
	Group      string   `yaml:"group"`
	Partitions int32    `yaml:"partitions"`
}

type BatchConfig struct {
	MaxRecords   int `yaml:"max-records"`
	MaxLatencyMS int `yaml:"max-latency-ms"`
	LongPollMS   int `yaml:"long-poll-ms"`
}

type LeaseConfig struct {
	TTLMS   int `yaml:"ttl-ms"`
	RenewMS int `yaml:"renew-ms"`
}

type RetryConfig struct {
	MaxRetries        int     `yaml:"max-retries"`
	InitialIntervalMS int     `yaml:"initial-interval-ms"`
	Backoff           float64 `yaml:"backoff"`
}

type SnapshotConfig struct {
	WorkerCount   int `yaml:"worker-count"`
	FlushInterval int `yaml:"flush-interval-ms"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override secrets from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 15
	}
	if c.Postgres.QueueLimit == 0 {
		c.Postgres.QueueLimit = 64
	}
	if c.Postgres.ConnectTimeoutMS == 0 {
		c.Postgres.ConnectTimeoutMS = 3000
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = "balance"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "balance-changes"
	}
	if c.Kafka.DLQTopic == "" {
		c.Kafka.DLQTopic = "balance-changes-dlq"
	}
	if c.Kafka.Group == "" {
		c.Kafka.Group = "balance-engine"
	}
	if c.Kafka.Partitions == 0 {
		c.Kafka.Partitions = 1
	}
	if c.Batch.MaxRecords == 0 {
		c.Batch.MaxRecords = 200
	}
	if c.Batch.MaxLatencyMS == 0 {
		c.Batch.MaxLatencyMS = 100
	}
	if c.Batch.LongPollMS == 0 {
		c.Batch.LongPollMS = 1000
	}
	if c.Lease.TTLMS == 0 {
		c.Lease.TTLMS = 5000
	}
	if c.Lease.RenewMS == 0 {
		c.Lease.RenewMS = 2000
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialIntervalMS == 0 {
		c.Retry.InitialIntervalMS = 1000
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = 2.0
	}
	if c.Snapshot.WorkerCount == 0 {
		c.Snapshot.WorkerCount = 4
	}
	if c.Snapshot.FlushInterval == 0 {
		c.Snapshot.FlushInterval = 100
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 200
	}
}
