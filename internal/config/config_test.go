package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "host=localhost dbname=balance"
kafka:
  brokers: ["localhost:9092"]
`)
	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, 200, cfg.Batch.MaxRecords)
	assert.Equal(t, 100, cfg.Batch.MaxLatencyMS)
	assert.Equal(t, 1000, cfg.Batch.LongPollMS)
	assert.Equal(t, 5000, cfg.Lease.TTLMS)
	assert.Equal(t, 2000, cfg.Lease.RenewMS)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2.0, cfg.Retry.Backoff)
	assert.Equal(t, 4, cfg.Snapshot.WorkerCount)
	assert.Equal(t, 100, cfg.Snapshot.FlushInterval)
	assert.Equal(t, "balance-changes", cfg.Kafka.Topic)
	assert.Equal(t, "balance-changes-dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, 15, cfg.Postgres.MaxConns)
}

func TestLoadOverridesPasswordFromEnv(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "host=localhost dbname=balance"
`)
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Contains(t, cfg.Postgres.DSN, "password=s3cret")
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
batch:
  max-records: 50
lease:
  ttl-ms: 10000
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 50, cfg.Batch.MaxRecords)
	assert.Equal(t, 10000, cfg.Lease.TTLMS)
}
