package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// Config holds messenger configuration loaded from environment.
type Config struct {
	Env      string
	HTTPAddr string

	// StoreMode selects the message store: "scylla" or "memory".
	StoreMode string

	ScyllaHosts       []string
	ScyllaKeyspace    string
	ScyllaUsername    string
	ScyllaPassword    string
	ScyllaConsistency gocql.Consistency
	ScyllaTimeout     time.Duration
	ReplicationFactor int

	MongoURI string
	MongoDB  string

	KafkaBrokers     []string
	KafkaTopicPrefix string

	ReconcilePollInterval time.Duration
	ReconcileGrace        time.Duration
	ReconcileMaxAttempts  int
	RetryBackoff          []time.Duration
}

// Load parses environment variables into a Config struct.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("APP_ENV", "dev"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		StoreMode:      strings.ToLower(getEnv("STORE_MODE", "scylla")),
		ScyllaHosts:    splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
		ScyllaKeyspace: strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "messenger")),
		ScyllaUsername: strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
		ScyllaPassword: strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
		ReplicationFactor: parseIntWithDefault(
			strings.TrimSpace(os.Getenv("SCYLLA_REPLICATION_FACTOR")), 1),
		MongoURI:             os.Getenv("MONGO_URI"),
		MongoDB:              getEnv("MONGO_DB", "messenger"),
		KafkaTopicPrefix:     getEnv("KAFKA_TOPIC_PREFIX", ""),
		ReconcileMaxAttempts: parseIntWithDefault(strings.TrimSpace(os.Getenv("RECONCILE_MAX_ATTEMPTS")), 5),
	}
	if cfg.StoreMode != "scylla" && cfg.StoreMode != "memory" {
		return Config{}, fmt.Errorf("unsupported STORE_MODE: %s", cfg.StoreMode)
	}
	if cfg.StoreMode == "scylla" {
		if cfg.ScyllaKeyspace == "" {
			return Config{}, fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required")
		}
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	timeout, err := parseDuration("SCYLLA_TIMEOUT", "5s")
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaTimeout = timeout

	consistency, err := parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum"))
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaConsistency = consistency
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}

	poll, err := parseDuration("RECONCILE_POLL_INTERVAL", "500ms")
	if err != nil {
		return Config{}, err
	}
	cfg.ReconcilePollInterval = poll

	grace, err := parseDuration("RECONCILE_GRACE", "5s")
	if err != nil {
		return Config{}, err
	}
	cfg.ReconcileGrace = grace

	backoff, err := parseBackoff(getEnv("RETRY_BACKOFF", "1s,5s,30s"))
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBackoff = backoff
	if cfg.ReconcileMaxAttempts < 1 {
		cfg.ReconcileMaxAttempts = 5
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v == 0 {
		return def
	}
	return v
}

func parseBackoff(raw string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dur, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF entry %q: %w", part, err)
		}
		out = append(out, dur)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("RETRY_BACKOFF must list at least one duration")
	}
	return out, nil
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
