package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/splitter"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// MatchConfig holds the default engine options for split calls.
type MatchConfig struct {
	Threshold          float64
	Profile            match.Profile
	Zoom               float64
	Parallel           bool
	Workers            int
	DigitalSamplePages int
	DisableFastPath    bool
}

// Options converts the defaults into engine options.
func (m MatchConfig) Options() splitter.Options {
	return splitter.Options{
		Threshold:          m.Threshold,
		Profile:            m.Profile,
		Zoom:               m.Zoom,
		Parallel:           splitter.Bool(m.Parallel),
		Workers:            m.Workers,
		DigitalSamplePages: m.DigitalSamplePages,
		DisableFastPath:    splitter.Bool(m.DisableFastPath),
	}
}

// WorkerConfig defines dispatcher behavior and limits.
type WorkerConfig struct {
	Run                bool
	Concurrency        int
	JobTimeout         time.Duration
	JobMaxAttempts     int
	RetryBaseDelay     time.Duration
	RetryBackoffFactor float64
	RetryMaxDelay      time.Duration
	CooldownBase       time.Duration
	CooldownMax        time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig defines the S3 bucket holding job inputs and results.
type StorageConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ResultPrefix    string
	MaxRetries      uint
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Port              string
	MaxUploadMB       int
	MaxInflightSplits int
	SplitTimeout      time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Match   MatchConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Storage StorageConfig
	Server  ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/markersplit.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_markersplit",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Matching defaults
	profile, err := match.ParseProfile(getEnv("MATCH_PROFILE", "fast"))
	if err != nil {
		profile = match.ProfileFast
	}
	cfg.Match = MatchConfig{
		Threshold:          parseFloat(getEnv("MATCH_THRESHOLD", "0.7"), match.DefaultThreshold),
		Profile:            profile,
		Zoom:               parseFloat(getEnv("MATCH_ZOOM", "1.2"), splitter.ZoomFast),
		Parallel:           parseBool(getEnv("MATCH_PARALLEL", "false")),
		Workers:            parseInt(getEnv("MATCH_WORKERS", "0"), 0),
		DigitalSamplePages: parseInt(getEnv("DIGITAL_SAMPLE_PAGES", "3"), 3),
		DisableFastPath:    parseBool(getEnv("MATCH_DISABLE_FAST_PATH", "false")),
	}

	// Worker defaults
	cfg.Worker = WorkerConfig{
		Run:                parseBool(getEnv("RUN_DISPATCHER", "true")),
		Concurrency:        parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		JobTimeout:         parseDuration(getEnv("JOB_TIMEOUT", "5m"), 5*time.Minute),
		JobMaxAttempts:     parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		RetryBaseDelay:     parseDuration(getEnv("RETRY_BASE_DELAY", "2s"), 2*time.Second),
		RetryBackoffFactor: parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
		RetryMaxDelay:      parseDuration(getEnv("RETRY_MAX_DELAY", "2m"), 2*time.Minute),
		CooldownBase:       parseDuration(getEnv("STORAGE_COOLDOWN_BASE", "5s"), 5*time.Second),
		CooldownMax:        parseDuration(getEnv("STORAGE_COOLDOWN_MAX", "2m"), 2*time.Minute),
	}

	// Queue defaults
	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:split"),
		Group:        getEnv("QUEUE_GROUP", "workers:split"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
	}

	// Storage defaults
	cfg.Storage = StorageConfig{
		Bucket:          getEnv("S3_BUCKET", ""),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("AWS_REGION", "us-east-1"),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		ResultPrefix:    getEnv("S3_RESULT_PREFIX", "results/"),
		MaxRetries:      uint(parseInt(getEnv("S3_MAX_RETRIES", "3"), 3)),
	}

	// Server defaults
	cfg.Server = ServerConfig{
		Port:              getEnv("PORT", "8080"),
		MaxUploadMB:       parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64),
		MaxInflightSplits: parseInt(getEnv("MAX_INFLIGHT_SPLITS", "4"), 4),
		SplitTimeout:      parseDuration(getEnv("SPLIT_TIMEOUT", "2m"), 2*time.Minute),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
