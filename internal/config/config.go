// Package config loads tgfsd's configuration from a YAML file (with
// environment variable overrides) using viper, and optionally watches
// the file for changes via fsnotify. Shape follows the option-struct
// style implied by the teacher's config.Config/EncryptionConfig/
// BackendConfig usages across internal/api, internal/crypto and
// test/garage.go, generalized from a single S3 backend to an account
// pool and from object encryption to chunk encryption.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mvance/tgfs/internal/apperrors"
)

// AccountConfig describes one backend account in the storage pool.
type AccountConfig struct {
	ID           uint8  `mapstructure:"id" yaml:"id"`
	Provider     string `mapstructure:"provider" yaml:"provider"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	Region       string `mapstructure:"region" yaml:"region"`
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey    string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key" yaml:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// PoolConfig describes the erasure-coded account pool.
type PoolConfig struct {
	Accounts     []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	DataShards   int             `mapstructure:"data_shards" yaml:"data_shards"`
	ParityShards int             `mapstructure:"parity_shards" yaml:"parity_shards"`
	MaxFailures  int             `mapstructure:"max_failures" yaml:"max_failures"`
}

// KDFConfig controls the Argon2id/HKDF key derivation parameters.
type KDFConfig struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib" yaml:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations" yaml:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism" yaml:"parallelism"`
}

// EncryptionConfig holds the master password and KDF tuning.
type EncryptionConfig struct {
	Password string    `mapstructure:"password" yaml:"password"`
	KDF      KDFConfig `mapstructure:"kdf" yaml:"kdf"`
}

// ChunkerConfig controls fixed-size chunk sizing and compression.
type ChunkerConfig struct {
	ChunkSize            uint32 `mapstructure:"chunk_size" yaml:"chunk_size"`
	CompressionEnabled   bool   `mapstructure:"compression_enabled" yaml:"compression_enabled"`
	CompressionLevel     int    `mapstructure:"compression_level" yaml:"compression_level"`
	CompressionThreshold uint32 `mapstructure:"compression_threshold" yaml:"compression_threshold"`
	DedupEnabled         bool   `mapstructure:"dedup_enabled" yaml:"dedup_enabled"`
}

// CacheConfig controls the on-disk chunk cache.
type CacheConfig struct {
	Dir             string `mapstructure:"dir" yaml:"dir"`
	MaxSizeBytes    int64  `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	PrefetchEnabled bool   `mapstructure:"prefetch_enabled" yaml:"prefetch_enabled"`
}

// MetadataConfig controls the embedded metadata store.
type MetadataConfig struct {
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// SnapshotConfig controls bounded-retention inode snapshots.
type SnapshotConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSnapshots int  `mapstructure:"max_snapshots" yaml:"max_snapshots"`
}

// AuditSinkConfig describes where audit events are written.
type AuditSinkConfig struct {
	Type          string            `mapstructure:"type" yaml:"type"` // stdout, file, http
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
	FilePath      string            `mapstructure:"file_path" yaml:"file_path"`
	BatchSize     int               `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval" yaml:"flush_interval"`
	RetryCount    int               `mapstructure:"retry_count" yaml:"retry_count"`
	RetryBackoff  time.Duration     `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// AuditConfig controls audit logging.
type AuditConfig struct {
	Enabled             bool            `mapstructure:"enabled" yaml:"enabled"`
	MaxEvents           int             `mapstructure:"max_events" yaml:"max_events"`
	RedactMetadataKeys  []string        `mapstructure:"redact_metadata_keys" yaml:"redact_metadata_keys"`
	Sink                AuditSinkConfig `mapstructure:"sink" yaml:"sink"`
}

// RateLimitConfig controls the Redis-backed per-account rate limiter.
type RateLimitConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Limit     int    `mapstructure:"limit" yaml:"limit"`
	Window    time.Duration `mapstructure:"window" yaml:"window"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string `mapstructure:"exporter" yaml:"exporter"` // stdout, otlp, jaeger
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Config is the complete tgfsd configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Chunker    ChunkerConfig    `mapstructure:"chunker" yaml:"chunker"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Metadata   MetadataConfig   `mapstructure:"metadata" yaml:"metadata"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot" yaml:"snapshot"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:9090")
	v.SetDefault("log_level", "info")

	v.SetDefault("pool.data_shards", 4)
	v.SetDefault("pool.parity_shards", 2)
	v.SetDefault("pool.max_failures", 3)

	v.SetDefault("encryption.kdf.memory_kib", 64*1024)
	v.SetDefault("encryption.kdf.iterations", 3)
	v.SetDefault("encryption.kdf.parallelism", 4)

	v.SetDefault("chunker.chunk_size", 4*1024*1024)
	v.SetDefault("chunker.compression_enabled", true)
	v.SetDefault("chunker.compression_level", 0)
	v.SetDefault("chunker.compression_threshold", 0)
	v.SetDefault("chunker.dedup_enabled", true)

	v.SetDefault("cache.dir", "/var/lib/tgfs/cache")
	v.SetDefault("cache.max_size_bytes", int64(10*1024*1024*1024))
	v.SetDefault("cache.prefetch_enabled", true)

	v.SetDefault("metadata.path", "/var/lib/tgfs/metadata.db")
	v.SetDefault("metadata.namespace", "")

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.max_snapshots", 10)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.max_events", 10000)
	v.SetDefault("audit.sink.type", "stdout")
	v.SetDefault("audit.sink.batch_size", 100)
	v.SetDefault("audit.sink.flush_interval", 5*time.Second)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.service_name", "tgfsd")
}

// Load reads configuration from path (YAML), environment variables
// (prefixed TGFS_, nested keys joined with underscores) and defaults,
// in increasing precedence order: defaults < file < env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TGFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, fmt.Sprintf("reading config file %s", path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "decoding config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Dump renders c as YAML, for the "tgfsd config dump" diagnostic
// command and for writing out a starting configuration file.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "marshaling config to yaml", err)
	}
	return out, nil
}

// Validate checks structural invariants that viper's unmarshal can't enforce.
func (c *Config) Validate() error {
	if c.Pool.DataShards <= 0 {
		return apperrors.New(apperrors.KindConfig, "pool.data_shards must be positive")
	}
	if c.Pool.ParityShards < 0 {
		return apperrors.New(apperrors.KindConfig, "pool.parity_shards must not be negative")
	}
	if len(c.Pool.Accounts) > 0 && len(c.Pool.Accounts) < c.Pool.DataShards+c.Pool.ParityShards {
		return apperrors.New(apperrors.KindConfig, "pool.accounts must contain at least data_shards+parity_shards accounts")
	}
	if c.Encryption.Password == "" {
		return apperrors.New(apperrors.KindConfig, "encryption.password must be set")
	}
	return nil
}

// Watch invokes onChange whenever the file at path is modified on disk.
// It returns a stop function that closes the underlying watcher.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "creating config watcher", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, apperrors.Wrap(apperrors.KindConfig, fmt.Sprintf("watching config file %s", path), err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
