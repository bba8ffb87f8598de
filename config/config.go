package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string         `mapstructure:"env"`
	LogLevel        string         `mapstructure:"log_level"`
	LogType         string         `mapstructure:"log_type"`
	ServiceName     string         `mapstructure:"service_name"`
	Port            string         `mapstructure:"port"`
	Version         string         `mapstructure:"version"`
	WorkerSettings  *WorkerConfig  `mapstructure:"worker"`
	BrowserSettings *BrowserConfig `mapstructure:"browser"`
	LoaderSettings  *LoaderConfig  `mapstructure:"loader"`
	HttpSettings    *HttpConfig    `mapstructure:"http"`
	DedupeSettings  *DedupeConfig  `mapstructure:"dedupe"`
	BatcherSettings *BatcherConfig `mapstructure:"batcher"`
	StoreSettings   *StoreConfig   `mapstructure:"store"`
	CacheSettings   *CacheConfig   `mapstructure:"cache"`
	KafkaSettings   *KafkaConfig   `mapstructure:"kafka"`
	S3Settings      *S3Config      `mapstructure:"s3"`
	ArchiveSettings *ArchiveConfig `mapstructure:"archive"`
}

type WorkerConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	TargetBatch    int           `mapstructure:"target_batch"`
	TargetWait     time.Duration `mapstructure:"target_wait"`
	MaxCandidates  int           `mapstructure:"max_candidates"`
	SeenCacheSize  int           `mapstructure:"seen_cache_size"`
	LocationsTable string        `mapstructure:"locations_collection"`
	TargetsFile    string        `mapstructure:"targets_file"` // used when kafka is disabled
}

type BrowserConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Headless    bool   `mapstructure:"headless"`
	ExecPath    string `mapstructure:"exec_path"`
	NoSandbox   bool   `mapstructure:"no_sandbox"`
	ProxyServer string `mapstructure:"proxy_server"`
}

type LoaderConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	MinBodyLength int           `mapstructure:"min_body_length"`
}

type HttpConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	MaxProbes    int           `mapstructure:"max_probes"`
}

type DedupeConfig struct {
	ExactThreshold   float64 `mapstructure:"exact_threshold"`
	StrongThreshold  float64 `mapstructure:"strong_threshold"`
	ReviewThreshold  float64 `mapstructure:"review_threshold"`
	ProximityRadiusM float64 `mapstructure:"proximity_radius_m"`
	CorpusPageSize   int     `mapstructure:"corpus_page_size"`
}

type BatcherConfig struct {
	Window   time.Duration `mapstructure:"window"`
	MaxBatch int           `mapstructure:"max_batch"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, mysql, sqlite or postgres
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type CacheConfig struct {
	Driver  string `mapstructure:"driver"` // local or memcached
	Servers string `mapstructure:"servers"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAcks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type ArchiveConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	RequestTimeout   int  `mapstructure:"request_timeout"`
	Retries          int  `mapstructure:"retries"`
	LastCrawlIndexes int  `mapstructure:"last_crawl_indexes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "location-discovery")
	v.SetDefault("port", "8080")
	v.SetDefault("version", "dev")

	v.SetDefault("worker.max_concurrent", 3)
	v.SetDefault("worker.request_delay", time.Second)
	v.SetDefault("worker.batch_delay", 2*time.Second)
	v.SetDefault("worker.target_batch", 10)
	v.SetDefault("worker.target_wait", 30*time.Second)
	v.SetDefault("worker.max_candidates", 20)
	v.SetDefault("worker.seen_cache_size", 10000)
	v.SetDefault("worker.locations_collection", "locations")

	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)

	v.SetDefault("loader.max_retries", 3)
	v.SetDefault("loader.retry_backoff", 2*time.Second)
	v.SetDefault("loader.page_timeout", 30*time.Second)
	v.SetDefault("loader.min_body_length", 100)

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.probe_timeout", 8*time.Second)
	v.SetDefault("http.max_probes", 6)

	v.SetDefault("dedupe.exact_threshold", 0.95)
	v.SetDefault("dedupe.strong_threshold", 0.85)
	v.SetDefault("dedupe.review_threshold", 0.6)
	v.SetDefault("dedupe.proximity_radius_m", 50.0)
	v.SetDefault("dedupe.corpus_page_size", 200)

	v.SetDefault("batcher.window", 50*time.Millisecond)
	v.SetDefault("batcher.max_batch", 500)
	v.SetDefault("batcher.cache_ttl", 30*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.conn_max_lifetime", 3*time.Minute)
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 10)

	v.SetDefault("cache.driver", "local")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 50)
	v.SetDefault("kafka.producer.batch_timeout", time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("kafka.consumer.max_wait", 500*time.Millisecond)
	v.SetDefault("kafka.consumer.read_batch_timeout", 10*time.Second)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.request_timeout", 30)
	v.SetDefault("archive.retries", 2)
	v.SetDefault("archive.last_crawl_indexes", 3)
}

// Load reads the yaml file at cfgPath. Environment variables override file values.
func Load(cfgPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(cfgPath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load(path.Join(".", "config.yaml"))
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return cfg
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.WorkerSettings == nil || c.LoaderSettings == nil || c.HttpSettings == nil || c.DedupeSettings == nil ||
		c.BatcherSettings == nil || c.StoreSettings == nil || c.CacheSettings == nil {
		return errors.New("config sections worker, loader, http, dedupe, batcher, store and cache are required")
	}
	w := c.WorkerSettings
	if w.MaxConcurrent <= 0 {
		return errors.New("worker.max_concurrent must be positive")
	}
	if w.RequestDelay < 0 || w.BatchDelay < 0 {
		return errors.New("worker delays cannot be negative")
	}
	if w.MaxCandidates <= 0 {
		return errors.New("worker.max_candidates must be positive")
	}
	if w.TargetBatch <= 0 || w.TargetWait <= 0 {
		return errors.New("worker.target_batch and worker.target_wait must be positive")
	}
	if c.LoaderSettings.MaxRetries <= 0 {
		return errors.New("loader.max_retries must be positive")
	}
	if c.LoaderSettings.PageTimeout <= 0 {
		return errors.New("loader.page_timeout must be positive")
	}
	if c.HttpSettings.Timeout <= 0 || c.HttpSettings.ProbeTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}
	d := c.DedupeSettings
	if d.ReviewThreshold <= 0 || d.ReviewThreshold > d.StrongThreshold || d.StrongThreshold > d.ExactThreshold ||
		d.ExactThreshold > 1 {
		return fmt.Errorf("dedupe thresholds must satisfy 0 < review (%v) <= strong (%v) <= exact (%v) <= 1",
			d.ReviewThreshold, d.StrongThreshold, d.ExactThreshold)
	}
	if d.ProximityRadiusM <= 0 {
		return errors.New("dedupe.proximity_radius_m must be positive")
	}
	if d.CorpusPageSize <= 0 {
		return errors.New("dedupe.corpus_page_size must be positive")
	}
	if c.BatcherSettings.Window <= 0 || c.BatcherSettings.MaxBatch <= 0 {
		return errors.New("batcher.window and batcher.max_batch must be positive")
	}
	switch c.StoreSettings.Driver {
	case "memory", "mysql", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be memory, mysql, sqlite or postgres, got %q", c.StoreSettings.Driver)
	}
	switch c.CacheSettings.Driver {
	case "local", "memcached":
	default:
		return fmt.Errorf("cache.driver must be local or memcached, got %q", c.CacheSettings.Driver)
	}
	if c.KafkaSettings != nil && c.KafkaSettings.Enabled &&
		(c.KafkaSettings.Producer == nil || c.KafkaSettings.Consumer == nil) {
		return errors.New("kafka.producer and kafka.consumer are required when kafka is enabled")
	}

	return nil
}
