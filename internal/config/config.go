package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"go-repub/pkg/models"
)

const envPrefix = "REPUB"

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Repository RepositoryConfig  `mapstructure:"repository"`
	OCR        OCRConfig         `mapstructure:"ocr"`
	Fetch      FetchConfig       `mapstructure:"fetch"`
	Defaults   models.JobOptions `mapstructure:"defaults"`
	Log        LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
}

// PipelineConfig sizes the job pool and the per-page fan-out
type PipelineConfig struct {
	JobWorkers     int `mapstructure:"job_workers"`
	PageFanout     int `mapstructure:"page_fanout"`
	QueueSize      int `mapstructure:"queue_size"`
	AnalysisMaxDim int `mapstructure:"analysis_max_dim"`
	JPEGQuality    int `mapstructure:"jpeg_quality"`
	ThumbnailWidth int `mapstructure:"thumbnail_width"`
	MaxPages       int `mapstructure:"max_pages"`
}

type StorageConfig struct {
	Backend  string      `mapstructure:"backend"`
	LocalDir string      `mapstructure:"local_dir"`
	Azure    AzureConfig `mapstructure:"azure"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Container        string `mapstructure:"container"`
}

type RepositoryConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type OCRConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TessdataPrefix string `mapstructure:"tessdata_prefix"`
	PageSegMode    int    `mapstructure:"page_seg_mode"`
}

type FetchConfig struct {
	Attempts    uint          `mapstructure:"attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	Concurrency int           `mapstructure:"concurrency"`
	// AllowedHosts restricts page URLs when not empty.
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Server.Host)
	port := strings.TrimSpace(c.Server.Port)
	return net.JoinHostPort(host, port)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			RequestTimeout:     30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			MaxRequestBodySize: 256 << 20,
		},
		Pipeline: PipelineConfig{
			JobWorkers:     2,
			PageFanout:     4,
			QueueSize:      32,
			AnalysisMaxDim: 1600,
			JPEGQuality:    85,
			ThumbnailWidth: 200,
			MaxPages:       2000,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./data/artifacts",
		},
		Repository: RepositoryConfig{
			Backend:    "memory",
			SQLitePath: "./data/repub.db",
		},
		OCR: OCRConfig{
			Enabled:     true,
			PageSegMode: 3,
		},
		Fetch: FetchConfig{
			Attempts:    3,
			Delay:       time.Second,
			Timeout:     30 * time.Second,
			MaxBytes:    64 << 20,
			Concurrency: 4,
		},
		Defaults: models.DefaultJobOptions(),
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads defaults, then the optional file named by REPUB_CONFIG (or
// cfgFile when given), then REPUB_* environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = os.Getenv(envPrefix + "_CONFIG")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_request_body_size", d.Server.MaxRequestBodySize)

	v.SetDefault("pipeline.job_workers", d.Pipeline.JobWorkers)
	v.SetDefault("pipeline.page_fanout", d.Pipeline.PageFanout)
	v.SetDefault("pipeline.queue_size", d.Pipeline.QueueSize)
	v.SetDefault("pipeline.analysis_max_dim", d.Pipeline.AnalysisMaxDim)
	v.SetDefault("pipeline.jpeg_quality", d.Pipeline.JPEGQuality)
	v.SetDefault("pipeline.thumbnail_width", d.Pipeline.ThumbnailWidth)
	v.SetDefault("pipeline.max_pages", d.Pipeline.MaxPages)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.local_dir", d.Storage.LocalDir)
	v.SetDefault("storage.azure.connection_string", d.Storage.Azure.ConnectionString)
	v.SetDefault("storage.azure.account_name", d.Storage.Azure.AccountName)
	v.SetDefault("storage.azure.account_key", d.Storage.Azure.AccountKey)
	v.SetDefault("storage.azure.container", d.Storage.Azure.Container)

	v.SetDefault("repository.backend", d.Repository.Backend)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)

	v.SetDefault("ocr.enabled", d.OCR.Enabled)
	v.SetDefault("ocr.tessdata_prefix", d.OCR.TessdataPrefix)
	v.SetDefault("ocr.page_seg_mode", d.OCR.PageSegMode)

	v.SetDefault("fetch.attempts", d.Fetch.Attempts)
	v.SetDefault("fetch.delay", d.Fetch.Delay)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.max_bytes", d.Fetch.MaxBytes)
	v.SetDefault("fetch.concurrency", d.Fetch.Concurrency)
	v.SetDefault("fetch.allowed_hosts", d.Fetch.AllowedHosts)

	o := d.Defaults
	v.SetDefault("defaults.crop", o.Crop)
	v.SetDefault("defaults.deskew", o.Deskew)
	v.SetDefault("defaults.dewarp", o.Dewarp)
	v.SetDefault("defaults.ocr", o.OCR)
	v.SetDefault("defaults.grayscale_only", o.GrayOnly)
	v.SetDefault("defaults.draw_contours", o.DrawContours)
	v.SetDefault("defaults.rotate_type", string(o.RotateType))
	v.SetDefault("defaults.reduce_factor", o.ReduceFactor)
	v.SetDefault("defaults.xmax", o.XMax)
	v.SetDefault("defaults.ymax", o.YMax)
	v.SetDefault("defaults.maxcontours", o.MaxContours)
	v.SetDefault("defaults.language", o.Language)
	v.SetDefault("defaults.manual_review", o.ManualReview)
	v.SetDefault("defaults.dpi", o.DPI)
	v.SetDefault("defaults.reconcile.tolerance", o.Reconcile.Tolerance)
	v.SetDefault("defaults.reconcile.min_width_fraction", o.Reconcile.MinWidthFraction)
	v.SetDefault("defaults.reconcile.min_height_fraction", o.Reconcile.MinHeightFraction)
	v.SetDefault("defaults.reconcile.border_margin", o.Reconcile.BorderMargin)
	v.SetDefault("defaults.reconcile.auto_correct", o.Reconcile.AutoCorrect)

	v.SetDefault("log.level", d.Log.Level)
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Server.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid server.port: %q", c.Server.Port)
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("server.max_request_body_size must be > 0 (got %d)", c.Server.MaxRequestBodySize)
	}
	if c.Server.RequestTimeout <= 0 || c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, read=%s, write=%s)",
			c.Server.RequestTimeout, c.Server.ReadTimeout, c.Server.WriteTimeout)
	}
	if c.Pipeline.JobWorkers <= 0 || c.Pipeline.PageFanout <= 0 || c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline sizes must be > 0 (got workers=%d, fanout=%d, queue=%d)",
			c.Pipeline.JobWorkers, c.Pipeline.PageFanout, c.Pipeline.QueueSize)
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be within 1..100 (got %d)", c.Pipeline.JPEGQuality)
	}

	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "azure":
		az := c.Storage.Azure
		if az.Container == "" {
			return fmt.Errorf("storage.azure.container is required for the azure backend")
		}
		if az.ConnectionString == "" && (az.AccountName == "" || az.AccountKey == "") {
			return fmt.Errorf("storage.azure needs a connection string or an account name and key")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want local or azure)", c.Storage.Backend)
	}

	switch c.Repository.Backend {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Repository.SQLitePath) == "" {
			return fmt.Errorf("repository.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown repository.backend %q (want memory or sqlite)", c.Repository.Backend)
	}

	if c.Fetch.Attempts == 0 || c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.attempts and fetch.timeout must be > 0")
	}
	return nil
}
