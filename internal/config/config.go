// Package config loads and validates extractor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/video-metadata-crawler/internal/dispatcher"
	"github.com/JakeFAU/video-metadata-crawler/internal/extract"
	"github.com/JakeFAU/video-metadata-crawler/internal/session"
)

// EnvPrefix namespaces environment overrides, e.g. METACRAWLER_EXTRACTOR_WORKERS.
const EnvPrefix = "METACRAWLER"

// Config captures all knobs loaded via Viper.
type Config struct {
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Session   SessionConfig   `mapstructure:"session"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ExtractorConfig governs the worker pool and per-item behavior.
type ExtractorConfig struct {
	Workers            int           `mapstructure:"workers"`
	Mode               string        `mapstructure:"mode"`
	Delay              time.Duration `mapstructure:"delay"`
	MaxRetries         int           `mapstructure:"max_retries"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"`
	StaggerDelay       time.Duration `mapstructure:"stagger_delay"`
	PageLoadTimeout    time.Duration `mapstructure:"page_load_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	RetryPause         time.Duration `mapstructure:"retry_pause"`
	// Limit truncates the input list; zero processes everything.
	Limit int `mapstructure:"limit"`
	// Finalize runs the retry pass right after extraction.
	Finalize bool `mapstructure:"finalize"`
}

// SessionConfig configures browser launch and the session factory.
type SessionConfig struct {
	Headless      bool          `mapstructure:"headless"`
	ExecPath      string        `mapstructure:"exec_path"`
	UserAgent     string        `mapstructure:"user_agent"`
	ProfileRoot   string        `mapstructure:"profile_root"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	ProbeAttempts int           `mapstructure:"probe_attempts"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	GateDelayMin  time.Duration `mapstructure:"gate_delay_min"`
	GateDelayMax  time.Duration `mapstructure:"gate_delay_max"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
}

// OutputConfig names the result document.
type OutputConfig struct {
	// Path defaults to "<input stem>_metadata.json" when empty.
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the optional HTTP server.
type ServerConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `mapstructure:"addr"`
}

// Storage providers.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderMemory = "memory"
	ProviderGCS    = "gcs"
)

// StorageConfig selects where final documents are mirrored.
type StorageConfig struct {
	Provider string             `mapstructure:"provider"`
	Prefix   string             `mapstructure:"prefix"`
	Local    LocalStorageConfig `mapstructure:"local"`
	GCS      GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig configures the filesystem mirror.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig configures the bucket mirror.
type GCSStorageConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

// PubSubConfig holds run-completion notification settings. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// FlagKeys maps CLI flag names to configuration keys. Flags present in the
// set passed to Load override file and environment values.
var FlagKeys = map[string]string{
	"workers":             "extractor.workers",
	"mode":                "extractor.mode",
	"delay":               "extractor.delay",
	"max-retries":         "extractor.max_retries",
	"checkpoint-interval": "extractor.checkpoint_interval",
	"limit":               "extractor.limit",
	"finalize":            "extractor.finalize",
	"headless":            "session.headless",
	"chrome-path":         "session.exec_path",
	"output":              "output.path",
	"dev":                 "logging.development",
	"log-level":           "logging.level",
	"http-addr":           "server.addr",
}

// Load builds a Config from defaults, an optional YAML file, the
// environment and flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extractor.workers", 3)
	v.SetDefault("extractor.mode", string(dispatcher.ModeChunked))
	v.SetDefault("extractor.delay", 2*time.Second)
	v.SetDefault("extractor.max_retries", 2)
	v.SetDefault("extractor.checkpoint_interval", 10)
	v.SetDefault("extractor.stagger_delay", 1500*time.Millisecond)
	v.SetDefault("extractor.page_load_timeout", 60*time.Second)
	v.SetDefault("extractor.settle_delay", 1500*time.Millisecond)
	v.SetDefault("extractor.retry_pause", 2*time.Second)
	v.SetDefault("extractor.limit", 0)
	v.SetDefault("extractor.finalize", false)
	v.SetDefault("session.headless", true)
	v.SetDefault("session.exec_path", "")
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.profile_root", "")
	v.SetDefault("session.max_attempts", 3)
	v.SetDefault("session.probe_attempts", 3)
	v.SetDefault("session.probe_interval", 500*time.Millisecond)
	v.SetDefault("session.probe_timeout", 5*time.Second)
	v.SetDefault("session.gate_delay_min", 500*time.Millisecond)
	v.SetDefault("session.gate_delay_max", 1500*time.Millisecond)
	v.SetDefault("session.backoff_base", 3*time.Second)
	v.SetDefault("session.backoff_max", 15*time.Second)
	v.SetDefault("output.path", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("storage.provider", ProviderNone)
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Extractor.Workers <= 0 {
		errs = append(errs, errors.New("extractor.workers must be > 0"))
	}
	if _, err := dispatcher.ParseMode(c.Extractor.Mode); err != nil {
		errs = append(errs, fmt.Errorf("extractor.mode: %w", err))
	}
	if c.Extractor.Delay < 0 {
		errs = append(errs, errors.New("extractor.delay must be >= 0"))
	}
	if c.Extractor.MaxRetries < 1 {
		errs = append(errs, errors.New("extractor.max_retries must be >= 1"))
	}
	if c.Extractor.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("extractor.checkpoint_interval must be > 0"))
	}
	if c.Extractor.Limit < 0 {
		errs = append(errs, errors.New("extractor.limit must be >= 0"))
	}
	if c.Session.MaxAttempts <= 0 {
		errs = append(errs, errors.New("session.max_attempts must be > 0"))
	}
	if c.Session.GateDelayMax < c.Session.GateDelayMin {
		errs = append(errs, errors.New("session.gate_delay_max must be >= session.gate_delay_min"))
	}
	switch c.Storage.Provider {
	case ProviderNone, ProviderMemory, "":
	case ProviderLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			errs = append(errs, errors.New("storage.local.base_dir is required for the local provider"))
		}
	case ProviderGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.provider %q", c.Storage.Provider))
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		errs = append(errs, errors.New("pubsub.topic_name is required when pubsub.project_id is set"))
	}
	return errors.Join(errs...)
}

// SessionFactoryConfig converts the session section for session.NewFactory.
func (c Config) SessionFactoryConfig() session.Config {
	s := c.Session
	return session.Config{
		Headless:      s.Headless,
		ExecPath:      s.ExecPath,
		UserAgent:     s.UserAgent,
		ProfileRoot:   s.ProfileRoot,
		MaxAttempts:   s.MaxAttempts,
		ProbeAttempts: s.ProbeAttempts,
		ProbeInterval: s.ProbeInterval,
		ProbeTimeout:  s.ProbeTimeout,
		GateDelayMin:  s.GateDelayMin,
		GateDelayMax:  s.GateDelayMax,
		BackoffBase:   s.BackoffBase,
		BackoffMax:    s.BackoffMax,
	}
}

// ExtractConfig converts the per-item settings for extract.New.
func (c Config) ExtractConfig() extract.Config {
	return extract.Config{
		MaxRetries:      c.Extractor.MaxRetries,
		PageLoadTimeout: c.Extractor.PageLoadTimeout,
		SettleDelay:     c.Extractor.SettleDelay,
		RetryPause:      c.Extractor.RetryPause,
	}
}

// DispatchConfig converts the pool settings for dispatcher.New. The mode has
// already been validated.
func (c Config) DispatchConfig(outputPath string) dispatcher.Config {
	mode, _ := dispatcher.ParseMode(c.Extractor.Mode)
	return dispatcher.Config{
		Workers:         c.Extractor.Workers,
		Mode:            mode,
		StaggerDelay:    c.Extractor.StaggerDelay,
		CheckpointEvery: c.Extractor.CheckpointInterval,
		Delay:           c.Extractor.Delay,
		OutputPath:      outputPath,
	}
}
