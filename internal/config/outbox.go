package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// OutboxConfig tunes the notification dispatcher. It can be changed at runtime by editing outbox.yml.
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		MaxAttempts:  10,
		RetryBackoff: 30 * time.Second,
	}
}

type OutboxConfigHolder struct {
	current atomic.Value // holds OutboxConfig
}

// NewStaticOutboxConfigHolder returns a holder that never reloads.
func NewStaticOutboxConfigHolder(cfg OutboxConfig) *OutboxConfigHolder {
	holder := &OutboxConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewOutboxConfigHolder(cfg Config, log *zap.Logger) (*OutboxConfigHolder, error) {
	log = log.Named("config.outbox")
	v := viper.New()

	v.SetConfigName("outbox")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.OutboxConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/paymentsvc")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultOutboxConfig()
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("batch_size", defaults.BatchSize)
	v.SetDefault("max_attempts", defaults.MaxAttempts)
	v.SetDefault("retry_backoff", defaults.RetryBackoff)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var current OutboxConfig
	if err := v.Unmarshal(&current); err != nil {
		return nil, err
	}
	if err := validateOutboxConfig(current); err != nil {
		return nil, err
	}

	holder := &OutboxConfigHolder{}
	holder.current.Store(current)

	if !fileLoaded {
		log.Info("outbox config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated OutboxConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("outbox config reload failed", zap.Error(err))
			return
		}
		if err := validateOutboxConfig(updated); err != nil {
			log.Warn("invalid outbox config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("outbox config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *OutboxConfigHolder) Get() OutboxConfig {
	return h.current.Load().(OutboxConfig)
}

func validateOutboxConfig(cfg OutboxConfig) error {
	if cfg.PollInterval <= 0 {
		return errors.New("outbox.poll_interval must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("outbox.batch_size must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("outbox.max_attempts must be positive")
	}
	if cfg.RetryBackoff < 0 {
		return errors.New("outbox.retry_backoff cannot be negative")
	}
	return nil
}
