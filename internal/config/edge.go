package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EdgeConfig groups the tunables of the edge protocol. All of them can be
// changed at runtime through the watched config file.
type EdgeConfig struct {
	// ReplayWindowSeconds bounds how far a request timestamp may drift
	// from server time, in either direction.
	ReplayWindowSeconds int `mapstructure:"replayWindowSeconds"`

	// OnlineWindowMinutes is how recent the last heartbeat must be for a
	// node to count as online.
	OnlineWindowMinutes int `mapstructure:"onlineWindowMinutes"`

	// NonceRetentionMinutes is how long consumed nonces are kept before
	// opportunistic purge.
	NonceRetentionMinutes int `mapstructure:"nonceRetentionMinutes"`

	// EnterpriseModules lists the AI modules whose events are routed
	// through scenario-based risk evaluation.
	EnterpriseModules []string `mapstructure:"enterpriseModules"`

	// BatchMaxEvents caps a single batch-ingest call.
	BatchMaxEvents int `mapstructure:"batchMaxEvents"`

	// LogSuppressionSeconds is the window within which repeated batch
	// outcome logs for the same edge/condition are dropped.
	LogSuppressionSeconds int `mapstructure:"logSuppressionSeconds"`

	// LicenseGraceDays extends an expired license before validation fails.
	LicenseGraceDays int `mapstructure:"licenseGraceDays"`
}

func DefaultEdgeConfig() EdgeConfig {
	return EdgeConfig{
		ReplayWindowSeconds:   300,
		OnlineWindowMinutes:   5,
		NonceRetentionMinutes: 10,
		EnterpriseModules:     []string{"market", "factory"},
		BatchMaxEvents:        100,
		LogSuppressionSeconds: 60,
		LicenseGraceDays:      14,
	}
}

// EdgeConfigHolder serves the current EdgeConfig and hot-reloads it when the
// config file changes.
type EdgeConfigHolder struct {
	current atomic.Value // holds EdgeConfig
}

func NewEdgeConfigHolder() (*EdgeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("edge")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sentra/config")
	v.AddConfigPath("/etc/sentra")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SENTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEdgeConfig()
	v.SetDefault("edge.replayWindowSeconds", defaults.ReplayWindowSeconds)
	v.SetDefault("edge.onlineWindowMinutes", defaults.OnlineWindowMinutes)
	v.SetDefault("edge.nonceRetentionMinutes", defaults.NonceRetentionMinutes)
	v.SetDefault("edge.enterpriseModules", defaults.EnterpriseModules)
	v.SetDefault("edge.batchMaxEvents", defaults.BatchMaxEvents)
	v.SetDefault("edge.logSuppressionSeconds", defaults.LogSuppressionSeconds)
	v.SetDefault("edge.licenseGraceDays", defaults.LicenseGraceDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EdgeConfig
	if err := v.UnmarshalKey("edge", &cfg); err != nil {
		return nil, err
	}
	if err := validateEdgeConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EdgeConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EdgeConfig
		if err := v.UnmarshalKey("edge", &updated); err != nil {
			log.Printf("[edge-config] reload failed: %v", err)
			return
		}
		if err := validateEdgeConfig(updated); err != nil {
			log.Printf("[edge-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[edge-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticEdgeConfigHolder wraps a fixed config, for tests.
func NewStaticEdgeConfigHolder(cfg EdgeConfig) *EdgeConfigHolder {
	holder := &EdgeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *EdgeConfigHolder) Get() EdgeConfig {
	return h.current.Load().(EdgeConfig)
}

func validateEdgeConfig(cfg EdgeConfig) error {
	if cfg.ReplayWindowSeconds <= 0 {
		return errors.New("edge.replayWindowSeconds must be positive")
	}
	if cfg.OnlineWindowMinutes <= 0 {
		return errors.New("edge.onlineWindowMinutes must be positive")
	}
	if cfg.BatchMaxEvents <= 0 {
		return errors.New("edge.batchMaxEvents must be positive")
	}
	return nil
}
