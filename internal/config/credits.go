package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditsConfig prices each enhancement tool in credits and carries the
// dispatcher recovery policy. It is hot-reloadable so pricing changes do not
// require a restart.
type CreditsConfig struct {
	ToolCosts map[string]int64 `mapstructure:"toolCosts"`

	// KeepRequestIDOnUnknownStatus keeps a persisted external request id when
	// the provider status check itself fails. The default clears it, trading a
	// possible duplicate submission against a permanently stuck resume pointer.
	KeepRequestIDOnUnknownStatus bool `mapstructure:"keepRequestIdOnUnknownStatus"`
}

func DefaultCreditsConfig() CreditsConfig {
	return CreditsConfig{
		ToolCosts: map[string]int64{
			"declutter":       1,
			"virtual_staging": 2,
			"sky_replacement": 1,
			"relight":         1,
			"upscale":         1,
		},
		KeepRequestIDOnUnknownStatus: false,
	}
}

// CostFor returns the credit cost of a tool, falling back to 1 for tools the
// config does not price.
func (c CreditsConfig) CostFor(tool string) int64 {
	if cost, ok := c.ToolCosts[strings.ToLower(strings.TrimSpace(tool))]; ok && cost > 0 {
		return cost
	}
	return 1
}

type CreditsConfigHolder struct {
	current atomic.Value // holds CreditsConfig
}

func NewCreditsConfigHolder() (*CreditsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("credits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/listinglens/config") // Volume-mounted config
	v.AddConfigPath("/etc/listinglens")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("LISTINGLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultCreditsConfig()
		v.SetDefault("credits.toolCosts", defaults.ToolCosts)
		v.SetDefault("credits.keepRequestIdOnUnknownStatus", defaults.KeepRequestIDOnUnknownStatus)
	}

	var cfg CreditsConfig
	if err := v.UnmarshalKey("credits", &cfg); err != nil {
		return nil, err
	}
	if err := validateCreditsConfig(cfg); err != nil {
		return nil, err
	}
	if len(cfg.ToolCosts) == 0 {
		cfg = DefaultCreditsConfig()
	}

	holder := &CreditsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditsConfig
		if err := v.UnmarshalKey("credits", &updated); err != nil {
			log.Printf("[credits-config] reload failed: %v", err)
			return
		}
		if err := validateCreditsConfig(updated); err != nil {
			log.Printf("[credits-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credits-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Current returns the active config snapshot.
func (h *CreditsConfigHolder) Current() CreditsConfig {
	if h == nil {
		return DefaultCreditsConfig()
	}
	if cfg, ok := h.current.Load().(CreditsConfig); ok {
		return cfg
	}
	return DefaultCreditsConfig()
}

func validateCreditsConfig(cfg CreditsConfig) error {
	for tool, cost := range cfg.ToolCosts {
		if strings.TrimSpace(tool) == "" {
			return errors.New("credits config: empty tool name")
		}
		if cost <= 0 {
			return errors.New("credits config: tool cost must be positive")
		}
	}
	return nil
}
