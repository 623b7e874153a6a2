package config

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the typed view of the viper configuration.
type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	Feeds   FeedsConfig   `mapstructure:"feeds"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type RelayConfig struct {
	// URL of the upstream relay websocket endpoint.
	URL string `mapstructure:"url"`
	// PingInterval between keepalive pings, seconds.
	PingInterval int `mapstructure:"ping_interval"`
	// FrameBuffer is the capacity of the inbound frame channel.
	FrameBuffer int `mapstructure:"frame_buffer"`
}

type FeedsConfig struct {
	// PageSize is the default number of items requested per page.
	PageSize int `mapstructure:"page_size"`
	// ResultBuffer is the capacity of each collector's result channel.
	ResultBuffer int `mapstructure:"result_buffer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
	Dir    string `mapstructure:"dir"`
}

var (
	cachedConfig    atomic.Value // stores *Config
	configLoadOnce  sync.Once
	configLoadError error

	debounceTimer *time.Timer
	debounceMutex sync.Mutex
)

// InitConfig initializes the global viper configuration, creating a default
// config file when none exists, and starts watching it for changes.
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("FEEDCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := viper.SafeWriteConfigAs("config.yaml"); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read created config: %w", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := reloadConfigCache(); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		// Debounce file changes to avoid reading partial writes
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			_ = reloadConfigCache()
		})
	})

	return nil
}

func setDefaults() {
	viper.SetDefault("relay.url", "wss://relay.damus.io")
	viper.SetDefault("relay.ping_interval", 30)
	viper.SetDefault("relay.frame_buffer", 1000)
	viper.SetDefault("feeds.page_size", 20)
	viper.SetDefault("feeds.result_buffer", 16)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.dir", "logs")
}

func reloadConfigCache() error {
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cachedConfig.Store(config)
	return nil
}

// GetConfig returns the cached configuration. Reads are a single atomic load.
func GetConfig() (*Config, error) {
	if cfg := cachedConfig.Load(); cfg != nil {
		return cfg.(*Config), nil
	}

	configLoadOnce.Do(func() {
		setDefaults()
		configLoadError = reloadConfigCache()
	})
	if configLoadError != nil {
		return nil, configLoadError
	}

	cfg := cachedConfig.Load()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg.(*Config), nil
}
