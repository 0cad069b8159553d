// This file defines the configuration structure for the application.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Library struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"library"`
	Download struct {
		GlobalLimit      int           `mapstructure:"global_limit"`
		PerProviderLimit int           `mapstructure:"per_provider_limit"`
		MaxRetries       int           `mapstructure:"max_retries"`
		RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
		URLFreshness     time.Duration `mapstructure:"url_freshness"`
		PageDelay        time.Duration `mapstructure:"page_delay"`
		CallTimeout      time.Duration `mapstructure:"call_timeout"`
		DeleteOnCancel   bool          `mapstructure:"delete_on_cancel"`
	} `mapstructure:"download"`
	Monitor struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		StartupDelay time.Duration `mapstructure:"startup_delay"`
	} `mapstructure:"monitor"`
	Notify struct {
		RetryLimit int           `mapstructure:"retry_limit"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notify"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	// Environment variable overrides, e.g. HIBIKI_DATABASE_PATH overrides
	// the `database.path` key.
	viper.SetEnvPrefix("HIBIKI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./hibiki.db")
	viper.SetDefault("library.path", "./library")
	viper.SetDefault("download.global_limit", 4)
	viper.SetDefault("download.per_provider_limit", 2)
	viper.SetDefault("download.max_retries", 3)
	viper.SetDefault("download.retry_backoff", "5s")
	viper.SetDefault("download.url_freshness", "15m")
	viper.SetDefault("download.page_delay", "250ms")
	viper.SetDefault("download.call_timeout", "2m")
	viper.SetDefault("download.delete_on_cancel", true)
	viper.SetDefault("monitor.poll_interval", "6h")
	viper.SetDefault("monitor.startup_delay", "1m")
	viper.SetDefault("notify.retry_limit", 2)
	viper.SetDefault("notify.timeout", "10s")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
		} else {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
