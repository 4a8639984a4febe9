package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/spotcast/spotcast/internal/platform"
)

type Config struct {
	Debug bool `mapstructure:"debug"`

	API struct {
		BaseURL   string `mapstructure:"base_url"`
		Timeout   int    `mapstructure:"timeout"`
		Retries   int    `mapstructure:"retries"`
		UserAgent string `mapstructure:"user_agent"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			BurstSize         int `mapstructure:"burst_size"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Storage struct {
		DatabasePath string `mapstructure:"database_path"`
		CacheDir     string `mapstructure:"cache_dir"`
	} `mapstructure:"storage"`

	Cache struct {
		MaxTracks       int `mapstructure:"max_tracks"`
		TTLHours        int `mapstructure:"ttl_hours"`
		DownloadTimeout int `mapstructure:"download_timeout"`
	} `mapstructure:"cache"`

	Network struct {
		CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
		ProbeHost            string `mapstructure:"probe_host"`
		ProbeTimeoutSeconds  int    `mapstructure:"probe_timeout_seconds"`
		DefaultStreamPort    string `mapstructure:"default_stream_port"`
	} `mapstructure:"network"`

	Session struct {
		PollIntervalSeconds      int `mapstructure:"poll_interval_seconds"`
		RetryDebounceSeconds     int `mapstructure:"retry_debounce_seconds"`
		ConnectingWarnSeconds    int `mapstructure:"connecting_warn_seconds"`
		ConnectingRecoverSeconds int `mapstructure:"connecting_recover_seconds"`
		ConnectingSweepSeconds   int `mapstructure:"connecting_sweep_seconds"`
		RetryBaseSeconds         int `mapstructure:"retry_base_seconds"`
		RetryMaxSeconds          int `mapstructure:"retry_max_seconds"`
		FailoverRetryBudget      int `mapstructure:"failover_retry_budget"`
		LiveProbeIntervalSeconds int `mapstructure:"live_probe_interval_seconds"`
	} `mapstructure:"session"`

	Playback struct {
		LoadingCeilingSeconds    int `mapstructure:"loading_ceiling_seconds"`
		SweepIntervalSeconds     int `mapstructure:"sweep_interval_seconds"`
		SweepCeilingSeconds      int `mapstructure:"sweep_ceiling_seconds"`
		StaleBufferMinutes       int `mapstructure:"stale_buffer_minutes"`
		ZeroBufferCeilingSeconds int `mapstructure:"zero_buffer_ceiling_seconds"`
		OpenTimeoutSeconds       int `mapstructure:"open_timeout_seconds"`
		PlayTimeoutSeconds       int `mapstructure:"play_timeout_seconds"`
	} `mapstructure:"playback"`

	Audio struct {
		SampleRate    int     `mapstructure:"sample_rate"`
		BufferSize    int     `mapstructure:"buffer_size"`
		DefaultVolume float64 `mapstructure:"default_volume"`
	} `mapstructure:"audio"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		configDir, err := platform.ConfigDir()
		if err != nil {
			return nil, err
		}
		viper.AddConfigPath(configDir)
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SPOTCAST")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("api.base_url", "https://api.spotcast.io/v1")
	viper.SetDefault("api.timeout", 15)
	viper.SetDefault("api.retries", 2)
	viper.SetDefault("api.user_agent", "Spotcast/1.0.0")
	viper.SetDefault("api.rate_limit.requests_per_second", 5)
	viper.SetDefault("api.rate_limit.burst_size", 5)

	dataDir, _ := platform.DataDir()
	cacheDir, _ := platform.CacheDir()

	viper.SetDefault("storage.database_path", filepath.Join(dataDir, "spotcast.db"))
	viper.SetDefault("storage.cache_dir", filepath.Join(cacheDir, "tracks"))

	viper.SetDefault("cache.max_tracks", 12)
	viper.SetDefault("cache.ttl_hours", 48)
	viper.SetDefault("cache.download_timeout", 600)

	viper.SetDefault("network.check_interval_seconds", 5)
	viper.SetDefault("network.probe_host", "one.one.one.one")
	viper.SetDefault("network.probe_timeout_seconds", 3)
	viper.SetDefault("network.default_stream_port", "80")

	viper.SetDefault("session.poll_interval_seconds", 45)
	viper.SetDefault("session.retry_debounce_seconds", 5)
	viper.SetDefault("session.connecting_warn_seconds", 15)
	viper.SetDefault("session.connecting_recover_seconds", 30)
	viper.SetDefault("session.connecting_sweep_seconds", 10)
	viper.SetDefault("session.retry_base_seconds", 5)
	viper.SetDefault("session.retry_max_seconds", 300)
	viper.SetDefault("session.failover_retry_budget", 3)
	viper.SetDefault("session.live_probe_interval_seconds", 30)

	viper.SetDefault("playback.loading_ceiling_seconds", 20)
	viper.SetDefault("playback.sweep_interval_seconds", 12)
	viper.SetDefault("playback.sweep_ceiling_seconds", 30)
	viper.SetDefault("playback.stale_buffer_minutes", 2)
	viper.SetDefault("playback.zero_buffer_ceiling_seconds", 30)
	viper.SetDefault("playback.open_timeout_seconds", 15)
	viper.SetDefault("playback.play_timeout_seconds", 10)

	viper.SetDefault("audio.sample_rate", 44100)
	viper.SetDefault("audio.buffer_size", 16384)
	viper.SetDefault("audio.default_volume", 0.7)
}

func ensureDirectories(cfg *Config) error {
	dirs := []string{
		filepath.Dir(cfg.Storage.DatabasePath),
		cfg.Storage.CacheDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) Save() error {
	configDir, err := platform.ConfigDir()
	if err != nil {
		return err
	}

	configFile := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configFile)
}
