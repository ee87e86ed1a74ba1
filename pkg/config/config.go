package config

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
)

type PlatformCredentials struct {
	BaseURL string        `mapstructure:"BASE_URL"`
	APIKey  string        `mapstructure:"API_KEY"`
	Timeout time.Duration `mapstructure:"TIMEOUT"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`

	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	Platforms struct {
		Farcaster PlatformCredentials `mapstructure:"FARCASTER"`
		Lens      PlatformCredentials `mapstructure:"LENS"`
		Minds     PlatformCredentials `mapstructure:"MINDS"`
	} `mapstructure:"PLATFORMS"`

	Scoring struct {
		QuoteWeight   int `mapstructure:"QUOTE_WEIGHT"`
		CommentWeight int `mapstructure:"COMMENT_WEIGHT"`
		RepostWeight  int `mapstructure:"REPOST_WEIGHT"`

		VerifiedBonus     int `mapstructure:"VERIFIED_BONUS"`
		BigAccountBonus   int `mapstructure:"BIG_ACCOUNT_BONUS"`
		MatureAccountDays int `mapstructure:"MATURE_ACCOUNT_DAYS"`
		MatureBonus       int `mapstructure:"MATURE_BONUS"`
	} `mapstructure:"SCORING"`

	Ingest struct {
		Interval    time.Duration `mapstructure:"INTERVAL"`
		Concurrency int           `mapstructure:"CONCURRENCY"`
		PageLimit   int           `mapstructure:"PAGE_LIMIT"`
		MemberTTL   time.Duration `mapstructure:"MEMBER_TTL"`
	} `mapstructure:"INGEST"`

	Oversight struct {
		MinInterval time.Duration `mapstructure:"MIN_INTERVAL"`
		ScanWindow  time.Duration `mapstructure:"SCAN_WINDOW"`
	} `mapstructure:"OVERSIGHT"`

	Payment struct {
		BaseURL     string        `mapstructure:"BASE_URL"`
		APIKey      string        `mapstructure:"API_KEY"`
		Timeout     time.Duration `mapstructure:"TIMEOUT"`
		ScaleFactor int64         `mapstructure:"SCALE_FACTOR"`
	} `mapstructure:"PAYMENT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	applyDefaults(&cfg)
	configHolder.Store(&cfg)

	// Reloads publish a fresh struct through the holder; loaded
	// snapshots are never written again.
	config.OnConfigChange(func(e fsnotify.Event) {
		zap.L().Info("config file changed", zap.String("file", e.Name))

		var newcfg Config
		if err := config.Unmarshal(&newcfg); err != nil {
			zap.L().Error("failed to reload config", zap.Error(err))
			return
		}
		applyDefaults(&newcfg)
		configHolder.Store(&newcfg)
	})
	config.WatchConfig()

	return &cfg
}

// Current returns the most recently published config snapshot.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Scoring.QuoteWeight == 0 {
		cfg.Scoring.QuoteWeight = 3
	}
	if cfg.Scoring.CommentWeight == 0 {
		cfg.Scoring.CommentWeight = 2
	}
	if cfg.Scoring.RepostWeight == 0 {
		cfg.Scoring.RepostWeight = 1
	}
	if cfg.Scoring.VerifiedBonus == 0 {
		cfg.Scoring.VerifiedBonus = 10
	}
	if cfg.Scoring.BigAccountBonus == 0 {
		cfg.Scoring.BigAccountBonus = 5
	}
	if cfg.Scoring.MatureAccountDays == 0 {
		cfg.Scoring.MatureAccountDays = 365
	}
	if cfg.Scoring.MatureBonus == 0 {
		cfg.Scoring.MatureBonus = 3
	}

	if cfg.Ingest.Interval == 0 {
		cfg.Ingest.Interval = 5 * time.Minute
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
	if cfg.Ingest.PageLimit == 0 {
		cfg.Ingest.PageLimit = 100
	}
	if cfg.Ingest.MemberTTL == 0 {
		cfg.Ingest.MemberTTL = 2 * time.Minute
	}

	if cfg.Oversight.MinInterval == 0 {
		cfg.Oversight.MinInterval = time.Second
	}
	if cfg.Oversight.ScanWindow == 0 {
		cfg.Oversight.ScanWindow = 24 * time.Hour
	}

	if cfg.Payment.Timeout == 0 {
		cfg.Payment.Timeout = 30 * time.Second
	}
	if cfg.Payment.ScaleFactor == 0 {
		cfg.Payment.ScaleFactor = 10000
	}
}
