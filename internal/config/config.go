package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Driver string
		Path   string
		DSN    string
	}
	NMS struct {
		BaseURL  string
		Username string
		Password string
		Timeout  time.Duration
	}
	Cards struct {
		OriginPrefix string
		TargetPrefix string
		FanPrefix    string
	}
	Alert struct {
		StrictPairing     bool
		BaselineRefresh   time.Duration
		RapidCooldown     time.Duration
		DriftCooldown     time.Duration
		ThresholdCooldown time.Duration
		AckDuration       time.Duration
		Slack             struct {
			Token         string
			Channel       string
			SigningSecret string
		}
		Email struct {
			SMTPHost    string
			SMTPPort    int
			From        string
			Password    string
			ToReceivers []string
		}
	}
	Redis struct {
		Addr      string
		Password  string
		DB        int
		KeyPrefix string
	}
	NATS struct {
		URL          string
		AlertSubject string
	}
	Server struct {
		Port          int
		JWTSecret     string
		AdminUser     string
		AdminPassword string
	}
	Log struct {
		Level  string
		Format string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/linkeye.db")
	v.SetDefault("nms.timeout", 30*time.Second)
	v.SetDefault("cards.originprefix", "BOA")
	v.SetDefault("cards.targetprefix", "PRA")
	v.SetDefault("cards.fanprefix", "FAN")
	v.SetDefault("alert.strictpairing", false)
	v.SetDefault("alert.baselinerefresh", 30*time.Minute)
	v.SetDefault("alert.rapidcooldown", time.Hour)
	v.SetDefault("alert.driftcooldown", 4*time.Hour)
	v.SetDefault("alert.thresholdcooldown", time.Hour)
	v.SetDefault("alert.ackduration", 24*time.Hour)
	v.SetDefault("redis.keyprefix", "linkeye:")
	v.SetDefault("nats.alertsubject", "linkeye.alerts")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.adminuser", "admin")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads config.yaml from dir (or the working directory when dir
// is empty). A missing file is not an error: defaults are used and a
// starter file is written next to the data directory.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)
	v.SetEnvPrefix("LINKEYE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
			fmt.Printf("Warning: Failed to create data directory: %v\n", err)
		}
		if err := v.SafeWriteConfigAs(filepath.Join(dir, "config.yaml")); err != nil {
			fmt.Printf("Warning: Failed to write default config: %v\n", err)
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

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Cards.OriginPrefix == "" || c.Cards.TargetPrefix == "" {
		return fmt.Errorf("cards.originprefix and cards.targetprefix are required")
	}
	if strings.HasPrefix(c.Cards.OriginPrefix, c.Cards.TargetPrefix) ||
		strings.HasPrefix(c.Cards.TargetPrefix, c.Cards.OriginPrefix) {
		return fmt.Errorf("amplifier family prefixes %q and %q overlap", c.Cards.OriginPrefix, c.Cards.TargetPrefix)
	}
	return nil
}
