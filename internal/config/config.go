package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InsecureDefaultSecret is the signing key used when WATERCOOLER_SECRET is
// unset. It exists so local development works out of the box; production
// deployments must override it, and the daemon logs a loud warning when it
// is in effect.
const InsecureDefaultSecret = "pTyz1dzMeVUGrb0Su4QXsP984qTlvQRHpFnnlHuH"

type Config struct {
	Listen string `mapstructure:"listen"`

	// Debug relaxes the WebSocket origin check to accept any origin.
	Debug bool `mapstructure:"debug"`

	// AllowedHosts are origin hosts (host[:port]) accepted on the
	// WebSocket handshake when not in debug mode.
	AllowedHosts []string `mapstructure:"allowed_hosts"`

	Secret string `mapstructure:"secret"`

	Token struct {
		SocketTTLMinutes  int           `mapstructure:"socket_ttl_minutes"`
		WebhookTTLSeconds int           `mapstructure:"webhook_ttl_seconds"`
		SocketTTL         time.Duration `mapstructure:"-"`
		WebhookTTL        time.Duration `mapstructure:"-"`
	} `mapstructure:"token"`

	Bus struct {
		// Kind selects the fan-out transport: memory | redis | nats.
		Kind      string `mapstructure:"kind"`
		Prefix    string `mapstructure:"prefix"`
		RedisAddr string `mapstructure:"redis_addr"`
		RedisDB   int    `mapstructure:"redis_db"`
		NatsURL   string `mapstructure:"nats_url"`
	} `mapstructure:"bus"`

	Logging struct {
		Format  string `mapstructure:"format"`
		Verbose bool   `mapstructure:"verbose"`
	} `mapstructure:"logging"`

	Shutdown struct {
		GraceSeconds int           `mapstructure:"grace_seconds"`
		Grace        time.Duration `mapstructure:"-"`
	} `mapstructure:"shutdown"`
}

// UsingDefaultSecret reports whether the insecure built-in key is active.
func (c *Config) UsingDefaultSecret() bool {
	return c.Secret == InsecureDefaultSecret
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("debug", false)
	v.SetDefault("allowed_hosts", []string{"localhost:8000"})
	v.SetDefault("secret", InsecureDefaultSecret)
	v.SetDefault("token.socket_ttl_minutes", 30)
	v.SetDefault("token.webhook_ttl_seconds", 60)
	v.SetDefault("bus.kind", "memory")
	v.SetDefault("bus.prefix", "watercooler.")
	v.SetDefault("bus.redis_addr", "127.0.0.1:6379")
	v.SetDefault("bus.redis_db", 0)
	v.SetDefault("bus.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.verbose", false)
	v.SetDefault("shutdown.grace_seconds", 5)

	// Env overrides
	v.SetEnvPrefix("WATERCOOLER")
	v.AutomaticEnv()
	_ = v.BindEnv("secret", "WATERCOOLER_SECRET")
	_ = v.BindEnv("listen", "WATERCOOLER_LISTEN")
	_ = v.BindEnv("debug", "WATERCOOLER_DEBUG")
	_ = v.BindEnv("bus.kind", "WATERCOOLER_BUS_KIND")
	_ = v.BindEnv("bus.redis_addr", "WATERCOOLER_BUS_REDIS_ADDR")
	_ = v.BindEnv("bus.nats_url", "WATERCOOLER_BUS_NATS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Token.SocketTTL = time.Duration(c.Token.SocketTTLMinutes) * time.Minute
	c.Token.WebhookTTL = time.Duration(c.Token.WebhookTTLSeconds) * time.Second
	c.Shutdown.Grace = time.Duration(c.Shutdown.GraceSeconds) * time.Second

	switch c.Bus.Kind {
	case "memory", "redis", "nats":
	default:
		return nil, fmt.Errorf("bus.kind must be memory|redis|nats, got %q", c.Bus.Kind)
	}
	if c.Secret == "" {
		return nil, fmt.Errorf("secret must not be empty (set WATERCOOLER_SECRET)")
	}
	return &c, nil
}
