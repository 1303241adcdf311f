package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/spf13/viper"
)

type Config struct {
	Port           int             `mapstructure:"port"`
	Environment    string          `mapstructure:"environment"`
	LogLevel       string          `mapstructure:"log_level"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	NodeID         string          `mapstructure:"node_id"`
	Relay          RelayConfig     `mapstructure:"relay"`
	WebSocket      WebSocketConfig `mapstructure:"ws"`
	Redis          RedisConfig     `mapstructure:"redis"`
	Admin          AdminConfig     `mapstructure:"admin"`
}

type RelayConfig struct {
	OnTargetMissing relay.TargetMissingPolicy `mapstructure:"on_target_missing"`
	CallEndedScope  relay.CallEndedScope      `mapstructure:"call_ended_scope"`
}

type WebSocketConfig struct {
	SendBuffer int           `mapstructure:"send_buffer"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("node_id", "")

	v.SetDefault("relay.on_target_missing", string(relay.TargetMissingSilent))
	v.SetDefault("relay.call_ended_scope", string(relay.ScopeBroadcast))

	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.read_limit", 65536)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_ttl", "24h")

	v.SetDefault("admin.jwt_secret", "")
}

// Load reads config/config.<env>.yaml when present, then SIGNALING_* environment
// overrides, on top of the defaults.
func Load() (*Config, error) {
	env := os.Getenv("SIGNALING_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("SIGNALING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.Relay.OnTargetMissing.Validate(); err != nil {
		return err
	}
	if err := c.Relay.CallEndedScope.Validate(); err != nil {
		return err
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer must be positive, got %d", c.WebSocket.SendBuffer)
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("ws.ping_period (%s) must be shorter than ws.pong_wait (%s)", c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	return nil
}
