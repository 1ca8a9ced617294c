package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROOMLINK_RECONNECT_BASE_DELAY.
const EnvPrefix = "ROOMLINK"

// FileEnv names the variable holding an optional YAML config path.
const FileEnv = "ROOMLINK_CONFIG"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Credential CredentialConfig `mapstructure:"credential"`
	Session    SessionConfig    `mapstructure:"session"`
	Reconnect  ReconnectConfig  `mapstructure:"reconnect"`
	Device     DeviceConfig     `mapstructure:"device"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	WebRTC     WebRTCConfig     `mapstructure:"webrtc"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CredentialConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SessionConfig struct {
	Room           string        `mapstructure:"room"`
	StreamSlug     string        `mapstructure:"stream_slug"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	OfflineTimeout time.Duration `mapstructure:"offline_timeout"`
}

type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

type DeviceConfig struct {
	// Backend selects the capture implementation: "memory" or "pion".
	Backend     string        `mapstructure:"backend"`
	CameraID    string        `mapstructure:"camera_id"`
	MicID       string        `mapstructure:"mic_id"`
	Quality     string        `mapstructure:"quality"`
	SwitchGrace time.Duration `mapstructure:"switch_grace"`
}

type AnalyzerConfig struct {
	NoiseFloor float64 `mapstructure:"noise_floor"`
	Exponent   float64 `mapstructure:"exponent"`
	Threshold  float64 `mapstructure:"threshold"`
}

type WebRTCConfig struct {
	ICEURLs    []string `mapstructure:"ice_urls"`
	UDPPortMin uint16   `mapstructure:"udp_port_min"`
	UDPPortMax uint16   `mapstructure:"udp_port_max"`
	PublicIP   string   `mapstructure:"public_ip"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("credential.base_url", "http://localhost:3000/api")
	v.SetDefault("credential.timeout", 10*time.Second)
	v.SetDefault("credential.cache_ttl", 5*time.Minute)

	v.SetDefault("session.room", "")
	v.SetDefault("session.stream_slug", "")
	v.SetDefault("session.connect_timeout", 15*time.Second)
	v.SetDefault("session.offline_timeout", 10*time.Second)

	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.base_delay", 2*time.Second)
	v.SetDefault("reconnect.multiplier", 1.5)

	v.SetDefault("device.backend", "memory")
	v.SetDefault("device.camera_id", "")
	v.SetDefault("device.mic_id", "")
	v.SetDefault("device.quality", "high")
	v.SetDefault("device.switch_grace", 500*time.Millisecond)

	v.SetDefault("analyzer.noise_floor", 10.0)
	v.SetDefault("analyzer.exponent", 0.75)
	v.SetDefault("analyzer.threshold", 0.5)

	v.SetDefault("webrtc.ice_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.udp_port_min", 10000)
	v.SetDefault("webrtc.udp_port_max", 20000)
	v.SetDefault("webrtc.public_ip", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig layers defaults, the optional file named by ROOMLINK_CONFIG and
// ROOMLINK_* environment variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Reconnect.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must be positive, got %d", c.Reconnect.MaxAttempts))
	}
	if c.Reconnect.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect.base_delay must be positive, got %s", c.Reconnect.BaseDelay))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("reconnect.multiplier must be at least 1, got %g", c.Reconnect.Multiplier))
	}
	if c.Device.Backend != "memory" && c.Device.Backend != "pion" {
		errs = append(errs, fmt.Errorf("device.backend must be memory or pion, got %q", c.Device.Backend))
	}
	if c.WebRTC.UDPPortMin > c.WebRTC.UDPPortMax {
		errs = append(errs, fmt.Errorf("webrtc udp port range %d-%d is inverted", c.WebRTC.UDPPortMin, c.WebRTC.UDPPortMax))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
