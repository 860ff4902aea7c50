package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Descriptors DescriptorsConfig `mapstructure:"descriptors"`
	Sensors     []SensorConfig    `mapstructure:"sensors"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration        `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	Users                  []UserConfig         `mapstructure:"users"`
	MachineTokens          []MachineTokenConfig `mapstructure:"machine_tokens"`
}

// UserConfig is one login. PasswordHash is an argon2id encoded hash.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// MachineTokenConfig grants an ISP daemon or script access without a login.
// TokenHash is the hex sha256 of the token.
type MachineTokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

type MQTTConfig struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	PasswordEnv string        `mapstructure:"password_env"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
}

type DescriptorsConfig struct {
	SearchPaths []string      `mapstructure:"search_paths"`
	Watch       bool          `mapstructure:"watch"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

type SensorConfig struct {
	Name            string          `mapstructure:"name"`
	Descriptor      string          `mapstructure:"descriptor"`
	Transport       TransportConfig `mapstructure:"transport"`
	Attach          AttachConfig    `mapstructure:"attach"`
	MonitorInterval time.Duration   `mapstructure:"monitor_interval"`
}

// TransportConfig selects how the sensor's registers are reached.
// Address 0 means the descriptor's bus address. Preload seeds a memory
// transport ("0x3107": 0xcb) so a simulated sensor passes detection.
type TransportConfig struct {
	Kind    string           `mapstructure:"kind"`
	Bus     string           `mapstructure:"bus"`
	Address uint16           `mapstructure:"address"`
	Port    string           `mapstructure:"port"`
	Baud    int              `mapstructure:"baud"`
	Host    string           `mapstructure:"host"`
	TCPPort int              `mapstructure:"tcp_port"`
	UnitID  int              `mapstructure:"unit_id"`
	Timeout time.Duration    `mapstructure:"timeout"`
	Preload map[string]uint8 `mapstructure:"preload"`
}

type AttachConfig struct {
	BootIndex int    `mapstructure:"boot_index"`
	Interface string `mapstructure:"interface"`
	Mclk      int    `mapstructure:"mclk"`
	MclkHz    uint64 `mapstructure:"mclk_hz"`
	ResetGPIO string `mapstructure:"reset_gpio"`
	PwdnGPIO  string `mapstructure:"pwdn_gpio"`
}

const (
	TransportMemory = "memory"
	TransportI2C    = "i2c"
	TransportSerial = "serial"
	TransportModbus = "modbus"
)

const devSecret = "dev-secret-change-in-production-min-32-chars"

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("mqtt.client_id", "opensensorcore")
	v.SetDefault("mqtt.topic_prefix", "opensensorcore")
	v.SetDefault("mqtt.keep_alive", "30s")

	v.SetDefault("descriptors.search_paths", []string{"/etc/opensensorcore/descriptors"})
	v.SetDefault("descriptors.debounce", "500ms")

	// OSC_SERVER_HTTP_PORT overrides server.http_port
	v.SetEnvPrefix("OSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Sensors {
		config.Sensors[i].applyDefaults()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (s *SensorConfig) applyDefaults() {
	if s.Transport.Kind == "" {
		s.Transport.Kind = TransportMemory
	}
	if s.Transport.Timeout == 0 {
		s.Transport.Timeout = time.Second
	}
	if s.Transport.Baud == 0 {
		s.Transport.Baud = 115200
	}
	if s.Transport.TCPPort == 0 {
		s.Transport.TCPPort = 502
	}
	if s.Descriptor == "" {
		s.Descriptor = s.Name
	}
}

func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, s := range c.Sensors {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sensors[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("sensors[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		switch s.Transport.Kind {
		case TransportMemory, TransportI2C, TransportSerial:
		case TransportModbus:
			if s.Transport.Host == "" {
				errs = append(errs, fmt.Errorf("sensor %s: modbus transport needs a host", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("sensor %s: unknown transport kind %q", s.Name, s.Transport.Kind))
		}
	}
	for _, u := range c.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("auth user entries need username and password_hash"))
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether a database is configured at all.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func (c *MQTTConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable, falling back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
