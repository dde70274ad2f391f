package config

import (
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Auth          AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Session       SessionConfig       `yaml:"session" mapstructure:"session"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Web           WebConfig           `yaml:"web" mapstructure:"web"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ServerConfig drives the listener pair. A negative GracePeriod lets
// in-flight connections drain for as long as they need.
type ServerConfig struct {
	IP          string        `yaml:"ip" mapstructure:"ip"`
	HTTPPort    int           `yaml:"http_port" mapstructure:"http_port"`
	HTTPSPort   int           `yaml:"https_port" mapstructure:"https_port"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	BindTimeout time.Duration `yaml:"bind_timeout" mapstructure:"bind_timeout"`
	TLS         TLSConfig     `yaml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

type AuthConfig struct {
	PrivateKeyFile string        `yaml:"private_key_file" mapstructure:"private_key_file"`
	PublicKeyFile  string        `yaml:"public_key_file" mapstructure:"public_key_file"`
	Issuer         string        `yaml:"issuer" mapstructure:"issuer"`
	MaxAge         time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SessionConfig is consumed by the caller side (socializor-session).
type SessionConfig struct {
	BaseURL                string        `yaml:"base_url" mapstructure:"base_url"`
	RequestTimeout         time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	RefreshHorizon         time.Duration `yaml:"refresh_horizon" mapstructure:"refresh_horizon"`
	SuppressRefreshFailure bool          `yaml:"suppress_refresh_failure" mapstructure:"suppress_refresh_failure"`
	InsecureSkipVerify     bool          `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	Store                  StoreConfig   `yaml:"store" mapstructure:"store"`
}

type StoreConfig struct {
	Driver    string            `yaml:"driver" mapstructure:"driver"`
	Namespace string            `yaml:"namespace,omitempty" mapstructure:"namespace"`
	Redis     RedisStoreConfig  `yaml:"redis,omitempty" mapstructure:"redis"`
	Memory    MemoryStoreConfig `yaml:"memory,omitempty" mapstructure:"memory"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type MemoryStoreConfig struct {
	CapacityBytes int `yaml:"capacity_bytes" mapstructure:"capacity_bytes"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
