package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "socializor-server-go/internal/platform/errors"
)

const (
	// EnvConfigPath points at an alternative YAML file.
	EnvConfigPath = "SOCIALIZOR_CONFIG"
	// DefaultConfigPath is read from the working directory when EnvConfigPath is unset.
	DefaultConfigPath = ".config.yaml"
)

// Loader reads the YAML file over DefaultConfig and applies environment overrides.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that honours .env files and SOCIALIZOR_* variables.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the configuration file, bypassing SOCIALIZOR_CONFIG.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path. Path is
// empty when no file existed and only defaults were used.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	}

	path := l.path
	if path == "" {
		if v, ok := l.lookupEnv(EnvConfigPath); ok && v != "" {
			path = v
		} else {
			path = DefaultConfigPath
		}
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "parse "+path, err)
		}
	case os.IsNotExist(err) && l.path == "":
		path = ""
	default:
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "read "+path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	ints := map[string]*int{
		"SOCIALIZOR_HTTP_PORT":  &cfg.Server.HTTPPort,
		"SOCIALIZOR_HTTPS_PORT": &cfg.Server.HTTPSPort,
	}
	for key, target := range ints {
		v, ok := l.lookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "config.env", key+" is not a number", err)
		}
		*target = n
	}

	strs := map[string]*string{
		"SOCIALIZOR_DB_PATH":          &cfg.Database.Path,
		"SOCIALIZOR_LOG_LEVEL":        &cfg.Log.Level,
		"SOCIALIZOR_PRIVATE_KEY_FILE": &cfg.Auth.PrivateKeyFile,
		"SOCIALIZOR_PUBLIC_KEY_FILE":  &cfg.Auth.PublicKeyFile,
		"SOCIALIZOR_TLS_CERT_FILE":    &cfg.Server.TLS.CertFile,
		"SOCIALIZOR_TLS_KEY_FILE":     &cfg.Server.TLS.KeyFile,
		"SOCIALIZOR_BASE_URL":         &cfg.Session.BaseURL,
		"SOCIALIZOR_STORE_DRIVER":     &cfg.Session.Store.Driver,
		"SOCIALIZOR_REDIS_ADDR":       &cfg.Session.Store.Redis.Addr,
		"SOCIALIZOR_REDIS_PASSWORD":   &cfg.Session.Store.Redis.Password,
	}
	for key, target := range strs {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			*target = v
		}
	}
	return nil
}

func validPort(port int) bool {
	return port >= 0 && port <= 0xffff
}

// validate rejects unusable values. A plaintext port equal to the TLS port
// falls back to the default plaintext port.
func (l *Loader) validate(cfg *Config) error {
	invalid := func(format string, args ...interface{}) error {
		return platformerrors.New(platformerrors.KindConfig, "config.validate", fmt.Sprintf(format, args...))
	}

	if !validPort(cfg.Server.HTTPSPort) {
		return invalid("invalid https port %d", cfg.Server.HTTPSPort)
	}
	if !validPort(cfg.Server.HTTPPort) {
		return invalid("invalid http port %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.HTTPPort == cfg.Server.HTTPSPort && cfg.Server.HTTPPort != 0 {
		cfg.Server.HTTPPort = DefaultHTTPPort
		if cfg.Server.HTTPPort == cfg.Server.HTTPSPort {
			return invalid("http and https ports must differ, both are %d", cfg.Server.HTTPSPort)
		}
	}
	if cfg.Server.BindTimeout < 0 {
		return invalid("bind timeout must not be negative")
	}
	if cfg.Auth.Issuer == "" {
		return invalid("auth issuer is required")
	}
	if cfg.Auth.MaxAge <= 0 {
		return invalid("auth max age must be positive")
	}
	if cfg.Session.RefreshHorizon < 0 {
		return invalid("refresh horizon must not be negative")
	}
	if cfg.Session.RequestTimeout < 0 {
		return invalid("request timeout must not be negative")
	}
	switch cfg.Session.Store.Driver {
	case "memory", "redis":
	default:
		return invalid("unsupported store driver %q", cfg.Session.Store.Driver)
	}
	if cfg.Session.Store.Memory.CapacityBytes < 0 {
		return invalid("memory store capacity must not be negative")
	}
	return nil
}
