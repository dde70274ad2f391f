package config

import "time"

const (
	DefaultHTTPPort    = 8080
	DefaultHTTPSPort   = 8443
	DefaultGracePeriod = 2 * time.Second
	DefaultIssuer      = "Socializor"
	DefaultMaxAge      = 5 * 24 * time.Hour
)

// DefaultRefreshHorizon is how long before expiry a credential becomes
// eligible for a conditional refresh.
const DefaultRefreshHorizon = 24 * time.Hour

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:          "0.0.0.0",
			HTTPPort:    DefaultHTTPPort,
			HTTPSPort:   DefaultHTTPSPort,
			GracePeriod: DefaultGracePeriod,
			TLS: TLSConfig{
				CertFile: "data/tls/cert.pem",
				KeyFile:  "data/tls/key.pem",
			},
		},
		Auth: AuthConfig{
			PrivateKeyFile: "data/keys/private.pem",
			PublicKeyFile:  "data/keys/public.pem",
			Issuer:         DefaultIssuer,
			MaxAge:         DefaultMaxAge,
		},
		Database: DatabaseConfig{
			Path: "data/socializor.db",
		},
		Session: SessionConfig{
			BaseURL:                "https://localhost:8443/api/",
			RequestTimeout:         10 * time.Second,
			RefreshHorizon:         DefaultRefreshHorizon,
			SuppressRefreshFailure: true,
			Store: StoreConfig{
				Driver: "memory",
				Redis: RedisStoreConfig{
					Addr:   "127.0.0.1:6379",
					Prefix: "socializor:session:",
				},
			},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}
