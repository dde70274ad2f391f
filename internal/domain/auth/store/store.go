package store

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by a medium that has no room for a write.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Change is a write observed on a medium through another handle. Empty Keys
// means everything was cleared.
type Change struct {
	Keys []string
}

// Touches reports whether the change may affect any of keys.
func (c Change) Touches(keys ...string) bool {
	if len(c.Keys) == 0 {
		return true
	}
	for _, k := range c.Keys {
		for _, want := range keys {
			if k == want {
				return true
			}
		}
	}
	return false
}

// Medium is a key-value space shared by several execution contexts. Each
// Medium value is one context's handle on it: Subscribe only reports writes
// made through other handles.
type Medium interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes every entry. The medium applies them together where it can
	// but callers must not rely on cross-key atomicity.
	Set(ctx context.Context, entries map[string]string) error
	Remove(ctx context.Context, keys ...string) error
	Subscribe(fn func(Change)) (cancel func(), err error)
	Close() error
}

// Logger is the logging contract the store reports through.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Config describes the medium selection.
type Config struct {
	Driver    string
	Namespace string
	Redis     *RedisConfig
	Memory    *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	// CapacityBytes bounds the summed key and value lengths. Zero is unbounded.
	CapacityBytes int
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
