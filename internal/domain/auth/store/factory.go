package store

import (
	"fmt"

	"socializor-server-go/internal/domain/eventbus"
)

// Driver identifiers supported by the credential store.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	// Bus delivers memory medium change notifications.
	Bus *eventbus.Bus
	// Shared, when set, is the memory space to open a handle on. Otherwise a
	// new one is created.
	Shared *SharedMemory
	Logger Logger
}

// New creates a credential store on the configured medium.
func New(cfg Config, deps Dependencies) (*CredentialStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	var medium Medium
	switch driver {
	case DriverMemory:
		shared := deps.Shared
		if shared == nil {
			if deps.Bus == nil {
				return nil, fmt.Errorf("memory driver requires an event bus")
			}
			capacity := 0
			if cfg.Memory != nil {
				capacity = cfg.Memory.CapacityBytes
			}
			shared = NewSharedMemory(deps.Bus, capacity)
		}
		medium = shared.Handle()
	case DriverRedis:
		m, err := NewRedis(cfg, logger)
		if err != nil {
			return nil, err
		}
		medium = m
	default:
		return nil, fmt.Errorf("unsupported credential store driver: %s", driver)
	}

	return NewCredentialStore(medium, cfg.Namespace, logger), nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
