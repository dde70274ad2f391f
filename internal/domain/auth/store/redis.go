package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"socializor-server-go/internal/domain/eventbus"
)

const defaultRedisPrefix = "socializor:session:"

// redisMedium stores each key as a plain redis string and announces writes
// on a pub/sub channel so that other processes sharing the prefix see them.
type redisMedium struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	channel    string
	origin     string
	logger     Logger

	mu      sync.Mutex
	subs    []*redis.PubSub
	closed  bool
	closeWg sync.WaitGroup
}

// NewRedis connects to redis and returns a handle with a fresh origin.
func NewRedis(cfg Config, logger Logger) (Medium, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	m := NewRedisWithClient(client, cfg.Redis.Prefix, logger).(*redisMedium)
	m.ownsClient = true
	return m, nil
}

// NewRedisWithClient wraps an existing client. The client stays owned by the caller.
func NewRedisWithClient(client *redis.Client, prefix string, logger Logger) Medium {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisMedium{
		client:  client,
		prefix:  prefix,
		channel: prefix + "events",
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

func (s *redisMedium) key(k string) string {
	return s.prefix + k
}

func (s *redisMedium) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisMedium) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, s.key(k), v, 0)
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return mapRedisError(err)
	}
	s.announce(ctx, keys)
	return nil
}

func (s *redisMedium) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return mapRedisError(err)
	}
	s.announce(ctx, keys)
	return nil
}

// announce publishes a change event. The write it describes is already
// committed, so a failure only costs other processes a notification and is
// logged rather than returned.
func (s *redisMedium) announce(ctx context.Context, keys []string) {
	payload, err := sonic.Marshal(eventbus.StoreChange{Keys: keys, Origin: s.origin})
	if err == nil {
		err = s.client.Publish(ctx, s.channel, payload).Err()
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("change of %v persisted but not announced on %s: %v", keys, s.channel, err)
	}
}

// Subscribe returns once the subscription is confirmed by the server, so
// writes made after it returns are never missed.
func (s *redisMedium) Subscribe(fn func(Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("redis medium is closed")
	}

	ctx := context.Background()
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.subs = append(s.subs, pubsub)

	s.closeWg.Add(1)
	go func() {
		defer s.closeWg.Done()
		for msg := range pubsub.Channel() {
			var change eventbus.StoreChange
			if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
				if s.logger != nil {
					s.logger.Warn("ignoring malformed change event on %s: %v", s.channel, err)
				}
				continue
			}
			if change.Origin == s.origin {
				continue
			}
			fn(Change{Keys: change.Keys})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}, nil
}

func (s *redisMedium) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	s.closeWg.Wait()
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

// mapRedisError reports maxmemory rejections as ErrQuotaExceeded.
func mapRedisError(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "OOM ") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
