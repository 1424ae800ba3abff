package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Store       = (*RedisStore)(nil)
	_ Broadcaster = (*RedisStore)(nil)
)

// RedisStore keeps each session in one redis hash and relays session events
// between dashboard instances over pub/sub.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	ttl     time.Duration
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
	// TTL expires idle sessions; zero keeps them forever.
	TTL time.Duration
}

// NewRedisStore connects to redis (or a redis cluster when several addresses
// are given) and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis address cannot be empty")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{
		client:  client,
		prefix:  "irrigation:session:",
		channel: "irrigation:session-events",
		ttl:     cfg.TTL,
	}, nil
}

func (s *RedisStore) key(sid string) string { return s.prefix + sid }

func (s *RedisStore) Get(ctx context.Context, sid, key string) (string, error) {
	if err := validate(sid, key); err != nil {
		return "", err
	}
	v, err := s.client.HGet(ctx, s.key(sid), key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("failed to read session value: %w", err)
	default:
		return v, nil
	}
}

func (s *RedisStore) Set(ctx context.Context, sid, key, value string) error {
	if err := validate(sid, key); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sid), key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key(sid), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sid, key string) error {
	if err := validate(sid, key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, s.key(sid), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return errEmptySessionID
	}
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Broadcast publishes ev to every instance listening on the events channel.
func (s *RedisStore) Broadcast(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	return nil
}

// Listen subscribes to the events channel. The subscription is confirmed
// before Listen returns so no later broadcast is missed.
func (s *RedisStore) Listen(ctx context.Context) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
