// Package redis backs the record store with Redis: one key per path, change
// notifications fanned out over a pub/sub channel written by this store's own
// writers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/enlaces-epn/callcenter/internal/store"
)

type Store struct {
	client    *redis.Client
	namespace string
}

type changeMessage struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

func New(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = "enlaces"
	}
	return &Store{client: client, namespace: namespace}
}

func (s *Store) key(path string) string {
	return s.namespace + ":" + path
}

func (s *Store) channel() string {
	return s.namespace + ":changes"
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	return raw, nil
}

func (s *Store) Write(ctx context.Context, path string, value []byte) error {
	if err := s.client.Set(ctx, s.key(path), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", path, err)
	}
	return s.publish(ctx, path, value)
}

func (s *Store) Update(ctx context.Context, path string, partial map[string]interface{}) error {
	existing, err := s.Read(ctx, path)
	if err != nil {
		return err
	}
	merged, err := store.MergeJSON(existing, partial)
	if err != nil {
		return err
	}
	return s.Write(ctx, path, merged)
}

func (s *Store) Remove(ctx context.Context, path string) error {
	removed, err := s.client.Del(ctx, s.key(path)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", path, err)
	}
	if removed > 0 {
		return s.publish(ctx, path, nil)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	pattern := s.key(prefix) + "/*"
	out := make(map[string][]byte)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis get %s: %w", key, err)
			}
			out[key[len(s.namespace)+1:]] = raw
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, prefix string, handler func(store.Event)) (store.UnsubscribeFunc, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	// force the subscription to be established before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			if store.PathMatches(prefix, change.Path) {
				handler(store.Event{Path: change.Path, Value: change.Value})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}, nil
}

func (s *Store) publish(ctx context.Context, path string, value []byte) error {
	payload, err := json.Marshal(changeMessage{Path: path, Value: value})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", path, err)
	}
	return nil
}
