// Package memory provides an in-process store implementation used by the test
// suites and the seeder's dry-run mode.
package memory

import (
	"context"
	"sync"

	"github.com/enlaces-epn/callcenter/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
	hub     *store.ChangeHub
}

func New() *Store {
	return &Store{
		records: make(map[string][]byte),
		hub:     store.NewChangeHub(),
	}
}

func (s *Store) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.records[path]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

func (s *Store) Write(_ context.Context, path string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	s.records[path] = cp
	s.mu.Unlock()

	s.hub.Publish(store.Event{Path: path, Value: cp})
	return nil
}

func (s *Store) Update(ctx context.Context, path string, partial map[string]interface{}) error {
	s.mu.Lock()
	merged, err := store.MergeJSON(s.records[path], partial)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.records[path] = merged
	s.mu.Unlock()

	s.hub.Publish(store.Event{Path: path, Value: merged})
	return nil
}

func (s *Store) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	_, existed := s.records[path]
	delete(s.records, path)
	s.mu.Unlock()

	if existed {
		s.hub.Publish(store.Event{Path: path, Value: nil})
	}
	return nil
}

func (s *Store) List(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	for path, raw := range s.records {
		if path != prefix && store.PathMatches(prefix, path) {
			cp := make([]byte, len(raw))
			copy(cp, raw)
			out[path] = cp
		}
	}
	return out, nil
}

func (s *Store) Subscribe(_ context.Context, prefix string, handler func(store.Event)) (store.UnsubscribeFunc, error) {
	return s.hub.Subscribe(prefix, handler), nil
}
