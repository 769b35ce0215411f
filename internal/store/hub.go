package store

import (
	"strings"
	"sync"
)

// ChangeHub fans change events out to prefix subscribers. Adapters without a
// server-side notification channel (memory, postgres) publish into a hub on
// every successful write.
type ChangeHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]hubSub
}

type hubSub struct {
	prefix  string
	handler func(Event)
}

func NewChangeHub() *ChangeHub {
	return &ChangeHub{subs: make(map[int]hubSub)}
}

func (h *ChangeHub) Subscribe(prefix string, handler func(Event)) UnsubscribeFunc {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = hubSub{prefix: prefix, handler: handler}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *ChangeHub) Publish(ev Event) {
	h.mu.Lock()
	handlers := make([]func(Event), 0, len(h.subs))
	for _, sub := range h.subs {
		if PathMatches(sub.prefix, ev.Path) {
			handlers = append(handlers, sub.handler)
		}
	}
	h.mu.Unlock()

	// Handlers run outside the lock so they may unsubscribe or write back.
	for _, handler := range handlers {
		handler(ev)
	}
}

// PathMatches reports whether path is the prefix itself or lives under it.
func PathMatches(prefix, path string) bool {
	if prefix == "" || prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
