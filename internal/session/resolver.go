package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/enlaces-epn/callcenter/internal/authprovider"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/store"
)

// Resolver bridges the auth provider's state-change notifications into
// Session values: on every transition it performs one profile read before
// publishing the result to its subscribers.
type Resolver struct {
	provider authprovider.Provider
	records  store.Store
	logger   *slog.Logger

	mu      sync.RWMutex
	loading bool

	subsMu sync.Mutex
	subs   map[int]func(*Session)
	nextID int

	unsubProvider authprovider.UnsubscribeFunc
}

func NewResolver(provider authprovider.Provider, records store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		provider: provider,
		records:  records,
		logger:   logger,
		subs:     make(map[int]func(*Session)),
	}
}

// Start subscribes to the provider. Notifications arrive serially, so each
// profile read completes before the next transition is observed. The passed
// context bounds every profile read; callers that want a hung fetch to fail
// should pass one with a deadline.
func (r *Resolver) Start(ctx context.Context) {
	r.unsubProvider = r.provider.OnAuthStateChange(func(identity *authprovider.Identity) {
		if identity == nil {
			r.publish(nil)
			return
		}

		r.setLoading(true)
		sess := r.ResolveSession(ctx, *identity)
		r.setLoading(false)
		r.publish(sess)
	})
}

// Close releases the provider subscription.
func (r *Resolver) Close() {
	if r.unsubProvider != nil {
		r.unsubProvider()
	}
}

// Loading reports whether a profile read is outstanding. Distinct from "no
// session": guards must not redirect to sign-in while this is true.
func (r *Resolver) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loading
}

func (r *Resolver) setLoading(v bool) {
	r.mu.Lock()
	r.loading = v
	r.mu.Unlock()
}

// OnSessionChange registers a callback for session transitions. The returned
// handle releases the registration; calling it twice is a no-op.
func (r *Resolver) OnSessionChange(cb func(*Session)) func() {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = cb
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
		})
	}
}

func (r *Resolver) publish(sess *Session) {
	r.subsMu.Lock()
	cbs := make([]func(*Session), 0, len(r.subs))
	for _, cb := range r.subs {
		cbs = append(cbs, cb)
	}
	r.subsMu.Unlock()

	for _, cb := range cbs {
		cb(sess)
	}
}

// ResolveSession attaches the stored profile to an authenticated identity.
// It never fails: a missing record or a failed read degrades to a minimal
// agent profile, because a valid credential holder must always get a usable
// least-privilege session rather than an error state.
func (r *Resolver) ResolveSession(ctx context.Context, identity authprovider.Identity) *Session {
	var profile userDatamodel.Profile
	found, err := store.ReadJSON(ctx, r.records, store.UserPath(identity.UID), &profile)
	if err != nil {
		r.logger.Error("profile fetch failed, degrading to least privilege",
			"uid", identity.UID, "error", err)
		return &Session{Identity: identity, Profile: userDatamodel.Minimal(identity.Email, identity.DisplayName)}
	}
	if !found {
		r.logger.Warn("no profile record for authenticated identity, degrading to least privilege",
			"uid", identity.UID)
		return &Session{Identity: identity, Profile: userDatamodel.Minimal(identity.Email, identity.DisplayName)}
	}

	return &Session{Identity: identity, Profile: profile}
}
