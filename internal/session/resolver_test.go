package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/enlaces-epn/callcenter/internal/authprovider"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/store"
	"github.com/enlaces-epn/callcenter/internal/store/memory"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

func TestSession(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Session Resolver Suite")
}

// fakeProvider drives auth-state notifications by hand.
type fakeProvider struct {
	handler authprovider.StateHandler
}

func (f *fakeProvider) SignIn(context.Context, string, string) (authprovider.Identity, string, error) {
	return authprovider.Identity{}, "", errors.New("not implemented")
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.handler(nil)
	return nil
}

func (f *fakeProvider) OnAuthStateChange(h authprovider.StateHandler) authprovider.UnsubscribeFunc {
	f.handler = h
	return func() { f.handler = nil }
}

func (f *fakeProvider) CreateAccount(context.Context, string, string) (authprovider.Identity, error) {
	return authprovider.Identity{}, errors.New("not implemented")
}

func (f *fakeProvider) UpdateDisplayName(context.Context, string, string) error { return nil }

func (f *fakeProvider) VerifyToken(context.Context, string) (authprovider.Identity, error) {
	return authprovider.Identity{}, errors.New("not implemented")
}

func (f *fakeProvider) trigger(identity *authprovider.Identity) {
	f.handler(identity)
}

// failingStore errors every read.
type failingStore struct {
	*memory.Store
}

func (f *failingStore) Read(context.Context, string) ([]byte, error) {
	return nil, errors.New("network unreachable")
}

// blockingStore holds every read until released.
type blockingStore struct {
	*memory.Store
	gate chan struct{}
}

func (b *blockingStore) Read(ctx context.Context, path string) ([]byte, error) {
	<-b.gate
	return b.Store.Read(ctx, path)
}

var _ = ginkgo.Describe("Resolver", func() {
	var (
		provider *fakeProvider
		records  *memory.Store
		resolver *Resolver
		ctx      context.Context
		identity authprovider.Identity
	)

	ginkgo.BeforeEach(func() {
		provider = &fakeProvider{}
		records = memory.New()
		resolver = NewResolver(provider, records, logger.LoggerWrapper())
		ctx = context.Background()
		identity = authprovider.Identity{UID: "u1", Email: "maria@epn.ec", DisplayName: "María"}
	})

	ginkgo.AfterEach(func() {
		resolver.Close()
	})

	ginkgo.Describe("session transitions", func() {
		ginkgo.It("should publish a session carrying the stored profile", func() {
			gomega.Expect(store.WriteJSON(ctx, records, "users/u1", map[string]interface{}{
				"email":       "maria@epn.ec",
				"displayName": "María",
				"role":        "coordinator",
				"isActive":    true,
			})).To(gomega.Succeed())

			resolver.Start(ctx)

			var got *Session
			unsubscribe := resolver.OnSessionChange(func(s *Session) { got = s })
			defer unsubscribe()

			provider.trigger(&identity)

			gomega.Expect(got).ToNot(gomega.BeNil())
			gomega.Expect(got.Role()).To(gomega.Equal(rbac.RoleCoordinator))
			gomega.Expect(got.UID()).To(gomega.Equal("u1"))
		})

		ginkgo.It("should publish nil on sign-out", func() {
			resolver.Start(ctx)

			published := false
			var got *Session
			unsubscribe := resolver.OnSessionChange(func(s *Session) {
				published = true
				got = s
			})
			defer unsubscribe()

			provider.trigger(nil)

			gomega.Expect(published).To(gomega.BeTrue())
			gomega.Expect(got).To(gomega.BeNil())
		})

		ginkgo.It("should degrade to an agent session when the profile record is missing", func() {
			resolver.Start(ctx)

			var got *Session
			unsubscribe := resolver.OnSessionChange(func(s *Session) { got = s })
			defer unsubscribe()

			provider.trigger(&identity)

			gomega.Expect(got).ToNot(gomega.BeNil())
			gomega.Expect(got.Role()).To(gomega.Equal(rbac.RoleAgent))
			gomega.Expect(got.Permissions()).To(gomega.Equal(rbac.PermissionsFor(rbac.RoleAgent)))
			gomega.Expect(got.Identity.Email).To(gomega.Equal("maria@epn.ec"))
		})

		ginkgo.It("should degrade to an agent session when the profile read fails", func() {
			failing := &failingStore{Store: records}
			resolver = NewResolver(provider, failing, logger.LoggerWrapper())
			resolver.Start(ctx)

			var got *Session
			unsubscribe := resolver.OnSessionChange(func(s *Session) { got = s })
			defer unsubscribe()

			provider.trigger(&identity)

			gomega.Expect(got).ToNot(gomega.BeNil())
			gomega.Expect(got.Permissions()).To(gomega.Equal(rbac.PermissionsFor(rbac.RoleAgent)))
		})

		ginkgo.It("should treat a profile with an unrecognized role as agent", func() {
			gomega.Expect(store.WriteJSON(ctx, records, "users/u1", map[string]interface{}{
				"email": "maria@epn.ec",
				"role":  "superusuario",
			})).To(gomega.Succeed())

			sess := resolver.ResolveSession(ctx, identity)
			gomega.Expect(sess.Permissions()).To(gomega.Equal(rbac.PermissionsFor(rbac.RoleAgent)))
		})
	})

	ginkgo.Describe("Loading", func() {
		ginkgo.It("should report loading while the profile read is outstanding", func() {
			blocking := &blockingStore{Store: records, gate: make(chan struct{})}
			resolver = NewResolver(provider, blocking, logger.LoggerWrapper())
			resolver.Start(ctx)

			done := make(chan *Session, 1)
			unsubscribe := resolver.OnSessionChange(func(s *Session) { done <- s })
			defer unsubscribe()

			go provider.trigger(&identity)

			gomega.Eventually(resolver.Loading).Should(gomega.BeTrue())
			close(blocking.gate)

			var got *Session
			gomega.Eventually(done, time.Second).Should(gomega.Receive(&got))
			gomega.Expect(got).ToNot(gomega.BeNil())
			gomega.Expect(resolver.Loading()).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("OnSessionChange", func() {
		ginkgo.It("should stop delivering after unsubscribe, tolerating a double call", func() {
			resolver.Start(ctx)

			count := 0
			unsubscribe := resolver.OnSessionChange(func(*Session) { count++ })

			provider.trigger(nil)
			unsubscribe()
			unsubscribe()
			provider.trigger(nil)

			gomega.Expect(count).To(gomega.Equal(1))
		})
	})
})
