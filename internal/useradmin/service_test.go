package useradmin

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	userDatamodel "github.com/enlaces-epn/callcenter/internal/core/datamodel/user"
	"github.com/enlaces-epn/callcenter/internal/events"
	"github.com/enlaces-epn/callcenter/internal/rbac"
	"github.com/enlaces-epn/callcenter/internal/session"
	"github.com/enlaces-epn/callcenter/internal/store"
	"github.com/enlaces-epn/callcenter/internal/store/memory"
	"github.com/enlaces-epn/callcenter/pkg/logger"
)

func TestUserAdmin(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "User Administration Suite")
}

type fakeProvider struct {
	createCalls      int
	displayNameCalls int
	createErr        error
	accounts         map[string]authprovider.Identity
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: map[string]authprovider.Identity{}}
}

func (f *fakeProvider) SignIn(context.Context, string, string) (authprovider.Identity, string, error) {
	return authprovider.Identity{}, "", errors.New("not implemented")
}

func (f *fakeProvider) SignOut(context.Context) error { return nil }

func (f *fakeProvider) OnAuthStateChange(authprovider.StateHandler) authprovider.UnsubscribeFunc {
	return func() {}
}

func (f *fakeProvider) CreateAccount(_ context.Context, email, _ string) (authprovider.Identity, error) {
	f.createCalls++
	if f.createErr != nil {
		return authprovider.Identity{}, f.createErr
	}
	identity := authprovider.Identity{
		UID:   fmt.Sprintf("uid-%d", f.createCalls),
		Email: email,
	}
	f.accounts[identity.UID] = identity
	return identity, nil
}

func (f *fakeProvider) UpdateDisplayName(_ context.Context, uid, name string) error {
	f.displayNameCalls++
	acct, ok := f.accounts[uid]
	if !ok {
		return internal.ErrUserNotFound
	}
	acct.DisplayName = name
	f.accounts[uid] = acct
	return nil
}

func (f *fakeProvider) VerifyToken(context.Context, string) (authprovider.Identity, error) {
	return authprovider.Identity{}, errors.New("not implemented")
}

// countingStore wraps a real in-memory store so specs can assert on remote
// traffic and inject write failures.
type countingStore struct {
	inner      store.Store
	readCalls  int
	writeCalls int
	failWrites bool
}

func (c *countingStore) Read(ctx context.Context, path string) ([]byte, error) {
	c.readCalls++
	return c.inner.Read(ctx, path)
}

func (c *countingStore) Write(ctx context.Context, path string, value []byte) error {
	c.writeCalls++
	if c.failWrites {
		return errors.New("store unavailable")
	}
	return c.inner.Write(ctx, path, value)
}

func (c *countingStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	c.writeCalls++
	if c.failWrites {
		return errors.New("store unavailable")
	}
	return c.inner.Update(ctx, path, fields)
}

func (c *countingStore) Remove(ctx context.Context, path string) error {
	return c.inner.Remove(ctx, path)
}

func (c *countingStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	return c.inner.List(ctx, prefix)
}

func (c *countingStore) Subscribe(ctx context.Context, prefix string, cb func(store.Event)) (store.UnsubscribeFunc, error) {
	return c.inner.Subscribe(ctx, prefix, cb)
}

func (c *countingStore) remoteCalls() int { return c.readCalls + c.writeCalls }

func actingAs(uid, role string) *session.Session {
	return &session.Session{
		Identity: authprovider.Identity{UID: uid, Email: uid + "@epn.ec"},
		Profile: userDatamodel.Profile{
			Email:    uid + "@epn.ec",
			Role:     role,
			IsActive: true,
		},
	}
}

var _ = ginkgo.Describe("UserAdmin service", func() {
	var (
		ctx      context.Context
		provider *fakeProvider
		records  *countingStore
		svc      *Service
		admin    *session.Session
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		provider = newFakeProvider()
		records = &countingStore{inner: memory.New()}
		bus := events.NewEventBus(logger.LoggerWrapper())
		svc = NewService(provider, records, bus, logger.LoggerWrapper())
		admin = actingAs("admin-1", string(rbac.RoleAdmin))
	})

	ginkgo.Describe("CreateUser", func() {
		ginkgo.It("provisions the account and writes its profile", func() {
			identity, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "nuevo@epn.ec",
				Password:    "secreto1",
				DisplayName: "Nuevo Agente",
				Role:        string(rbac.RoleCoordinator),
				Department:  "Atención",
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(identity.UID).NotTo(gomega.BeEmpty())

			var profile userDatamodel.Profile
			found, err := store.ReadJSON(ctx, records, store.UserPath(identity.UID), &profile)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(found).To(gomega.BeTrue())
			gomega.Expect(profile.Email).To(gomega.Equal("nuevo@epn.ec"))
			gomega.Expect(profile.DisplayName).To(gomega.Equal("Nuevo Agente"))
			gomega.Expect(profile.Role).To(gomega.Equal(string(rbac.RoleCoordinator)))
			gomega.Expect(profile.IsActive).To(gomega.BeTrue())
			gomega.Expect(profile.CreatedBy).To(gomega.Equal("admin-1"))
			gomega.Expect(profile.UpdatedBy).To(gomega.Equal("admin-1"))
		})

		ginkgo.It("defaults an omitted role to agent", func() {
			identity, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "sinrol@epn.ec",
				Password:    "secreto1",
				DisplayName: "Sin Rol",
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			var profile userDatamodel.Profile
			_, err = store.ReadJSON(ctx, records, store.UserPath(identity.UID), &profile)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(profile.Role).To(gomega.Equal(string(rbac.RoleAgent)))
		})

		ginkgo.It("reports every invalid field at once without touching the provider or store", func() {
			_, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "no-es-un-correo",
				Password:    "corta",
				DisplayName: "   ",
			})
			gomega.Expect(err).To(gomega.HaveOccurred())

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeValidationFailed))

			details, ok := appErr.Details.(internal.ValidationErrors)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(details.Fields()).To(gomega.ConsistOf("email", "password", "displayName"))

			gomega.Expect(provider.createCalls).To(gomega.BeZero())
			gomega.Expect(records.remoteCalls()).To(gomega.BeZero())
		})

		ginkgo.It("rejects callers without the canCreateUsers capability", func() {
			coordinator := actingAs("coord-1", string(rbac.RoleCoordinator))
			_, err := svc.CreateUser(ctx, coordinator, CreateUserDTO{
				Email:       "otro@epn.ec",
				Password:    "secreto1",
				DisplayName: "Otro",
			})

			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
			gomega.Expect(appErr.Details).To(gomega.Equal(map[string]string{"capability": "canCreateUsers"}))
			gomega.Expect(provider.createCalls).To(gomega.BeZero())
		})

		ginkgo.It("surfaces a distinct error when the profile write fails after account creation", func() {
			records.failWrites = true

			identity, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "huerfano@epn.ec",
				Password:    "secreto1",
				DisplayName: "Huérfano",
			})

			gomega.Expect(err).To(gomega.HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeProfileWriteFailed))

			// the credential exists and is reported back for reconciliation
			gomega.Expect(identity.UID).NotTo(gomega.BeEmpty())
			gomega.Expect(provider.accounts).To(gomega.HaveKey(identity.UID))
		})

		ginkgo.It("propagates a duplicate-email conflict from the provider", func() {
			provider.createErr = internal.ErrEmailInUse
			_, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "dup@epn.ec",
				Password:    "secreto1",
				DisplayName: "Dup",
			})
			gomega.Expect(err).To(gomega.MatchError(internal.ErrEmailInUse))
			gomega.Expect(records.writeCalls).To(gomega.BeZero())
		})
	})

	ginkgo.Describe("UpdateUser", func() {
		var uid string

		ginkgo.BeforeEach(func() {
			identity, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "editable@epn.ec",
				Password:    "secreto1",
				DisplayName: "Editable",
				Role:        string(rbac.RoleCoordinator),
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			uid = identity.UID
		})

		ginkgo.It("patches only the supplied fields", func() {
			dept := "Facturación"
			err := svc.UpdateUser(ctx, admin, uid, UpdateUserDTO{Department: &dept})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			var profile userDatamodel.Profile
			_, err = store.ReadJSON(ctx, records, store.UserPath(uid), &profile)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(profile.Department).To(gomega.Equal("Facturación"))
			gomega.Expect(profile.Email).To(gomega.Equal("editable@epn.ec"))
			gomega.Expect(profile.DisplayName).To(gomega.Equal("Editable"))
			gomega.Expect(profile.Role).To(gomega.Equal(string(rbac.RoleCoordinator)))
		})

		ginkgo.It("rejects an empty patch", func() {
			err := svc.UpdateUser(ctx, admin, uid, UpdateUserDTO{})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeValidationFailed))
		})

		ginkgo.It("rejects an unknown role", func() {
			role := "superusuario"
			err := svc.UpdateUser(ctx, admin, uid, UpdateUserDTO{Role: &role})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeValidationFailed))
		})

		ginkgo.It("fails with not-found for a missing profile", func() {
			name := "Nadie"
			err := svc.UpdateUser(ctx, admin, "no-such-uid", UpdateUserDTO{DisplayName: &name})
			gomega.Expect(err).To(gomega.MatchError(internal.ErrUserNotFound))
		})

		ginkgo.It("rejects callers without the canCreateUsers capability", func() {
			agent := actingAs("agent-1", string(rbac.RoleAgent))
			name := "Intruso"
			err := svc.UpdateUser(ctx, agent, uid, UpdateUserDTO{DisplayName: &name})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})

	ginkgo.Describe("DeleteUser", func() {
		var uid string

		ginkgo.BeforeEach(func() {
			identity, err := svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "borrable@epn.ec",
				Password:    "secreto1",
				DisplayName: "Borrable",
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			uid = identity.UID
		})

		ginkgo.It("removes the profile but leaves the credential", func() {
			err := svc.DeleteUser(ctx, admin, uid)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			raw, err := records.Read(ctx, store.UserPath(uid))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(raw).To(gomega.BeNil())

			// orphaned credentials resolve to least privilege at sign-in
			gomega.Expect(provider.accounts).To(gomega.HaveKey(uid))
		})

		ginkgo.It("always rejects self-deletion, even for an admin", func() {
			err := svc.DeleteUser(ctx, admin, admin.UID())
			gomega.Expect(err).To(gomega.MatchError(internal.ErrSelfDeletionForbidden))
		})

		ginkgo.It("rejects self-deletion before the permission gate", func() {
			agent := actingAs("agent-9", string(rbac.RoleAgent))
			err := svc.DeleteUser(ctx, agent, "agent-9")
			gomega.Expect(err).To(gomega.MatchError(internal.ErrSelfDeletionForbidden))
		})

		ginkgo.It("rejects callers without the canCreateUsers capability", func() {
			coordinator := actingAs("coord-2", string(rbac.RoleCoordinator))
			err := svc.DeleteUser(ctx, coordinator, uid)
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})

	ginkgo.Describe("listing and watching", func() {
		ginkgo.BeforeEach(func() {
			for _, u := range []struct{ email, name string }{
				{"zaida@epn.ec", "Zaida"},
				{"ana@epn.ec", "Ana"},
				{"mario@epn.ec", "Mario"},
			} {
				_, err := svc.CreateUser(ctx, admin, CreateUserDTO{
					Email:       u.email,
					Password:    "secreto1",
					DisplayName: u.name,
				})
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
			}
		})

		ginkgo.It("lists users sorted by email", func() {
			users, err := svc.ListUsers(ctx, admin)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			emails := make([]string, len(users))
			for i, u := range users {
				emails[i] = u.Email
			}
			gomega.Expect(emails).To(gomega.Equal([]string{"ana@epn.ec", "mario@epn.ec", "zaida@epn.ec"}))
		})

		ginkgo.It("fetches a single user by uid", func() {
			users, err := svc.ListUsers(ctx, admin)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			got, err := svc.GetUser(ctx, admin, users[0].UID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.Email).To(gomega.Equal("ana@epn.ec"))

			_, err = svc.GetUser(ctx, admin, "no-such-uid")
			gomega.Expect(err).To(gomega.MatchError(internal.ErrUserNotFound))
		})

		ginkgo.It("notifies watchers with the fresh list after every change", func() {
			var snapshots [][]UserRecord
			unsubscribe, err := svc.WatchUsers(ctx, admin, func(users []UserRecord) {
				snapshots = append(snapshots, users)
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			defer unsubscribe()

			_, err = svc.CreateUser(ctx, admin, CreateUserDTO{
				Email:       "nueva@epn.ec",
				Password:    "secreto1",
				DisplayName: "Nueva",
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Eventually(func() int { return len(snapshots) }).Should(gomega.BeNumerically(">=", 1))
			last := snapshots[len(snapshots)-1]
			gomega.Expect(last).To(gomega.HaveLen(4))
		})

		ginkgo.It("denies watching without the capability", func() {
			agent := actingAs("agent-3", string(rbac.RoleAgent))
			_, err := svc.WatchUsers(ctx, agent, func([]UserRecord) {})
			appErr, ok := internal.IsAppError(err)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodePermissionDenied))
		})
	})
})
