// Package local implements the auth provider against the application's own
// record store: bcrypt credentials, signed bearer tokens and in-process
// session-transition notifications.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/enlaces-epn/callcenter/internal"
	"github.com/enlaces-epn/callcenter/internal/authprovider"
	"github.com/enlaces-epn/callcenter/internal/store"
)

const MinPasswordLength = 6

type Config struct {
	TokenSecret   string
	TokenTTL      time.Duration
	BCryptCost    int
	MaxAttempts   int
	AttemptWindow time.Duration
}

type credentialRecord struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	DisplayName  string    `json:"displayName,omitempty"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"createdAt"`
}

type emailIndexRecord struct {
	UID string `json:"uid"`
}

type tokenClaims struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

type attemptState struct {
	count       int
	windowStart time.Time
}

type Provider struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger

	attemptsMu sync.Mutex
	attempts   map[string]*attemptState

	listenersMu sync.Mutex
	listeners   map[int]authprovider.StateHandler
	nextID      int

	notifications chan *authprovider.Identity
	done          chan struct{}
}

func New(s store.Store, cfg Config, logger *slog.Logger) *Provider {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = bcrypt.DefaultCost
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}

	p := &Provider{
		store:         s,
		cfg:           cfg,
		logger:        logger,
		attempts:      make(map[string]*attemptState),
		listeners:     make(map[int]authprovider.StateHandler),
		notifications: make(chan *authprovider.Identity, 16),
		done:          make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Close stops the notification dispatcher. No further state changes are
// delivered after it returns.
func (p *Provider) Close() {
	close(p.done)
}

// dispatch delivers state changes one at a time, preserving order. Listeners
// never see overlapping notifications.
func (p *Provider) dispatch() {
	for {
		select {
		case identity := <-p.notifications:
			p.listenersMu.Lock()
			handlers := make([]authprovider.StateHandler, 0, len(p.listeners))
			for _, h := range p.listeners {
				handlers = append(handlers, h)
			}
			p.listenersMu.Unlock()

			for _, h := range handlers {
				h(identity)
			}
		case <-p.done:
			return
		}
	}
}

func (p *Provider) notify(identity *authprovider.Identity) {
	select {
	case p.notifications <- identity:
	case <-p.done:
	}
}

func (p *Provider) OnAuthStateChange(handler authprovider.StateHandler) authprovider.UnsubscribeFunc {
	p.listenersMu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = handler
	p.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.listenersMu.Lock()
			delete(p.listeners, id)
			p.listenersMu.Unlock()
		})
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (authprovider.Identity, string, error) {
	email = normalizeEmail(email)

	if p.throttled(email) {
		p.logger.Warn("sign-in throttled", "email", email)
		return authprovider.Identity{}, "", internal.ErrTooManyAttempts
	}

	cred, err := p.credentialByEmail(ctx, email)
	if err != nil {
		return authprovider.Identity{}, "", err
	}
	if cred == nil {
		p.recordFailure(email)
		return authprovider.Identity{}, "", internal.ErrInvalidCredentials
	}
	if cred.Disabled {
		return authprovider.Identity{}, "", internal.ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		p.recordFailure(email)
		return authprovider.Identity{}, "", internal.ErrInvalidCredentials
	}
	p.clearFailures(email)

	identity := authprovider.Identity{UID: cred.UID, Email: cred.Email, DisplayName: cred.DisplayName}
	token, err := p.signToken(identity)
	if err != nil {
		return authprovider.Identity{}, "", internal.NewInternalError("failed to issue token", err)
	}

	p.notify(&identity)
	return identity, token, nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.notify(nil)
	return nil
}

func (p *Provider) CreateAccount(ctx context.Context, email, password string) (authprovider.Identity, error) {
	email = normalizeEmail(email)

	if len(password) < MinPasswordLength {
		return authprovider.Identity{}, internal.NewValidationError(
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength),
			internal.ErrCodeWeakPassword,
		)
	}

	existing, err := p.emailIndex(ctx, email)
	if err != nil {
		return authprovider.Identity{}, err
	}
	if existing != "" {
		return authprovider.Identity{}, internal.ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BCryptCost)
	if err != nil {
		return authprovider.Identity{}, internal.NewInternalError("failed to hash password", err)
	}

	cred := credentialRecord{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.WriteJSON(ctx, p.store, store.CredentialPath(cred.UID), cred); err != nil {
		return authprovider.Identity{}, internal.NewInternalError("failed to store credential", err)
	}
	if err := store.WriteJSON(ctx, p.store, store.EmailIndexPath(emailKey(email)), emailIndexRecord{UID: cred.UID}); err != nil {
		return authprovider.Identity{}, internal.NewInternalError("failed to index credential", err)
	}

	p.logger.Info("account created", "uid", cred.UID, "email", email)
	return authprovider.Identity{UID: cred.UID, Email: email}, nil
}

func (p *Provider) UpdateDisplayName(ctx context.Context, uid, name string) error {
	var cred credentialRecord
	found, err := store.ReadJSON(ctx, p.store, store.CredentialPath(uid), &cred)
	if err != nil {
		return internal.NewInternalError("failed to read credential", err)
	}
	if !found {
		return internal.ErrUserNotFound
	}

	return p.store.Update(ctx, store.CredentialPath(uid), map[string]interface{}{
		"displayName": name,
	})
}

func (p *Provider) VerifyToken(ctx context.Context, tokenString string) (authprovider.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.cfg.TokenSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return authprovider.Identity{}, internal.ErrTokenExpired
		}
		return authprovider.Identity{}, internal.ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return authprovider.Identity{}, internal.ErrInvalidToken
	}

	// a token outlives neither the credential nor a disable
	var cred credentialRecord
	found, err := store.ReadJSON(ctx, p.store, store.CredentialPath(claims.UID), &cred)
	if err != nil {
		return authprovider.Identity{}, internal.NewInternalError("failed to read credential", err)
	}
	if !found {
		return authprovider.Identity{}, internal.ErrInvalidToken
	}
	if cred.Disabled {
		return authprovider.Identity{}, internal.ErrAccountDisabled
	}

	return authprovider.Identity{UID: cred.UID, Email: cred.Email, DisplayName: cred.DisplayName}, nil
}

func (p *Provider) signToken(identity authprovider.Identity) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   identity.UID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.cfg.TokenSecret))
}

func (p *Provider) credentialByEmail(ctx context.Context, email string) (*credentialRecord, error) {
	uid, err := p.emailIndex(ctx, email)
	if err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, nil
	}

	var cred credentialRecord
	found, err := store.ReadJSON(ctx, p.store, store.CredentialPath(uid), &cred)
	if err != nil {
		return nil, internal.NewInternalError("failed to read credential", err)
	}
	if !found {
		return nil, nil
	}
	return &cred, nil
}

func (p *Provider) emailIndex(ctx context.Context, email string) (string, error) {
	var idx emailIndexRecord
	found, err := store.ReadJSON(ctx, p.store, store.EmailIndexPath(emailKey(email)), &idx)
	if err != nil {
		return "", internal.NewInternalError("failed to read email index", err)
	}
	if !found {
		return "", nil
	}
	return idx.UID, nil
}

func (p *Provider) throttled(email string) bool {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()

	state, ok := p.attempts[email]
	if !ok {
		return false
	}
	if time.Since(state.windowStart) > p.cfg.AttemptWindow {
		delete(p.attempts, email)
		return false
	}
	return state.count >= p.cfg.MaxAttempts
}

func (p *Provider) recordFailure(email string) {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()

	state, ok := p.attempts[email]
	if !ok || time.Since(state.windowStart) > p.cfg.AttemptWindow {
		p.attempts[email] = &attemptState{count: 1, windowStart: time.Now()}
		return
	}
	state.count++
}

func (p *Provider) clearFailures(email string) {
	p.attemptsMu.Lock()
	delete(p.attempts, email)
	p.attemptsMu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailKey makes an email addressable as a path segment.
func emailKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
