package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/pkg/auth"
	"storefront/pkg/directory"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

// Durable keys owned by the session manager.
const (
	KeyToken    = "auth.token"
	KeyUserData = "auth.userData"
	KeyRole     = "auth.role"
)

// DefaultLatency is the fixed simulated network delay applied to sign-in,
// sign-up, and profile updates.
const DefaultLatency = 500 * time.Millisecond

// State is the session lifecycle: Unknown until durable storage has been
// read, then Anonymous or Authenticated.
type State int

const (
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

// Identity is the published view of the current principal.
type Identity struct {
	State State
	User  domain.Principal
	Role  domain.Role
}

// Result is the discriminated outcome of session operations. Expected
// failures set Err; nothing in this package panics for them.
type Result struct {
	Success bool
	User    domain.Principal
	Err     error
}

func failure(err error) Result { return Result{Err: err} }

// NewUser carries sign-up input.
type NewUser struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      domain.Role
}

// Manager maintains the authenticated principal against durable storage and
// the unified user directory. Exactly one session is active per manager.
// Identity changes are published to subscribers; consumers (cart, favorites)
// derive their storage scope from them.
type Manager struct {
	durable kv.Store
	dir     *directory.Directory
	log     *slog.Logger
	latency time.Duration
	secret  []byte

	mu    sync.RWMutex
	state State
	user  domain.Principal
	role  domain.Role
	token string

	subMu   sync.Mutex
	subs    map[int]func(Identity)
	nextSub int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLatency overrides the simulated network delay. Zero disables it.
func WithLatency(d time.Duration) Option {
	return func(m *Manager) { m.latency = d }
}

// WithTokenSecret sets the session-token signing secret.
func WithTokenSecret(secret []byte) Option {
	return func(m *Manager) {
		if len(secret) > 0 {
			m.secret = secret
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager builds a session manager over a durable store and a directory.
func NewManager(durable kv.Store, dir *directory.Directory, opts ...Option) *Manager {
	m := &Manager{
		durable: durable,
		dir:     dir,
		log:     slog.Default(),
		latency: DefaultLatency,
		state:   StateUnknown,
		subs:    make(map[int]func(Identity)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.secret == nil {
		m.secret = make([]byte, 32)
		_, _ = rand.Read(m.secret)
	}
	return m
}

// Load restores the session from durable storage. Missing or corrupt session
// data clears the session keys and lands on Anonymous; route guards should
// treat the pre-Load state (IsLoading) as undecided, not signed-out.
func (m *Manager) Load(ctx context.Context) error {
	var (
		token string
		user  domain.Principal
		role  domain.Role
	)
	hasToken, err := m.durable.Get(ctx, KeyToken, &token)
	if err != nil {
		return fmt.Errorf("load session token: %w", err)
	}
	hasUser, err := m.durable.Get(ctx, KeyUserData, &user)
	if err != nil {
		return fmt.Errorf("load session user: %w", err)
	}
	_, err = m.durable.Get(ctx, KeyRole, &role)
	if err != nil {
		return fmt.Errorf("load session role: %w", err)
	}
	if role == "" {
		role = user.Role
	}

	if !hasToken || !hasUser || token == "" || user.ID == "" {
		m.clearSessionKeys(ctx)
		m.transition(StateAnonymous, domain.Principal{}, "", "")
		return nil
	}
	m.transition(StateAuthenticated, user, role, token)
	return nil
}

// IsLoading reports whether the durable session has not been read yet.
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateUnknown
}

// Current returns the published identity view.
func (m *Manager) Current() Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Identity{State: m.state, User: m.user, Role: m.role}
}

// CurrentUser returns the signed-in principal, if any.
func (m *Manager) CurrentUser() (domain.Principal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user, m.state == StateAuthenticated
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateAuthenticated
}

// Role returns the active session role, empty when anonymous.
func (m *Manager) Role() domain.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return ""
	}
	return m.role
}

// SessionToken returns the active session token, empty when anonymous.
func (m *Manager) SessionToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return ""
	}
	return m.token
}

// IsSeller is a derived convenience view; there is no separate seller session.
func (m *Manager) IsSeller() bool { return m.Role() == domain.RoleSeller }

// IsBuyer is a derived convenience view.
func (m *Manager) IsBuyer() bool { return m.Role() == domain.RoleBuyer }

// Subscribe registers an identity-change observer and returns an unsubscribe
// function. The observer runs synchronously after each committed transition.
func (m *Manager) Subscribe(fn func(Identity)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// SignIn authenticates against the directory after the simulated delay.
// Failures report a generic reason regardless of which part mismatched.
func (m *Manager) SignIn(ctx context.Context, email, password string, roleHint domain.Role) Result {
	if err := m.wait(ctx); err != nil {
		return failure(err)
	}
	principal, ok := m.dir.Authenticate(ctx, email, password, roleHint)
	if !ok {
		return failure(ErrInvalidCredentials)
	}
	token, err := m.mintToken(principal)
	if err != nil {
		return failure(fmt.Errorf("mint session token: %w", err))
	}
	m.persistSession(ctx, token, principal)
	m.transition(StateAuthenticated, principal, principal.Role, token)
	return Result{Success: true, User: principal}
}

// SignUp registers a runtime user and signs it in.
func (m *Manager) SignUp(ctx context.Context, in NewUser) Result {
	if err := m.wait(ctx); err != nil {
		return failure(err)
	}
	if in.Role != domain.RoleBuyer && in.Role != domain.RoleSeller {
		return failure(fmt.Errorf("unknown role %q", in.Role))
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return failure(err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return failure(fmt.Errorf("hash password: %w", err))
	}
	principal := domain.Principal{
		ID:        fmt.Sprintf("%s-custom-%d", strings.ToLower(string(in.Role)), time.Now().UnixMilli()),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Role:      in.Role,
	}
	err = m.dir.Register(ctx, domain.Credential{Principal: principal, PasswordHash: hash})
	if errors.Is(err, directory.ErrEmailTaken) {
		return failure(ErrEmailInUse)
	}
	if err != nil {
		return failure(fmt.Errorf("register user: %w", err))
	}
	token, err := m.mintToken(principal)
	if err != nil {
		return failure(fmt.Errorf("mint session token: %w", err))
	}
	m.persistSession(ctx, token, principal)
	m.transition(StateAuthenticated, principal, principal.Role, token)
	return Result{Success: true, User: principal}
}

// SignOut clears the session keys and lands on Anonymous. Navigation back to
// the home context is the caller's concern.
func (m *Manager) SignOut(ctx context.Context) {
	m.clearSessionKeys(ctx)
	m.transition(StateAnonymous, domain.Principal{}, "", "")
}

// UpdateProfile merges the editable name fields into the current session's
// user record. The in-memory session, the durable copy, and the runtime
// directory entry move together; callers never observe a partial update.
func (m *Manager) UpdateProfile(ctx context.Context, firstName, lastName string) Result {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return failure(ErrNotAuthenticated)
	}
	updated := m.user
	if firstName != "" {
		updated.FirstName = firstName
	}
	if lastName != "" {
		updated.LastName = lastName
	}
	if err := m.durable.Set(ctx, KeyUserData, updated); err != nil {
		m.mu.Unlock()
		return failure(fmt.Errorf("persist profile: %w", err))
	}
	if err := m.dir.UpdateNames(ctx, updated.ID, updated.FirstName, updated.LastName); err != nil {
		m.log.Warn("profile directory update failed", "err", err)
	}
	m.user = updated
	id := Identity{State: m.state, User: m.user, Role: m.role}
	m.mu.Unlock()
	m.publish(id)
	return Result{Success: true, User: updated}
}

// VerifyToken resolves a presented session token to the active principal.
// Only the single active session token is accepted.
func (m *Manager) VerifyToken(token string) (domain.Principal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated || token == "" || token != m.token {
		return domain.Principal{}, false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Principal{}, false
	}
	return m.user, true
}

func (m *Manager) mintToken(p domain.Principal) (string, error) {
	claims := jwt.MapClaims{
		"sub":  p.ID,
		"role": string(p.Role),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// persistSession writes the unified session record. A storage failure keeps
// the in-memory session (optimistic) and logs a warning.
func (m *Manager) persistSession(ctx context.Context, token string, p domain.Principal) {
	if err := m.durable.Set(ctx, KeyToken, token); err != nil {
		m.log.Warn("persist session token failed", "err", err)
	}
	if err := m.durable.Set(ctx, KeyUserData, p); err != nil {
		m.log.Warn("persist session user failed", "err", err)
	}
	if err := m.durable.Set(ctx, KeyRole, p.Role); err != nil {
		m.log.Warn("persist session role failed", "err", err)
	}
}

func (m *Manager) clearSessionKeys(ctx context.Context) {
	for _, key := range []string{KeyToken, KeyUserData, KeyRole} {
		if err := m.durable.Remove(ctx, key); err != nil {
			m.log.Warn("clear session key failed", "key", key, "err", err)
		}
	}
}

func (m *Manager) transition(state State, user domain.Principal, role domain.Role, token string) {
	m.mu.Lock()
	m.state = state
	m.user = user
	m.role = role
	m.token = token
	id := Identity{State: state, User: user, Role: role}
	m.mu.Unlock()
	m.publish(id)
}

func (m *Manager) publish(id Identity) {
	m.subMu.Lock()
	fns := make([]func(Identity), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (m *Manager) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
