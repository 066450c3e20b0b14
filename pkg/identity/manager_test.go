package identity

import (
	"context"
	"errors"
	"testing"

	"storefront/pkg/auth"
	"storefront/pkg/directory"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

func seedDirectory(t *testing.T, store kv.Store) *directory.Directory {
	t.Helper()
	hash, err := auth.HashPassword("seedpass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return directory.New(store, []domain.Credential{
		{
			Principal: domain.Principal{
				ID:        "buyer-1",
				FirstName: "Jane",
				LastName:  "Doe",
				Email:     "jane@example.com",
				Role:      domain.RoleBuyer,
			},
			PasswordHash: hash,
		},
		{
			Principal: domain.Principal{
				ID:        "seller-1",
				FirstName: "Sam",
				LastName:  "Seller",
				Email:     "sam@example.com",
				Role:      domain.RoleSeller,
			},
			PasswordHash: hash,
		},
	})
}

func newManager(t *testing.T, store kv.Store) *Manager {
	t.Helper()
	return NewManager(store, seedDirectory(t, store), WithLatency(0))
}

func TestLoadWithoutSessionIsAnonymous(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := newManager(t, store)

	if !m.IsLoading() {
		t.Fatalf("state before Load must report loading")
	}
	if err := m.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.IsLoading() || m.IsAuthenticated() {
		t.Fatalf("expected anonymous after empty load")
	}
}

func TestLoadCorruptSessionSelfHeals(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	store.SetRaw(KeyUserData, []byte("{not json"))
	if err := store.Set(ctx, KeyToken, "stale-token"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	m := newManager(t, store)
	if err := m.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("corrupt session must land on anonymous")
	}
	var token string
	if ok, _ := store.Get(ctx, KeyToken, &token); ok {
		t.Fatalf("session keys must be cleared after corrupt load")
	}
	var raw map[string]any
	if ok, _ := store.Get(ctx, KeyUserData, &raw); ok {
		t.Fatalf("corrupt user data key must be removed")
	}
}

func TestSignInSuccessPersistsSession(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := newManager(t, store)
	_ = m.Load(ctx)

	res := m.SignIn(ctx, "jane@example.com", "seedpass", "")
	if !res.Success {
		t.Fatalf("sign-in failed: %v", res.Err)
	}
	if res.User.Email != "jane@example.com" || res.User.Role != domain.RoleBuyer {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if !m.IsAuthenticated() || !m.IsBuyer() {
		t.Fatalf("manager should be authenticated buyer")
	}

	// Session survives a restart via durable storage.
	m2 := NewManager(store, seedDirectory(t, store), WithLatency(0))
	if err := m2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	user, ok := m2.CurrentUser()
	if !ok || user.ID != "buyer-1" {
		t.Fatalf("restored session mismatch: ok=%v user=%+v", ok, user)
	}
}

func TestSignInFailureIsGeneric(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, kv.NewMemoryStore())
	_ = m.Load(ctx)

	wrongPassword := m.SignIn(ctx, "jane@example.com", "nope123", "")
	unknownEmail := m.SignIn(ctx, "ghost@example.com", "nope123", "")
	if wrongPassword.Success || unknownEmail.Success {
		t.Fatalf("expected failures")
	}
	if !errors.Is(wrongPassword.Err, ErrInvalidCredentials) || !errors.Is(unknownEmail.Err, ErrInvalidCredentials) {
		t.Fatalf("both failures must report the same generic reason: %v / %v",
			wrongPassword.Err, unknownEmail.Err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("failed sign-in must not change state")
	}
}

func TestSignInRoleHint(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, kv.NewMemoryStore())
	_ = m.Load(ctx)

	if res := m.SignIn(ctx, "jane@example.com", "seedpass", domain.RoleSeller); res.Success {
		t.Fatalf("buyer account must not match a seller hint")
	}
	if res := m.SignIn(ctx, "sam@example.com", "seedpass", domain.RoleSeller); !res.Success {
		t.Fatalf("seller hint should match: %v", res.Err)
	}
}

func TestSignUpAutoAuthenticatesAndShadowsSeed(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := newManager(t, store)
	_ = m.Load(ctx)

	res := m.SignUp(ctx, NewUser{
		FirstName: "New",
		LastName:  "Buyer",
		Email:     "new@example.com",
		Password:  "secret1",
		Role:      domain.RoleBuyer,
	})
	if !res.Success {
		t.Fatalf("sign-up failed: %v", res.Err)
	}
	if !m.IsAuthenticated() {
		t.Fatalf("sign-up must auto-authenticate")
	}
	if res.User.ID == "" || res.User.Role != domain.RoleBuyer {
		t.Fatalf("unexpected signed-up user: %+v", res.User)
	}

	// Existing email collides.
	dup := m.SignUp(ctx, NewUser{Email: "new@example.com", Password: "secret2", Role: domain.RoleBuyer})
	if dup.Success || !errors.Is(dup.Err, ErrEmailInUse) {
		t.Fatalf("expected email collision, got %+v", dup)
	}
}

func TestRuntimeSignupShadowsSeedPassword(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	dir := seedDirectory(t, store)

	// Register a runtime record reusing the seed email directly through the
	// runtime key, modeling a prior deployment's sign-up.
	hash, err := auth.HashPassword("runtimepass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	runtime := []domain.Credential{{
		Principal: domain.Principal{
			ID:    "buyer-custom-7",
			Email: "jane@example.com",
			Role:  domain.RoleBuyer,
		},
		PasswordHash: hash,
	}}
	if err := store.Set(ctx, directory.RuntimeUsersKey, runtime); err != nil {
		t.Fatalf("seed runtime users: %v", err)
	}

	m := NewManager(store, dir, WithLatency(0))
	_ = m.Load(ctx)

	if res := m.SignIn(ctx, "jane@example.com", "seedpass", ""); res.Success {
		t.Fatalf("seed password must be shadowed by the runtime record")
	}
	res := m.SignIn(ctx, "jane@example.com", "runtimepass", "")
	if !res.Success || res.User.ID != "buyer-custom-7" {
		t.Fatalf("runtime record should win: %+v", res)
	}
}

func TestSignOutClearsSession(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := newManager(t, store)
	_ = m.Load(ctx)
	if res := m.SignIn(ctx, "jane@example.com", "seedpass", ""); !res.Success {
		t.Fatalf("sign-in: %v", res.Err)
	}

	m.SignOut(ctx)
	if m.IsAuthenticated() {
		t.Fatalf("expected anonymous after sign-out")
	}
	var token string
	if ok, _ := store.Get(ctx, KeyToken, &token); ok {
		t.Fatalf("session token key must be cleared")
	}
}

func TestUpdateProfileKeepsCopiesConsistent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	m := newManager(t, store)
	_ = m.Load(ctx)
	if res := m.SignIn(ctx, "jane@example.com", "seedpass", ""); !res.Success {
		t.Fatalf("sign-in: %v", res.Err)
	}

	res := m.UpdateProfile(ctx, "Janet", "")
	if !res.Success {
		t.Fatalf("update profile: %v", res.Err)
	}
	if res.User.FirstName != "Janet" || res.User.LastName != "Doe" {
		t.Fatalf("unexpected merged user: %+v", res.User)
	}
	user, _ := m.CurrentUser()
	if user.FirstName != "Janet" {
		t.Fatalf("in-memory session not updated")
	}
	var stored domain.Principal
	if ok, _ := store.Get(ctx, KeyUserData, &stored); !ok || stored.FirstName != "Janet" {
		t.Fatalf("durable session not updated: %+v", stored)
	}

	m.SignOut(ctx)
	if res := m.UpdateProfile(ctx, "X", "Y"); res.Success || !errors.Is(res.Err, ErrNotAuthenticated) {
		t.Fatalf("update while anonymous must be denied, got %+v", res)
	}
}

func TestSubscribersSeeTransitions(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, kv.NewMemoryStore())

	var states []State
	unsubscribe := m.Subscribe(func(id Identity) {
		states = append(states, id.State)
	})
	_ = m.Load(ctx)
	if res := m.SignIn(ctx, "jane@example.com", "seedpass", ""); !res.Success {
		t.Fatalf("sign-in: %v", res.Err)
	}
	m.SignOut(ctx)

	want := []State{StateAnonymous, StateAuthenticated, StateAnonymous}
	if len(states) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("notification %d: want %v got %v", i, want[i], states[i])
		}
	}

	unsubscribe()
	before := len(states)
	_ = m.SignIn(ctx, "jane@example.com", "seedpass", "")
	if len(states) != before {
		t.Fatalf("unsubscribed observer must not be called")
	}
}

func TestVerifyTokenOnlyAcceptsActiveSession(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, kv.NewMemoryStore())
	_ = m.Load(ctx)
	res := m.SignIn(ctx, "jane@example.com", "seedpass", "")
	if !res.Success {
		t.Fatalf("sign-in: %v", res.Err)
	}

	if _, ok := m.VerifyToken("bogus"); ok {
		t.Fatalf("bogus token accepted")
	}

	active := m.SessionToken()
	if active == "" {
		t.Fatalf("authenticated session must expose a token")
	}
	user, ok := m.VerifyToken(active)
	if !ok || user.ID != "buyer-1" {
		t.Fatalf("active token rejected: ok=%v user=%+v", ok, user)
	}

	m.SignOut(ctx)
	if _, ok := m.VerifyToken(active); ok {
		t.Fatalf("token must die with the session")
	}
}
