package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"storefront/pkg/auth"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

// RuntimeUsersKey is the durable key holding runtime-registered credentials.
const RuntimeUsersKey = "auth.customUsers"

// ErrEmailTaken is returned when a registration collides with an existing
// email. Matching is case-sensitive exact, preserving the observed behavior
// of the original storefront.
var ErrEmailTaken = errors.New("email already in use")

// Directory is the unified user directory: runtime-registered credentials
// (durable storage) unioned with the static seed lists. Runtime entries
// shadow seed entries on email collision.
type Directory struct {
	mu      sync.Mutex
	durable kv.Store
	seed    []domain.Credential
}

// New builds a directory over a durable store and the seed credential lists.
func New(durable kv.Store, seed ...[]domain.Credential) *Directory {
	var all []domain.Credential
	for _, list := range seed {
		all = append(all, list...)
	}
	return &Directory{durable: durable, seed: all}
}

// SeedUser is the on-disk shape of a seed directory entry. Seed files carry
// plaintext passwords; they are hashed at load and never kept around.
type SeedUser struct {
	domain.Principal
	Password string `json:"password"`
}

// LoadSeedFile reads a JSON array of seed users and hashes their passwords.
func LoadSeedFile(path string) ([]domain.Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var users []SeedUser
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	creds := make([]domain.Credential, 0, len(users))
	for _, u := range users {
		hash, err := auth.HashPassword(u.Password)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.Email, err)
		}
		creds = append(creds, domain.Credential{Principal: u.Principal, PasswordHash: hash})
	}
	return creds, nil
}

// All returns the effective directory: runtime entries first, then seed
// entries whose email is not shadowed by a runtime entry.
func (d *Directory) All(ctx context.Context) []domain.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allLocked(ctx)
}

func (d *Directory) allLocked(ctx context.Context) []domain.Credential {
	runtime := d.runtimeLocked(ctx)
	taken := make(map[string]struct{}, len(runtime))
	for _, c := range runtime {
		taken[c.Email] = struct{}{}
	}
	out := append([]domain.Credential(nil), runtime...)
	for _, c := range d.seed {
		if _, shadowed := taken[c.Email]; !shadowed {
			out = append(out, c)
		}
	}
	return out
}

func (d *Directory) runtimeLocked(ctx context.Context) []domain.Credential {
	var runtime []domain.Credential
	// A corrupt runtime list reads as absent and heals to empty.
	_, _ = d.durable.Get(ctx, RuntimeUsersKey, &runtime)
	return runtime
}

// Lookup finds a directory entry by exact email.
func (d *Directory) Lookup(ctx context.Context, email string) (domain.Credential, bool) {
	for _, c := range d.All(ctx) {
		if c.Email == email {
			return c, true
		}
	}
	return domain.Credential{}, false
}

// Authenticate matches email and password across the directory, restricted
// to roleHint when given. It reports only a combined match so callers cannot
// distinguish a wrong password from an unknown email.
func (d *Directory) Authenticate(ctx context.Context, email, password string, roleHint domain.Role) (domain.Principal, bool) {
	for _, c := range d.All(ctx) {
		if c.Email != email {
			continue
		}
		if roleHint != "" && c.Role != roleHint {
			continue
		}
		if auth.CheckPassword(password, c.PasswordHash) {
			return c.Principal, true
		}
	}
	return domain.Principal{}, false
}

// Register appends a new credential to the runtime directory.
func (d *Directory) Register(ctx context.Context, cred domain.Credential) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.allLocked(ctx) {
		if c.Email == cred.Email {
			return ErrEmailTaken
		}
	}
	runtime := append(d.runtimeLocked(ctx), cred)
	if err := d.durable.Set(ctx, RuntimeUsersKey, runtime); err != nil {
		return fmt.Errorf("persist runtime users: %w", err)
	}
	return nil
}

// UpdateNames rewrites the editable name fields of a runtime entry. Seed
// entries are static inputs and stay untouched; the session record carries
// the updated copy for those.
func (d *Directory) UpdateNames(ctx context.Context, id, firstName, lastName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	runtime := d.runtimeLocked(ctx)
	changed := false
	for i := range runtime {
		if runtime[i].ID == id {
			runtime[i].FirstName = firstName
			runtime[i].LastName = lastName
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := d.durable.Set(ctx, RuntimeUsersKey, runtime); err != nil {
		return fmt.Errorf("persist runtime users: %w", err)
	}
	return nil
}

// Resolve returns display details for a participant id. Unknown ids degrade
// to a placeholder derived from the id prefix and never fail.
func (d *Directory) Resolve(ctx context.Context, id string) domain.Participant {
	for _, c := range d.All(ctx) {
		if c.ID == id {
			name := strings.TrimSpace(c.FirstName + " " + c.LastName)
			return domain.Participant{
				ID:      id,
				Name:    name,
				Initial: initialOf(name),
				Role:    c.Role,
			}
		}
	}
	prefix := id
	if i := strings.IndexByte(id, '-'); i > 0 {
		prefix = id[:i]
	}
	name := capitalize(prefix) + " " + id
	return domain.Participant{ID: id, Name: name, Initial: initialOf(name)}
}

func capitalize(s string) string {
	if s == "" {
		return "User"
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func initialOf(name string) string {
	for _, r := range name {
		if !unicode.IsSpace(r) {
			return strings.ToUpper(string(r))
		}
	}
	return "?"
}
