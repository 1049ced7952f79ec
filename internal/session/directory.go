package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when an email/password pair does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is a directory entry. PasswordHash is a bcrypt hash.
type Account struct {
	Actor
	PasswordHash string `json:"-"`
}

// NewAccount hashes password and returns the account.
func NewAccount(uid, email, name string, role Role, password string) (Account, error) {
	if !role.Valid() {
		return Account{}, fmt.Errorf("account %s: unknown role %q", email, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	return Account{
		Actor:        Actor{UID: uid, Name: name, Email: email, Role: role},
		PasswordHash: string(hash),
	}, nil
}

// Directory authenticates accounts by email and password.
type Directory struct {
	mu      sync.RWMutex
	byEmail map[string]Account
}

// NewDirectory creates a Directory holding accounts.
func NewDirectory(accounts ...Account) *Directory {
	d := &Directory{byEmail: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		d.Add(a)
	}
	return d
}

// Add inserts or replaces an account.
func (d *Directory) Add(a Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byEmail[normalizeEmail(a.Email)] = a
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}

// Authenticate checks the password and returns the account's actor.
func (d *Directory) Authenticate(email, password string) (Actor, error) {
	d.mu.RLock()
	a, ok := d.byEmail[normalizeEmail(email)]
	d.mu.RUnlock()
	if !ok || a.PasswordHash == "" {
		return Actor{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return Actor{}, ErrInvalidCredentials
	}
	return a.Actor, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DemoPassword is the shared password of the demo accounts.
const DemoPassword = "demo123"

// DemoAccounts returns one account per role, all using DemoPassword.
func DemoAccounts() ([]Account, error) {
	seeds := []struct {
		email, name string
		role        Role
	}{
		{"planteur@demo.com", "Jean Kouassi", RolePlanter},
		{"coop@demo.com", "Coopérative SCAC", RoleCooperative},
		{"cert@demo.com", "Bureau de certification", RoleCertifier},
		{"etat@demo.com", "Ministère Agriculture", RoleRegulator},
		{"ong@demo.com", "ONG Certification", RoleNGO},
	}
	out := make([]Account, 0, len(seeds))
	for _, s := range seeds {
		a, err := NewAccount("demo-"+string(s.role), s.email, s.name, s.role, DemoPassword)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
