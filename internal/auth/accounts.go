// Package auth turns credentials into a user id. Accounts come from a YAML
// file with bcrypt password hashes; sessions live in Redis or in process;
// bearer tokens are HS256 JWTs bound to a session.
package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// BootstrapUserID is the id of the development admin account.
const BootstrapUserID = "admin-user"

// BootstrapEmail is the development admin's profile email.
const BootstrapEmail = "admin@forensics.local"

// Account is one login-capable identity.
type Account struct {
	Username     string      `yaml:"username"`
	PasswordHash string      `yaml:"passwordHash"`
	UserID       string      `yaml:"userId"`
	Email        string      `yaml:"email,omitempty"`
	FirstName    string      `yaml:"firstName,omitempty"`
	LastName     string      `yaml:"lastName,omitempty"`
	Role         models.Role `yaml:"role"`
}

// User converts the account into the profile upserted on login.
func (a *Account) User() *models.User {
	return &models.User{
		ID:        a.UserID,
		Email:     optional(a.Email),
		FirstName: optional(a.FirstName),
		LastName:  optional(a.LastName),
		Role:      a.Role,
	}
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// Accounts is an immutable username index.
type Accounts struct {
	byUsername map[string]*Account
	// dummyHash keeps unknown-username checks as slow as real ones.
	dummyHash []byte
}

// LoadAccounts reads and validates a YAML accounts file.
func LoadAccounts(path string) (*Accounts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var f accountsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return NewAccounts(f.Accounts)
}

// NewAccounts validates list and indexes it by lower-cased username.
func NewAccounts(list []Account) (*Accounts, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	a := &Accounts{byUsername: make(map[string]*Account, len(list)), dummyHash: dummy}
	for i := range list {
		acc := list[i]
		key := strings.ToLower(strings.TrimSpace(acc.Username))
		switch {
		case key == "":
			return nil, fmt.Errorf("account %d: username is required", i)
		case acc.UserID == "":
			return nil, fmt.Errorf("account %q: userId is required", acc.Username)
		case !acc.Role.Valid():
			return nil, fmt.Errorf("account %q: unknown role %q", acc.Username, acc.Role)
		case acc.PasswordHash == "":
			return nil, fmt.Errorf("account %q: passwordHash is required", acc.Username)
		}
		if _, err := bcrypt.Cost([]byte(acc.PasswordHash)); err != nil {
			return nil, fmt.Errorf("account %q: passwordHash is not a bcrypt hash: %w", acc.Username, err)
		}
		if _, dup := a.byUsername[key]; dup {
			return nil, fmt.Errorf("account %q: duplicate username", acc.Username)
		}
		a.byUsername[key] = &acc
	}
	return a, nil
}

// BootstrapAccounts returns the single admin/admin account used in
// development when no accounts file is configured.
func BootstrapAccounts() (*Accounts, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash bootstrap password: %w", err)
	}
	return NewAccounts([]Account{{
		Username:     "admin",
		PasswordHash: string(hash),
		UserID:       BootstrapUserID,
		Email:        BootstrapEmail,
		FirstName:    "Admin",
		LastName:     "User",
		Role:         models.RoleAdmin,
	}})
}

// Verify checks a username/password pair. Every failure is the same
// UNAUTHORIZED error so callers cannot probe for usernames.
func (a *Accounts) Verify(username, password string) (*Account, error) {
	acc, ok := a.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return acc, nil
}

var errInvalidCredentials = apperr.ErrUnauthorized.WithMessage("invalid username or password")

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
