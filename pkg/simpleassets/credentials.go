package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Lockout policy defaults
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 5 * time.Minute
	MinPasswordLength       = 8
)

// LockoutPolicy controls how repeated failures lock an account
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// CredentialValidator authenticates username/password pairs and registers
// new accounts.
type CredentialValidator struct {
	store  CredentialStore
	roles  *RoleRegistry
	hasher PasswordHasher
	policy LockoutPolicy
	now    func() time.Time
	logger *slog.Logger

	decoyOnce sync.Once
	decoyHash string
}

// NewCredentialValidator creates a validator over the given credential store
func NewCredentialValidator(store CredentialStore, roles *RoleRegistry, hasher PasswordHasher, policy LockoutPolicy) *CredentialValidator {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultLockoutThreshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultLockoutWindow
	}
	return &CredentialValidator{
		store:  store,
		roles:  roles,
		hasher: hasher,
		policy: policy,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Authenticate checks a username/password pair. Unknown accounts and wrong
// passwords both yield ErrInvalidCredentials. A locked account yields
// ErrAccountLocked without the password being checked.
func (v *CredentialValidator) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	cred, err := v.store.GetCredential(ctx, username)
	if errors.Is(err, ErrNotFound) {
		v.hasher.Verify(password, v.decoy())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	now := v.now()
	if now.Before(cred.LockoutUntil) {
		return nil, ErrAccountLocked
	}

	if !v.hasher.Verify(password, cred.PasswordHash) {
		failed := cred.FailedCount + 1
		lockoutUntil := cred.LockoutUntil
		if failed >= v.policy.Threshold {
			lockoutUntil = now.Add(v.policy.Window)
			failed = 0
			v.logger.Warn("account locked", "username", username, "until", lockoutUntil)
		}
		if err := v.store.UpdateCredentialLockout(ctx, username, failed, lockoutUntil); err != nil {
			return nil, fmt.Errorf("failed to record login failure: %w", err)
		}
		return nil, ErrInvalidCredentials
	}

	if cred.FailedCount != 0 || !cred.LockoutUntil.IsZero() {
		if err := v.store.UpdateCredentialLockout(ctx, username, 0, time.Time{}); err != nil {
			return nil, fmt.Errorf("failed to reset login failures: %w", err)
		}
	}

	return &Identity{Username: cred.Username, Roles: append([]string(nil), cred.Roles...)}, nil
}

// Register creates a new account and grants it the given roles
func (v *CredentialValidator) Register(ctx context.Context, username, email, password string, roles ...string) (*Credential, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, missingField("username")
	}
	if email == "" {
		return nil, missingField("email")
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := v.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{},
		CreatedAt:    v.now().UTC(),
	}
	if err := v.store.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}

	for _, role := range roles {
		if err := v.roles.GrantRole(ctx, username, role); err != nil {
			// A half-registered account must not block a retry with the same username
			if delErr := v.store.DeleteCredential(context.WithoutCancel(ctx), username); delErr != nil {
				v.logger.Warn("failed to roll back registration", "username", username, "error", delErr)
			}
			return nil, err
		}
		cred.Roles = append(cred.Roles, role)
	}
	return cred, nil
}

// ValidatePassword enforces the minimum length and requires at least one
// non-alphanumeric character.
func ValidatePassword(password string) error {
	if password == "" {
		return missingField("password")
	}
	if len([]rune(password)) < MinPasswordLength {
		return &ValidationError{Field: "password", Err: fmt.Errorf("%w: at least %d characters", ErrWeakPassword, MinPasswordLength)}
	}
	for _, r := range password {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return nil
		}
	}
	return &ValidationError{Field: "password", Err: fmt.Errorf("%w: needs a non-alphanumeric character", ErrWeakPassword)}
}

func (v *CredentialValidator) decoy() string {
	v.decoyOnce.Do(func() {
		hash, err := v.hasher.Hash("decoy-password-!")
		if err == nil {
			v.decoyHash = hash
		}
	})
	return v.decoyHash
}
