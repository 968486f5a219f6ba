package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// RoleRegistry lazily creates roles and grants them to identities
type RoleRegistry struct {
	roles       RoleStore
	credentials CredentialStore
	allocator   *Allocator
	known       *ttlcache.Cache[string, struct{}]
	now         func() time.Time
}

// NewRoleRegistry creates a registry. Role names confirmed to exist are cached
// for cacheTTL; a zero TTL disables the cache.
func NewRoleRegistry(roles RoleStore, credentials CredentialStore, allocator *Allocator, cacheTTL time.Duration) *RoleRegistry {
	r := &RoleRegistry{
		roles:       roles,
		credentials: credentials,
		allocator:   allocator,
		now:         time.Now,
	}
	if cacheTTL > 0 {
		r.known = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	return r
}

// EnsureRole creates the role unless it already exists. Losing a concurrent
// create race counts as success.
func (r *RoleRegistry) EnsureRole(ctx context.Context, name string) error {
	if name == "" {
		return missingField("role")
	}
	if r.known != nil && r.known.Has(name) {
		return nil
	}

	_, err := r.roles.GetRole(ctx, name)
	if errors.Is(err, ErrNotFound) {
		_, err = AllocateAndInsert(ctx, r.allocator, func(id uuid.UUID) *Role {
			return &Role{ID: id, Name: name, CreatedAt: r.now().UTC()}
		}, r.roles.CreateRole)
		if errors.Is(err, ErrRoleExists) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to ensure role %s: %w", name, err)
	}

	if r.known != nil {
		r.known.Set(name, struct{}{}, ttlcache.DefaultTTL)
	}
	return nil
}

// GrantRole ensures the role exists and that the identity holds it
func (r *RoleRegistry) GrantRole(ctx context.Context, username, name string) error {
	if err := r.EnsureRole(ctx, name); err != nil {
		return err
	}
	if err := r.credentials.AddCredentialRole(ctx, username, name); err != nil {
		return fmt.Errorf("failed to grant role %s to %s: %w", name, username, err)
	}
	return nil
}

// RolesOf returns the roles currently held by the identity
func (r *RoleRegistry) RolesOf(ctx context.Context, username string) ([]string, error) {
	cred, err := r.credentials.GetCredential(ctx, username)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), cred.Roles...), nil
}
