package memory

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Repository implements simpleassets.Repository using in-memory storage.
// Every method holds the lock for a single document, which mirrors the
// atomicity of the durable stores.
type Repository struct {
	mu          sync.RWMutex
	credentials map[string]*simpleassets.Credential // username -> credential
	emails      map[string]string                   // lower(email) -> username
	roles       map[string]*simpleassets.Role        // name -> role
	roleIDs     map[uuid.UUID]string
	metadata    map[uuid.UUID]*simpleassets.AssetMetadata
	uploads     map[uuid.UUID]*simpleassets.Upload
	feedback    map[uuid.UUID]*simpleassets.Feedback
	services    map[uuid.UUID]*simpleassets.ServiceDescriptor
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		credentials: make(map[string]*simpleassets.Credential),
		emails:      make(map[string]string),
		roles:       make(map[string]*simpleassets.Role),
		roleIDs:     make(map[uuid.UUID]string),
		metadata:    make(map[uuid.UUID]*simpleassets.AssetMetadata),
		uploads:     make(map[uuid.UUID]*simpleassets.Upload),
		feedback:    make(map[uuid.UUID]*simpleassets.Feedback),
		services:    make(map[uuid.UUID]*simpleassets.ServiceDescriptor),
	}
}

var _ simpleassets.Repository = (*Repository)(nil)

// Credential operations

func (r *Repository) CreateCredential(ctx context.Context, cred *simpleassets.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(cred.Email)
	if _, exists := r.credentials[cred.Username]; exists {
		return simpleassets.ErrAccountExists
	}
	if _, exists := r.emails[email]; exists {
		return simpleassets.ErrAccountExists
	}

	r.credentials[cred.Username] = copyCredential(cred)
	r.emails[email] = cred.Username
	return nil
}

func (r *Repository) GetCredential(ctx context.Context, username string) (*simpleassets.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, exists := r.credentials[username]
	if !exists {
		return nil, simpleassets.ErrCredentialNotFound
	}
	return copyCredential(cred), nil
}

func (r *Repository) UpdateCredentialLockout(ctx context.Context, username string, failedCount int, lockoutUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, exists := r.credentials[username]
	if !exists {
		return simpleassets.ErrCredentialNotFound
	}
	cred.FailedCount = failedCount
	cred.LockoutUntil = lockoutUntil
	return nil
}

func (r *Repository) AddCredentialRole(ctx context.Context, username, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, exists := r.credentials[username]
	if !exists {
		return simpleassets.ErrCredentialNotFound
	}
	if !slices.Contains(cred.Roles, role) {
		cred.Roles = append(cred.Roles, role)
	}
	return nil
}

func (r *Repository) DeleteCredential(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, exists := r.credentials[username]
	if !exists {
		return simpleassets.ErrCredentialNotFound
	}
	delete(r.emails, strings.ToLower(cred.Email))
	delete(r.credentials, username)
	return nil
}

// Role operations

func (r *Repository) CreateRole(ctx context.Context, role *simpleassets.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roleIDs[role.ID]; exists {
		return simpleassets.ErrConflict
	}
	if _, exists := r.roles[role.Name]; exists {
		return simpleassets.ErrRoleExists
	}
	roleCopy := *role
	r.roles[role.Name] = &roleCopy
	r.roleIDs[role.ID] = role.Name
	return nil
}

func (r *Repository) GetRole(ctx context.Context, name string) (*simpleassets.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, exists := r.roles[name]
	if !exists {
		return nil, simpleassets.ErrRoleNotFound
	}
	roleCopy := *role
	return &roleCopy, nil
}

// Metadata operations

func (r *Repository) CreateMetadata(ctx context.Context, meta *simpleassets.AssetMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metadata[meta.ID]; exists {
		return simpleassets.ErrConflict
	}
	r.metadata[meta.ID] = copyMetadata(meta)
	return nil
}

func (r *Repository) GetMetadata(ctx context.Context, id uuid.UUID) (*simpleassets.AssetMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.metadata[id]
	if !exists {
		return nil, simpleassets.ErrAssetNotFound
	}
	return copyMetadata(meta), nil
}

func (r *Repository) MergeMetadataFields(ctx context.Context, id uuid.UUID, fields map[string]string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, exists := r.metadata[id]
	if !exists {
		return simpleassets.ErrAssetNotFound
	}
	merged := maps.Clone(meta.Fields)
	if merged == nil {
		merged = make(map[string]string, len(fields))
	}
	maps.Copy(merged, fields)
	meta.Fields = merged
	meta.UpdatedAt = updatedAt
	return nil
}

func (r *Repository) DeleteMetadata(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metadata[id]; !exists {
		return simpleassets.ErrAssetNotFound
	}
	delete(r.metadata, id)
	return nil
}

// ListMetadata takes a snapshot each time the sequence is iterated
func (r *Repository) ListMetadata(ctx context.Context) iter.Seq2[*simpleassets.AssetMetadata, error] {
	return func(yield func(*simpleassets.AssetMetadata, error) bool) {
		r.mu.RLock()
		snapshot := make([]*simpleassets.AssetMetadata, 0, len(r.metadata))
		for _, meta := range r.metadata {
			snapshot = append(snapshot, copyMetadata(meta))
		}
		r.mu.RUnlock()

		sort.Slice(snapshot, func(i, j int) bool {
			return snapshot[i].UploadedAt.Before(snapshot[j].UploadedAt)
		})

		for _, meta := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(meta, nil) {
				return
			}
		}
	}
}

// Upload reservation operations

func (r *Repository) CreateUpload(ctx context.Context, upload *simpleassets.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.uploads[upload.ID]; exists {
		return simpleassets.ErrConflict
	}
	uploadCopy := *upload
	if uploadCopy.UpdatedAt.IsZero() {
		uploadCopy.UpdatedAt = uploadCopy.StartedAt
	}
	r.uploads[upload.ID] = &uploadCopy
	return nil
}

func (r *Repository) TransitionUpload(ctx context.Context, id uuid.UUID, to simpleassets.UploadStatus, at time.Time, from ...simpleassets.UploadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upload, exists := r.uploads[id]
	if !exists {
		return simpleassets.ErrAssetNotFound
	}
	if !slices.Contains(from, upload.Status) {
		return simpleassets.ErrConflict
	}
	upload.Status = to
	upload.UpdatedAt = at
	return nil
}

func (r *Repository) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.uploads[id]; !exists {
		return simpleassets.ErrAssetNotFound
	}
	delete(r.uploads, id)
	return nil
}

// ListStaleUploads returns uncommitted reservations last changed before the cutoff
func (r *Repository) ListStaleUploads(ctx context.Context, before time.Time) ([]*simpleassets.Upload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simpleassets.Upload
	for _, upload := range r.uploads {
		if upload.Status != simpleassets.UploadStatusCommitted && upload.UpdatedAt.Before(before) {
			uploadCopy := *upload
			result = append(result, &uploadCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// Feedback operations

func (r *Repository) CreateFeedback(ctx context.Context, fb *simpleassets.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.feedback[fb.ID]; exists {
		return simpleassets.ErrConflict
	}
	fbCopy := *fb
	r.feedback[fb.ID] = &fbCopy
	return nil
}

func (r *Repository) ListFeedback(ctx context.Context) ([]*simpleassets.Feedback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleassets.Feedback, 0, len(r.feedback))
	for _, fb := range r.feedback {
		fbCopy := *fb
		result = append(result, &fbCopy)
	}

	// Sort by date_created descending
	sort.Slice(result, func(i, j int) bool {
		return result[i].DateCreated.After(result[j].DateCreated)
	})
	return result, nil
}

func (r *Repository) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.feedback[id]; !exists {
		return simpleassets.ErrRecordNotFound
	}
	delete(r.feedback, id)
	return nil
}

// Service descriptor operations

func (r *Repository) CreateServiceDescriptor(ctx context.Context, sd *simpleassets.ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[sd.ID]; exists {
		return simpleassets.ErrConflict
	}
	sdCopy := *sd
	r.services[sd.ID] = &sdCopy
	return nil
}

func (r *Repository) GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*simpleassets.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sd, exists := r.services[id]
	if !exists {
		return nil, simpleassets.ErrRecordNotFound
	}
	sdCopy := *sd
	return &sdCopy, nil
}

func (r *Repository) ReplaceServiceDescriptor(ctx context.Context, sd *simpleassets.ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[sd.ID]; !exists {
		return simpleassets.ErrRecordNotFound
	}
	sdCopy := *sd
	r.services[sd.ID] = &sdCopy
	return nil
}

func (r *Repository) DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[id]; !exists {
		return simpleassets.ErrRecordNotFound
	}
	delete(r.services, id)
	return nil
}

func (r *Repository) ListServiceDescriptors(ctx context.Context) ([]*simpleassets.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleassets.ServiceDescriptor, 0, len(r.services))
	for _, sd := range r.services {
		sdCopy := *sd
		result = append(result, &sdCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Title < result[j].Title
	})
	return result, nil
}

func copyCredential(cred *simpleassets.Credential) *simpleassets.Credential {
	c := *cred
	c.Roles = append([]string{}, cred.Roles...)
	return &c
}

func copyMetadata(meta *simpleassets.AssetMetadata) *simpleassets.AssetMetadata {
	m := *meta
	m.Fields = maps.Clone(meta.Fields)
	return &m
}
