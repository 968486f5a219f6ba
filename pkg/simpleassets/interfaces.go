package simpleassets

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// CredentialStore persists credentials. Every method is a single-document write.
type CredentialStore interface {
	// CreateCredential returns ErrAccountExists when the username or email is taken
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, username string) (*Credential, error)
	UpdateCredentialLockout(ctx context.Context, username string, failedCount int, lockoutUntil time.Time) error
	// AddCredentialRole is a no-op when the role is already held
	AddCredentialRole(ctx context.Context, username, role string) error
	DeleteCredential(ctx context.Context, username string) error
}

// RoleStore persists roles
type RoleStore interface {
	// CreateRole returns ErrRoleExists when the name is taken and ErrConflict when the id is
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, name string) (*Role, error)
}

// MetadataStore persists asset metadata documents
type MetadataStore interface {
	// CreateMetadata returns ErrConflict when a document with the same id exists
	CreateMetadata(ctx context.Context, meta *AssetMetadata) error
	GetMetadata(ctx context.Context, id uuid.UUID) (*AssetMetadata, error)
	// MergeMetadataFields sets only the given fields and leaves all others untouched
	MergeMetadataFields(ctx context.Context, id uuid.UUID, fields map[string]string, updatedAt time.Time) error
	DeleteMetadata(ctx context.Context, id uuid.UUID) error
	// ListMetadata queries the store when iterated; each iteration sees a fresh snapshot
	ListMetadata(ctx context.Context) iter.Seq2[*AssetMetadata, error]
}

// UploadStore persists upload reservations. The reservation is the arbiter
// between uploads, deletes and orphan collection.
type UploadStore interface {
	// CreateUpload returns ErrConflict when the id is already reserved
	CreateUpload(ctx context.Context, upload *Upload) error
	// TransitionUpload sets the status to `to` only when the current status is
	// one of from. It returns ErrConflict when the status differs and
	// ErrAssetNotFound when there is no reservation.
	TransitionUpload(ctx context.Context, id uuid.UUID, to UploadStatus, at time.Time, from ...UploadStatus) error
	DeleteUpload(ctx context.Context, id uuid.UUID) error
	// ListStaleUploads returns reservations that are not committed and have
	// not changed since before
	ListStaleUploads(ctx context.Context, before time.Time) ([]*Upload, error)
}

// RecordStore persists the small structured records
type RecordStore interface {
	CreateFeedback(ctx context.Context, fb *Feedback) error
	ListFeedback(ctx context.Context) ([]*Feedback, error)
	DeleteFeedback(ctx context.Context, id uuid.UUID) error

	CreateServiceDescriptor(ctx context.Context, sd *ServiceDescriptor) error
	GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*ServiceDescriptor, error)
	ReplaceServiceDescriptor(ctx context.Context, sd *ServiceDescriptor) error
	DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error
	ListServiceDescriptors(ctx context.Context) ([]*ServiceDescriptor, error)
}

// Repository is the full document store used by the service
type Repository interface {
	CredentialStore
	RoleStore
	MetadataStore
	UploadStore
	RecordStore
}

// ChunkStore defines the interface for chunk storage backends
type ChunkStore interface {
	// PutChunk durably stores chunk seq of an asset
	PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error

	// GetChunk returns chunk seq of an asset, or ErrNotFound
	GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error)

	// DeleteChunks removes every chunk of an asset; deleting nothing is not an error
	DeleteChunks(ctx context.Context, assetID uuid.UUID) error
}

// PasswordHasher hashes and verifies secrets
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}
