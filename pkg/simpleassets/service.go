package simpleassets

import (
	"context"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service is the main interface for authentication, asset and record operations
type Service interface {
	// Authentication
	Login(ctx context.Context, req LoginRequest) (*Token, error)
	Register(ctx context.Context, req RegisterRequest) (*Credential, error)
	RegisterAdmin(ctx context.Context, req RegisterRequest) (*Credential, error)
	VerifyToken(ctx context.Context, token string) (*Claims, error)

	// Assets
	UploadAsset(ctx context.Context, req UploadRequest) (*AssetMetadata, error)
	DownloadAsset(ctx context.Context, id uuid.UUID) (*AssetMetadata, io.ReadCloser, error)
	GetAsset(ctx context.Context, id uuid.UUID) (*AssetMetadata, error)
	DeleteAsset(ctx context.Context, id uuid.UUID) error
	UpdateAssetMetadata(ctx context.Context, id uuid.UUID, fields map[string]string) error
	ListAssets(ctx context.Context) iter.Seq2[*AssetMetadata, error]
	CollectOrphans(ctx context.Context, olderThan time.Duration) (int, error)
	MetadataFields() (required, optional []string)

	// Feedback
	CreateFeedback(ctx context.Context, req CreateFeedbackRequest) (*Feedback, error)
	ListFeedback(ctx context.Context) ([]*Feedback, error)
	DeleteFeedback(ctx context.Context, id uuid.UUID) error

	// Service descriptors
	CreateServiceDescriptor(ctx context.Context, req ServiceDescriptorRequest) (*ServiceDescriptor, error)
	GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*ServiceDescriptor, error)
	UpdateServiceDescriptor(ctx context.Context, id uuid.UUID, req ServiceDescriptorRequest) (*ServiceDescriptor, error)
	DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error
	ListServiceDescriptors(ctx context.Context) ([]*ServiceDescriptor, error)
}

// ParseID parses a record or asset identifier, failing with a MalformedID ValidationError
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, &ValidationError{Field: "id", Err: ErrMalformedID}
	}
	return id, nil
}
