package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository Repository
	chunks     ChunkStore
	hasher     PasswordHasher
	eventSink  EventSink
	logger     *slog.Logger
	now        func() time.Time

	tokenConfig    TokenConfig
	lockout        LockoutPolicy
	chunkSize      int
	maxAttempts    int
	roleCacheTTL   time.Duration
	requiredFields []string
	optionalFields []string

	allocator   *Allocator
	roles       *RoleRegistry
	credentials *CredentialValidator
	tokens      *TokenIssuer
	index       *MetadataIndex
	blobs       *BlobStore
	records     *RecordService
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the document store for every collection
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithChunkStore sets the backend holding asset chunks
func WithChunkStore(store ChunkStore) Option {
	return func(s *service) {
		s.chunks = store
	}
}

// WithHasher replaces the default bcrypt password hasher
func WithHasher(hasher PasswordHasher) Option {
	return func(s *service) {
		s.hasher = hasher
	}
}

// WithTokenConfig sets the signing key, issuer, audience and lifetime of tokens
func WithTokenConfig(cfg TokenConfig) Option {
	return func(s *service) {
		s.tokenConfig = cfg
	}
}

func WithLockoutPolicy(policy LockoutPolicy) Option {
	return func(s *service) {
		s.lockout = policy
	}
}

func WithChunkSize(size int) Option {
	return func(s *service) {
		s.chunkSize = size
	}
}

func WithAllocationAttempts(n int) Option {
	return func(s *service) {
		s.maxAttempts = n
	}
}

// WithRoleCacheTTL sets how long known role names are cached; zero disables the cache
func WithRoleCacheTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.roleCacheTTL = ttl
	}
}

// WithMetadataFields sets the descriptive fields of an asset
func WithMetadataFields(required, optional []string) Option {
	return func(s *service) {
		s.requiredFields = append([]string(nil), required...)
		s.optionalFields = append([]string(nil), optional...)
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now in every component
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		logger:         slog.Default(),
		now:            time.Now,
		roleCacheTTL:   5 * time.Minute,
		requiredFields: DefaultRequiredFields,
		optionalFields: DefaultOptionalFields,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.chunks == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if s.hasher == nil {
		s.hasher = NewBcryptHasher(0)
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}

	tokens, err := NewTokenIssuer(s.tokenConfig)
	if err != nil {
		return nil, err
	}
	tokens.now = s.now
	s.tokens = tokens

	s.allocator = NewAllocator(s.maxAttempts)

	s.roles = NewRoleRegistry(s.repository, s.repository, s.allocator, s.roleCacheTTL)
	s.roles.now = s.now

	s.credentials = NewCredentialValidator(s.repository, s.roles, s.hasher, s.lockout)
	s.credentials.now = s.now
	s.credentials.logger = s.logger

	s.index = NewMetadataIndex(s.repository, s.requiredFields)
	s.index.now = s.now

	s.blobs = NewBlobStore(s.chunks, s.repository, s.index, s.allocator, s.chunkSize)
	s.blobs.now = s.now
	s.blobs.logger = s.logger

	s.records = NewRecordService(s.repository, s.allocator)
	s.records.now = s.now

	return s, nil
}

// Authentication

func (s *service) Login(ctx context.Context, req LoginRequest) (*Token, error) {
	identity, err := s.credentials.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			s.logger.Warn("login rejected for locked account", "username", req.Username)
		}
		return nil, err
	}

	roles, err := s.roles.RolesOf(ctx, identity.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to look up roles: %w", err)
	}
	identity.Roles = roles

	return s.tokens.Issue(identity)
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*Credential, error) {
	return s.register(ctx, req, RoleUser)
}

// RegisterAdmin creates an account holding both the Admin and User roles
func (s *service) RegisterAdmin(ctx context.Context, req RegisterRequest) (*Credential, error) {
	return s.register(ctx, req, RoleAdmin, RoleUser)
}

func (s *service) register(ctx context.Context, req RegisterRequest, roles ...string) (*Credential, error) {
	cred, err := s.credentials.Register(ctx, req.Username, req.Email, req.Password, roles...)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, "account_registered", s.eventSink.AccountRegistered(ctx, cred))
	return cred, nil
}

func (s *service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

// Assets

func (s *service) UploadAsset(ctx context.Context, req UploadRequest) (*AssetMetadata, error) {
	meta, err := s.blobs.Upload(ctx, req)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, "asset_committed", s.eventSink.AssetCommitted(ctx, meta))
	return meta, nil
}

func (s *service) DownloadAsset(ctx context.Context, id uuid.UUID) (*AssetMetadata, io.ReadCloser, error) {
	return s.blobs.Download(ctx, id)
}

func (s *service) GetAsset(ctx context.Context, id uuid.UUID) (*AssetMetadata, error) {
	return s.blobs.Stat(ctx, id)
}

func (s *service) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	if err := s.blobs.Delete(ctx, id); err != nil {
		return err
	}
	s.fire(ctx, "asset_deleted", s.eventSink.AssetDeleted(ctx, id))
	return nil
}

func (s *service) UpdateAssetMetadata(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	if err := s.blobs.UpdateMetadata(ctx, id, fields); err != nil {
		return err
	}
	s.fire(ctx, "asset_metadata_updated", s.eventSink.AssetMetadataUpdated(ctx, id, fields))
	return nil
}

func (s *service) ListAssets(ctx context.Context) iter.Seq2[*AssetMetadata, error] {
	return s.blobs.List(ctx)
}

func (s *service) CollectOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.blobs.CollectOrphans(ctx, olderThan)
}

func (s *service) MetadataFields() (required, optional []string) {
	return append([]string(nil), s.requiredFields...), append([]string(nil), s.optionalFields...)
}

// Feedback

func (s *service) CreateFeedback(ctx context.Context, req CreateFeedbackRequest) (*Feedback, error) {
	fb, err := s.records.CreateFeedback(ctx, req)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, "feedback_created", s.eventSink.FeedbackCreated(ctx, fb))
	return fb, nil
}

func (s *service) ListFeedback(ctx context.Context) ([]*Feedback, error) {
	return s.records.ListFeedback(ctx)
}

func (s *service) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	return s.records.DeleteFeedback(ctx, id)
}

// Service descriptors

func (s *service) CreateServiceDescriptor(ctx context.Context, req ServiceDescriptorRequest) (*ServiceDescriptor, error) {
	return s.records.CreateServiceDescriptor(ctx, req)
}

func (s *service) GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*ServiceDescriptor, error) {
	return s.records.GetServiceDescriptor(ctx, id)
}

func (s *service) UpdateServiceDescriptor(ctx context.Context, id uuid.UUID, req ServiceDescriptorRequest) (*ServiceDescriptor, error) {
	return s.records.UpdateServiceDescriptor(ctx, id, req)
}

func (s *service) DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error {
	return s.records.DeleteServiceDescriptor(ctx, id)
}

func (s *service) ListServiceDescriptors(ctx context.Context) ([]*ServiceDescriptor, error) {
	return s.records.ListServiceDescriptors(ctx)
}

func (s *service) fire(ctx context.Context, event string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "event sink failed", "event", event, "error", err)
	}
}
