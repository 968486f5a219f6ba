package simpleassets

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Built-in role names
const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

// Credential is the stored login record of an identity
type Credential struct {
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	FailedCount  int       `json:"failed_count"`
	LockoutUntil time.Time `json:"lockout_until"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role is a named authorization role
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is an authenticated principal
type Identity struct {
	Username string
	Roles    []string
}

// Token is a signed bearer token ready to be relayed to a client
type Token struct {
	Value     string    `json:"token"`
	ID        string    `json:"-"`
	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"expiration"`
}

// ClaimKind names a recognized claim carried in a token
type ClaimKind string

const (
	ClaimSubject   ClaimKind = "sub"
	ClaimTokenID   ClaimKind = "jti"
	ClaimRoles     ClaimKind = "roles"
	ClaimIssuedAt  ClaimKind = "iat"
	ClaimExpiresAt ClaimKind = "exp"
	ClaimIssuer    ClaimKind = "iss"
	ClaimAudience  ClaimKind = "aud"
)

// Claims is the verified content of a token
type Claims struct {
	Subject   string
	TokenID   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the claims carry the named role
func (c *Claims) HasRole(name string) bool {
	return slices.Contains(c.Roles, name)
}

// AssetMetadata is the metadata document of a committed asset. Its presence is
// what makes the asset visible.
type AssetMetadata struct {
	ID          uuid.UUID         `json:"id"`
	FileName    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Length      int64             `json:"length"`
	ChunkSize   int               `json:"chunk_size"`
	ChunkCount  int               `json:"chunk_count"`
	UploadedAt  time.Time         `json:"upload_time"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Fields      map[string]string `json:"fields"`
}

// Field returns a named descriptive field and whether it is present
func (m *AssetMetadata) Field(name string) (string, bool) {
	v, ok := m.Fields[name]
	return v, ok
}

// UploadStatus is the state of an upload reservation. Every change is a
// conditional transition, so an upload, a delete and orphan collection never
// act on the same asset at once:
//
//	pending -> committing -> committed -> deleting
//	pending -> collecting
//	committing -> collecting (failed commit)
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusCommitting UploadStatus = "committing"
	UploadStatusCommitted  UploadStatus = "committed"
	UploadStatusCollecting UploadStatus = "collecting"
	UploadStatusDeleting   UploadStatus = "deleting"
)

// Upload reserves an asset id for the lifetime of the asset. Chunks are only
// ever written under a reserved id.
type Upload struct {
	ID        uuid.UUID    `json:"id"`
	Status    UploadStatus `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Feedback is a message left by a visitor
type Feedback struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Message     string    `json:"message"`
	DateCreated time.Time `json:"dateCreated"`
}

// ServiceDescriptor describes an offered service
type ServiceDescriptor struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
}
