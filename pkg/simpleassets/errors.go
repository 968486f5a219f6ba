package simpleassets

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrInvalidCredentials is returned for an unknown account and for a wrong password alike
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrAccountLocked indicates the account is inside its lockout window
	ErrAccountLocked = errors.New("account locked")

	// ErrUnauthorized indicates a missing, malformed, expired or badly signed token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks a role required by the operation
	ErrForbidden = errors.New("forbidden")

	// ErrMissingField indicates a required field was not supplied
	ErrMissingField = errors.New("missing required field")

	// ErrMalformedID indicates an identifier could not be parsed
	ErrMalformedID = errors.New("malformed id")

	// ErrWeakPassword indicates a password does not satisfy the password policy
	ErrWeakPassword = errors.New("password does not satisfy policy")

	// ErrNotFound is the parent of every not-found error
	ErrNotFound = errors.New("not found")

	ErrAssetNotFound      = fmt.Errorf("asset %w", ErrNotFound)
	ErrRecordNotFound     = fmt.Errorf("record %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("credential %w", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("role %w", ErrNotFound)

	// ErrConflict is returned by stores when a document with the same id already
	// exists or a conditional transition finds another status. The Allocator
	// retries on it.
	ErrConflict = errors.New("duplicate identifier")

	// ErrAccountExists indicates a username or email is already registered
	ErrAccountExists = errors.New("account already exists")

	// ErrRoleExists indicates a role with the same name already exists
	ErrRoleExists = errors.New("role already exists")

	// ErrAllocationExhausted indicates every allocation attempt collided with an existing id
	ErrAllocationExhausted = errors.New("identifier allocation exhausted")

	// ErrUploadReclaimed indicates orphan collection took over an upload before
	// it could commit
	ErrUploadReclaimed = errors.New("upload reclaimed before commit")

	// ErrConfiguration is the parent of every ConfigurationError
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError reports a rejected input field
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a required setting that is missing or invalid
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: %s is required", e.Field)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// AssetError represents an error related to asset operations
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func missingField(field string) error {
	return &ValidationError{Field: field, Err: ErrMissingField}
}
