package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleassets.Repository and simpleassets.ChunkStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var (
	_ simpleassets.Repository = (*Repository)(nil)
	_ simpleassets.ChunkStore = (*Repository)(nil)
)

// Unique constraints that guard natural keys rather than generated ids
var naturalKeyConflicts = map[string]error{
	"credentials_pkey":      simpleassets.ErrAccountExists,
	"credentials_email_key": simpleassets.ErrAccountExists,
	"roles_name_key":        simpleassets.ErrRoleExists,
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if mapped, ok := naturalKeyConflicts[pgErr.ConstraintName]; ok {
				return mapped
			}
			return simpleassets.ErrConflict
		case "23502": // not_null_violation
			return &simpleassets.ValidationError{Field: pgErr.ColumnName, Err: simpleassets.ErrMissingField}
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required: %w", err)
		}
	}
	return &simpleassets.StorageError{Backend: "postgres", Op: operation, Err: err}
}

// Credential operations

func (r *Repository) CreateCredential(ctx context.Context, cred *simpleassets.Credential) error {
	query := `
		INSERT INTO credentials (username, email, password_hash, roles, failed_count, lockout_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	roles := cred.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		cred.Username, cred.Email, cred.PasswordHash, roles,
		cred.FailedCount, nullTime(cred.LockoutUntil), cred.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create credential", err)
	}
	return nil
}

func (r *Repository) GetCredential(ctx context.Context, username string) (*simpleassets.Credential, error) {
	query := `
		SELECT username, email, password_hash, roles, failed_count, lockout_until, created_at
		FROM credentials WHERE username = $1`

	var cred simpleassets.Credential
	var lockoutUntil *time.Time
	err := r.db.QueryRow(ctx, query, username).Scan(
		&cred.Username, &cred.Email, &cred.PasswordHash, &cred.Roles,
		&cred.FailedCount, &lockoutUntil, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrCredentialNotFound
		}
		return nil, r.handlePostgresError("get credential", err)
	}
	if lockoutUntil != nil {
		cred.LockoutUntil = *lockoutUntil
	}
	return &cred, nil
}

func (r *Repository) UpdateCredentialLockout(ctx context.Context, username string, failedCount int, lockoutUntil time.Time) error {
	query := `UPDATE credentials SET failed_count = $2, lockout_until = $3 WHERE username = $1`

	tag, err := r.db.Exec(ctx, query, username, failedCount, nullTime(lockoutUntil))
	if err != nil {
		return r.handlePostgresError("update credential lockout", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrCredentialNotFound
	}
	return nil
}

func (r *Repository) AddCredentialRole(ctx context.Context, username, role string) error {
	query := `
		UPDATE credentials SET roles = array_append(roles, $2::text)
		WHERE username = $1 AND NOT ($2::text = ANY(roles))`

	tag, err := r.db.Exec(ctx, query, username, role)
	if err != nil {
		return r.handlePostgresError("add credential role", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Either the role is already held or the credential does not exist
	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credentials WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return r.handlePostgresError("add credential role", err)
	}
	if !exists {
		return simpleassets.ErrCredentialNotFound
	}
	return nil
}

func (r *Repository) DeleteCredential(ctx context.Context, username string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM credentials WHERE username = $1`, username)
	if err != nil {
		return r.handlePostgresError("delete credential", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrCredentialNotFound
	}
	return nil
}

// Role operations

func (r *Repository) CreateRole(ctx context.Context, role *simpleassets.Role) error {
	query := `INSERT INTO roles (id, name, created_at) VALUES ($1, $2, $3)`

	if _, err := r.db.Exec(ctx, query, role.ID, role.Name, role.CreatedAt); err != nil {
		return r.handlePostgresError("create role", err)
	}
	return nil
}

func (r *Repository) GetRole(ctx context.Context, name string) (*simpleassets.Role, error) {
	query := `SELECT id, name, created_at FROM roles WHERE name = $1`

	var role simpleassets.Role
	err := r.db.QueryRow(ctx, query, name).Scan(&role.ID, &role.Name, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrRoleNotFound
		}
		return nil, r.handlePostgresError("get role", err)
	}
	return &role, nil
}

// Metadata operations

const metadataColumns = `id, filename, content_type, length, chunk_size, chunk_count, uploaded_at, updated_at, fields`

func (r *Repository) CreateMetadata(ctx context.Context, meta *simpleassets.AssetMetadata) error {
	query := `INSERT INTO asset_metadata (` + metadataColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)`

	fields := meta.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	_, err := r.db.Exec(ctx, query,
		meta.ID, meta.FileName, meta.ContentType, meta.Length, meta.ChunkSize,
		meta.ChunkCount, meta.UploadedAt, meta.UpdatedAt, fields)
	if err != nil {
		return r.handlePostgresError("create metadata", err)
	}
	return nil
}

func (r *Repository) GetMetadata(ctx context.Context, id uuid.UUID) (*simpleassets.AssetMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM asset_metadata WHERE id = $1`

	meta, err := scanMetadata(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get metadata", err)
	}
	return meta, nil
}

// MergeMetadataFields applies the merge inside a single UPDATE so concurrent
// merges of different fields never lose each other's writes.
func (r *Repository) MergeMetadataFields(ctx context.Context, id uuid.UUID, fields map[string]string, updatedAt time.Time) error {
	query := `UPDATE asset_metadata SET fields = fields || $2::jsonb, updated_at = $3 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, fields, updatedAt)
	if err != nil {
		return r.handlePostgresError("merge metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) DeleteMetadata(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset_metadata WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrAssetNotFound
	}
	return nil
}

// ListMetadata runs the query when iterated and streams rows as they arrive
func (r *Repository) ListMetadata(ctx context.Context) iter.Seq2[*simpleassets.AssetMetadata, error] {
	return func(yield func(*simpleassets.AssetMetadata, error) bool) {
		query := `SELECT ` + metadataColumns + ` FROM asset_metadata ORDER BY uploaded_at`

		rows, err := r.db.Query(ctx, query)
		if err != nil {
			yield(nil, r.handlePostgresError("list metadata", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			meta, err := scanMetadata(rows)
			if err != nil {
				yield(nil, r.handlePostgresError("list metadata", err))
				return
			}
			if !yield(meta, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, r.handlePostgresError("list metadata", err))
		}
	}
}

func scanMetadata(row pgx.Row) (*simpleassets.AssetMetadata, error) {
	var meta simpleassets.AssetMetadata
	err := row.Scan(
		&meta.ID, &meta.FileName, &meta.ContentType, &meta.Length, &meta.ChunkSize,
		&meta.ChunkCount, &meta.UploadedAt, &meta.UpdatedAt, &meta.Fields)
	if err != nil {
		return nil, err
	}
	if meta.Fields == nil {
		meta.Fields = map[string]string{}
	}
	return &meta, nil
}

// Upload reservation operations

func (r *Repository) CreateUpload(ctx context.Context, upload *simpleassets.Upload) error {
	query := `INSERT INTO asset_uploads (id, status, started_at, updated_at) VALUES ($1, $2, $3, $4)`

	updatedAt := upload.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = upload.StartedAt
	}
	if _, err := r.db.Exec(ctx, query, upload.ID, string(upload.Status), upload.StartedAt, updatedAt); err != nil {
		return r.handlePostgresError("create upload", err)
	}
	return nil
}

func (r *Repository) TransitionUpload(ctx context.Context, id uuid.UUID, to simpleassets.UploadStatus, at time.Time, from ...simpleassets.UploadStatus) error {
	allowed := make([]string, len(from))
	for i, status := range from {
		allowed[i] = string(status)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE asset_uploads SET status = $2, updated_at = $3 WHERE id = $1 AND status = ANY($4)`,
		id, string(to), at, allowed)
	if err != nil {
		return r.handlePostgresError("transition upload", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM asset_uploads WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleassets.ErrAssetNotFound
	}
	if err != nil {
		return r.handlePostgresError("transition upload", err)
	}
	return fmt.Errorf("%w: upload %s is %s", simpleassets.ErrConflict, id, current)
}

func (r *Repository) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset_uploads WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete upload", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) ListStaleUploads(ctx context.Context, before time.Time) ([]*simpleassets.Upload, error) {
	query := `
		SELECT id, status, started_at, updated_at FROM asset_uploads
		WHERE status <> $1 AND updated_at < $2
		ORDER BY updated_at`

	rows, err := r.db.Query(ctx, query, string(simpleassets.UploadStatusCommitted), before)
	if err != nil {
		return nil, r.handlePostgresError("list stale uploads", err)
	}
	defer rows.Close()

	var result []*simpleassets.Upload
	for rows.Next() {
		var upload simpleassets.Upload
		var status string
		if err := rows.Scan(&upload.ID, &status, &upload.StartedAt, &upload.UpdatedAt); err != nil {
			return nil, r.handlePostgresError("list stale uploads", err)
		}
		upload.Status = simpleassets.UploadStatus(status)
		result = append(result, &upload)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list stale uploads", err)
	}
	return result, nil
}

// Chunk operations

func (r *Repository) PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error {
	query := `
		INSERT INTO asset_chunks (asset_id, seq, data) VALUES ($1, $2, $3)
		ON CONFLICT (asset_id, seq) DO UPDATE SET data = EXCLUDED.data`

	if _, err := r.db.Exec(ctx, query, assetID, seq, data); err != nil {
		return r.handlePostgresError("put chunk", err)
	}
	return nil
}

func (r *Repository) GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM asset_chunks WHERE asset_id = $1 AND seq = $2`, assetID, seq).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrNotFound
		}
		return nil, r.handlePostgresError("get chunk", err)
	}
	return data, nil
}

func (r *Repository) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM asset_chunks WHERE asset_id = $1`, assetID); err != nil {
		return r.handlePostgresError("delete chunks", err)
	}
	return nil
}

// Feedback operations

func (r *Repository) CreateFeedback(ctx context.Context, fb *simpleassets.Feedback) error {
	query := `INSERT INTO feedback (id, name, email, message, date_created) VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.Exec(ctx, query, fb.ID, fb.Name, fb.Email, fb.Message, fb.DateCreated); err != nil {
		return r.handlePostgresError("create feedback", err)
	}
	return nil
}

func (r *Repository) ListFeedback(ctx context.Context) ([]*simpleassets.Feedback, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, email, message, date_created FROM feedback ORDER BY date_created DESC`)
	if err != nil {
		return nil, r.handlePostgresError("list feedback", err)
	}
	defer rows.Close()

	result := []*simpleassets.Feedback{}
	for rows.Next() {
		var fb simpleassets.Feedback
		if err := rows.Scan(&fb.ID, &fb.Name, &fb.Email, &fb.Message, &fb.DateCreated); err != nil {
			return nil, r.handlePostgresError("list feedback", err)
		}
		result = append(result, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list feedback", err)
	}
	return result, nil
}

func (r *Repository) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM feedback WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete feedback", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrRecordNotFound
	}
	return nil
}

// Service descriptor operations

func (r *Repository) CreateServiceDescriptor(ctx context.Context, sd *simpleassets.ServiceDescriptor) error {
	query := `INSERT INTO service_descriptors (id, title, description, icon) VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, sd.ID, sd.Title, sd.Description, sd.Icon); err != nil {
		return r.handlePostgresError("create service descriptor", err)
	}
	return nil
}

func (r *Repository) GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*simpleassets.ServiceDescriptor, error) {
	var sd simpleassets.ServiceDescriptor
	err := r.db.QueryRow(ctx, `SELECT id, title, description, icon FROM service_descriptors WHERE id = $1`, id).
		Scan(&sd.ID, &sd.Title, &sd.Description, &sd.Icon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleassets.ErrRecordNotFound
		}
		return nil, r.handlePostgresError("get service descriptor", err)
	}
	return &sd, nil
}

func (r *Repository) ReplaceServiceDescriptor(ctx context.Context, sd *simpleassets.ServiceDescriptor) error {
	query := `UPDATE service_descriptors SET title = $2, description = $3, icon = $4 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, sd.ID, sd.Title, sd.Description, sd.Icon)
	if err != nil {
		return r.handlePostgresError("replace service descriptor", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM service_descriptors WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete service descriptor", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleassets.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) ListServiceDescriptors(ctx context.Context) ([]*simpleassets.ServiceDescriptor, error) {
	rows, err := r.db.Query(ctx, `SELECT id, title, description, icon FROM service_descriptors ORDER BY title`)
	if err != nil {
		return nil, r.handlePostgresError("list service descriptors", err)
	}
	defer rows.Close()

	result := []*simpleassets.ServiceDescriptor{}
	for rows.Next() {
		var sd simpleassets.ServiceDescriptor
		if err := rows.Scan(&sd.ID, &sd.Title, &sd.Description, &sd.Icon); err != nil {
			return nil, r.handlePostgresError("list service descriptors", err)
		}
		result = append(result, &sd)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list service descriptors", err)
	}
	return result, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
