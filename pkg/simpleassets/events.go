package simpleassets

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EventSink receives notifications after state changes have been committed.
// Errors returned by a sink are logged and never fail the operation.
type EventSink interface {
	// AccountRegistered is fired when a new account is created
	AccountRegistered(ctx context.Context, cred *Credential) error

	// AssetCommitted is fired when an asset becomes visible
	AssetCommitted(ctx context.Context, meta *AssetMetadata) error

	// AssetDeleted is fired when an asset is deleted
	AssetDeleted(ctx context.Context, assetID uuid.UUID) error

	// AssetMetadataUpdated is fired when descriptive fields of an asset change
	AssetMetadataUpdated(ctx context.Context, assetID uuid.UUID, fields map[string]string) error

	// FeedbackCreated is fired when a feedback record is stored
	FeedbackCreated(ctx context.Context, fb *Feedback) error
}

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) AccountRegistered(ctx context.Context, cred *Credential) error {
	return nil
}

func (n *NoopEventSink) AssetCommitted(ctx context.Context, meta *AssetMetadata) error {
	return nil
}

func (n *NoopEventSink) AssetDeleted(ctx context.Context, assetID uuid.UUID) error {
	return nil
}

func (n *NoopEventSink) AssetMetadataUpdated(ctx context.Context, assetID uuid.UUID, fields map[string]string) error {
	return nil
}

func (n *NoopEventSink) FeedbackCreated(ctx context.Context, fb *Feedback) error {
	return nil
}

// LoggingEventSink writes every event to a structured logger
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a logging event sink; a nil logger uses slog.Default
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) AccountRegistered(ctx context.Context, cred *Credential) error {
	l.logger.InfoContext(ctx, "account registered", "username", cred.Username, "roles", cred.Roles)
	return nil
}

func (l *LoggingEventSink) AssetCommitted(ctx context.Context, meta *AssetMetadata) error {
	l.logger.InfoContext(ctx, "asset committed",
		"asset_id", meta.ID,
		"filename", meta.FileName,
		"length", meta.Length,
		"chunks", meta.ChunkCount)
	return nil
}

func (l *LoggingEventSink) AssetDeleted(ctx context.Context, assetID uuid.UUID) error {
	l.logger.InfoContext(ctx, "asset deleted", "asset_id", assetID)
	return nil
}

func (l *LoggingEventSink) AssetMetadataUpdated(ctx context.Context, assetID uuid.UUID, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	l.logger.InfoContext(ctx, "asset metadata updated", "asset_id", assetID, "fields", names)
	return nil
}

func (l *LoggingEventSink) FeedbackCreated(ctx context.Context, fb *Feedback) error {
	l.logger.InfoContext(ctx, "feedback created", "feedback_id", fb.ID, "name", fb.Name)
	return nil
}
