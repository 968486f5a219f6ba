package simpleassets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordService manages feedback entries and service descriptors. Every
// creation goes through the Allocator.
type RecordService struct {
	store     RecordStore
	allocator *Allocator
	now       func() time.Time
}

// NewRecordService creates a record service over the given store
func NewRecordService(store RecordStore, allocator *Allocator) *RecordService {
	return &RecordService{store: store, allocator: allocator, now: time.Now}
}

func (rs *RecordService) CreateFeedback(ctx context.Context, req CreateFeedbackRequest) (*Feedback, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, missingField("message")
	}
	fb, err := AllocateAndInsert(ctx, rs.allocator, func(id uuid.UUID) *Feedback {
		return &Feedback{
			ID:          id,
			Name:        strings.TrimSpace(req.Name),
			Email:       strings.TrimSpace(req.Email),
			Message:     req.Message,
			DateCreated: rs.now().UTC(),
		}
	}, rs.store.CreateFeedback)
	if err != nil {
		return nil, fmt.Errorf("failed to create feedback: %w", err)
	}
	return fb, nil
}

func (rs *RecordService) ListFeedback(ctx context.Context) ([]*Feedback, error) {
	return rs.store.ListFeedback(ctx)
}

func (rs *RecordService) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	return rs.store.DeleteFeedback(ctx, id)
}

func (rs *RecordService) CreateServiceDescriptor(ctx context.Context, req ServiceDescriptorRequest) (*ServiceDescriptor, error) {
	if err := validateServiceDescriptor(req); err != nil {
		return nil, err
	}
	sd, err := AllocateAndInsert(ctx, rs.allocator, func(id uuid.UUID) *ServiceDescriptor {
		return &ServiceDescriptor{ID: id, Title: req.Title, Description: req.Description, Icon: req.Icon}
	}, rs.store.CreateServiceDescriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create service descriptor: %w", err)
	}
	return sd, nil
}

func (rs *RecordService) GetServiceDescriptor(ctx context.Context, id uuid.UUID) (*ServiceDescriptor, error) {
	return rs.store.GetServiceDescriptor(ctx, id)
}

// UpdateServiceDescriptor replaces every field of an existing descriptor; the id is kept
func (rs *RecordService) UpdateServiceDescriptor(ctx context.Context, id uuid.UUID, req ServiceDescriptorRequest) (*ServiceDescriptor, error) {
	if err := validateServiceDescriptor(req); err != nil {
		return nil, err
	}
	sd := &ServiceDescriptor{ID: id, Title: req.Title, Description: req.Description, Icon: req.Icon}
	if err := rs.store.ReplaceServiceDescriptor(ctx, sd); err != nil {
		return nil, err
	}
	return sd, nil
}

func (rs *RecordService) DeleteServiceDescriptor(ctx context.Context, id uuid.UUID) error {
	return rs.store.DeleteServiceDescriptor(ctx, id)
}

func (rs *RecordService) ListServiceDescriptors(ctx context.Context) ([]*ServiceDescriptor, error) {
	return rs.store.ListServiceDescriptors(ctx)
}

func validateServiceDescriptor(req ServiceDescriptorRequest) error {
	switch {
	case strings.TrimSpace(req.Title) == "":
		return missingField("title")
	case strings.TrimSpace(req.Description) == "":
		return missingField("description")
	case strings.TrimSpace(req.Icon) == "":
		return missingField("icon")
	}
	return nil
}
