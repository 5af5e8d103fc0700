package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"realtycrm/internal/crm"
	"realtycrm/internal/models"
)

// ErrInvalidInput marks request data that failed validation
var ErrInvalidInput = errors.New("invalid input")

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// CustomFieldService manages custom field definitions and checks record
// values against them
type CustomFieldService struct {
	repo Repository[models.CustomField]
	now  func() time.Time
}

// NewCustomFieldService creates a new custom field service
func NewCustomFieldService(repo Repository[models.CustomField]) *CustomFieldService {
	return &CustomFieldService{repo: repo, now: time.Now}
}

// List returns the definitions of kind, or all of them for an empty kind
func (s *CustomFieldService) List(ctx context.Context, kind crm.EntityKind) ([]models.CustomField, error) {
	var match Match
	if kind != "" {
		match = Match{"entity": string(kind)}
	}
	fields, err := s.repo.List(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	return fields, nil
}

// Get returns one definition
func (s *CustomFieldService) Get(ctx context.Context, id string) (models.CustomField, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a definition. Keys are unique per entity.
func (s *CustomFieldService) Create(ctx context.Context, f models.CustomField) (models.CustomField, error) {
	if err := f.Validate(); err != nil {
		return models.CustomField{}, invalid(err)
	}
	existing, err := s.List(ctx, f.Entity)
	if err != nil {
		return models.CustomField{}, err
	}
	for _, e := range existing {
		if e.Key == f.Key {
			return models.CustomField{}, invalid(fmt.Errorf("custom field %q already exists on %s", f.Key, f.Entity))
		}
	}

	f.ID = uuid.NewString()
	f.CreatedAt = s.now()
	if err := s.repo.Insert(ctx, f.ID, f); err != nil {
		return models.CustomField{}, fmt.Errorf("failed to create custom field: %w", err)
	}
	return f, nil
}

// Update changes label, type, options and required. Entity and key are
// fixed once records may carry values for them.
func (s *CustomFieldService) Update(ctx context.Context, id string, f models.CustomField) (models.CustomField, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.CustomField{}, err
	}
	current.Label = f.Label
	current.Type = f.Type
	current.Options = f.Options
	current.Required = f.Required
	if err := current.Validate(); err != nil {
		return models.CustomField{}, invalid(err)
	}
	if err := s.repo.Replace(ctx, id, current); err != nil {
		return models.CustomField{}, fmt.Errorf("failed to update custom field: %w", err)
	}
	return current, nil
}

// Delete removes a definition. Stored values stay on the records.
func (s *CustomFieldService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// ValidateValues checks values (keyed without the cf. prefix) against the
// definitions of kind and returns them coerced to their stored form.
// requireAll enforces required fields, which only applies on create.
func (s *CustomFieldService) ValidateValues(ctx context.Context, kind crm.EntityKind, values map[string]any, requireAll bool) (map[string]any, error) {
	defs, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 && len(values) == 0 {
		return values, nil
	}
	out, err := models.ValidateCustomValues(defs, values, requireAll)
	if err != nil {
		return nil, invalid(err)
	}
	return out, nil
}
