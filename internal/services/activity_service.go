package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"realtycrm/internal/crm"
	"realtycrm/internal/models"
)

// ActivityService logs calls and timeline interactions against leads
type ActivityService struct {
	calls        Repository[models.CallLog]
	interactions Repository[models.Interaction]
	pipeline     *PipelineService
	now          func() time.Time
}

// NewActivityService creates a new activity service. pipeline is used to
// check that the lead exists.
func NewActivityService(calls Repository[models.CallLog], interactions Repository[models.Interaction], pipeline *PipelineService) *ActivityService {
	return &ActivityService{calls: calls, interactions: interactions, pipeline: pipeline, now: time.Now}
}

func (s *ActivityService) requireLead(ctx context.Context, leadID string) error {
	if s.pipeline == nil {
		return nil
	}
	_, err := s.pipeline.Get(ctx, crm.KindLead, leadID)
	return err
}

// LogCall stores a call. CalledAt defaults to now.
func (s *ActivityService) LogCall(ctx context.Context, call models.CallLog, userID string) (models.CallLog, error) {
	if err := call.Validate(); err != nil {
		return models.CallLog{}, invalid(err)
	}
	if err := s.requireLead(ctx, call.LeadID); err != nil {
		return models.CallLog{}, err
	}
	call.ID = uuid.NewString()
	call.UserID = userID
	if call.CalledAt.IsZero() {
		call.CalledAt = s.now()
	}
	if err := s.calls.Insert(ctx, call.ID, call); err != nil {
		return models.CallLog{}, fmt.Errorf("failed to log call: %w", err)
	}
	return call, nil
}

// Calls lists the calls of a lead, newest first
func (s *ActivityService) Calls(ctx context.Context, leadID string) ([]models.CallLog, error) {
	calls, err := s.calls.List(ctx, leadMatch(leadID))
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].CalledAt.After(calls[j].CalledAt) })
	return calls, nil
}

// AddInteraction stores a timeline entry. OccurredAt defaults to now.
func (s *ActivityService) AddInteraction(ctx context.Context, in models.Interaction, userID string) (models.Interaction, error) {
	if err := in.Validate(); err != nil {
		return models.Interaction{}, invalid(err)
	}
	if err := s.requireLead(ctx, in.LeadID); err != nil {
		return models.Interaction{}, err
	}
	in.ID = uuid.NewString()
	in.CreatedBy = userID
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}
	if err := s.interactions.Insert(ctx, in.ID, in); err != nil {
		return models.Interaction{}, fmt.Errorf("failed to add interaction: %w", err)
	}
	return in, nil
}

// Interactions lists the timeline of a lead, newest first
func (s *ActivityService) Interactions(ctx context.Context, leadID string) ([]models.Interaction, error) {
	items, err := s.interactions.List(ctx, leadMatch(leadID))
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].OccurredAt.After(items[j].OccurredAt) })
	return items, nil
}

func leadMatch(leadID string) Match {
	if leadID == "" {
		return nil
	}
	return Match{"leadId": leadID}
}
