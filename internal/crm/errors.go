package crm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is matched by every *InvalidTransitionError
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrNotFound indicates the record doesn't exist in the store
	ErrNotFound = errors.New("record not found")
	// ErrUpstream wraps failures reported by the record store
	ErrUpstream = errors.New("record store failure")
	// ErrStageWithoutTimestamp rejects patches that move one of stage/stageEnteredAt alone
	ErrStageWithoutTimestamp = errors.New("stage and stageEnteredAt must change together")
	// ErrUnknownField rejects patches naming a field the entity doesn't have
	ErrUnknownField = errors.New("unknown record field")
	// ErrImmutableField rejects patches touching id or createdAt
	ErrImmutableField = errors.New("field is immutable")
	// ErrUnknownKind indicates an entity kind outside lead/opportunity/visit
	ErrUnknownKind = errors.New("unknown entity kind")
)

// InvalidTransitionError describes a rejected stage change
type InvalidTransitionError struct {
	Kind   EntityKind
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %q -> %q: %s", e.Kind, e.From, e.To, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Upstream marks err as a record store failure for operation op
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
