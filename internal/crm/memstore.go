package crm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process RecordStore. It backs tests and the
// development server when no MongoDB is configured. IDs are random UUIDs and
// are never handed out twice.
type MemoryStore struct {
	kind    EntityKind
	machine *Machine
	now     func() time.Time

	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty store for kind
func NewMemoryStore(kind EntityKind) (*MemoryStore, error) {
	m, err := MachineFor(kind)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		kind:    kind,
		machine: m,
		now:     time.Now,
		records: make(map[string]Record),
	}, nil
}

// WithClock replaces the time source used for defaults
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Kind implements RecordStore
func (s *MemoryStore) Kind() EntityKind { return s.kind }

// List returns records in insertion order
func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Upstream("list", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// Get returns one record
func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, Upstream("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	return r.Clone(), nil
}

// Create stores r under a fresh ID, filling in timestamps and the default stage
func (s *MemoryStore) Create(ctx context.Context, r Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, Upstream("create", err)
	}
	now := s.now()
	out := r.Clone()
	out.ID = uuid.NewString()
	out.Kind = s.kind
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.Stage == "" {
		out.Stage = DefaultStage(s.kind)
	}
	stage, ok := s.machine.Normalize(out.Stage)
	if !ok {
		return Record{}, &InvalidTransitionError{Kind: s.kind, To: out.Stage, Reason: "not a stage of this pipeline"}
	}
	out.Stage = stage
	if out.StageEnteredAt.IsZero() {
		out.StageEnteredAt = out.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[out.ID] = out
	s.order = append(s.order, out.ID)
	return out.Clone(), nil
}

// Update applies patch to the stored record
func (s *MemoryStore) Update(ctx context.Context, id string, patch Patch) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, Upstream("update", err)
	}
	if patch.Stage != nil && !s.machine.Contains(*patch.Stage) {
		return Record{}, &InvalidTransitionError{Kind: s.kind, To: *patch.Stage, Reason: "not a stage of this pipeline"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	updated, err := patch.ApplyTo(current)
	if err != nil {
		return Record{}, err
	}
	s.records[id] = updated
	return updated.Clone(), nil
}

// Remove deletes a record. Its ID is not reused.
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return Upstream("remove", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, s.kind, id)
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
