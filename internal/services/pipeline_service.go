package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
	"realtycrm/internal/crm/view"
	"realtycrm/internal/logging"
	"realtycrm/internal/models"
)

// DefaultSnapshotTTL bounds how stale a cached record list may get when
// another process writes to the same database without telling us
const DefaultSnapshotTTL = 30 * time.Second

// PipelineService is the entry point for everything that reads or writes
// leads, opportunities and site visits. Reads work on a cached snapshot of
// the collection; writes go through the record store one request per record
// at a time and drop the snapshot afterwards.
type PipelineService struct {
	stores   map[crm.EntityKind]crm.RecordStore
	machines map[crm.EntityKind]*crm.Machine
	schemas  map[crm.EntityKind]*filter.Schema

	history   HistoryRecorder
	notifiers []Notifier
	metrics   *Metrics
	now       func() time.Time

	snapshots *cache.Cache
	genMu     sync.Mutex
	gen       map[crm.EntityKind]uint64
	locks     *keyedMutex
}

// NewPipelineService wires one store per entity kind with the default stage
// machines and filter schemas
func NewPipelineService(snapshotTTL time.Duration, stores ...crm.RecordStore) (*PipelineService, error) {
	if snapshotTTL <= 0 {
		snapshotTTL = DefaultSnapshotTTL
	}
	s := &PipelineService{
		stores:    make(map[crm.EntityKind]crm.RecordStore, len(stores)),
		machines:  make(map[crm.EntityKind]*crm.Machine, len(stores)),
		schemas:   make(map[crm.EntityKind]*filter.Schema, len(stores)),
		now:       time.Now,
		snapshots: cache.New(snapshotTTL, 2*snapshotTTL),
		gen:       make(map[crm.EntityKind]uint64),
		locks:     newKeyedMutex(),
	}
	for _, st := range stores {
		kind := st.Kind()
		m, err := crm.MachineFor(kind)
		if err != nil {
			return nil, err
		}
		schema, err := filter.SchemaFor(kind)
		if err != nil {
			return nil, err
		}
		s.stores[kind] = st
		s.machines[kind] = m
		s.schemas[kind] = schema
	}
	return s, nil
}

// SetMachine replaces the stage machine of m's kind, e.g. with one that has
// a transition table attached
func (s *PipelineService) SetMachine(m *crm.Machine) {
	s.machines[m.Kind()] = m
}

// SetSchema replaces the filter schema of its kind
func (s *PipelineService) SetSchema(schema *filter.Schema) {
	s.schemas[schema.Kind()] = schema
}

// SetHistory enables stage history recording
func (s *PipelineService) SetHistory(h HistoryRecorder) {
	s.history = h
}

// AddNotifier registers a receiver for record events
func (s *PipelineService) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

func (s *PipelineService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *PipelineService) SetClock(now func() time.Time) {
	s.now = now
}

// Kinds lists the entity kinds this service has stores for
func (s *PipelineService) Kinds() []crm.EntityKind {
	out := make([]crm.EntityKind, 0, len(s.stores))
	for _, k := range crm.Kinds {
		if _, ok := s.stores[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (s *PipelineService) store(kind crm.EntityKind) (crm.RecordStore, error) {
	st, ok := s.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", crm.ErrUnknownKind, kind)
	}
	return st, nil
}

// Machine returns the stage machine used for kind
func (s *PipelineService) Machine(kind crm.EntityKind) (*crm.Machine, error) {
	m, ok := s.machines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", crm.ErrUnknownKind, kind)
	}
	return m, nil
}

// Schema returns the filter schema used for kind
func (s *PipelineService) Schema(kind crm.EntityKind) (*filter.Schema, error) {
	schema, ok := s.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", crm.ErrUnknownKind, kind)
	}
	return schema, nil
}

// Snapshot returns the current record collection. The slice is shared with
// other readers and must not be modified.
func (s *PipelineService) Snapshot(ctx context.Context, kind crm.EntityKind) ([]crm.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.snapshots.Get(string(kind)); ok {
		s.metrics.RecordCacheLookup(string(kind), true)
		return cached.([]crm.Record), nil
	}
	s.metrics.RecordCacheLookup(string(kind), false)

	gen := s.generation(kind)
	records, err := st.List(ctx)
	if err != nil {
		return nil, err
	}

	// a write that landed while we were reading makes this list stale
	s.genMu.Lock()
	if s.gen[kind] == gen {
		s.snapshots.SetDefault(string(kind), records)
	}
	s.genMu.Unlock()
	return records, nil
}

func (s *PipelineService) generation(kind crm.EntityKind) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen[kind]
}

// Invalidate drops the cached snapshot of kind
func (s *PipelineService) Invalidate(kind crm.EntityKind) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gen[kind]++
	s.snapshots.Delete(string(kind))
}

// List filters, sorts and paginates the collection
func (s *PipelineService) List(ctx context.Context, kind crm.EntityKind, state view.ListState) (view.Page[crm.Record], error) {
	records, err := s.Snapshot(ctx, kind)
	if err != nil {
		return view.Page[crm.Record]{}, err
	}
	schema, err := s.Schema(kind)
	if err != nil {
		return view.Page[crm.Record]{}, err
	}

	start := time.Now()
	page := state.Run(records, schema, s.now())
	s.metrics.ObserveList(string(kind), time.Since(start).Seconds())
	return page, nil
}

// Filtered returns every record matching filters in sort order
func (s *PipelineService) Filtered(ctx context.Context, kind crm.EntityKind, filters filter.State, sort view.SortState) ([]crm.Record, error) {
	records, err := s.Snapshot(ctx, kind)
	if err != nil {
		return nil, err
	}
	schema, err := s.Schema(kind)
	if err != nil {
		return nil, err
	}
	return view.Sort(filter.Apply(records, filters, schema, s.now()), sort), nil
}

// Get returns one record
func (s *PipelineService) Get(ctx context.Context, kind crm.EntityKind, id string) (crm.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return crm.Record{}, err
	}
	return st.Get(ctx, id)
}

// Create stores a new record. Its initial stage is recorded in the history
// as a move from "".
func (s *PipelineService) Create(ctx context.Context, kind crm.EntityKind, r crm.Record, actor string) (crm.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return crm.Record{}, err
	}
	m, _ := s.Machine(kind)
	if r.Stage != "" {
		stage, ok := m.Normalize(r.Stage)
		if !ok {
			return crm.Record{}, &crm.InvalidTransitionError{Kind: kind, To: r.Stage, Reason: "not a stage of this pipeline"}
		}
		r.Stage = stage
	}

	created, err := st.Create(ctx, r)
	if err != nil {
		return crm.Record{}, err
	}
	s.Invalidate(kind)
	s.metrics.RecordWrite(string(kind), "create")
	s.recordHistory(ctx, kind, created.ID, "", created.Stage, actor, created.StageEnteredAt)
	s.notify(ctx, RecordEvent{Type: EventRecordCreated, Kind: kind, RecordID: created.ID, Record: &created, ToStage: created.Stage, Actor: actor})

	log.Printf("✅ [PIPELINE] Created %s %s in stage %q", kind, created.ID, created.Stage)
	return created, nil
}

// Update applies a field patch. A non-empty stage is run through the stage
// machine first and written in the same store call as the fields.
func (s *PipelineService) Update(ctx context.Context, kind crm.EntityKind, id string, patch crm.Patch, stage, actor string) (crm.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return crm.Record{}, err
	}
	if err := patch.Validate(); err != nil {
		return crm.Record{}, err
	}

	unlock := s.locks.Lock(lockKey(kind, id))
	defer unlock()

	current, err := st.Get(ctx, id)
	if err != nil {
		return crm.Record{}, err
	}

	from := ""
	if stage != "" {
		m, _ := s.Machine(kind)
		next, err := m.Transition(current, stage, s.now())
		if err != nil {
			s.metrics.RecordTransitionFailure(string(kind), failureReason(err))
			return current, err
		}
		// an echoed unchanged stage is a field value, not a move
		if next.Stage != current.Stage {
			patch.Stage = &next.Stage
			patch.StageEnteredAt = &next.StageEnteredAt
			from = current.Stage
		}
	}
	if patch.IsEmpty() {
		return current, nil
	}

	updated, err := st.Update(ctx, id, patch)
	if err != nil {
		return current, err
	}
	s.Invalidate(kind)
	s.metrics.RecordWrite(string(kind), "update")

	event := RecordEvent{Type: EventRecordUpdated, Kind: kind, RecordID: id, Record: &updated, Actor: actor}
	if patch.Stage != nil {
		s.afterTransition(ctx, kind, from, updated, actor)
		event.FromStage, event.ToStage = from, updated.Stage
	}
	s.notify(ctx, event)
	return updated, nil
}

// RequestTransition moves a record to stage. On failure the stored record is
// returned unchanged along with the error. Every accepted request restarts
// the stage clock; a request for the current stage writes no history row.
func (s *PipelineService) RequestTransition(ctx context.Context, kind crm.EntityKind, id, stage, actor string) (crm.Record, error) {
	st, err := s.store(kind)
	if err != nil {
		return crm.Record{}, err
	}
	m, _ := s.Machine(kind)

	unlock := s.locks.Lock(lockKey(kind, id))
	defer unlock()

	current, err := st.Get(ctx, id)
	if err != nil {
		s.metrics.RecordTransitionFailure(string(kind), failureReason(err))
		return crm.Record{}, err
	}

	next, err := m.Transition(current, stage, s.now())
	if err != nil {
		s.metrics.RecordTransitionFailure(string(kind), failureReason(err))
		return current, err
	}
	updated, err := st.Update(ctx, id, crm.StagePatch(next.Stage, next.StageEnteredAt))
	if err != nil {
		s.metrics.RecordTransitionFailure(string(kind), failureReason(err))
		return current, err
	}
	s.Invalidate(kind)
	if updated.Stage != current.Stage {
		s.afterTransition(ctx, kind, current.Stage, updated, actor)
	}
	s.notify(ctx, RecordEvent{
		Type:      EventRecordTransitioned,
		Kind:      kind,
		RecordID:  id,
		Record:    &updated,
		FromStage: current.Stage,
		ToStage:   updated.Stage,
		Actor:     actor,
	})

	log.Printf("🔀 [PIPELINE] %s %s moved %q -> %q", kind, id, current.Stage, updated.Stage)
	return updated, nil
}

// Remove deletes a record. Its history stays.
func (s *PipelineService) Remove(ctx context.Context, kind crm.EntityKind, id, actor string) error {
	st, err := s.store(kind)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(lockKey(kind, id))
	defer unlock()

	if err := st.Remove(ctx, id); err != nil {
		return err
	}
	s.Invalidate(kind)
	s.metrics.RecordWrite(string(kind), "delete")
	s.notify(ctx, RecordEvent{Type: EventRecordDeleted, Kind: kind, RecordID: id, Actor: actor})

	log.Printf("🗑️ [PIPELINE] Removed %s %s", kind, id)
	return nil
}

// Summary computes per-stage statistics over the records matching filters
func (s *PipelineService) Summary(ctx context.Context, kind crm.EntityKind, filters filter.State) (crm.Summary, error) {
	records, err := s.Filtered(ctx, kind, filters, view.Unsorted)
	if err != nil {
		return crm.Summary{}, err
	}
	m, _ := s.Machine(kind)
	return crm.Summarize(records, m, s.now()), nil
}

// Aging buckets the records matching filters by time in their current stage
func (s *PipelineService) Aging(ctx context.Context, kind crm.EntityKind, filters filter.State) ([]crm.BucketCount, error) {
	records, err := s.Filtered(ctx, kind, filters, view.Unsorted)
	if err != nil {
		return nil, err
	}
	return crm.AgingDistribution(records, s.now()), nil
}

// History returns the stage changes of one record, oldest first
func (s *PipelineService) History(ctx context.Context, kind crm.EntityKind, id string) ([]models.StageHistoryEntry, error) {
	if _, err := s.store(kind); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []models.StageHistoryEntry{}, nil
	}
	return s.history.List(ctx, kind, id)
}

func (s *PipelineService) afterTransition(ctx context.Context, kind crm.EntityKind, from string, updated crm.Record, actor string) {
	s.metrics.RecordTransition(string(kind), updated.Stage)
	s.recordHistory(ctx, kind, updated.ID, from, updated.Stage, actor, updated.StageEnteredAt)
}

// recordHistory never fails the write: the record is already stored
func (s *PipelineService) recordHistory(ctx context.Context, kind crm.EntityKind, id, from, to, actor string, at time.Time) {
	if s.history == nil {
		return
	}
	_, err := s.history.Append(ctx, models.StageHistoryEntry{
		Kind:      string(kind),
		RecordID:  id,
		FromStage: from,
		ToStage:   to,
		ChangedBy: actor,
		ChangedAt: at,
	})
	if err != nil {
		logging.WithRecord(string(kind), id).Warn("failed to record stage history", "from", from, "to", to, "error", err)
	}
}

func (s *PipelineService) notify(ctx context.Context, event RecordEvent) {
	if event.At.IsZero() {
		event.At = s.now()
	}
	for _, n := range s.notifiers {
		n.Notify(ctx, event)
	}
}

func lockKey(kind crm.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, crm.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, crm.ErrNotFound):
		return "not_found"
	default:
		return "upstream"
	}
}
