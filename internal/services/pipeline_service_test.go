package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
	"realtycrm/internal/crm/view"
	"realtycrm/internal/database"
)

type testPipeline struct {
	*PipelineService
	stores  map[crm.EntityKind]*crm.MemoryStore
	history *HistoryService
	metrics *Metrics
	events  *eventLog
	now     time.Time
}

type eventLog struct {
	mu     sync.Mutex
	events []RecordEvent
}

func (l *eventLog) Notify(_ context.Context, event RecordEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []RecordEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RecordEvent(nil), l.events...)
}

func newTestHistory(t *testing.T) *HistoryService {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open history database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize history database: %v", err)
	}
	return NewHistoryService(db)
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	stores := make(map[crm.EntityKind]*crm.MemoryStore)
	var list []crm.RecordStore
	for _, kind := range crm.Kinds {
		st, err := crm.NewMemoryStore(kind)
		if err != nil {
			t.Fatalf("Failed to create %s store: %v", kind, err)
		}
		st.WithClock(func() time.Time { return now })
		stores[kind] = st
		list = append(list, st)
	}

	p, err := NewPipelineService(time.Minute, list...)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	p.SetClock(func() time.Time { return now })

	tp := &testPipeline{
		PipelineService: p,
		stores:          stores,
		history:         newTestHistory(t),
		metrics:         NewMetrics(prometheus.NewRegistry(), nil),
		events:          &eventLog{},
		now:             now,
	}
	p.SetHistory(tp.history)
	p.SetMetrics(tp.metrics)
	p.AddNotifier(tp.events)
	return tp
}

func (tp *testPipeline) createLead(t *testing.T, name string) crm.Record {
	t.Helper()
	r := crm.NewRecord(crm.KindLead, tp.now.AddDate(0, 0, -3))
	r.Name = name
	r.Phone = "+91 98450 00000"
	created, err := tp.Create(context.Background(), crm.KindLead, r, "user-1")
	if err != nil {
		t.Fatalf("Failed to create lead: %v", err)
	}
	return created
}

func TestPipeline_CreateRecordsInitialStage(t *testing.T) {
	tp := newTestPipeline(t)
	lead := tp.createLead(t, "Asha Rao")

	if lead.Stage != crm.LeadNew {
		t.Errorf("Expected stage %q, got %q", crm.LeadNew, lead.Stage)
	}

	history, err := tp.History(context.Background(), crm.KindLead, lead.ID)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0].FromStage != "" || history[0].ToStage != crm.LeadNew {
		t.Errorf("Expected \"\" -> new, got %q -> %q", history[0].FromStage, history[0].ToStage)
	}

	events := tp.events.all()
	if len(events) != 1 || events[0].Type != EventRecordCreated {
		t.Fatalf("Expected one created event, got %+v", events)
	}
}

func TestPipeline_CreateRejectsUnknownStage(t *testing.T) {
	tp := newTestPipeline(t)
	r := crm.NewRecord(crm.KindLead, tp.now)
	r.Name = "Ravi"
	r.Stage = "won"

	_, err := tp.Create(context.Background(), crm.KindLead, r, "user-1")
	if !errors.Is(err, crm.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestPipeline_RequestTransition(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	updated, err := tp.RequestTransition(ctx, crm.KindLead, lead.ID, "Contacted", "user-2")
	require.NoError(t, err)
	require.Equal(t, crm.LeadContacted, updated.Stage)
	require.True(t, updated.StageEnteredAt.Equal(tp.now), "stage entry time should be the transition time")

	stored, err := tp.Get(ctx, crm.KindLead, lead.ID)
	require.NoError(t, err)
	require.Equal(t, crm.LeadContacted, stored.Stage)

	history, err := tp.History(ctx, crm.KindLead, lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, crm.LeadNew, history[1].FromStage)
	require.Equal(t, crm.LeadContacted, history[1].ToStage)
	require.Equal(t, "user-2", history[1].ChangedBy)

	events := tp.events.all()
	last := events[len(events)-1]
	require.Equal(t, EventRecordTransitioned, last.Type)
	require.Equal(t, crm.LeadNew, last.FromStage)
	require.Equal(t, crm.LeadContacted, last.ToStage)

	require.Equal(t, 1.0, testutil.ToFloat64(tp.metrics.Transitions.WithLabelValues("lead", crm.LeadContacted)))
}

func TestPipeline_TransitionToSameStageRestartsClock(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	later := tp.now.Add(48 * time.Hour)
	tp.SetClock(func() time.Time { return later })
	got, err := tp.RequestTransition(ctx, crm.KindLead, lead.ID, crm.LeadNew, "user-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Stage != crm.LeadNew {
		t.Errorf("Expected stage %q, got %q", crm.LeadNew, got.Stage)
	}
	if !got.StageEnteredAt.Equal(later) {
		t.Errorf("Expected stage entry time %v, got %v", later, got.StageEnteredAt)
	}

	stored, err := tp.Get(ctx, crm.KindLead, lead.ID)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !stored.StageEnteredAt.Equal(later) {
		t.Errorf("Expected stored stage entry time %v, got %v", later, stored.StageEnteredAt)
	}

	history, _ := tp.History(ctx, crm.KindLead, lead.ID)
	if len(history) != 1 {
		t.Errorf("Expected no new history entry, got %d entries", len(history))
	}
}

func TestPipeline_UpdateWithUnchangedStageKeepsClock(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	tp.SetClock(func() time.Time { return tp.now.Add(48 * time.Hour) })
	patch := crm.Patch{Fields: map[string]any{"phone": "+91 98450 00000"}}
	got, err := tp.Update(ctx, crm.KindLead, lead.ID, patch, crm.LeadNew, "user-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !got.StageEnteredAt.Equal(lead.StageEnteredAt) {
		t.Errorf("Expected stage entry time to stay %v, got %v", lead.StageEnteredAt, got.StageEnteredAt)
	}
}

func TestPipeline_InvalidTransitionReturnsStoredRecord(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	m, _ := crm.MachineFor(crm.KindLead)
	restricted, err := m.WithTransitions(map[string][]string{
		crm.LeadNew: {crm.LeadContacted, crm.LeadDisqualified},
	})
	if err != nil {
		t.Fatalf("Failed to build transition table: %v", err)
	}
	tp.SetMachine(restricted)

	got, err := tp.RequestTransition(ctx, crm.KindLead, lead.ID, crm.LeadConverted, "user-1")
	if !errors.Is(err, crm.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	if got.ID != lead.ID || got.Stage != crm.LeadNew {
		t.Errorf("Expected the unchanged record back, got %+v", got)
	}

	stored, _ := tp.Get(ctx, crm.KindLead, lead.ID)
	if stored.Stage != crm.LeadNew {
		t.Errorf("Expected stored stage to stay %q, got %q", crm.LeadNew, stored.Stage)
	}
	if v := testutil.ToFloat64(tp.metrics.TransitionFailures.WithLabelValues("lead", "invalid")); v != 1 {
		t.Errorf("Expected 1 invalid transition failure, got %v", v)
	}
}

func TestPipeline_TransitionUnknownStage(t *testing.T) {
	tp := newTestPipeline(t)
	lead := tp.createLead(t, "Asha Rao")

	_, err := tp.RequestTransition(context.Background(), crm.KindLead, lead.ID, "Booking", "user-1")
	if !errors.Is(err, crm.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition for a stage of another pipeline, got %v", err)
	}
}

func TestPipeline_TransitionMissingRecord(t *testing.T) {
	tp := newTestPipeline(t)

	_, err := tp.RequestTransition(context.Background(), crm.KindLead, "missing", crm.LeadContacted, "user-1")
	if !errors.Is(err, crm.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestPipeline_UpdateWithStage(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	patch := crm.Patch{Fields: map[string]any{crm.FieldLocation: "Whitefield"}}
	updated, err := tp.Update(ctx, crm.KindLead, lead.ID, patch, crm.LeadQualified, "user-1")
	require.NoError(t, err)
	require.Equal(t, "Whitefield", updated.Location)
	require.Equal(t, crm.LeadQualified, updated.Stage)

	history, err := tp.History(ctx, crm.KindLead, lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	events := tp.events.all()
	last := events[len(events)-1]
	require.Equal(t, EventRecordUpdated, last.Type)
	require.Equal(t, crm.LeadQualified, last.ToStage)
}

func TestPipeline_UpdateRejectsLoneStageField(t *testing.T) {
	tp := newTestPipeline(t)
	lead := tp.createLead(t, "Asha Rao")

	patch := crm.Patch{Fields: map[string]any{crm.FieldStage: crm.LeadQualified}}
	_, err := tp.Update(context.Background(), crm.KindLead, lead.ID, patch, "", "user-1")
	if !errors.Is(err, crm.ErrStageWithoutTimestamp) {
		t.Fatalf("Expected ErrStageWithoutTimestamp, got %v", err)
	}
}

func TestPipeline_SnapshotCacheAndInvalidate(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	tp.createLead(t, "Asha Rao")

	first, err := tp.Snapshot(ctx, crm.KindLead)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(first))
	}

	// a write behind the pipeline's back stays invisible until invalidated
	r := crm.NewRecord(crm.KindLead, tp.now)
	r.Name = "Direct"
	if _, err := tp.stores[crm.KindLead].Create(ctx, r); err != nil {
		t.Fatalf("Failed to write to store: %v", err)
	}
	cached, _ := tp.Snapshot(ctx, crm.KindLead)
	if len(cached) != 1 {
		t.Errorf("Expected cached snapshot of 1 record, got %d", len(cached))
	}

	tp.Invalidate(crm.KindLead)
	fresh, _ := tp.Snapshot(ctx, crm.KindLead)
	if len(fresh) != 2 {
		t.Errorf("Expected 2 records after invalidation, got %d", len(fresh))
	}

	if v := testutil.ToFloat64(tp.metrics.SnapshotCache.WithLabelValues("lead", "hit")); v != 1 {
		t.Errorf("Expected 1 cache hit, got %v", v)
	}
}

func TestPipeline_WritesInvalidateSnapshot(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	if _, err := tp.Snapshot(ctx, crm.KindLead); err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if _, err := tp.RequestTransition(ctx, crm.KindLead, lead.ID, crm.LeadContacted, "user-1"); err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}

	records, _ := tp.Snapshot(ctx, crm.KindLead)
	if records[0].Stage != crm.LeadContacted {
		t.Errorf("Expected snapshot to show %q, got %q", crm.LeadContacted, records[0].Stage)
	}

	if err := tp.Remove(ctx, crm.KindLead, lead.ID, "user-1"); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	records, _ = tp.Snapshot(ctx, crm.KindLead)
	if len(records) != 0 {
		t.Errorf("Expected empty snapshot after remove, got %d", len(records))
	}
}

func TestPipeline_ListAppliesDefaultsAndPaging(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	for _, name := range []string{"Charu", "Asha", "Bina"} {
		tp.createLead(t, name)
	}
	old := crm.NewRecord(crm.KindLead, tp.now.AddDate(0, -3, 0))
	old.Name = "Old lead"
	if _, err := tp.Create(ctx, crm.KindLead, old, "user-1"); err != nil {
		t.Fatalf("Failed to create lead: %v", err)
	}

	schema, _ := tp.Schema(crm.KindLead)
	state := view.NewListState(schema, 2).WithSort(view.SortState{Key: crm.FieldName, Direction: view.Asc})

	page, err := tp.List(ctx, crm.KindLead, state)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Expected 3 leads in the last 30 days, got %d", page.Total)
	}
	if page.TotalPages != 2 {
		t.Errorf("Expected 2 pages, got %d", page.TotalPages)
	}
	if len(page.Items) != 2 || page.Items[0].Name != "Asha" || page.Items[1].Name != "Bina" {
		t.Errorf("Expected [Asha Bina], got %+v", page.Items)
	}
}

func TestPipeline_SummaryAndAging(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	a := tp.createLead(t, "Asha")
	tp.createLead(t, "Bina")
	if _, err := tp.RequestTransition(ctx, crm.KindLead, a.ID, crm.LeadContacted, "user-1"); err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}

	sum, err := tp.Summary(ctx, crm.KindLead, filter.State{})
	if err != nil {
		t.Fatalf("Failed to summarise: %v", err)
	}
	if sum.Total != 2 {
		t.Errorf("Expected total 2, got %d", sum.Total)
	}
	if sum.Stages[0].Count != 1 || sum.Stages[1].Count != 1 {
		t.Errorf("Expected one lead in new and one in contacted, got %d and %d", sum.Stages[0].Count, sum.Stages[1].Count)
	}

	buckets, err := tp.Aging(ctx, crm.KindLead, filter.State{})
	if err != nil {
		t.Fatalf("Failed to compute aging: %v", err)
	}
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	if total != 2 {
		t.Errorf("Expected aging buckets to cover 2 leads, got %d", total)
	}
}

func TestPipeline_UnknownKind(t *testing.T) {
	st, _ := crm.NewMemoryStore(crm.KindLead)
	p, err := NewPipelineService(0, st)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	if _, err := p.Get(context.Background(), crm.KindVisit, "x"); !errors.Is(err, crm.ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
	if kinds := p.Kinds(); len(kinds) != 1 || kinds[0] != crm.KindLead {
		t.Errorf("Expected [lead], got %v", kinds)
	}
}

func TestPipeline_ConcurrentTransitionsSerialise(t *testing.T) {
	tp := newTestPipeline(t)
	ctx := context.Background()
	lead := tp.createLead(t, "Asha Rao")

	stages := []string{crm.LeadContacted, crm.LeadQualified, crm.LeadNurturing, crm.LeadConverted}
	var wg sync.WaitGroup
	for _, stage := range stages {
		wg.Add(1)
		go func(stage string) {
			defer wg.Done()
			if _, err := tp.RequestTransition(ctx, crm.KindLead, lead.ID, stage, "user-1"); err != nil {
				t.Errorf("Transition to %s failed: %v", stage, err)
			}
		}(stage)
	}
	wg.Wait()

	history, err := tp.History(ctx, crm.KindLead, lead.ID)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != len(stages)+1 {
		t.Fatalf("Expected %d history entries, got %d", len(stages)+1, len(history))
	}
	// each move starts where the previous one ended
	for i := 1; i < len(history); i++ {
		if history[i].FromStage != history[i-1].ToStage {
			t.Errorf("History entry %d starts at %q, previous ended at %q", i, history[i].FromStage, history[i-1].ToStage)
		}
	}
	if tp.locks.size() != 0 {
		t.Errorf("Expected record locks to be released, %d left", tp.locks.size())
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("lead/1")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("lead/1")
		close(acquired)
		u()
	}()

	// other keys are independent
	k.Lock("lead/2")()

	select {
	case <-acquired:
		t.Fatal("Expected second lock on the same key to wait")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Expected second lock to be acquired after unlock")
	}

	deadline := time.Now().Add(time.Second)
	for k.size() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if k.size() != 0 {
		t.Errorf("Expected no lock entries left, got %d", k.size())
	}
}
