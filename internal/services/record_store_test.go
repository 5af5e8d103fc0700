package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"realtycrm/internal/crm"
	"realtycrm/internal/models"
)

func TestUpdateDocument(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	current := crm.NewRecord(crm.KindLead, now.AddDate(0, 0, -5))
	exec := "user-7"
	current.AssignedTo = &exec
	current.Attrs = map[string]any{crm.AttrNotes: "call after 6pm"}

	patch := crm.StagePatch(crm.LeadContacted, now)
	patch.Unassign = true
	patch.Fields = map[string]any{
		crm.FieldLocation: "Whitefield",
		crm.AttrNotes:     nil,
		"cf.budgetBand":   "80L-1Cr",
	}
	updated, err := patch.ApplyTo(current)
	if err != nil {
		t.Fatalf("Failed to apply patch: %v", err)
	}

	doc := updateDocument(patch, updated, now)
	set, ok := doc["$set"].(bson.M)
	if !ok {
		t.Fatalf("Expected $set document, got %v", doc)
	}
	unset, ok := doc["$unset"].(bson.M)
	if !ok {
		t.Fatalf("Expected $unset document, got %v", doc)
	}

	if set["stage"] != crm.LeadContacted {
		t.Errorf("Expected stage %q, got %v", crm.LeadContacted, set["stage"])
	}
	if set["stageEnteredAt"] != now {
		t.Errorf("Expected stageEnteredAt %v, got %v", now, set["stageEnteredAt"])
	}
	if set["location"] != "Whitefield" {
		t.Errorf("Expected location Whitefield, got %v", set["location"])
	}
	if set["attrs.cf.budgetBand"] != "80L-1Cr" {
		t.Errorf("Expected custom field under attrs, got %v", set["attrs.cf.budgetBand"])
	}
	if _, ok := unset["assignedTo"]; !ok {
		t.Error("Expected assignedTo to be unset")
	}
	if _, ok := unset["attrs."+crm.AttrNotes]; !ok {
		t.Error("Expected notes to be unset")
	}
	if _, ok := set["name"]; ok {
		t.Error("Expected untouched fields to stay out of $set")
	}
}

func TestUpdateDocument_NoUnsetWhenNothingRemoved(t *testing.T) {
	now := time.Now().UTC()
	current := crm.NewRecord(crm.KindVisit, now)
	patch := crm.Patch{Fields: map[string]any{crm.FieldName: "Tower B walkthrough"}}
	updated, _ := patch.ApplyTo(current)

	doc := updateDocument(patch, updated, now)
	if _, ok := doc["$unset"]; ok {
		t.Errorf("Expected no $unset, got %v", doc["$unset"])
	}
}

func TestBSONPath(t *testing.T) {
	tests := map[string]string{
		crm.FieldStage:       "stage",
		crm.FieldValue:       "value",
		crm.AttrScheduledAt:  "attrs.scheduledAt",
		"cf.floorPreference": "attrs.cf.floorPreference",
	}
	for field, want := range tests {
		if got := models.BSONPath(field); got != want {
			t.Errorf("BSONPath(%q): expected %q, got %q", field, want, got)
		}
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository[models.Interaction]()
	ctx := context.Background()

	items := []models.Interaction{
		{ID: "a", LeadID: "lead-1", Type: models.InteractionNote, Summary: "first"},
		{ID: "b", LeadID: "lead-2", Type: models.InteractionNote, Summary: "second"},
		{ID: "c", LeadID: "lead-1", Type: models.InteractionEmail, Summary: "third"},
	}
	for _, it := range items {
		if err := repo.Insert(ctx, it.ID, it); err != nil {
			t.Fatalf("Failed to insert %s: %v", it.ID, err)
		}
	}
	if err := repo.Insert(ctx, "a", items[0]); err == nil {
		t.Error("Expected duplicate insert to fail")
	}

	got, err := repo.List(ctx, Match{"leadId": "lead-1"})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Expected [a c] in insertion order, got %+v", got)
	}

	got, _ = repo.List(ctx, Match{"leadId": "lead-1", "type": models.InteractionEmail})
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Expected [c], got %+v", got)
	}

	updated := items[1]
	updated.Summary = "edited"
	if err := repo.Replace(ctx, "b", updated); err != nil {
		t.Fatalf("Failed to replace: %v", err)
	}
	b, _ := repo.Get(ctx, "b")
	if b.Summary != "edited" {
		t.Errorf("Expected edited summary, got %q", b.Summary)
	}

	if err := repo.Delete(ctx, "a"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := repo.Get(ctx, "a"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound, got %v", err)
	}
	if err := repo.Replace(ctx, "a", items[0]); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound on replace, got %v", err)
	}
	all, _ := repo.List(ctx, nil)
	if len(all) != 2 {
		t.Errorf("Expected 2 documents left, got %d", len(all))
	}
}
