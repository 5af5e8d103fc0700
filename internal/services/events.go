package services

import (
	"context"
	"time"

	"realtycrm/internal/crm"
)

// Record event types
const (
	EventRecordCreated      = "record.created"
	EventRecordUpdated      = "record.updated"
	EventRecordTransitioned = "record.transitioned"
	EventRecordDeleted      = "record.deleted"
)

// RecordEvent describes one applied write. It is fanned out to websocket
// subscribers on this instance and, when Redis is configured, to the other
// instances so they can drop their cached snapshots.
type RecordEvent struct {
	Type       string         `json:"type"`
	Kind       crm.EntityKind `json:"kind"`
	RecordID   string         `json:"recordId"`
	Record     *crm.Record    `json:"record,omitempty"`
	FromStage  string         `json:"fromStage,omitempty"`
	ToStage    string         `json:"toStage,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	InstanceID string         `json:"instanceId,omitempty"`
	At         time.Time      `json:"at"`
}

// Notifier receives record events after the store accepted the write
type Notifier interface {
	Notify(ctx context.Context, event RecordEvent)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event RecordEvent)

func (f NotifierFunc) Notify(ctx context.Context, event RecordEvent) { f(ctx, event) }
