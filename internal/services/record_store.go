package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"realtycrm/internal/crm"
	"realtycrm/internal/database"
	"realtycrm/internal/models"
)

// MongoRecordStore is the crm.RecordStore of one record collection
type MongoRecordStore struct {
	kind       crm.EntityKind
	machine    *crm.Machine
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoRecordStore creates the store for kind's collection
func NewMongoRecordStore(db *database.MongoDB, kind crm.EntityKind) (*MongoRecordStore, error) {
	name, err := database.RecordCollection(kind)
	if err != nil {
		return nil, err
	}
	machine, err := crm.MachineFor(kind)
	if err != nil {
		return nil, err
	}
	return &MongoRecordStore{
		kind:       kind,
		machine:    machine,
		collection: db.Collection(name),
		now:        time.Now,
	}, nil
}

// Kind implements crm.RecordStore
func (s *MongoRecordStore) Kind() crm.EntityKind { return s.kind }

// List returns every record sorted by creation time
func (s *MongoRecordStore) List(ctx context.Context) ([]crm.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, crm.Upstream("list", fmt.Errorf("failed to find %s: %w", s.kind.Plural(), err))
	}
	defer cursor.Close(ctx)

	var docs []models.RecordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, crm.Upstream("list", fmt.Errorf("failed to decode %s: %w", s.kind.Plural(), err))
	}

	records := make([]crm.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.ToRecord(s.kind))
	}
	return records, nil
}

// Get returns one record. Ids that are not ObjectIDs can't exist.
func (s *MongoRecordStore) Get(ctx context.Context, id string) (crm.Record, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return crm.Record{}, fmt.Errorf("%w: %s %s", crm.ErrNotFound, s.kind, id)
	}

	var doc models.RecordDocument
	err = s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return crm.Record{}, fmt.Errorf("%w: %s %s", crm.ErrNotFound, s.kind, id)
	}
	if err != nil {
		return crm.Record{}, crm.Upstream("get", fmt.Errorf("failed to find %s: %w", s.kind, err))
	}
	return doc.ToRecord(s.kind), nil
}

// Create inserts r under a new ObjectID, applying the same defaults as the
// memory store
func (s *MongoRecordStore) Create(ctx context.Context, r crm.Record) (crm.Record, error) {
	now := s.now().UTC()
	out := r.Clone()
	out.Kind = s.kind
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.Stage == "" {
		out.Stage = crm.DefaultStage(s.kind)
	}
	stage, ok := s.machine.Normalize(out.Stage)
	if !ok {
		return crm.Record{}, &crm.InvalidTransitionError{Kind: s.kind, To: out.Stage, Reason: "not a stage of this pipeline"}
	}
	out.Stage = stage
	if out.StageEnteredAt.IsZero() {
		out.StageEnteredAt = out.CreatedAt
	}

	doc := models.DocumentFromRecord(out)
	doc.ID = primitive.NewObjectID()
	doc.UpdatedAt = now
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return crm.Record{}, crm.Upstream("create", fmt.Errorf("failed to insert %s: %w", s.kind, err))
	}

	out.ID = doc.ID.Hex()
	return out, nil
}

// Update applies patch with $set/$unset on the touched paths only
func (s *MongoRecordStore) Update(ctx context.Context, id string, patch crm.Patch) (crm.Record, error) {
	if patch.Stage != nil && !s.machine.Contains(*patch.Stage) {
		return crm.Record{}, &crm.InvalidTransitionError{Kind: s.kind, To: *patch.Stage, Reason: "not a stage of this pipeline"}
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return crm.Record{}, err
	}
	updated, err := patch.ApplyTo(current)
	if err != nil {
		return crm.Record{}, err
	}

	update := updateDocument(patch, updated, s.now().UTC())
	oid, _ := primitive.ObjectIDFromHex(id)

	var doc models.RecordDocument
	err = s.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return crm.Record{}, fmt.Errorf("%w: %s %s", crm.ErrNotFound, s.kind, id)
	}
	if err != nil {
		return crm.Record{}, crm.Upstream("update", fmt.Errorf("failed to update %s: %w", s.kind, err))
	}
	return doc.ToRecord(s.kind), nil
}

// updateDocument builds the $set/$unset document for the fields patch
// touches, taking values from the already patched record
func updateDocument(patch crm.Patch, updated crm.Record, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	unset := bson.M{}

	if patch.Stage != nil {
		set["stage"] = updated.Stage
		set["stageEnteredAt"] = updated.StageEnteredAt
	}
	if patch.AssignedTo != nil {
		set["assignedTo"] = *updated.AssignedTo
	}
	if patch.Unassign {
		unset["assignedTo"] = ""
	}
	for key := range patch.Fields {
		path := models.BSONPath(key)
		if v, ok := updated.Field(key); ok {
			set[path] = v
		} else {
			unset[path] = ""
		}
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// Remove deletes a record
func (s *MongoRecordStore) Remove(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s %s", crm.ErrNotFound, s.kind, id)
	}
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return crm.Upstream("remove", fmt.Errorf("failed to delete %s: %w", s.kind, err))
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s %s", crm.ErrNotFound, s.kind, id)
	}
	return nil
}
