package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"realtycrm/internal/database"
)

// ErrDocumentNotFound is returned by repositories when no document has the id
var ErrDocumentNotFound = errors.New("document not found")

// Match is an equality filter on stored field names
type Match map[string]any

// Repository persists one auxiliary collection (users, custom fields,
// templates and so on). Documents carry their own string _id.
type Repository[T any] interface {
	List(ctx context.Context, match Match) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Insert(ctx context.Context, id string, doc T) error
	Replace(ctx context.Context, id string, doc T) error
	Delete(ctx context.Context, id string) error
}

// MongoRepository stores documents in a MongoDB collection
type MongoRepository[T any] struct {
	collection *mongo.Collection
	sortField  string
	sortOrder  int
}

// NewMongoRepository returns a repository over collection name. Lists are
// sorted by sortField; a negative order sorts descending.
func NewMongoRepository[T any](db *database.MongoDB, name, sortField string, order int) *MongoRepository[T] {
	return &MongoRepository[T]{
		collection: db.Collection(name),
		sortField:  sortField,
		sortOrder:  order,
	}
}

func (r *MongoRepository[T]) List(ctx context.Context, match Match) ([]T, error) {
	filter := bson.M{}
	for k, v := range match {
		filter[k] = v
	}
	opts := options.Find()
	if r.sortField != "" {
		opts.SetSort(bson.D{{Key: r.sortField, Value: r.sortOrder}, {Key: "_id", Value: 1}})
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.collection.Name(), err)
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r.collection.Name(), err)
	}
	return out, nil
}

func (r *MongoRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var doc T
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return doc, fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, r.collection.Name(), id)
	}
	if err != nil {
		return doc, fmt.Errorf("failed to get %s: %w", r.collection.Name(), err)
	}
	return doc, nil
}

func (r *MongoRepository[T]) Insert(ctx context.Context, _ string, doc T) error {
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", r.collection.Name(), err)
	}
	return nil
}

func (r *MongoRepository[T]) Replace(ctx context.Context, id string, doc T) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", r.collection.Name(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, r.collection.Name(), id)
	}
	return nil
}

func (r *MongoRepository[T]) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", r.collection.Name(), err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, r.collection.Name(), id)
	}
	return nil
}

// MemoryRepository keeps documents in process, in insertion order. Match
// filters are evaluated against the documents' bson field names so both
// repositories accept the same queries.
type MemoryRepository[T any] struct {
	mu    sync.RWMutex
	docs  map[string]T
	order []string
}

func NewMemoryRepository[T any]() *MemoryRepository[T] {
	return &MemoryRepository[T]{docs: make(map[string]T)}
}

func (r *MemoryRepository[T]) List(ctx context.Context, match Match) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []T{}
	for _, id := range r.order {
		doc := r.docs[id]
		ok, err := matches(doc, match)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *MemoryRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (r *MemoryRepository[T]) Insert(ctx context.Context, id string, doc T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[id]; exists {
		return fmt.Errorf("duplicate id %s", id)
	}
	r.docs[id] = doc
	r.order = append(r.order, id)
	return nil
}

func (r *MemoryRepository[T]) Replace(ctx context.Context, id string, doc T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	r.docs[id] = doc
	return nil
}

func (r *MemoryRepository[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	delete(r.docs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// matches round-trips doc through bson so match keys refer to stored names.
// Values compare by their printed form, which covers the string and bool
// fields the services filter on.
func matches(doc any, match Match) (bool, error) {
	if len(match) == 0 {
		return true, nil
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to encode document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return false, fmt.Errorf("failed to decode document: %w", err)
	}
	for k, want := range match {
		got, ok := fields[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false, nil
		}
	}
	return true, nil
}
