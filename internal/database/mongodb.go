package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"realtycrm/internal/crm"
)

const defaultDBName = "realtycrm"

// MongoDB wraps the MongoDB client and database
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
}

// Collection names
const (
	CollectionUsers             = "users"
	CollectionLeads             = "leads"
	CollectionOpportunities     = "opportunities"
	CollectionSiteVisits        = "site_visits"
	CollectionCustomFields      = "custom_fields"
	CollectionWhatsAppTemplates = "whatsapp_templates"
	CollectionWhatsAppMessages  = "whatsapp_messages"
	CollectionCampaigns         = "campaigns"
	CollectionCallLogs          = "call_logs"
	CollectionInteractions      = "interactions"
)

// RecordCollection returns the collection that holds records of kind
func RecordCollection(kind crm.EntityKind) (string, error) {
	switch kind {
	case crm.KindLead:
		return CollectionLeads, nil
	case crm.KindOpportunity:
		return CollectionOpportunities, nil
	case crm.KindVisit:
		return CollectionSiteVisits, nil
	}
	return "", fmt.Errorf("%w: %q", crm.ErrUnknownKind, kind)
}

// NewMongoDB connects to uri. The database name comes from the URI path,
// falling back to "realtycrm".
func NewMongoDB(uri string) (*MongoDB, error) {
	dbName, err := databaseName(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Printf("✅ Connected to MongoDB database: %s", dbName)
	return &MongoDB{client: client, database: client.Database(dbName)}, nil
}

func databaseName(uri string) (string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if cs.Database == "" {
		return defaultDBName, nil
	}
	return cs.Database, nil
}

func recordIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "stage", Value: 1}, {Key: "stageEnteredAt", Value: 1}}},
		{Keys: bson.D{{Key: "assignedTo", Value: 1}}},
		{Keys: bson.D{{Key: "phone", Value: 1}}},
	}
}

func byLead(timeField string) []mongo.IndexModel {
	return []mongo.IndexModel{{Keys: bson.D{{Key: "leadId", Value: 1}, {Key: timeField, Value: -1}}}}
}

// collectionIndexes lists the indexes Initialize ensures per collection
var collectionIndexes = map[string][]mongo.IndexModel{
	CollectionUsers: {
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "isActive", Value: 1}}},
	},
	CollectionLeads:         recordIndexes(),
	CollectionOpportunities: recordIndexes(),
	CollectionSiteVisits:    recordIndexes(),
	CollectionCustomFields: {
		{Keys: bson.D{{Key: "entity", Value: 1}, {Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	CollectionWhatsAppTemplates: {
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "language", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	CollectionWhatsAppMessages: append(byLead("createdAt"),
		mongo.IndexModel{Keys: bson.D{{Key: "campaignId", Value: 1}}}),
	CollectionCampaigns: {
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	},
	CollectionCallLogs:     byLead("calledAt"),
	CollectionInteractions: byLead("occurredAt"),
}

// Initialize creates indexes for all collections
func (m *MongoDB) Initialize(ctx context.Context) error {
	log.Println("📦 Initializing MongoDB indexes...")
	for name, indexes := range collectionIndexes {
		if _, err := m.database.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}
	log.Printf("✅ MongoDB indexes initialized (%d collections)", len(collectionIndexes))
	return nil
}

// Collection returns a collection handle
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 Closing MongoDB connection...")
	return m.client.Disconnect(ctx)
}

// Ping checks if the database connection is alive
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
