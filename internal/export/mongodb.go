// internal/export/mongodb.go
package export

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
)

const mongoConnectTimeout = 10 * time.Second

// MongoWriter archives change events and failure patterns to MongoDB.
// Documents are upserted by their source IDs, so re-running an export
// over an overlapping window rewrites rather than duplicates.
type MongoWriter struct {
	client   *mongo.Client
	events   *mongo.Collection
	patterns *mongo.Collection
}

// NewMongoWriter connects and pings before returning, so a bad DSN
// fails here rather than inside Write.
func NewMongoWriter(cfg config.DatabaseConfig) (*MongoWriter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}
	collection := cfg.Table
	if collection == "" {
		collection = "change_events"
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.DSN).
		SetMaxPoolSize(10).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoWriter{
		client:   client,
		events:   db.Collection(collection),
		patterns: db.Collection(collection + "_patterns"),
	}, nil
}

// Write upserts every event and pattern in the report.
func (w *MongoWriter) Write(ctx context.Context, report *Report) error {
	if len(report.Events) > 0 {
		models := make([]mongo.WriteModel, 0, len(report.Events))
		for _, event := range report.Events {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"event_id": event.ID}).
				SetReplacement(eventDocument(event)).
				SetUpsert(true))
		}
		if _, err := w.events.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("failed to archive change events: %w", err)
		}
	}

	if len(report.Patterns) > 0 {
		models := make([]mongo.WriteModel, 0, len(report.Patterns))
		for _, pattern := range report.Patterns {
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"pattern_id": pattern.ID}).
				SetReplacement(patternDocument(pattern)).
				SetUpsert(true))
		}
		if _, err := w.patterns.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("failed to archive failure patterns: %w", err)
		}
	}

	return nil
}

// Close disconnects from MongoDB.
func (w *MongoWriter) Close() error {
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	err := w.client.Disconnect(ctx)
	w.client = nil
	return err
}

// eventDocument maps one change event to its archive document. Field
// names match the SQL archiver columns.
func eventDocument(event internal.StructureChangeEvent) bson.M {
	return bson.M{
		"event_id":         event.ID,
		"url":              event.URL,
		"severity":         string(event.Severity),
		"previous_hash":    event.PreviousHash,
		"current_hash":     event.CurrentHash,
		"broken_selectors": event.BrokenSelectors,
		"detected_at":      event.DetectedAt.UTC(),
		"archived_at":      time.Now().UTC(),
	}
}

// patternDocument maps one failure pattern to its archive document.
func patternDocument(pattern internal.FailurePattern) bson.M {
	return bson.M{
		"pattern_id":    pattern.ID,
		"pattern_type":  string(pattern.PatternType),
		"scraper_name":  pattern.ScraperName,
		"signature":     pattern.Signature,
		"occurrences":   pattern.Occurrences,
		"confidence":    pattern.Confidence,
		"first_seen":    pattern.FirstSeen.UTC(),
		"last_seen":     pattern.LastSeen.UTC(),
		"suggested_fix": pattern.SuggestedFix,
		"archived_at":   time.Now().UTC(),
	}
}
