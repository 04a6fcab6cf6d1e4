// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package activity

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding the activity log.
const CollectionName = "activitylog"

// MongoRepository stores the activity log in a MongoDB collection.
// Old entries are reaped by a TTL index on createdat.
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository binds the repository to database.activitylog.
func NewMongoRepository(database *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: database.Collection(CollectionName)}
}

// EnsureIndexes creates the lookup index and the retention TTL index.
func (repository *MongoRepository) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userid", Value: 1}, {Key: "createdat", Value: -1}}},
		{
			Keys:    bson.D{{Key: "createdat", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}

	if _, err := repository.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo_activity_indexes_failed: %w", err)
	}
	return nil
}

// Append inserts one entry.
func (repository *MongoRepository) Append(ctx context.Context, entry *Entry) error {
	if _, err := repository.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("mongo_activity_append_failed: %w", err)
	}
	return nil
}

// CountSince counts the user's entries at or after since.
func (repository *MongoRepository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	filter := bson.M{
		"userid":    userID,
		"createdat": bson.M{"$gte": since},
	}

	count, err := repository.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongo_activity_count_failed: %w", err)
	}
	return int(count), nil
}
