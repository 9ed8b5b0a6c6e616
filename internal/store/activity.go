package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/walletgate/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	activityCollection = "activity"

	// activityLockShards bounds the lock table; appends for users that
	// hash to the same shard serialize with each other, which only costs
	// latency, never ordering.
	activityLockShards = 64
)

// ActivityLog appends per-user events to MongoDB. Appends for the same user
// are serialized so the (timestamp, insertion order) pair totally orders a
// user's history; records are never mutated after insert.
type ActivityLog struct {
	coll  *mongo.Collection
	locks [activityLockShards]sync.Mutex
}

func NewActivityLog(client *mongo.Client, database string) *ActivityLog {
	return &ActivityLog{
		coll: client.Database(database).Collection(activityCollection),
	}
}

// EnsureIndexes creates the per-user ordering index.
func (l *ActivityLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

// Append writes one event for userID. The timestamp is taken under the
// per-user lock so it is monotonic within a user's history.
func (l *ActivityLog) Append(ctx context.Context, userID, eventKind string, details map[string]any) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	record := types.ActivityRecord{
		UserID:    userID,
		EventKind: eventKind,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
	if _, err := l.coll.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListByUser returns a user's history in append order, for operator use.
func (l *ActivityLog) ListByUser(ctx context.Context, userID string, limit int64) ([]types.ActivityRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)
	cursor, err := l.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer cursor.Close(ctx)

	var records []types.ActivityRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return records, nil
}

func (l *ActivityLog) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &l.locks[h.Sum32()%activityLockShards]
}
