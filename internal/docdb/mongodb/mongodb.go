// Package mongodb backs docdb.DB with a MongoDB collection. Live queries are built
// from a change stream on the collection: every change event re-runs the query.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/diagnosis/wanderlust/internal/docdb"
	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

type DB struct {
	coll *mongo.Collection
}

func New(coll *mongo.Collection) *DB { return &DB{coll: coll} }

// EnsureIndexes creates the single-field indexes the three live queries rely on.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := db.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: string(docdb.FieldOwnerID), Value: 1}}},
		{Keys: bson.D{{Key: string(docdb.FieldSharedEmails), Value: 1}}},
		{Keys: bson.D{{Key: string(docdb.FieldAccessCode), Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return err
}

func (db *DB) Create(ctx context.Context, h domain.Holiday) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h = h.Clone()
	h.Version = 1
	if _, err := db.coll.InsertOne(ctx, h); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create %s: %w", h.ID, docdb.ErrExists)
		}
		return err
	}
	return nil
}

func (db *DB) Get(ctx context.Context, id string) (domain.Holiday, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var h domain.Holiday
	if err := db.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&h); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Holiday{}, fmt.Errorf("get %s: %w", id, docdb.ErrNotFound)
		}
		return domain.Holiday{}, err
	}
	return h.Clone(), nil
}

func (db *DB) Update(ctx context.Context, id string, p docdb.Patch) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"_id": id}
	if p.IfVersion != 0 {
		filter["version"] = p.IfVersion
	}
	update := bson.M{"$inc": bson.M{"version": 1}}
	if set := setFields(p); len(set) > 0 {
		update["$set"] = set
	}

	res, err := db.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := db.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", id, docdb.ErrNotFound)
	}
	return fmt.Errorf("update %s at version %d: %w", id, p.IfVersion, docdb.ErrConflict)
}

func (db *DB) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (db *DB) Subscribe(_ context.Context, q docdb.Query, onNext func([]domain.Holiday), onErr func(error)) func() {
	feed := docdb.NewFeed(onNext, onErr)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := db.watch(ctx, q, feed); err != nil && ctx.Err() == nil {
			feed.Fail(err)
		}
	}()

	return func() {
		feed.Close()
		cancel()
		<-done
	}
}

// watch opens the change stream before the first read so no write between the
// initial result and the stream start is missed.
func (db *DB) watch(ctx context.Context, q docdb.Query, feed *docdb.Feed) error {
	stream, err := db.coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return fmt.Errorf("watch %s: %w", q, err)
	}
	defer stream.Close(context.Background())

	if err := db.emit(ctx, q, feed); err != nil {
		return err
	}
	for stream.Next(ctx) {
		if err := db.emit(ctx, q, feed); err != nil {
			return err
		}
		if feed.Closed() {
			return nil
		}
	}
	return stream.Err()
}

func (db *DB) emit(ctx context.Context, q docdb.Query, feed *docdb.Feed) error {
	hs, err := db.find(ctx, q)
	if err != nil {
		return fmt.Errorf("query %s: %w", q, err)
	}
	if !feed.Next(hs) {
		logger.DebugContext(ctx, "dropping result for closed feed", "query", q.String())
	}
	return nil
}

func (db *DB) find(ctx context.Context, q docdb.Query) ([]domain.Holiday, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := db.coll.Find(ctx, filterFor(q), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]domain.Holiday, 0)
	for cur.Next(ctx) {
		var h domain.Holiday
		if err := cur.Decode(&h); err != nil {
			return nil, err
		}
		out = append(out, h.Clone())
	}
	return out, cur.Err()
}

// filterFor translates q; Mongo matches a scalar against array elements, so
// array-contains and equality share the same filter shape.
func filterFor(q docdb.Query) bson.M {
	return bson.M{string(q.Field): q.Value}
}

func setFields(p docdb.Patch) bson.M {
	set := bson.M{}
	if p.Name != nil {
		set["name"] = *p.Name
	}
	if p.Itinerary != nil {
		set["itinerary"] = *p.Itinerary
	}
	if p.Collaborators != nil {
		set["collaborators"] = *p.Collaborators
	}
	if p.SharedEmails != nil {
		set["sharedEmails"] = *p.SharedEmails
	}
	if p.AccessCode != nil {
		set["accessCode"] = *p.AccessCode
	}
	return set
}

var _ docdb.DB = (*DB)(nil)
