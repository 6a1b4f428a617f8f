package mongoimpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"x-clone/likes"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/exp/slices"
)

// Every top level segment is a collection, the second segment is the
// document _id and the third one a field of that document. Multi-path
// updates run in a transaction, so the server must be a replica set.
type MongoBackend struct {
	db     *mongo.Database
	client *mongo.Client
}

func ensureIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		},
	}
	opts := options.CreateIndexes().SetMaxTime(10 * time.Second)

	_, err := collection.Indexes().CreateMany(ctx, indexModels, opts)
	if err != nil {
		return fmt.Errorf("failed to ensure indexes %w", err)
	}
	return nil
}

func NewMongoBackend(ctx context.Context, mongoURL string, dbName string) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, err
	}

	db := client.Database(dbName)
	if err := ensureIndexes(ctx, db.Collection(likes.PostsPath)); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &MongoBackend{
		db:     db,
		client: client,
	}, nil
}

func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("mongo %s: %v - %w", op, err, likes.ErrStorage)
}

func (m *MongoBackend) IsReady(ctx context.Context) bool {
	// Ping the database
	if err := m.client.Ping(ctx, nil); err != nil {
		return false
	}
	return true
}

func (m *MongoBackend) List(ctx context.Context, p likes.Principal, path string) ([]likes.Record, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, err
	}
	if len(segs) != 1 {
		return nil, fmt.Errorf("list %q: not a collection - %w", path, likes.ErrInvalidPath)
	}
	return m.list(ctx, segs[0])
}

func (m *MongoBackend) list(ctx context.Context, collection string) ([]likes.Record, error) {
	cursor, err := m.db.Collection(collection).Find(
		ctx,
		bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer cursor.Close(ctx)

	var records []likes.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, storageErr("decode", err)
		}
		key, rec := splitDocument(doc)
		if key == "" || len(rec) == 0 {
			continue
		}
		records = append(records, likes.Record{Key: key, Value: rec})
	}
	if err := cursor.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return records, nil
}

func (m *MongoBackend) Get(ctx context.Context, p likes.Principal, path string) (any, bool, error) {
	segs, err := likes.Authorize(p, path, likes.OpRead, nil)
	if err != nil {
		return nil, false, err
	}

	if len(segs) == 1 {
		records, err := m.list(ctx, segs[0])
		if err != nil || len(records) == 0 {
			return nil, false, err
		}
		out := make(map[string]any, len(records))
		for _, rec := range records {
			out[rec.Key] = rec.Value
		}
		return out, true, nil
	}

	opts := options.FindOne()
	if len(segs) == 3 {
		opts.SetProjection(bson.M{segs[2]: 1})
	}
	var doc bson.M
	err = m.db.Collection(segs[0]).FindOne(ctx, bson.M{"_id": segs[1]}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("get", err)
	}

	_, rec := splitDocument(doc)
	if len(segs) == 2 {
		if len(rec) == 0 {
			return nil, false, nil
		}
		return rec, true, nil
	}
	v, ok := rec[segs[2]]
	return v, ok, nil
}

func (m *MongoBackend) Set(ctx context.Context, p likes.Principal, path string, value any) error {
	segs, err := likes.Authorize(p, path, likes.OpWrite, value)
	if err != nil {
		return err
	}
	return m.write(ctx, p, segs, value)
}

func (m *MongoBackend) Remove(ctx context.Context, p likes.Principal, path string) error {
	return m.Set(ctx, p, path, nil)
}

// Update runs all writes inside one transaction.
func (m *MongoBackend) Update(ctx context.Context, p likes.Principal, values map[string]any) error {
	parsed := make(map[string][]string, len(values))
	paths := make([]string, 0, len(values))
	for path, v := range values {
		segs, err := likes.Authorize(p, path, likes.OpWrite, v)
		if err != nil {
			return err
		}
		parsed[path] = segs
		paths = append(paths, path)
	}
	slices.Sort(paths)

	session, err := m.client.StartSession()
	if err != nil {
		return storageErr("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, path := range paths {
			if err := m.write(sc, p, parsed[path], values[path]); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, likes.ErrStorage) || errors.Is(err, likes.ErrPermissionDenied) {
			return err
		}
		return storageErr("update", err)
	}
	return nil
}

func (m *MongoBackend) write(ctx context.Context, p likes.Principal, segs []string, value any) error {
	coll := m.db.Collection(segs[0])
	filter := bson.M{"_id": segs[1]}

	if len(segs) == 2 {
		if value == nil {
			if _, err := coll.DeleteOne(ctx, filter); err != nil {
				return storageErr("delete", err)
			}
			return nil
		}
		doc := bson.M{}
		for name, v := range value.(map[string]any) {
			doc[name] = v
		}
		doc["_id"] = segs[1]
		if likes.OwnedRecord(segs) {
			// A post owned by someone else does not match, and the upsert
			// then collides with its _id.
			filter[likes.AuthorField] = p.UserId
		}
		_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s does not own %q - %w", p.UserId, strings.Join(segs, "/"), likes.ErrPermissionDenied)
		}
		if err != nil {
			return storageErr("replace", err)
		}
		return nil
	}

	var update bson.M
	switch v := value.(type) {
	case nil:
		update = bson.M{"$unset": bson.M{segs[2]: ""}}
	case likes.Increment:
		update = bson.M{"$inc": bson.M{segs[2]: int64(v)}}
	default:
		update = bson.M{"$set": bson.M{segs[2]: v}}
	}
	if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(value != nil)); err != nil {
		return storageErr("update field", err)
	}
	return nil
}

// splitDocument separates the _id from the remaining fields.
func splitDocument(doc bson.M) (string, map[string]any) {
	key, _ := doc["_id"].(string)
	rec := make(map[string]any, len(doc))
	for name, v := range doc {
		if name != "_id" {
			rec[name] = v
		}
	}
	return key, rec
}
