package executor

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoCollection 是 Collection 的 mongo-driver 实现。
type mongoCollection struct {
	coll *mongo.Collection
}

// NewMongoCollection 用 mongo-driver 的集合句柄包装出执行引擎可用的
// Collection。
func NewMongoCollection(coll *mongo.Collection) Collection {
	return &mongoCollection{coll: coll}
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *mongoCollection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, int64, error) {
	res, err := m.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, 0, err
	}
	return res.MatchedCount, res.ModifiedCount, nil
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) Find(ctx context.Context, filter bson.M, projection bson.D, limit int64) ([]map[string]any, error) {
	opts := options.Find()
	if projection != nil {
		opts.SetProjection(projection)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	for cursor.Next(ctx) {
		doc := map[string]any{}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
