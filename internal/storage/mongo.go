package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// collectionPrefix names per-room collections: messages_<room>.
const collectionPrefix = "messages_"

const duplicateKeyCode = 11000

// MongoLog stores each room's messages in its own collection keyed by
// message ID, so re-inserting a message is a no-op.
type MongoLog struct {
	db *mongo.Database
}

func NewMongoLog(db *mongo.Database) *MongoLog {
	return &MongoLog{db: db}
}

// ConnectMongo creates a client for uri. The driver connects lazily, so an
// unreachable server is not an error here.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetRetryWrites(false)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return client, nil
}

func (l *MongoLog) collection(room string) *mongo.Collection {
	return l.db.Collection(collectionPrefix + room)
}

func (l *MongoLog) Insert(ctx context.Context, msg Message) error {
	_, err := l.collection(msg.Room).InsertOne(ctx, msg)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

// InsertMany inserts msgs grouped by room, unordered, treating already
// stored IDs as success.
func (l *MongoLog) InsertMany(ctx context.Context, msgs []Message) error {
	byRoom := make(map[string][]interface{})
	var order []string
	for _, m := range msgs {
		if _, ok := byRoom[m.Room]; !ok {
			order = append(order, m.Room)
		}
		byRoom[m.Room] = append(byRoom[m.Room], m)
	}

	for _, room := range order {
		_, err := l.collection(room).InsertMany(ctx, byRoom[room], options.InsertMany().SetOrdered(false))
		if err != nil && !onlyDuplicates(err) {
			return err
		}
	}
	return nil
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// Oldest returns the first limit messages of room in timestamp order.
func (l *MongoLog) Oldest(ctx context.Context, room string, limit int) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := l.collection(room).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}

	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *MongoLog) Ping(ctx context.Context) error {
	return l.db.Client().Ping(ctx, readpref.Primary())
}
