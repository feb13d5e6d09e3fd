package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

const (
	tripsCollection = "trips"
	usersCollection = "users"
)

// Connect dials MongoDB and pings the primary, retrying with exponential
// backoff up to maxRetries times
func Connect(ctx context.Context, uri string, maxRetries int, initial time.Duration, log *zap.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10*time.Second).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, apperr.Wrap(apperr.SubsystemMongo, err, "mongo client setup failed")
	}

	exp := backoff.NewExponentialBackOff()
	if initial > 0 {
		exp.InitialInterval = initial
	}
	exp.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)

	err = backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx, nil)
	}, policy, func(err error, wait time.Duration) {
		log.Warn("mongo not reachable, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperr.Wrap(apperr.SubsystemMongo, err, "mongo connection failed")
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return apperr.Wrap(apperr.SubsystemMongo, err, "create users index")
	}

	_, err = db.Collection(tripsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "creator", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "participants.userId", Value: 1}}},
	})
	return apperr.Wrap(apperr.SubsystemMongo, err, "create trips indexes")
}

// ObjectID parses a hex id, reporting malformed ids as bad input
func ObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperr.BadRequest(apperr.CodeInvalidInput, "invalid id %q", id)
	}
	return oid, nil
}

func wrap(err error, msg string) error {
	return apperr.Wrap(apperr.SubsystemMongo, err, msg)
}

// pageStages converts a normalized page into skip/limit stages
func pageStages(p model.Page) mongo.Pipeline {
	p = p.Normalize()
	return mongo.Pipeline{
		{{Key: "$skip", Value: int64((p.Page - 1) * p.Limit)}},
		{{Key: "$limit", Value: int64(p.Limit)}},
	}
}
