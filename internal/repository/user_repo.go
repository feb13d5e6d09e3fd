package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"triptrack/internal/model"
)

type UserRepo interface {
	// GetOrCreateByEmail returns the user with email, creating it when
	// missing; created reports whether an insert happened
	GetOrCreateByEmail(ctx context.Context, email, name string) (user *model.User, created bool, err error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, name, imageURL *string) (*model.User, error)
	CountByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error)
}

type userRepo struct {
	collection *mongo.Collection
}

// NewUserRepo creates a new user repository
func NewUserRepo(db *mongo.Database) UserRepo {
	return &userRepo{
		collection: db.Collection(usersCollection),
	}
}

func (r *userRepo) GetOrCreateByEmail(ctx context.Context, email, name string) (*model.User, bool, error) {
	now := time.Now().UTC()
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$setOnInsert": bson.M{
			"email":     email,
			"name":      name,
			"createdAt": now,
			"updatedAt": now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, false, wrap(err, "upsert user")
	}

	var user model.User
	if err := r.collection.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		return nil, false, wrap(err, "find user")
	}
	return &user, res.UpsertedCount > 0, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return nil, err
	}

	var user model.User
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "find user")
	}
	return &user, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, name, imageURL *string) (*model.User, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return nil, err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if name != nil {
		set["name"] = *name
	}
	if imageURL != nil {
		set["imageUrl"] = *imageURL
	}

	var user model.User
	err = r.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "update user")
	}
	return &user, nil
}

// CountByIDs counts how many of ids belong to existing users
func (r *userRepo) CountByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, wrap(err, "count users")
	}
	return n, nil
}
