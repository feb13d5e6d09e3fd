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

// TripRepo handles MongoDB operations for trips. Lookups return nil, nil
// when nothing matched; conditional writes return nil when their filter did
// not match so callers can classify the failed precondition.
type TripRepo interface {
	Create(ctx context.Context, trip *model.Trip) error
	GetByID(ctx context.Context, id string) (*model.Trip, error)
	GetDetails(ctx context.Context, id string) (*model.TripDetails, error)
	ListByCreator(ctx context.Context, creatorID string, page model.Page) ([]model.TripDetails, error)
	ListByParticipant(ctx context.Context, userID string, page model.Page) ([]model.TripDetails, error)

	// UpdateIfCreated patches a trip owned by creatorID that is still created
	UpdateIfCreated(ctx context.Context, id, creatorID string, update model.TripUpdate) (*model.Trip, error)
	// UpdateReward replaces the reward of a trip that is not completed and
	// returns the document as it was before the write
	UpdateReward(ctx context.Context, id, creatorID string, reward model.Reward) (*model.Trip, error)
	UpdateGuides(ctx context.Context, id, creatorID string, guides []primitive.ObjectID) (*model.Trip, error)

	// TransitionStatus moves the trip from one status to the next only if it
	// is currently in from
	TransitionStatus(ctx context.Context, id, creatorID string, from, to model.TripStatus) (*model.Trip, error)
	// Complete writes final results and marks the trip completed in a
	// single update guarded on the started status
	Complete(ctx context.Context, id, creatorID string, participants []model.TripParticipant) (*model.Trip, error)
	// DeleteIfCreated removes a created trip and returns the removed document
	DeleteIfCreated(ctx context.Context, id, creatorID string) (*model.Trip, error)

	AddParticipant(ctx context.Context, id, userID string) (bool, error)
}

type tripRepo struct {
	collection *mongo.Collection
}

// NewTripRepo creates a new trip repository
func NewTripRepo(db *mongo.Database) TripRepo {
	return &tripRepo{
		collection: db.Collection(tripsCollection),
	}
}

func (r *tripRepo) Create(ctx context.Context, trip *model.Trip) error {
	now := time.Now().UTC()
	trip.ID = primitive.NewObjectID()
	trip.Status = model.TripCreated
	trip.CreatedAt = now
	trip.UpdatedAt = now
	if trip.Guides == nil {
		trip.Guides = []primitive.ObjectID{}
	}
	if trip.Participants == nil {
		trip.Participants = []model.TripParticipant{}
	}

	_, err := r.collection.InsertOne(ctx, trip)
	return wrap(err, "insert trip")
}

func (r *tripRepo) GetByID(ctx context.Context, id string) (*model.Trip, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return nil, err
	}

	var trip model.Trip
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&trip)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "find trip")
	}
	return &trip, nil
}

func (r *tripRepo) GetDetails(ctx context.Context, id string) (*model.TripDetails, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return nil, err
	}

	trips, err := r.aggregate(ctx, bson.M{"_id": oid}, nil)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return &trips[0], nil
}

func (r *tripRepo) ListByCreator(ctx context.Context, creatorID string, page model.Page) ([]model.TripDetails, error) {
	oid, err := ObjectID(creatorID)
	if err != nil {
		return nil, err
	}
	return r.aggregate(ctx, bson.M{"creator": oid}, pageStages(page))
}

func (r *tripRepo) ListByParticipant(ctx context.Context, userID string, page model.Page) ([]model.TripDetails, error) {
	return r.aggregate(ctx, bson.M{"participants.userId": userID}, pageStages(page))
}

// aggregate matches trips, newest first, and expands creator and guides
func (r *tripRepo) aggregate(ctx context.Context, match bson.M, window mongo.Pipeline) ([]model.TripDetails, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}}}},
	}
	pipeline = append(pipeline, window...)
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         usersCollection,
			"localField":   "creator",
			"foreignField": "_id",
			"as":           "creatorUser",
		}}},
		bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$creatorUser",
			"preserveNullAndEmptyArrays": true,
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         usersCollection,
			"localField":   "guides",
			"foreignField": "_id",
			"as":           "guideUsers",
		}}},
	)

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrap(err, "aggregate trips")
	}
	defer cursor.Close(ctx)

	trips := []model.TripDetails{}
	if err := cursor.All(ctx, &trips); err != nil {
		return nil, wrap(err, "decode trips")
	}
	return trips, nil
}

func (r *tripRepo) UpdateIfCreated(ctx context.Context, id, creatorID string, update model.TripUpdate) (*model.Trip, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Stops != nil {
		set["stops"] = update.Stops
	}
	return r.findAndUpdate(ctx, id, creatorID, bson.M{"status": model.TripCreated}, bson.M{"$set": set}, options.After)
}

func (r *tripRepo) UpdateReward(ctx context.Context, id, creatorID string, reward model.Reward) (*model.Trip, error) {
	set := bson.M{"updatedAt": time.Now().UTC(), "reward.title": reward.Title}
	if reward.Image != "" {
		set["reward.image"] = reward.Image
	}
	return r.findAndUpdate(ctx, id, creatorID,
		bson.M{"status": bson.M{"$ne": model.TripCompleted}},
		bson.M{"$set": set}, options.Before)
}

func (r *tripRepo) UpdateGuides(ctx context.Context, id, creatorID string, guides []primitive.ObjectID) (*model.Trip, error) {
	if guides == nil {
		guides = []primitive.ObjectID{}
	}
	return r.findAndUpdate(ctx, id, creatorID,
		bson.M{"status": bson.M{"$ne": model.TripCompleted}},
		bson.M{"$set": bson.M{"guides": guides, "updatedAt": time.Now().UTC()}}, options.After)
}

func (r *tripRepo) TransitionStatus(ctx context.Context, id, creatorID string, from, to model.TripStatus) (*model.Trip, error) {
	return r.findAndUpdate(ctx, id, creatorID,
		bson.M{"status": from},
		bson.M{"$set": bson.M{"status": to, "updatedAt": time.Now().UTC()}}, options.After)
}

func (r *tripRepo) Complete(ctx context.Context, id, creatorID string, participants []model.TripParticipant) (*model.Trip, error) {
	if participants == nil {
		participants = []model.TripParticipant{}
	}
	return r.findAndUpdate(ctx, id, creatorID,
		bson.M{"status": model.TripStarted},
		bson.M{"$set": bson.M{
			"status":       model.TripCompleted,
			"participants": participants,
			"updatedAt":    time.Now().UTC(),
		}}, options.After)
}

func (r *tripRepo) DeleteIfCreated(ctx context.Context, id, creatorID string) (*model.Trip, error) {
	filter, err := ownedFilter(id, creatorID)
	if err != nil {
		return nil, err
	}
	filter["status"] = model.TripCreated

	var trip model.Trip
	err = r.collection.FindOneAndDelete(ctx, filter).Decode(&trip)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "delete trip")
	}
	return &trip, nil
}

// AddParticipant records a registered user on a started trip; it reports
// false when the user was already listed
func (r *tripRepo) AddParticipant(ctx context.Context, id, userID string) (bool, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return false, err
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": oid, "participants.userId": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"participants": model.TripParticipant{UserID: userID}}},
	)
	if err != nil {
		return false, wrap(err, "add trip participant")
	}
	return res.ModifiedCount > 0, nil
}

func (r *tripRepo) findAndUpdate(ctx context.Context, id, creatorID string, cond bson.M, update bson.M, doc options.ReturnDocument) (*model.Trip, error) {
	filter, err := ownedFilter(id, creatorID)
	if err != nil {
		return nil, err
	}
	for k, v := range cond {
		filter[k] = v
	}

	var trip model.Trip
	err = r.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(doc)).Decode(&trip)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "update trip")
	}
	return &trip, nil
}

func ownedFilter(id, creatorID string) (bson.M, error) {
	oid, err := ObjectID(id)
	if err != nil {
		return nil, err
	}
	creator, err := ObjectID(creatorID)
	if err != nil {
		return nil, err
	}
	return bson.M{"_id": oid, "creator": creator}, nil
}
