package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

func TestObjectIDRejectsMalformedIDs(t *testing.T) {
	_, err := ObjectID("not-an-id")
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	oid := primitive.NewObjectID()
	parsed, err := ObjectID(oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, parsed)
}

func TestPageStages(t *testing.T) {
	stages := pageStages(model.Page{Page: 3, Limit: 20})
	require.Len(t, stages, 2)
	assert.Equal(t, bson.D{{Key: "$skip", Value: int64(40)}}, stages[0])
	assert.Equal(t, bson.D{{Key: "$limit", Value: int64(20)}}, stages[1])

	stages = pageStages(model.Page{})
	assert.Equal(t, bson.D{{Key: "$skip", Value: int64(0)}}, stages[0])
	assert.Equal(t, bson.D{{Key: "$limit", Value: int64(10)}}, stages[1])
}

func TestOwnedFilter(t *testing.T) {
	id, creator := primitive.NewObjectID(), primitive.NewObjectID()
	filter, err := ownedFilter(id.Hex(), creator.Hex())
	require.NoError(t, err)
	assert.Equal(t, bson.M{"_id": id, "creator": creator}, filter)

	_, err = ownedFilter(id.Hex(), "guest-uuid")
	assert.Error(t, err)
}
