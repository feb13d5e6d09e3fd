package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
)

func TestStructReportsJSONPaths(t *testing.T) {
	v := New()

	err := v.Struct(model.TripInput{
		Stops: []model.Stop{
			{Location: model.Location{Lon: 200, Lat: 10}},
			{Experience: &model.Experience{Type: "quiz"}},
		},
		Guides: []string{"nope"},
	})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "is required", ae.Details["name"])
	assert.Equal(t, "must be less than or equal to 180", ae.Details["stops[0].location.lon"])
	assert.Contains(t, ae.Details["stops[1].experience.type"], "must be one of")
	assert.Equal(t, "must be a valid id", ae.Details["guides[0]"])
}

func TestStructPassesValidInput(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(model.SendCodeRequest{Email: "a@b.co"}))

	err := v.Struct(model.GuestRequest{Name: ""})
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"name": "is required"}, ae.Details)
}
