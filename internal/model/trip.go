package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripStatus string

const (
	TripCreated   TripStatus = "created"
	TripStarted   TripStatus = "started"
	TripCompleted TripStatus = "completed"
)

// Rank orders statuses along the lifecycle
func (s TripStatus) Rank() int {
	switch s {
	case TripCreated:
		return 0
	case TripStarted:
		return 1
	case TripCompleted:
		return 2
	}
	return -1
}

type ExperienceType string

const (
	ExperienceTrivia       ExperienceType = "trivia"
	ExperienceInfo         ExperienceType = "info"
	ExperienceTreasureFind ExperienceType = "treasure_find"
)

type Location struct {
	Lon float64 `json:"lon" bson:"lon" validate:"gte=-180,lte=180"`
	Lat float64 `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
}

type Address struct {
	Street string `json:"street,omitempty" bson:"street,omitempty"`
	City   string `json:"city,omitempty" bson:"city,omitempty"`
	State  string `json:"state,omitempty" bson:"state,omitempty"`
	Zip    string `json:"zip,omitempty" bson:"zip,omitempty"`
}

// Experience is the mini-challenge attached to a stop
type Experience struct {
	Type  ExperienceType         `json:"type" bson:"type" validate:"required,oneof=trivia info treasure_find"`
	Data  map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
	Score int                    `json:"score" bson:"score" validate:"gte=0"`
}

type Stop struct {
	Location   Location    `json:"location" bson:"location"`
	Address    *Address    `json:"address,omitempty" bson:"address,omitempty"`
	Experience *Experience `json:"experience,omitempty" bson:"experience,omitempty" validate:"omitempty"`
}

type Reward struct {
	Title string `json:"title,omitempty" bson:"title,omitempty"`
	Image string `json:"image,omitempty" bson:"image,omitempty"`
}

// TripParticipant is the durable final result of a participant
type TripParticipant struct {
	UserID string `json:"userId" bson:"userId"`
	Score  int    `json:"score" bson:"score"`
}

// Trip is the durable trip definition
type Trip struct {
	ID           primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Creator      primitive.ObjectID   `json:"creator" bson:"creator"`
	Guides       []primitive.ObjectID `json:"guides" bson:"guides"`
	Name         string               `json:"name" bson:"name"`
	Description  string               `json:"description" bson:"description"`
	Stops        []Stop               `json:"stops" bson:"stops"`
	Reward       *Reward              `json:"reward,omitempty" bson:"reward,omitempty"`
	Status       TripStatus           `json:"status" bson:"status"`
	Participants []TripParticipant    `json:"participants" bson:"participants"`
	CreatedAt    time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// ExperienceCount counts the stops that carry an experience
func (t *Trip) ExperienceCount() int {
	n := 0
	for _, s := range t.Stops {
		if s.Experience != nil {
			n++
		}
	}
	return n
}

// ExperienceStop returns the stop holding the experience at the given
// experience index (0-based among experience-bearing stops)
func (t *Trip) ExperienceStop(index int) (*Stop, bool) {
	if index < 0 {
		return nil, false
	}
	n := 0
	for i := range t.Stops {
		if t.Stops[i].Experience == nil {
			continue
		}
		if n == index {
			return &t.Stops[i], true
		}
		n++
	}
	return nil, false
}

// IsCreator reports whether userID created the trip
func (t *Trip) IsCreator(userID string) bool {
	return !t.Creator.IsZero() && t.Creator.Hex() == userID
}

// TripDetails is a trip with creator and guides expanded
type TripDetails struct {
	Trip       `bson:",inline"`
	CreatorDoc *User  `json:"creatorUser,omitempty" bson:"creatorUser,omitempty"`
	GuideDocs  []User `json:"guideUsers,omitempty" bson:"guideUsers,omitempty"`
}

// TripView is the GET /trips/{id} response; runtime fields are present once
// the trip has started
type TripView struct {
	*TripDetails
	Experiences []ExperienceSlot   `json:"tripExperiencesData,omitempty"`
	Leaderboard []LeaderboardEntry `json:"tripUsersLeaderboard,omitempty"`
}
