package cache

import "fmt"

// Key names are shared with other services reading the same Redis and must
// not change.

func ParticipantKey(tripID, userID string) string {
	return fmt.Sprintf("trip_user:%s:%s", tripID, userID)
}

func participantPattern(tripID string) string {
	return fmt.Sprintf("trip_user:%s:*", tripID)
}

func LeaderboardKey(tripID string) string {
	return fmt.Sprintf("trip_leaderboard:%s", tripID)
}

func ExperiencesKey(tripID string) string {
	return fmt.Sprintf("trip_experiences:%s", tripID)
}

func TripKey(tripID string) string {
	return fmt.Sprintf("trip/byId:%s", tripID)
}

func TripsListKey(userID string, page, limit int) string {
	return fmt.Sprintf("trips/getAll?page=%d&limit=%d:%s", page, limit, userID)
}

func tripsListPattern(userID string) string {
	return fmt.Sprintf("trips/getAll?page=*&limit=*:%s", userID)
}

func DirectionsKey(points, language string) string {
	return fmt.Sprintf("mapbox_route:%s:%s", points, language)
}

// LoginCodeKey is the bare lowercased email
func LoginCodeKey(email string) string {
	return email
}
