package service

// Outbound event names emitted outside the socket request/response cycle
const (
	EventTripStarted       = "tripStarted"
	EventTripEnded         = "tripEnded"
	EventTripDeleted       = "tripDeleted"
	EventExperienceUpdated = "experienceUpdated"
	EventParticipantJoined = "participantJoined"
	EventParticipantLeft   = "participantLeft"
)

// Broadcaster fans events out to the sockets subscribed to a trip room
// (avoids import cycle with the socket gateway)
type Broadcaster interface {
	BroadcastToTrip(tripID, event string, payload interface{})
	// CloseTrip unsubscribes every socket from the trip room
	CloseTrip(tripID string)
}
