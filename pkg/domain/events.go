package domain

// EventType names an event emitted by a committed call.
type EventType string

// EventAgentRegistered is emitted once per successful registration.
const EventAgentRegistered EventType = "agent_registered"

// Event is a caller-visible effect of a committed call.
type Event struct {
	Type      EventType `json:"type"`
	Principal Principal `json:"principal"`
}
