package stream

// EventType is the discriminant carried in each payload's "type" field.
type EventType string

const (
	EventText       EventType = "text"
	EventToolStatus EventType = "tool_status"
	EventError      EventType = "error"
)

// Event is a single decoded stream event.
type Event struct {
	Index   int       // ordinal within the session, starting at 1
	Type    EventType
	Content string    // text and tool_status
	Message string    // error
}

// payload is the JSON object carried on a data: line.
type payload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Error   string `json:"error"`
}
