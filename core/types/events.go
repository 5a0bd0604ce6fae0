package types

// Event represents a structured state change emitted by the service. The
// attribute map uses string values so downstream sinks can forward events
// without knowledge of their payload types.
type Event struct {
	Type       string
	Attributes map[string]string
}
