package types

// Event is a structured record of a state transition, identified by a stable
// type string with string-valued attributes for downstream consumers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
