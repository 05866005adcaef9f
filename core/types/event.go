package types

// Event is the wire representation of a state transition emitted by the
// exchange, consumed by the RPC layer and external indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
