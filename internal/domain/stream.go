package domain

// StreamEvent is the wire-level event written to the browser as one SSE
// `data:` line. It is a tagged union: exactly one of Content, Error, or Done
// is meaningful per event. Never persisted.
type StreamEvent struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}
