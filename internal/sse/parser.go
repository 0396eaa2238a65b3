// Package sse reassembles Server-Sent Event streams from raw network chunks.
//
// Both sides of the platform face the same hazard: an SSE `data:` line can be
// split across arbitrary read-buffer boundaries, and a naive split-per-chunk
// parser either throws on the truncated JSON or silently drops it. The Parser
// here buffers the trailing fragment of every chunk and only ever hands
// complete lines to its callbacks, so provider adapters (reading upstream LLM
// streams) and the client orchestrator (reading the platform's own stream) use
// the exact same reassembly logic.
package sse

import (
	"encoding/json"
	"strings"
)

// dataPrefix is the only SSE field the platform emits or consumes.
const dataPrefix = "data: "

// doneSentinel is the conventional non-JSON termination marker used by
// OpenAI-compatible providers. It is recognized and dropped, never surfaced.
const doneSentinel = "[DONE]"

// Event is one complete, successfully parsed `data:` payload.
type Event struct {
	Data json.RawMessage // parsed JSON payload
	Raw  string          // original line text, prefix included
}

// ParseError reports a `data:` line whose payload was not valid JSON. Such
// lines are skipped, not fatal; the callback exists for observability.
type ParseError struct {
	Raw string
	Err error
}

// Parser converts an unbounded sequence of text chunks into discrete events.
// It is not safe for concurrent use; each stream owns its own Parser.
type Parser struct {
	buf     string
	onEvent func(Event)
	onError func(ParseError)
}

// NewParser creates a parser. onError may be nil, in which case malformed
// lines are silently skipped.
func NewParser(onEvent func(Event), onError func(ParseError)) *Parser {
	return &Parser{onEvent: onEvent, onError: onError}
}

// Feed appends chunk to the internal buffer and processes every complete line
// it now contains. The final fragment (possibly empty, if the chunk ended on a
// newline) is retained as the next buffer head.
func (p *Parser) Feed(chunk string) {
	p.buf += chunk
	lines := strings.Split(p.buf, "\n")
	p.buf = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		p.processLine(line)
	}
}

// Flush treats any remaining buffered content as one final complete line.
// Call it once when the underlying stream has ended.
func (p *Parser) Flush() {
	if p.buf == "" {
		return
	}
	line := p.buf
	p.buf = ""
	p.processLine(line)
}

// Reset clears buffered state, for reconnect scenarios.
func (p *Parser) Reset() {
	p.buf = ""
}

func (p *Parser) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" || payload == doneSentinel {
		return
	}

	var data json.RawMessage
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		if p.onError != nil {
			p.onError(ParseError{Raw: line, Err: err})
		}
		return
	}
	p.onEvent(Event{Data: data, Raw: line})
}
