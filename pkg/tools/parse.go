package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Decision is the outcome of parsing a completion: either a ToolRequest or a
// DirectAnswer. It is a closed set.
type Decision interface {
	decision()
}

// ToolRequest means the model asked for a tool to be run.
type ToolRequest struct {
	Call Call
}

// DirectAnswer means the model answered in prose. Malformed is set when the
// completion looked like a tool request but did not decode as one.
type DirectAnswer struct {
	Text      string
	Malformed bool
}

func (ToolRequest) decision()  {}
func (DirectAnswer) decision() {}

type wireCall struct {
	Tool       *string         `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// Parse interprets a completion. The completion is a tool request only if it
// is exactly one JSON object (optionally inside a ```json fence) with a
// non-empty string "tool" and, when present, an object "parameters".
// Everything else is returned as a direct answer with the original text.
func Parse(completion string) Decision {
	body := stripFence(completion)
	if !strings.HasPrefix(body, "{") {
		return DirectAnswer{Text: completion}
	}
	malformed := DirectAnswer{Text: completion, Malformed: true}

	dec := json.NewDecoder(strings.NewReader(body))
	var w wireCall
	if err := dec.Decode(&w); err != nil {
		return malformed
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformed
	}
	if w.Tool == nil || strings.TrimSpace(*w.Tool) == "" {
		return malformed
	}

	params := bytes.TrimSpace(w.Parameters)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		params = nil
	} else if params[0] != '{' {
		return malformed
	}

	return ToolRequest{Call: Call{Name: strings.TrimSpace(*w.Tool), Args: json.RawMessage(params)}}
}

func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
