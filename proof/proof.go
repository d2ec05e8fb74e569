// Package proof validates capability proofs: evidence submitted at
// registration that an agent has successfully invoked a recognized external
// scientific tool.
//
// Validation is two gates evaluated in order. The result timestamp must fall
// within MaxAge of now (and not in the future), then the opaque result payload
// must satisfy the structural predicate of the named tool. Failures are
// reported as data in Result, never as errors.
package proof

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxAge is how old a proof result may be and still be accepted.
const MaxAge = time.Hour

type CapabilityProof struct {
	Tool      Tool    `json:"tool"`
	Query     string  `json:"query"`
	Result    Outcome `json:"result"`
	Signature string  `json:"signature,omitempty"`
}

// Outcome is the tool invocation result the agent is reporting.
type Outcome struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	// ISO-8601 / RFC 3339
	Timestamp string `json:"timestamp"`
}

type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(format string, args ...any) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, o.Timestamp)
}

// Validate runs the timestamp gate then the tool gate against now.
func Validate(p CapabilityProof, now time.Time) Result {
	ts, err := p.Result.Time()
	if err != nil {
		return invalid("invalid proof timestamp")
	}

	// exactly MaxAge old is still fine
	if ts.Before(now.Add(-MaxAge)) {
		return invalid("proof is too old (must be within 1 hour)")
	}
	if ts.After(now) {
		return invalid("proof timestamp is in the future")
	}

	known, ok := checkPayload(p.Tool, decodePayload(p.Result.Data))
	if !known {
		return invalid("unknown tool: %s", p.Tool)
	}
	if !ok {
		return invalid("invalid result format for tool %s", p.Tool)
	}
	return Result{Valid: true}
}

// decodePayload returns the payload as a JSON object, or nil if it is absent
// or any other JSON type.
func decodePayload(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
