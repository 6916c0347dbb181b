// Package envelope defines the Flockwave wire message and the builder
// operations the hub uses to construct notifications, responses, and
// acknowledgements.
//
// An envelope always carries a unique ID. A response additionally carries
// a CorrelationID pointing back at the request it answers; a notification
// never does. The discriminant (Kind) records which of the three the
// envelope is, independent of whether CorrelationID happens to be set.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the three envelope roles named by the protocol.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Body is the decoded message body. It always carries a "type" field once
// validated; extra fields are preserved verbatim.
type Body map[string]interface{}

// Type returns the body's "type" field, or "" if absent or not a string.
func (b Body) Type() string {
	if b == nil {
		return ""
	}
	t, _ := b["type"].(string)
	return t
}

// Clone returns a shallow copy of the body map.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	out := make(Body, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Envelope is the opaque protocol record described by the data model: an
// id, a typed body, an optional correlation id, and a discriminant.
type Envelope struct {
	ID            string `json:"id"`
	Body          Body   `json:"body"`
	CorrelationID string `json:"correlationId,omitempty"`
	Kind          Kind   `json:"-"`
}

// ValidationError reports a structural problem found while validating a
// raw, not-yet-trusted message against the envelope schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("envelope validation: %s: %s", e.Field, e.Message)
}

// FromRaw validates a decoded-but-untrusted mapping into an Envelope. This
// is the external schema validator named in spec §6; it enforces only the
// structural invariants the hub itself depends on (id present, body.type
// present), classifies an envelope with a non-empty correlationId as a
// response and any other as a request, and otherwise leaves content
// validation to the protocol layer above the hub.
func FromRaw(raw map[string]interface{}) (*Envelope, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, &ValidationError{Field: "id", Message: "envelope id is required"}
	}

	rawBody, ok := raw["body"].(map[string]interface{})
	if !ok {
		return nil, &ValidationError{Field: "body", Message: "envelope body is required"}
	}
	body := Body(rawBody)
	if body.Type() == "" {
		return nil, &ValidationError{Field: "body.type", Message: "body.type is required"}
	}

	env := &Envelope{ID: id, Body: body, Kind: KindRequest}

	if corr, ok := raw["correlationId"].(string); ok && corr != "" {
		env.CorrelationID = corr
		env.Kind = KindResponse
	}

	return env, nil
}

// NewNotification constructs a notification envelope with a fresh id. The
// input body is never mutated; the returned envelope holds a clone.
func NewNotification(body Body) *Envelope {
	return &Envelope{
		ID:   uuid.New().String(),
		Body: body.Clone(),
		Kind: KindNotification,
	}
}

// NewResponseTo constructs a response envelope correlated to request. A
// fresh id is attached; CorrelationID is set to request.ID. If body lacks
// a "type", it is copied from the request's body type without overwriting
// an existing one.
func NewResponseTo(request *Envelope, body Body) *Envelope {
	out := body.Clone()
	if out == nil {
		out = Body{}
	}
	if out.Type() == "" {
		if t := request.Body.Type(); t != "" {
			out["type"] = t
		}
	}
	return &Envelope{
		ID:            uuid.New().String(),
		Body:          out,
		CorrelationID: request.ID,
		Kind:          KindResponse,
	}
}

// Acknowledge builds an ACK-ACK (outcome true) or ACK-NAK (outcome false)
// response to request. reason is attached only to a negative ack, and
// only when non-empty.
func Acknowledge(request *Envelope, outcome bool, reason string) *Envelope {
	body := Body{}
	if outcome {
		body["type"] = "ACK-ACK"
	} else {
		body["type"] = "ACK-NAK"
		if reason != "" {
			body["reason"] = reason
		}
	}
	return NewResponseTo(request, body)
}

// ToJSON serializes the envelope for transport.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            string `json:"id"`
		Body          Body   `json:"body"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{ID: e.ID, Body: e.Body, CorrelationID: e.CorrelationID})
}
