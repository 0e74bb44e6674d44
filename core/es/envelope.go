package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON form of an EventMessage used by persistent stores.
type Envelope struct {
	ID             string          `json:"id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Name           string          `json:"name"`
	Timestamp      time.Time       `json:"timestamp"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// NewEnvelope encodes msg. Payloads that are already raw JSON are kept as is.
func NewEnvelope(id string, msg EventMessage) (Envelope, error) {
	env := Envelope{
		ID:             id,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		SequenceNumber: msg.SequenceNumber,
		Name:           msg.Event.Name,
		Timestamp:      msg.Event.Timestamp,
		Metadata:       msg.Event.Metadata,
	}
	switch p := msg.Event.Payload.(type) {
	case json.RawMessage:
		env.Data = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s: %w", msg.Event.Name, err)
		}
		env.Data = data
	}
	return env, env.Validate()
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.Name == "" {
		return fmt.Errorf("envelope event name is empty")
	}
	if e.SequenceNumber < 0 {
		return fmt.Errorf("envelope sequence number is negative")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("envelope timestamp is zero")
	}
	return nil
}

// Record returns the event with its payload left as raw JSON.
func (e Envelope) Record() EventRecord {
	return EventRecord{
		Name:      e.Name,
		Payload:   e.Data,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
	}
}

func (e Envelope) Message() EventMessage {
	return EventMessage{
		AggregateType:  e.AggregateType,
		AggregateID:    e.AggregateID,
		SequenceNumber: e.SequenceNumber,
		Event:          e.Record(),
	}
}

// Tracked returns the envelope as delivered at token.
func (e Envelope) Tracked(token int64) TrackedEvent {
	return TrackedEvent{ID: e.ID, Token: token, Message: e.Message()}
}
