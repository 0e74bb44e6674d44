package es

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := EventMessage{
		AggregateType:  "cart",
		AggregateID:    "c-1",
		SequenceNumber: 4,
		Event: EventRecord{
			Name:      "itemAdded",
			Payload:   &itemAdded{SKU: "sku-1"},
			Timestamp: ts,
			Metadata:  map[string]any{"user": "u-1"},
		},
	}

	env, err := NewEnvelope("evt-1", msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"SKU":"sku-1"}`, string(env.Data))

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	tracked := decoded.Tracked(9)
	require.Equal(t, "evt-1", tracked.ID)
	require.EqualValues(t, 9, tracked.Token)
	require.Equal(t, "cart", tracked.Message.AggregateType)
	require.EqualValues(t, 4, tracked.Message.SequenceNumber)
	require.True(t, ts.Equal(tracked.Message.Event.Timestamp))
	require.Equal(t, "u-1", tracked.Message.Event.Metadata["user"])

	payload, err := Decode[itemAdded](tracked.Message.Event.Payload)
	require.NoError(t, err)
	require.Equal(t, "sku-1", payload.SKU)
}

func TestEnvelope_Validate(t *testing.T) {
	_, err := NewEnvelope("", EventMessage{})
	require.ErrorContains(t, err, "id is empty")

	_, err = NewEnvelope("id", EventMessage{AggregateType: "cart", AggregateID: "c", Event: EventRecord{Name: "x"}})
	require.ErrorContains(t, err, "timestamp is zero")
}
