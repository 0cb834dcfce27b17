// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package realtime binds live connections to authenticated identities and
// fans out published events to channel subscribers.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultChannel is auto-subscribed for every connection on attach, giving
// every live connection a broadcast channel with no explicit action needed.
const DefaultChannel = "pager"

// Event is a message published to a named channel.
type Event struct {
	ID        ulid.ULID       `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent creates an event with a fresh ULID and the given payload.
func NewEvent(channel, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, oops.Code("EVENT_ENCODE_FAILED").
			With("channel", channel).
			With("event_type", eventType).
			Wrap(err)
	}
	return Event{
		ID:        ulid.Make(),
		Channel:   channel,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Encode serializes the event to its wire form.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, oops.Code("EVENT_ENCODE_FAILED").
			With("event_id", e.ID.String()).
			Wrap(err)
	}
	return data, nil
}
