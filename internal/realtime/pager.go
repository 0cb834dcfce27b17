// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"context"

	"github.com/samber/oops"
)

// PagerMessage is the payload of a pager.message event.
type PagerMessage struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// EventTypePagerMessage identifies pager broadcasts.
const EventTypePagerMessage = "pager.message"

// Pager broadcasts short messages from authenticated connections to every
// subscriber of the default channel.
type Pager struct {
	binder  *Binder
	users   UserLoader
	gateway *Gateway
}

// NewPager creates a Pager.
// Returns an error if any required dependency is nil.
func NewPager(binder *Binder, users UserLoader, gateway *Gateway) (*Pager, error) {
	if binder == nil {
		return nil, oops.Errorf("binder is required")
	}
	if users == nil {
		return nil, oops.Errorf("user loader is required")
	}
	if gateway == nil {
		return nil, oops.Errorf("gateway is required")
	}
	return &Pager{binder: binder, users: users, gateway: gateway}, nil
}

// Send publishes text to the pager channel on behalf of the connection's
// bound identity. Fails with auth.ErrForbidden when the connection never
// completed the handshake; the connection itself stays up.
func (p *Pager) Send(ctx context.Context, conn *Conn, text string) error {
	uid, err := p.binder.Identity(conn)
	if err != nil {
		return err
	}

	user, err := p.users.Load(ctx, uid)
	if err != nil {
		return err
	}

	event, err := NewEvent(DefaultChannel, EventTypePagerMessage, PagerMessage{
		Name: user.Name,
		Text: text,
	})
	if err != nil {
		return err
	}
	return p.gateway.Publish(event)
}
