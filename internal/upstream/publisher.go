// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package upstream mirrors each tick's StatusSnapshot to a NATS
// subject when a managed_server is configured, adapted from the
// teacher's pkg/nats client. This is a best-effort publisher: the LTSB
// is the durable record, this link is allowed to be down.
package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/status"
)

// Publisher wraps a single NATS connection dedicated to mirroring
// status snapshots, owned by and scoped to one Agent.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials address and returns a Publisher that mirrors snapshots
// to subject. Connection failures are returned to the caller, who
// decides whether a missing upstream link should be fatal (it should
// not be: the LTSB already absorbs the gap).
func Connect(address, subject string) (*Publisher, error) {
	if address == "" {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "upstream: empty managed_server address")
	}

	conn, err := nats.Connect(address,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				elog.Warnf("upstream: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			elog.Infof("upstream: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			elog.Errorf("upstream: %v", err)
		}),
	)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.SourceUnavailable, fmt.Sprintf("upstream: connect to %s: %v", address, err))
	}

	return &Publisher{conn: conn, subject: subject}, nil
}

// PublishSnapshot marshals snap and publishes it; errors are logged
// and swallowed by callers that treat this link as best-effort (see
// Agent's tick wiring), never blocking the tick loop.
func (p *Publisher) PublishSnapshot(snap status.StatusSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return agenterr.Wrap(agenterr.EncodeFailure, "upstream: marshal snapshot: "+err.Error())
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "upstream: publish: "+err.Error())
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
