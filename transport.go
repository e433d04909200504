// Copyright 2020 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jsc

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionHandle is the slice of *nats.Subscription this package
// relies on; kept narrow so a fake can back it in tests.
type subscriptionHandle interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
	Drain() error
	AutoUnsubscribe(max int) error
	IsValid() bool
}

// Connection is the messaging transport this package consumes (§6).
// *nats.Conn satisfies it through the natsConn adapter; tests back it
// with an in-memory fake.
type Connection interface {
	Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error)
	RequestMsg(msg *nats.Msg, timeout time.Duration) (*nats.Msg, error)
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (subscriptionHandle, error)
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (subscriptionHandle, error)
	NewInbox() string
	HasFeature(tag FeatureTag) bool
	Connected() bool
}

// FeatureTag names a server capability the client may need to gate
// behavior on (§6 features.get).
type FeatureTag string

const (
	// FeatureMaxBytes gates pull requests that set max_bytes (added 2.8.3).
	FeatureMaxBytes FeatureTag = "js.pull.max_bytes"
	// FeatureMultiFilter gates consumers created with filter_subjects.
	FeatureMultiFilter FeatureTag = "js.consumer.multi_filter"
)

// natsConn adapts *nats.Conn to Connection.
type natsConn struct {
	nc       *nats.Conn
	features map[FeatureTag]bool
}

// NewConnection wraps nc for use by a Client. Features not present in
// the map default to supported, matching a modern server; callers
// talking to an older cluster should disable individual tags.
func NewConnection(nc *nats.Conn, features map[FeatureTag]bool) Connection {
	return &natsConn{nc: nc, features: features}
}

func (c *natsConn) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.nc.Request(subject, data, timeout)
}

func (c *natsConn) RequestMsg(msg *nats.Msg, timeout time.Duration) (*nats.Msg, error) {
	return c.nc.RequestMsg(msg, timeout)
}

func (c *natsConn) PublishMsg(msg *nats.Msg) error {
	return c.nc.PublishMsg(msg)
}

func (c *natsConn) Subscribe(subject string, cb nats.MsgHandler) (subscriptionHandle, error) {
	return c.nc.Subscribe(subject, cb)
}

func (c *natsConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (subscriptionHandle, error) {
	return c.nc.QueueSubscribe(subject, queue, cb)
}

func (c *natsConn) NewInbox() string {
	return nats.NewInbox()
}

func (c *natsConn) HasFeature(tag FeatureTag) bool {
	if c.features == nil {
		return true
	}
	ok, known := c.features[tag]
	if !known {
		return true
	}
	return ok
}

// Connected reports whether the underlying *nats.Conn currently holds a
// live connection to the server, distinguishing a clean recreate from
// one attempted mid-outage (§4.5).
func (c *natsConn) Connected() bool {
	return c.nc.IsConnected()
}
