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
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// fakeSub is a no-op subscriptionHandle: tests that need delivery drive
// it through fakeConn.deliver instead of NextMsgWithContext.
type fakeSub struct {
	mu           sync.Mutex
	unsubscribed bool
	drained      bool
	autoUnsub    int
}

func (s *fakeSub) NextMsgWithContext(ctx context.Context) (*nats.Msg, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) Drain() error {
	s.mu.Lock()
	s.drained = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) AutoUnsubscribe(max int) error {
	s.mu.Lock()
	s.autoUnsub = max
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unsubscribed
}

// fakeConn is an in-memory Connection: Subscribe/QueueSubscribe register a
// handler keyed by subject, deliver() invokes it directly (synchronously,
// from the calling goroutine), and Request is answered by a test-supplied
// function.
type fakeConn struct {
	mu          sync.Mutex
	handlers    map[string]nats.MsgHandler
	published   []*nats.Msg
	requestFunc  func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error)
	features     map[FeatureTag]bool
	inboxN       int
	disconnected bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]nats.MsgHandler{}}
}

func (c *fakeConn) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	if c.requestFunc == nil {
		return nil, fmt.Errorf("fakeConn: no requestFunc configured for %q", subject)
	}
	return c.requestFunc(subject, data, nil)
}

func (c *fakeConn) RequestMsg(msg *nats.Msg, timeout time.Duration) (*nats.Msg, error) {
	if c.requestFunc == nil {
		return nil, fmt.Errorf("fakeConn: no requestFunc configured for %q", msg.Subject)
	}
	return c.requestFunc(msg.Subject, msg.Data, msg.Header)
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	c.published = append(c.published, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (subscriptionHandle, error) {
	c.mu.Lock()
	c.handlers[subject] = cb
	c.mu.Unlock()
	return &fakeSub{}, nil
}

func (c *fakeConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (subscriptionHandle, error) {
	return c.Subscribe(subject, cb)
}

func (c *fakeConn) NewInbox() string {
	c.mu.Lock()
	c.inboxN++
	n := c.inboxN
	c.mu.Unlock()
	return fmt.Sprintf("_INBOX.fake.%d", n)
}

func (c *fakeConn) HasFeature(tag FeatureTag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.features == nil {
		return true
	}
	ok, known := c.features[tag]
	if !known {
		return true
	}
	return ok
}

// Connected defaults to true; set disconnected to simulate an outage.
func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// deliver invokes the handler registered for subject, if any.
func (c *fakeConn) deliver(subject string, msg *nats.Msg) {
	c.mu.Lock()
	cb := c.handlers[subject]
	c.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (c *fakeConn) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeConn) lastPublished() *nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.published) == 0 {
		return nil
	}
	return c.published[len(c.published)-1]
}
