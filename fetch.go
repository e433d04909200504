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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

// FetchOpts configures a batched pull (§4.7 fetch).
type FetchOpts struct {
	Batch         int
	NoWait        bool
	MaxBytes      int
	Expires       time.Duration
	IdleHeartbeat time.Duration
}

// Fetch is the application-visible handle on an in-flight batched
// pull: an iterator plus the bookkeeping needed to stop it on the
// right condition (§4.7/§8).
type Fetch struct {
	it *iterator[*Msg]

	mu            sync.Mutex
	received      int
	receivedBytes int
	batch         int
	maxBytes      int

	sub       *subscription
	hbMon     *heartbeatMonitor
	expTimer  *time.Timer
	stopOnce  sync.Once
}

// Next yields the next message of the batch, or the terminating error
// (ErrIteratorClosed once the batch/byte/pending/expiry condition is
// reached naturally).
func (f *Fetch) Next(ctx ctxDoner) (*Msg, error) {
	return f.it.next(ctx)
}

// ctxDoner is the minimal slice of context.Context this package needs
// at its public boundary, letting callers pass a context.Context
// directly.
type ctxDoner interface {
	Done() <-chan struct{}
	Err() error
}

func (f *Fetch) stop(err error) {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		if f.expTimer != nil {
			f.expTimer.Stop()
		}
		if f.hbMon != nil {
			f.hbMon.Stop()
		}
		f.mu.Unlock()
		f.it.stop(err)
		_ = f.sub.Unsubscribe()
	})
}

// fetch implements Client.Fetch (§4.7).
func (c *Client) fetch(stream, durable string, opts FetchOpts) (*Fetch, error) {
	if !IsValidName(stream) {
		return nil, fmt.Errorf("jsc: %q is not a valid stream name", stream)
	}
	if !IsValidName(durable) {
		return nil, fmt.Errorf("jsc: %q is not a valid consumer name", durable)
	}
	if !opts.NoWait && opts.Expires <= 0 {
		return nil, fmt.Errorf("jsc: fetch requires no_wait or a positive expires")
	}
	if opts.Batch <= 0 {
		opts.Batch = 1
	}

	inbox := c.nc.NewInbox()

	f := &Fetch{batch: opts.Batch, maxBytes: opts.MaxBytes}

	hooks := frameHooks{
		onAny: func(fr *frame) {
			f.mu.Lock()
			mon := f.hbMon
			f.mu.Unlock()
			if mon != nil {
				mon.Work()
			}
		},
		onStatus: func(ce *ClassifiedError) {
			if ce.Severity == SeverityTerminal {
				f.stop(ce)
			} else {
				// Transient 404/408 end a fetch quietly (§4.1/§8): natural
				// end-of-batch, not an error.
				f.stop(nil)
			}
		},
		waitingExceededTerminal: c.waitingExceededTerminal,
	}

	sub, err := newSubscription(c.nc, inbox, subscriptionConfig{
		ackPolicy: api.AckExplicit,
		manualAck: true,
		max:       opts.Batch,
		hooks:     hooks,
		afterDispatch: func(m *Msg) {
			f.onDispatched(m)
		},
	})
	if err != nil {
		return nil, err
	}
	f.sub = sub
	f.it = sub.it

	if opts.IdleHeartbeat > 0 {
		f.hbMon = newHeartbeatMonitor(opts.IdleHeartbeat, defaultMaxOut, 0, func(missed int) bool {
			debugLog().Str("stream", stream).Int("missed", missed).Str("last_seen", humanize.Time(f.hbMon.LastSeen())).Msg("fetch idle heartbeat missed")
			ce := &ClassifiedError{
				Severity:    SeverityTerminal,
				Kind:        KindIdleHeartbeatMissed,
				Description: fmt.Sprintf("missed %d heartbeats", missed),
			}
			f.stop(ce)
			return false
		})
	}

	if opts.Expires > 0 {
		f.expTimer = time.AfterFunc(opts.Expires, func() {
			f.stop(nil)
		})
	}

	req := api.ConsumerNextRequest{
		Batch:     opts.Batch,
		Expires:   opts.Expires,
		NoWait:    opts.NoWait,
		MaxBytes:  opts.MaxBytes,
		Heartbeat: opts.IdleHeartbeat,
	}
	data, err := json.Marshal(req)
	if err != nil {
		f.stop(nil)
		return nil, err
	}

	subj := c.apiSubject(fmt.Sprintf(api.ConsumerNextT, stream, durable))
	if err := c.nc.PublishMsg(&nats.Msg{Subject: subj, Reply: inbox, Data: data}); err != nil {
		f.stop(nil)
		return nil, err
	}

	return f, nil
}

// onDispatched implements the §4.7 stop conditions: a server-signalled
// end-of-batch (one pending message left, its info.pending == 0),
// batch exhausted, or the byte cap reached. Exactly one of these, the
// expiration timer, or a terminal error ends a fetch (§8).
func (f *Fetch) onDispatched(m *Msg) {
	f.mu.Lock()
	f.received++
	if f.maxBytes > 0 {
		f.receivedBytes += len(m.Data)
	}
	byteCapReached := f.maxBytes > 0 && f.receivedBytes >= f.maxBytes
	done := (m.Meta != nil && m.Meta.NumPending == 0 && len(f.it.ch) == 0) ||
		f.received >= f.batch ||
		byteCapReached
	f.mu.Unlock()

	if byteCapReached {
		debugLog().Str("received", humanize.Bytes(uint64(f.receivedBytes))).Str("cap", humanize.Bytes(uint64(f.maxBytes))).Msg("fetch stopping: byte cap reached")
	}
	if done {
		f.stop(nil)
	}
}
