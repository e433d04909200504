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
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

// orderedSeq tracks the delivery/stream sequence pair an ordered
// consumer uses to detect gaps (§3 ordered_consumer_sequence).
type orderedSeq struct {
	streamSeq   uint64
	deliverySeq uint64
}

// flowControlState is the per-subscription bookkeeping §3 calls
// flow_control: heartbeat_count, fc_count, consumer_restarts.
type flowControlState struct {
	heartbeatCount   uint64
	fcCount          uint64
	consumerRestarts uint64
}

// jsSubscription is a JetStream-aware subscription: a typed
// subscription plus ordered-consumer recovery, heartbeat wiring, and
// the consumer-management RPCs (§4.5). Pull subscriptions embed it.
type jsSubscription struct {
	mu sync.Mutex

	client *Client // non-owning back-reference (§9)
	sub    *subscription

	stream  string
	name    string
	durable string
	cfg     *api.ConsumerConfig
	attached bool
	last    *api.ConsumerInfo

	ordered bool
	deliver string

	seq orderedSeq
	fc  flowControlState

	hbMon  *heartbeatMonitor
	closed bool
}

type jsSubOpts struct {
	ordered                 bool
	manualAck               bool
	max                     int
	callback                func(msg *Msg, err error)
	waitingExceededTerminal bool
}

// newJSSubscription subscribes on deliver — a client-side inbox that,
// for push/ordered consumers, is also the server-side
// cfg.DeliverSubject; pull consumers pass their own inbox without
// touching cfg.DeliverSubject, which must stay empty (§4.6/§4.7 step 6).
func newJSSubscription(client *Client, stream string, name string, cfg *api.ConsumerConfig, attached bool, deliver string, opts jsSubOpts) (*jsSubscription, error) {
	js := &jsSubscription{
		client:   client,
		stream:   stream,
		name:     name,
		durable:  cfg.Durable,
		cfg:      cfg,
		attached: attached,
		ordered:  opts.ordered,
		deliver:  deliver,
	}

	hooks := frameHooks{
		onAny: func(f *frame) {
			js.mu.Lock()
			mon := js.hbMon
			js.mu.Unlock()
			if mon != nil {
				mon.Work()
			}
		},
		onData:                  js.onData,
		onHeartbeat:             js.onHeartbeat,
		waitingExceededTerminal: opts.waitingExceededTerminal,
	}

	sub, err := newSubscription(client.nc, deliver, subscriptionConfig{
		ackPolicy: cfg.AckPolicy,
		manualAck: opts.manualAck,
		max:       opts.max,
		queue:     cfg.DeliverGroup,
		callback:  opts.callback,
		hooks:     hooks,
	})
	if err != nil {
		return nil, err
	}
	js.sub = sub

	if cfg.Heartbeat > 0 {
		js.installHeartbeatMonitor(cfg.Heartbeat, 0)
	}

	return js, nil
}

// installHeartbeatMonitor cancels any existing monitor and starts a
// new one. cancelAfter == 0 means "no auto-cancel" (push/ordered
// consumers); pull subscriptions pass cancelAfter = expires (§4.6).
func (js *jsSubscription) installHeartbeatMonitor(interval time.Duration, cancelAfter time.Duration) {
	js.mu.Lock()
	if js.hbMon != nil {
		js.hbMon.Stop()
	}
	mon := newHeartbeatMonitor(interval, defaultMaxOut, cancelAfter, js.onHeartbeatMissed)
	js.hbMon = mon
	js.mu.Unlock()
}

func (js *jsSubscription) onHeartbeatMissed(missed int) bool {
	js.mu.Lock()
	ordered := js.ordered
	streamSeq := js.seq.streamSeq
	mon := js.hbMon
	js.mu.Unlock()

	if mon != nil {
		debugLog().Str("stream", js.stream).Int("missed", missed).Str("last_seen", humanize.Time(mon.LastSeen())).Msg("idle heartbeat missed")
	}

	if ordered {
		js.recreate(streamSeq + 1)
		return true
	}

	ce := &ClassifiedError{
		Severity:    SeverityTerminal,
		Kind:        KindIdleHeartbeatMissed,
		Description: fmt.Sprintf("missed %d heartbeats", missed),
	}
	js.sub.pushError(ce)
	return false
}

// onData enforces the ordered-consumer delivery-sequence invariant.
// Non-ordered subscriptions accept every data frame unchanged.
func (js *jsSubscription) onData(f *frame) bool {
	if !js.ordered || f.meta == nil {
		return true
	}

	js.mu.Lock()
	want := js.seq.deliverySeq + 1
	gap := f.meta.ConsumerSeq != want
	if !gap {
		js.seq.deliverySeq = f.meta.ConsumerSeq
		js.seq.streamSeq = f.meta.StreamSeq
	}
	streamSeq := js.seq.streamSeq
	js.mu.Unlock()

	if gap {
		js.recreate(streamSeq + 1)
		return false
	}
	return true
}

// onHeartbeat implements the ordered-consumer gap check and stalled-
// consumer unstall (§4.5). Non-ordered subscriptions have nothing to
// do beyond the onAny-driven monitor.Work() already applied.
func (js *jsSubscription) onHeartbeat(f *frame) {
	if !js.ordered {
		return
	}

	js.mu.Lock()
	gap := f.lastSeq != js.seq.deliverySeq
	streamSeq := js.seq.streamSeq
	js.mu.Unlock()

	if gap {
		js.recreate(streamSeq + 1)
	}
	if f.stalled != "" {
		_ = js.client.nc.PublishMsg(&nats.Msg{Subject: f.stalled})
	}
}

// recreate implements the ordered-consumer recovery protocol (§4.5):
// rebind to a fresh inbox, reset sequence/flow-control counters, and
// ask the server for a brand new consumer starting at requestedSeq.
func (js *jsSubscription) recreate(requestedSeq uint64) {
	if !js.client.nc.Connected() {
		// Disconnected: wait quietly for reconnect rather than racing an
		// RPC that can only fail and tear the subscription down (§4.5).
		debugLog().Str("stream", js.stream).Uint64("requested_seq", requestedSeq).Msg("ordered consumer recreate deferred: disconnected")
		return
	}

	debugLog().Str("stream", js.stream).Uint64("requested_seq", requestedSeq).Msg("ordered consumer recreate")

	js.mu.Lock()
	newDeliver := js.client.nc.NewInbox()
	if err := js.sub.rebind(newDeliver); err != nil {
		js.mu.Unlock()
		js.sub.pushError(fmt.Errorf("jsc: ordered consumer rebind failed for stream %q: %w", js.stream, err))
		return
	}

	js.seq.deliverySeq = 0
	js.fc.heartbeatCount = 0
	js.fc.fcCount = 0
	js.fc.consumerRestarts++

	cfg := *js.cfg
	cfg.DeliverSubject = newDeliver
	cfg.DeliverPolicy = api.DeliverByStartSequence
	cfg.OptStartSeq = requestedSeq
	js.deliver = newDeliver
	stream := js.stream
	js.mu.Unlock()

	info, err := js.client.createConsumer(stream, &cfg)
	if err != nil {
		js.sub.pushError(fmt.Errorf("jsc: ordered consumer recreate failed for stream %q at seq %d: %w", stream, requestedSeq, err))
		return
	}

	js.mu.Lock()
	js.name = info.Name
	js.cfg = &info.Config
	js.last = info
	js.mu.Unlock()
}

// DeliveredState reports the sequence pair of the most recently
// delivered message, refreshing from the server first.
func (js *jsSubscription) DeliveredState() (api.SequenceInfo, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return api.SequenceInfo{}, err
	}
	return info.Delivered, nil
}

// AcknowledgedFloor reports the sequence pair below which every
// message is acknowledged, refreshing from the server first.
func (js *jsSubscription) AcknowledgedFloor() (api.SequenceInfo, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return api.SequenceInfo{}, err
	}
	return info.AckFloor, nil
}

// PendingAcknowledgement reports how many delivered messages are
// awaiting acknowledgement.
func (js *jsSubscription) PendingAcknowledgement() (int, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return 0, err
	}
	return info.NumAckPending, nil
}

// PendingMessages reports how many stream messages remain undelivered
// to this consumer.
func (js *jsSubscription) PendingMessages() (uint64, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return 0, err
	}
	return info.NumPending, nil
}

// WaitingClientPulls reports how many outstanding pull requests the
// server is holding for this consumer.
func (js *jsSubscription) WaitingClientPulls() (int, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return 0, err
	}
	return info.NumWaiting, nil
}

// RedeliveryCount reports how many messages have been redelivered at
// least once.
func (js *jsSubscription) RedeliveryCount() (int, error) {
	info, err := js.consumerInfo()
	if err != nil {
		return 0, err
	}
	return info.NumRedelivered, nil
}

// LeaderStepDown asks a clustered durable consumer's current leader to
// step down, letting another replica take over.
func (js *jsSubscription) LeaderStepDown() error {
	return js.client.leaderStepDown(js.stream, js.consumerName())
}

// consumerInfo issues a CONSUMER.INFO RPC and caches the result.
func (js *jsSubscription) consumerInfo() (*api.ConsumerInfo, error) {
	info, err := js.client.consumerInfo(js.stream, js.consumerName())
	if err != nil {
		return nil, err
	}
	js.mu.Lock()
	js.last = info
	js.mu.Unlock()
	return info, nil
}

func (js *jsSubscription) consumerName() string {
	if js.durable != "" {
		return js.durable
	}
	return js.name
}

// Destroy drains the subscription (if not already closed) and deletes
// the server-side consumer.
func (js *jsSubscription) Destroy() error {
	js.mu.Lock()
	wasClosed := js.closed
	js.closed = true
	mon := js.hbMon
	js.mu.Unlock()

	if !wasClosed {
		if mon != nil {
			mon.Stop()
		}
		_ = js.sub.Drain()
	}

	return js.client.deleteConsumer(js.stream, js.consumerName())
}

// Unsubscribe cancels delivery without deleting the server-side
// consumer.
func (js *jsSubscription) Unsubscribe() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	mon := js.hbMon
	js.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	return js.sub.Unsubscribe()
}
