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
	"strconv"
	"strings"

	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

// frameKind classifies an inbound message on a subscription's deliver
// inbox (§3 frame taxonomy).
type frameKind int

const (
	frameData frameKind = iota
	frameFlowControl
	frameHeartbeat
	frameStatus
)

// frame is the parsed shape of one inbound message, before any
// filtering or error classification is applied.
type frame struct {
	kind     frameKind
	msg      *nats.Msg
	status   int
	desc     string
	meta     *MsgMetadata // set for frameData
	lastSeq  uint64       // set for frameHeartbeat, from Nats-Last-Consumer
	stalled  string       // set for frameHeartbeat, from Nats-Consumer-Stalled
}

// classifyFrame inspects msg and determines which of the four frame
// kinds it represents.
func classifyFrame(msg *nats.Msg) *frame {
	status := statusFromHeader(msg.Header)
	if status == 0 {
		md, err := parseMetadata(msg.Reply)
		if err != nil {
			// Headers-only with no status and an unparsable reply: treat
			// conservatively as a status-less data frame (e.g. direct-get
			// replies use a different reply shape entirely, out of scope
			// for this taxonomy).
			return &frame{kind: frameData, msg: msg}
		}
		return &frame{kind: frameData, msg: msg, meta: md}
	}

	desc := msg.Header.Get(api.DescriptionHdr)
	if status == api.StatusFlowControlOrHeartbeat {
		switch {
		case strings.Contains(desc, "Idle Heartbeat"):
			f := &frame{kind: frameHeartbeat, msg: msg, status: status, desc: desc}
			if v := msg.Header.Get(api.LastConsumerSeqHdr); v != "" {
				if n, err := strconv.ParseUint(v, 10, 64); err == nil {
					f.lastSeq = n
				}
			}
			f.stalled = msg.Header.Get(api.ConsumerStalledHdr)
			return f
		case strings.Contains(desc, "FlowControl"):
			return &frame{kind: frameFlowControl, msg: msg, status: status, desc: desc}
		default:
			// A 100 that is neither an idle heartbeat nor a flow-control
			// request: unrecognized protocol frame (spec §9 open question).
			return &frame{kind: frameStatus, msg: msg, status: status, desc: desc}
		}
	}

	return &frame{kind: frameStatus, msg: msg, status: status, desc: desc}
}

func statusFromHeader(h nats.Header) int {
	if h == nil {
		return 0
	}
	v := h.Get(api.StatusHdr)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Msg is the application-visible JetStream message yielded by
// subscriptions and fetch iterators.
type Msg struct {
	*nats.Msg
	Meta *MsgMetadata

	nc Connection
}

// Ack acknowledges successful processing of the message. Required only
// when the subscription/fetch was configured for manual ack; auto-ack
// subscriptions acknowledge on successful iterator dispatch or once the
// callback returns.
func (m *Msg) Ack() error {
	if m.nc == nil {
		return nil
	}
	return m.nc.PublishMsg(&nats.Msg{Subject: m.Reply})
}

// Nak signals the server to redeliver the message.
func (m *Msg) Nak() error {
	if m.nc == nil {
		return nil
	}
	return m.nc.PublishMsg(&nats.Msg{Subject: m.Reply, Data: []byte("-NAK")})
}

// InProgress resets the ack-wait timer for this message without
// acknowledging it.
func (m *Msg) InProgress() error {
	if m.nc == nil {
		return nil
	}
	return m.nc.PublishMsg(&nats.Msg{Subject: m.Reply, Data: []byte("+WPI")})
}

// subscription wraps a raw transport subscription on one deliver
// inbox, adapting raw frames into the application-visible Msg/error
// stream (§4.4).
type subscription struct {
	nc       Connection
	raw      subscriptionHandle
	deliver  string
	manualAck bool
	ackPolicy api.AckPolicy
	maxCount int
	delivered int

	it *iterator[*Msg]

	// callback, when set, receives every classified frame (terminal and
	// transient) instead of being filtered through the iterator.
	callback func(msg *Msg, err error)

	hooks frameHooks
}

// frameHooks lets an owning jsSubscription/fetch iterator observe and
// intervene on the raw frame stream before the generic adapter logic
// in ingest() runs (ordered-consumer gap detection, heartbeat-monitor
// Work(), batch bookkeeping).
type frameHooks struct {
	// onAny fires for every frame, regardless of kind.
	onAny func(f *frame)
	// onData fires for data frames before delivery; returning false
	// drops the frame without handing it to the application (used by
	// the ordered consumer to swallow frames preceding a recreate).
	onData func(f *frame) bool
	// onHeartbeat, if set, fully replaces the default (no-op) heartbeat
	// handling.
	onHeartbeat func(f *frame)
	// onStatus, if set, observes every classified status frame
	// (terminal or transient) in addition to the default iterator/
	// callback propagation; used by fetch to also tear down on a
	// transient end-of-batch signal (404/408).
	onStatus func(ce *ClassifiedError)
	// waitingExceededTerminal feeds classifyOpts for status frames
	// (the §4.1 MaxWaitingExceeded testability seam).
	waitingExceededTerminal bool
}

type subscriptionConfig struct {
	ackPolicy api.AckPolicy
	manualAck bool
	max       int
	queue     string
	callback  func(msg *Msg, err error)
	hooks     frameHooks

	// afterDispatch runs after the built-in ack logic on every
	// successfully yielded message; used by fetch to track batch/byte
	// counts and stop the iterator once its targets are reached.
	afterDispatch func(m *Msg)
}

// newSubscription subscribes on deliver and wires the adapter chosen by
// whether a callback was supplied (callback mode surfaces every
// classified error; iterator mode hides non-terminal ones, §4.4).
func newSubscription(nc Connection, deliver string, cfg subscriptionConfig) (*subscription, error) {
	s := &subscription{
		nc:        nc,
		deliver:   deliver,
		manualAck: cfg.manualAck,
		ackPolicy: cfg.ackPolicy,
		maxCount:  cfg.max,
		callback:  cfg.callback,
		hooks:     cfg.hooks,
	}

	if cfg.callback == nil {
		s.it = newIterator[*Msg](256,
			withDispatched[*Msg](func(m **Msg) {
				s.delivered++
				if !s.manualAck && s.ackPolicy != api.AckNone && *m != nil {
					_ = (*m).Ack()
				}
				if cfg.afterDispatch != nil && *m != nil {
					cfg.afterDispatch(*m)
				}
			}),
		)
	}

	handler := func(msg *nats.Msg) {
		s.ingest(msg)
	}

	var (
		raw subscriptionHandle
		err error
	)
	if cfg.queue != "" {
		raw, err = nc.QueueSubscribe(deliver, cfg.queue, handler)
	} else {
		raw, err = nc.Subscribe(deliver, handler)
	}
	if err != nil {
		return nil, err
	}
	if cfg.max > 0 {
		if err := raw.AutoUnsubscribe(cfg.max); err != nil {
			return nil, err
		}
	}
	s.raw = raw
	return s, nil
}

// ingest runs a single raw message through frame classification, the
// flow-control auto-reply, and into either the iterator or the
// callback.
func (s *subscription) ingest(msg *nats.Msg) {
	f := classifyFrame(msg)

	if s.hooks.onAny != nil {
		s.hooks.onAny(f)
	}

	switch f.kind {
	case frameFlowControl:
		debugLog().Str("reply", msg.Reply).Msg("flow control: replying empty")
		_ = s.nc.PublishMsg(&nats.Msg{Subject: msg.Reply})
		return
	case frameHeartbeat:
		if s.hooks.onHeartbeat != nil {
			s.hooks.onHeartbeat(f)
		}
		return
	case frameStatus:
		ce := classify(f.status, f.desc, classifyOpts{waitingExceededTerminal: s.hooks.waitingExceededTerminal})
		if ce != nil && ce.Kind == kindProtocolUnknown {
			debugLog().Int("status", f.status).Str("description", f.desc).Msg("unrecognized protocol frame, ignoring")
			return
		}
		if s.hooks.onStatus != nil {
			s.hooks.onStatus(ce)
		}
		s.deliverError(ce)
		return
	}

	if s.hooks.onData != nil && !s.hooks.onData(f) {
		return
	}

	jm := &Msg{Msg: msg, Meta: f.meta, nc: s.nc}
	if s.callback != nil {
		s.callback(jm, nil)
		if !s.manualAck && s.ackPolicy != api.AckNone {
			_ = jm.Ack()
		}
		return
	}
	s.it.push(jm)
}

func (s *subscription) deliverError(ce *ClassifiedError) {
	if s.callback != nil {
		s.callback(nil, ce)
		return
	}
	if ce.Severity == SeverityTerminal {
		s.it.stop(ce)
	}
	// Transient errors in iterator mode are hidden (§4.3/§7): the
	// iterator simply sees no more values and callers time out via ctx.
}

// rebind tears down the raw subscription and re-subscribes on
// newDeliver, used by the ordered-consumer recreate protocol (§4.5).
func (s *subscription) rebind(newDeliver string) error {
	if s.raw != nil && s.raw.IsValid() {
		_ = s.raw.Unsubscribe()
	}
	raw, err := s.nc.Subscribe(newDeliver, func(msg *nats.Msg) { s.ingest(msg) })
	if err != nil {
		return err
	}
	s.raw = raw
	s.deliver = newDeliver
	return nil
}

// pushError delivers a synthetic error (missed heartbeat, failed
// recreate) directly into the delivery pipeline, bypassing frame
// classification.
func (s *subscription) pushError(err error) {
	if s.callback != nil {
		s.callback(nil, err)
		return
	}
	s.it.stop(err)
}

// Unsubscribe cancels delivery. Idempotent.
func (s *subscription) Unsubscribe() error {
	if s.it != nil {
		s.it.stop(nil)
	}
	if s.raw == nil || !s.raw.IsValid() {
		return nil
	}
	return s.raw.Unsubscribe()
}

// Drain finishes in-flight delivery before unsubscribing.
func (s *subscription) Drain() error {
	if s.raw == nil || !s.raw.IsValid() {
		return nil
	}
	return s.raw.Drain()
}
