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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
)

// defaultRequestTimeout bounds every JetStream API RPC that doesn't
// carry its own deadline (consumer create/info/delete, stream lookup,
// one-shot pull).
const defaultRequestTimeout = 5 * time.Second

// Client is the JetStream consumer-delivery entry point: option
// normalization, consumer bind/create, publish, one-shot pull,
// batched fetch and the subscribe/pullSubscribe factories (§4.7).
type Client struct {
	nc     Connection
	prefix string

	timeout                 time.Duration
	waitingExceededTerminal bool
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithAPIPrefix overrides the default "$JS.API" subject prefix, for
// brokers configured with a JetStream domain or account mapping.
func WithAPIPrefix(prefix string) ClientOption {
	return func(c *Client) { c.prefix = prefix }
}

// WithTimeout overrides the default RPC timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithMaxWaitingExceededTerminal is the §9 internal feature-registry
// testability seam: without it, a 409 MaxWaitingExceeded is transient
// (matching a live broker silently dropping a pull once max_waiting
// pulls are already outstanding); with it, tests can force the
// saturation condition to terminate a fetch/subscription deterministically.
func WithMaxWaitingExceededTerminal() ClientOption {
	return func(c *Client) { c.waitingExceededTerminal = true }
}

// NewClient wraps nc for JetStream consumer access.
func NewClient(nc Connection, opts ...ClientOption) *Client {
	c := &Client{nc: nc, prefix: api.DefaultAPIPrefix, timeout: defaultRequestTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) apiSubject(suffix string) string {
	return c.prefix + "." + suffix
}

// jsonRequest marshals req (if non-nil), issues the RPC, and unmarshals
// the reply into respPtr. It does not interpret the embedded
// api.Response — callers check resp.Error themselves, since the
// fallthrough-to-fatal-or-404 decision differs per call site.
func (c *Client) jsonRequest(subject string, req, respPtr interface{}) error {
	var data []byte
	if req != nil {
		var err error
		data, err = json.Marshal(req)
		if err != nil {
			return err
		}
	}
	msg, err := c.nc.Request(subject, data, c.timeout)
	if err != nil {
		return err
	}
	return json.Unmarshal(msg.Data, respPtr)
}

func (c *Client) createConsumer(stream string, cfg *api.ConsumerConfig) (*api.ConsumerInfo, error) {
	var subj string
	if cfg.Durable != "" {
		subj = c.apiSubject(fmt.Sprintf(api.ConsumerDurableCreateT, stream, cfg.Durable))
	} else {
		subj = c.apiSubject(fmt.Sprintf(api.ConsumerCreateT, stream))
	}
	var resp api.ConsumerCreateResponse
	if err := c.jsonRequest(subj, &api.ConsumerCreateRequest{Stream: stream, Config: cfg}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.ConsumerInfo, nil
}

func (c *Client) consumerInfo(stream, name string) (*api.ConsumerInfo, error) {
	subj := c.apiSubject(fmt.Sprintf(api.ConsumerInfoT, stream, name))
	var resp api.ConsumerInfoResponse
	if err := c.jsonRequest(subj, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.ConsumerInfo, nil
}

func (c *Client) leaderStepDown(stream, name string) error {
	subj := c.apiSubject(fmt.Sprintf(api.ConsumerLeaderStepDownT, stream, name))
	var resp api.ConsumerLeaderStepDownResponse
	if err := c.jsonRequest(subj, nil, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (c *Client) deleteConsumer(stream, name string) error {
	subj := c.apiSubject(fmt.Sprintf(api.ConsumerDeleteT, stream, name))
	var resp api.ConsumerDeleteResponse
	if err := c.jsonRequest(subj, nil, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (c *Client) streamNameBySubject(subject string) (string, error) {
	subj := c.apiSubject(api.StreamNamesSubj)
	var resp api.StreamNamesResponse
	if err := c.jsonRequest(subj, &api.StreamNamesRequest{Subject: subject}, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", resp.Error
	}
	if len(resp.Streams) == 0 {
		return "", fmt.Errorf("jsc: no stream matches subject %q", subject)
	}
	return resp.Streams[0], nil
}

// processOptions implements §4.7 processOptions: it normalizes userOpts
// into a concrete ConsumerConfig, resolves the target stream, and
// decides whether the subscription attaches to a pre-existing durable.
// defaultAck is applied when the user left AckPolicy unset: All for
// push/ordered subscriptions, Explicit for pull (§3 pull invariant).
func (c *Client) processOptions(subject string, o SubOpts, defaultAck api.AckPolicy) (cfg *api.ConsumerConfig, stream string, attached bool, err error) {
	cfgOpts := o.cfgOpts
	if o.ordered {
		cfgOpts = append(append([]ConsumerOption{}, cfgOpts...), orderedConsumer())
	}

	built, err := NewConsumerConfig(api.ConsumerConfig{AckPolicy: api.AckNotSet}, cfgOpts...)
	if err != nil {
		return nil, "", false, err
	}
	cfg = built

	if o.queue != "" {
		cfg.DeliverGroup = o.queue
	}
	if cfg.AckPolicy == api.AckNotSet {
		cfg.AckPolicy = defaultAck
	}

	stream = o.stream
	if stream == "" {
		stream, err = c.streamNameBySubject(subject)
		if err != nil {
			return nil, "", false, err
		}
	}

	if cfg.Durable != "" {
		info, infoErr := c.consumerInfo(stream, cfg.Durable)
		switch {
		case infoErr == nil:
			if cfg.FilterSubject != "" && info.Config.FilterSubject != "" && cfg.FilterSubject != info.Config.FilterSubject {
				return nil, "", false, fmt.Errorf("jsc: durable %q is already bound to filter subject %q, not %q", cfg.Durable, info.Config.FilterSubject, cfg.FilterSubject)
			}
			if info.PushBound && cfg.DeliverGroup == "" {
				return nil, "", false, fmt.Errorf("jsc: durable %q is already bound to a subscription", cfg.Durable)
			}
			if info.Config.DeliverGroup != cfg.DeliverGroup {
				return nil, "", false, fmt.Errorf("jsc: durable %q requires queue group %q", cfg.Durable, info.Config.DeliverGroup)
			}
			adopted := info.Config
			cfg = &adopted
			attached = true
		default:
			var apiErr *api.Error
			if !(errors.As(infoErr, &apiErr) && apiErr.Code == 404) {
				return nil, "", false, infoErr
			}
		}
	}

	if !attached && cfg.FilterSubject == "" && len(cfg.FilterSubjects) == 0 {
		cfg.FilterSubject = subject
	}

	return cfg, stream, attached, nil
}

// maybeCreateConsumer implements §4.7 maybeCreateConsumer: returns the
// already-bound consumer's info unchanged, rejects a bind-only request
// that found nothing to bind to, or creates a new consumer with
// defaults merged in.
func (c *Client) maybeCreateConsumer(stream string, cfg *api.ConsumerConfig, attached, bindOnly bool) (*api.ConsumerInfo, error) {
	if attached {
		return c.consumerInfo(stream, cfg.Durable)
	}
	if bindOnly {
		return nil, fmt.Errorf("jsc: no durable consumer %q on stream %q to bind to", cfg.Durable, stream)
	}

	if len(cfg.FilterSubjects) > 1 && !c.nc.HasFeature(FeatureMultiFilter) {
		return nil, fmt.Errorf("jsc: multiple filter subjects require a server supporting %s", FeatureMultiFilter)
	}

	merged := *cfg
	if merged.AckPolicy == api.AckNotSet {
		merged.AckPolicy = api.AckExplicit
	}
	if merged.AckWait == 0 {
		merged.AckWait = 30 * time.Second
	}

	info, err := c.createConsumer(stream, &merged)
	if err != nil {
		return nil, err
	}
	if len(cfg.FilterSubjects) > 1 && len(info.Config.FilterSubjects) == 0 {
		return nil, fmt.Errorf("jsc: server does not support multiple filter subjects, upgrade required")
	}
	return info, nil
}

// Publish implements §4.7 publish: optimistic-concurrency expectation
// headers, bounded retry on broker-unavailable only.
func (c *Client) Publish(subject string, data []byte, opts ...PubOpt) (*api.PubAck, error) {
	po := defaultPubOpts()
	for _, o := range opts {
		if err := o(&po); err != nil {
			return nil, err
		}
	}

	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msgID := po.msgID
	if msgID == "" && po.retries > 1 {
		// A retried publish must carry the same Nats-Msg-Id on every
		// attempt, or the server's dedup window can't tell a lost ack
		// from a genuine second message.
		msgID = nuid.Next()
	}
	if msgID != "" {
		msg.Header.Set(api.MsgIdHdr, msgID)
	}
	if po.expectStream != "" {
		msg.Header.Set(api.ExpectedStreamHdr, po.expectStream)
	}
	if po.expectLastSeq != nil {
		msg.Header.Set(api.ExpectedLastSeqHdr, strconv.FormatUint(*po.expectLastSeq, 10))
	}
	if po.expectLastMsgID != "" {
		msg.Header.Set(api.ExpectedLastMsgIdHdr, po.expectLastMsgID)
	}
	if po.expectLastSubjSeq != nil {
		msg.Header.Set(api.ExpectedLastSubjSeqHdr, strconv.FormatUint(*po.expectLastSubjSeq, 10))
	}

	var lastErr error
	for attempt := 1; attempt <= po.retries; attempt++ {
		reply, reqErr := c.nc.RequestMsg(msg, c.timeout)
		if reqErr != nil {
			if errors.Is(reqErr, nats.ErrNoResponders) {
				lastErr = ErrBrokerUnavailable
				if attempt < po.retries {
					debugLog().Int("attempt", attempt).Str("subject", subject).Msg("publish retry: no responders")
					time.Sleep(po.retryDelay)
					continue
				}
				return nil, lastErr
			}
			return nil, reqErr
		}

		if statusFromHeader(reply.Header) == api.StatusServiceUnavailable {
			lastErr = ErrBrokerUnavailable
			if attempt < po.retries {
				debugLog().Int("attempt", attempt).Str("subject", subject).Msg("publish retry: 503")
				time.Sleep(po.retryDelay)
				continue
			}
			return nil, lastErr
		}

		var resp api.PubAckResponse
		if err := json.Unmarshal(reply.Data, &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if resp.PubAck == nil || resp.PubAck.Stream == "" {
			return nil, ErrInvalidAck
		}
		return resp.PubAck, nil
	}
	return nil, lastErr
}

// Pull implements §4.7 pull: a one-shot request for a single message.
func (c *Client) Pull(stream, durable string, expiresMs int) (*Msg, error) {
	req := api.ConsumerNextRequest{Batch: 1}
	timeout := c.timeout
	if expiresMs > 0 {
		req.Expires = time.Duration(expiresMs) * time.Millisecond
		if req.Expires > timeout {
			timeout = req.Expires
		}
	} else {
		req.NoWait = true
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	subj := c.apiSubject(fmt.Sprintf(api.ConsumerNextT, stream, durable))
	reply, err := c.nc.Request(subj, data, timeout)
	if err != nil {
		return nil, err
	}

	f := classifyFrame(reply)
	if f.kind == frameStatus {
		if ce := classify(f.status, f.desc, classifyOpts{waitingExceededTerminal: c.waitingExceededTerminal}); ce != nil && ce.Kind != kindProtocolUnknown {
			return nil, ce
		}
		return nil, fmt.Errorf("jsc: pull on stream %q consumer %q received an unrecognized status frame", stream, durable)
	}
	return &Msg{Msg: reply, Meta: f.meta, nc: c.nc}, nil
}

// DirectMsg is a message fetched via DirectGet: a stream read that
// bypasses any consumer entirely, answered straight from the stream's
// own storage rather than through consumer delivery.
type DirectMsg struct {
	Subject   string
	Sequence  uint64
	Timestamp time.Time
	Stream    string
	Data      []byte
	Header    nats.Header
}

// GetMsg implements the §6 direct-get RPC: a consumer-free stream read
// by sequence, by last message on a subject, or by next message after
// a subject. Exactly one field of req should be set.
func (c *Client) GetMsg(stream string, req api.DirectGetRequest) (*DirectMsg, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	subj := fmt.Sprintf(api.DirectGetT, stream)
	reply, err := c.nc.Request(subj, data, c.timeout)
	if err != nil {
		return nil, err
	}

	if statusFromHeader(reply.Header) != 0 {
		var resp api.Response
		if jsonErr := json.Unmarshal(reply.Data, &resp); jsonErr == nil && resp.Error != nil {
			return nil, resp.Error
		}
		return nil, fmt.Errorf("jsc: direct get on stream %q found no matching message", stream)
	}

	dm := &DirectMsg{
		Subject: reply.Header.Get(api.DirectGetSubjectHdr),
		Stream:  reply.Header.Get(api.DirectGetStreamHdr),
		Data:    reply.Data,
		Header:  reply.Header,
	}
	if v := reply.Header.Get(api.DirectGetSequenceHdr); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			dm.Sequence = n
		}
	}
	if v := reply.Header.Get(api.DirectGetTimestampHdr); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			dm.Timestamp = t
		}
	}
	return dm, nil
}

// Fetch implements §4.7 fetch: a batched pull iterator.
func (c *Client) Fetch(stream, durable string, opts FetchOpts) (*Fetch, error) {
	return c.fetch(stream, durable, opts)
}

// Subscribe implements §4.7 subscribe: a push or ordered consumer
// factory composing §4.4/§4.5.
func (c *Client) Subscribe(subject string, opts ...SubOpt) (*jsSubscription, error) {
	so := SubOpts{}
	for _, o := range opts {
		o(&so)
	}

	cfg, stream, attached, err := c.processOptions(subject, so, api.AckAll)
	if err != nil {
		return nil, err
	}
	if !attached && so.bindOnly {
		return nil, fmt.Errorf("jsc: no durable consumer %q on stream %q to bind to", cfg.Durable, stream)
	}

	if !attached {
		deliver := cfg.DeliverSubject
		if deliver == "" {
			deliver = c.nc.NewInbox()
		}
		cfg.DeliverSubject = deliver
	}

	info, err := c.maybeCreateConsumer(stream, cfg, attached, so.bindOnly)
	if err != nil {
		return nil, err
	}

	js, err := newJSSubscription(c, stream, info.Name, &info.Config, attached, info.Config.DeliverSubject, jsSubOpts{
		ordered:                 so.ordered,
		manualAck:               so.manualAck,
		max:                     so.max,
		callback:                so.callback,
		waitingExceededTerminal: c.waitingExceededTerminal,
	})
	if err != nil {
		return nil, err
	}
	js.last = info
	return js, nil
}

// PullSubscribe implements §4.7 pullSubscribe: a pull consumer
// factory. It always requires explicit ack and never binds to a push
// consumer.
func (c *Client) PullSubscribe(subject string, opts ...SubOpt) (*pullSubscription, error) {
	so := SubOpts{}
	for _, o := range opts {
		o(&so)
	}
	so.ordered = false

	cfg, stream, attached, err := c.processOptions(subject, so, api.AckExplicit)
	if err != nil {
		return nil, err
	}
	if cfg.DeliverSubject != "" {
		return nil, fmt.Errorf("jsc: pull consumers cannot set a deliver subject")
	}
	if cfg.AckPolicy != api.AckExplicit {
		return nil, fmt.Errorf("jsc: pull consumers require explicit ack")
	}

	info, err := c.maybeCreateConsumer(stream, cfg, attached, so.bindOnly)
	if err != nil {
		return nil, err
	}

	return newPullSubscription(c, stream, info.Name, &info.Config, attached, jsSubOpts{
		manualAck:               so.manualAck,
		max:                     so.max,
		callback:                so.callback,
		waitingExceededTerminal: c.waitingExceededTerminal,
	})
}
