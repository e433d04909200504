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
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/nats-io/jsc.go/api"
)

// IsValidName reports whether s is usable as a stream or consumer
// name: non-empty and free of path/whitespace/wildcard characters.
// Fullwidth/halfwidth Unicode forms are folded to their canonical
// form first so a visually-empty-looking fullwidth space doesn't slip
// through as "valid".
func IsValidName(s string) bool {
	if s == "" {
		return false
	}
	folded := width.Narrow.String(s)
	return !strings.ContainsAny(folded, " \t\r\n.*>/\\")
}

// ConsumerOption configures a server-side consumer (§3 consumer
// options). Applied in order over a starting template.
type ConsumerOption func(*api.ConsumerConfig) error

// NewConsumerConfig builds a ConsumerConfig by applying opts, in order,
// over template. It enforces no ordered/pull invariants of its own; those
// come only from the options passed in.
func NewConsumerConfig(template api.ConsumerConfig, opts ...ConsumerOption) (*api.ConsumerConfig, error) {
	cfg := template
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func resetDeliverPolicy(o *api.ConsumerConfig) {
	o.DeliverPolicy = api.DeliverAll
	o.OptStartSeq = 0
	o.OptStartTime = nil
}

// ConsumerDescription sets a human-readable description.
func ConsumerDescription(d string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.Description = d
		return nil
	}
}

// DeliverySubject sets the push deliver subject directly; most callers
// should instead let Client.Subscribe allocate one.
func DeliverySubject(s string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.DeliverSubject = s
		return nil
	}
}

// ConsumerName sets an ephemeral consumer's name explicitly; use
// DurableName for durables.
func ConsumerName(s string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if !IsValidName(s) {
			return fmt.Errorf("%q is not a valid consumer name", s)
		}
		o.Name = s
		return nil
	}
}

// DurableName makes the consumer durable under name s.
func DurableName(s string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if !IsValidName(s) {
			return fmt.Errorf("%q is not a valid consumer name", s)
		}
		o.Durable = s
		return nil
	}
}

// StartAtSequence begins delivery at a specific stream sequence.
func StartAtSequence(seq uint64) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverByStartSequence
		o.OptStartSeq = seq
		return nil
	}
}

// StartAtTime begins delivery at a specific point in time.
func StartAtTime(t time.Time) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverByStartTime
		ut := t.UTC()
		o.OptStartTime = &ut
		return nil
	}
}

// DeliverAllAvailable begins delivery at the first available message.
func DeliverAllAvailable() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverAll
		return nil
	}
}

// DeliverLastPerSubject begins delivery at the last message per
// subject in a wildcard stream.
func DeliverLastPerSubject() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverLastPerSubject
		return nil
	}
}

// StartWithLastReceived begins delivery at the last message received.
func StartWithLastReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverLast
		return nil
	}
}

// StartWithNextReceived begins delivery at the next message received.
func StartWithNextReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverNew
		return nil
	}
}

// DeliverHeadersOnly delivers only headers and the Nats-Msg-Size
// header, never message bodies.
func DeliverHeadersOnly() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.HeadersOnly = true
		return nil
	}
}

// AcknowledgeNone disables acknowledgement.
func AcknowledgeNone() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.AckPolicy = api.AckNone
		return nil
	}
}

// AcknowledgeAll acknowledging message N also acknowledges every
// preceding message.
func AcknowledgeAll() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.AckPolicy = api.AckAll
		return nil
	}
}

// AcknowledgeExplicit requires every message to be acknowledged
// individually.
func AcknowledgeExplicit() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.AckPolicy = api.AckExplicit
		return nil
	}
}

// AckWait sets how long a delivered message may remain unacknowledged
// before redelivery.
func AckWait(d time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.AckWait = d
		return nil
	}
}

// MaxDeliveryAttempts bounds redelivery attempts.
func MaxDeliveryAttempts(n int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if n == 0 {
			return fmt.Errorf("configuration would prevent all deliveries")
		}
		o.MaxDeliver = n
		return nil
	}
}

// FilterStreamBySubject restricts delivery to messages matching the
// given subject(s).
func FilterStreamBySubject(subjects ...string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if len(subjects) == 1 {
			o.FilterSubject = subjects[0]
			return nil
		}
		o.FilterSubjects = append(o.FilterSubjects, subjects...)
		return nil
	}
}

// ReplayInstantly delivers messages as fast as possible.
func ReplayInstantly() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.ReplayPolicy = api.ReplayInstant
		return nil
	}
}

// ReplayAsReceived delivers messages at their original publish rate.
func ReplayAsReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.ReplayPolicy = api.ReplayOriginal
		return nil
	}
}

// SamplePercent enables ack sampling for the given percentage (0-100).
func SamplePercent(pct int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("sample percent must be 0-100")
		}
		if pct == 0 {
			o.SampleFrequency = ""
			return nil
		}
		o.SampleFrequency = fmt.Sprintf("%d%%", pct)
		return nil
	}
}

// RateLimitBitsPerSecond caps delivery throughput.
func RateLimitBitsPerSecond(bps uint64) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.RateLimit = bps
		return nil
	}
}

// MaxWaiting bounds the number of outstanding pull requests.
func MaxWaiting(pulls uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.MaxWaiting = int(pulls)
		return nil
	}
}

// MaxAckPending bounds outstanding unacknowledged messages.
func MaxAckPending(pending uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.MaxAckPending = int(pending)
		return nil
	}
}

// IdleHeartbeat enables periodic liveness frames on this consumer.
func IdleHeartbeat(hb time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.Heartbeat = hb
		return nil
	}
}

// PushFlowControl enables flow control for push consumers.
func PushFlowControl() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.FlowControl = true
		return nil
	}
}

// DeliverGroup restricts delivery to subscribers sharing this queue
// group.
func DeliverGroup(g string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.DeliverGroup = g
		return nil
	}
}

// MaxRequestMaxBytes caps the max_bytes a pull request may specify.
func MaxRequestMaxBytes(max int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.MaxRequestMaxBytes = max
		return nil
	}
}

// MaxRequestBatch caps the batch size a pull request may specify.
func MaxRequestBatch(max uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.MaxRequestBatch = int(max)
		return nil
	}
}

// MaxRequestExpires caps the expires a pull request may specify.
func MaxRequestExpires(max time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if max != 0 && max < time.Millisecond {
			return fmt.Errorf("must be larger than 1ms")
		}
		o.MaxRequestExpires = max
		return nil
	}
}

// InactiveThreshold sets how long an ephemeral consumer may sit idle
// before the server removes it.
func InactiveThreshold(d time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if d < 0 {
			return fmt.Errorf("inactive threshold must be positive")
		}
		o.InactiveThreshold = d
		return nil
	}
}

// BackoffIntervals sets explicit per-redelivery backoff durations.
func BackoffIntervals(intervals ...time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if len(intervals) == 0 {
			return fmt.Errorf("at least one interval is required")
		}
		o.BackOff = intervals
		return nil
	}
}

// LinearBackoffPolicy builds a linearly increasing BackoffIntervals
// sequence: step, 2*step, 3*step, ... for the given number of steps.
func LinearBackoffPolicy(step time.Duration, steps int) ConsumerOption {
	if steps <= 0 {
		steps = 1
	}
	intervals := make([]time.Duration, steps)
	for i := range intervals {
		intervals[i] = step * time.Duration(i+1)
	}
	return BackoffIntervals(intervals...)
}

// ConsumerOverrideReplicas overrides the replica count inherited from
// the stream.
func ConsumerOverrideReplicas(r int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.Replicas = r
		return nil
	}
}

// ConsumerOverrideMemoryStorage forces memory-backed consumer state.
func ConsumerOverrideMemoryStorage() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		o.MemoryStorage = true
		return nil
	}
}

// ConsumerMetadata attaches opaque metadata to the consumer.
func ConsumerMetadata(meta map[string]string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		for k := range meta {
			if len(k) == 0 {
				return fmt.Errorf("invalid empty string key in metadata")
			}
		}
		o.Metadata = meta
		return nil
	}
}

// orderedConsumer applies the §3/§4.7 invariants for an ordered
// consumer: ack=None, no durable/deliver_subject/deliver_group,
// max_deliver<=1, flow control on, a default idle heartbeat, and
// memory-backed single-replica state.
func orderedConsumer() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if o.Durable != "" {
			return fmt.Errorf("jsc: an ordered consumer cannot have a durable name")
		}
		if o.DeliverSubject != "" {
			return fmt.Errorf("jsc: an ordered consumer cannot set a deliver subject")
		}
		if o.DeliverGroup != "" {
			return fmt.Errorf("jsc: an ordered consumer cannot set a deliver group")
		}
		if o.MaxDeliver > 1 {
			return fmt.Errorf("jsc: an ordered consumer cannot redeliver")
		}
		o.AckPolicy = api.AckNone
		o.MaxDeliver = 1
		o.FlowControl = true
		if o.Heartbeat == 0 {
			o.Heartbeat = 5 * time.Second
		}
		o.AckWait = 22 * time.Hour
		o.MemoryStorage = true
		o.Replicas = 1
		return nil
	}
}

// PubOpts carries the optimistic-concurrency expectation headers and
// retry policy for Client.Publish (§4.7 publish, §6 headers).
type PubOpts struct {
	msgID               string
	expectStream        string
	expectLastSeq       *uint64
	expectLastMsgID     string
	expectLastSubjSeq   *uint64
	retries             int
	retryDelay          time.Duration
}

// PubOpt configures a single Client.Publish call.
type PubOpt func(*PubOpts) error

func defaultPubOpts() PubOpts {
	return PubOpts{retries: 1, retryDelay: 250 * time.Millisecond}
}

// WithMsgID sets Nats-Msg-Id for deduplication.
func WithMsgID(id string) PubOpt {
	return func(o *PubOpts) error { o.msgID = id; return nil }
}

// WithExpectStream fails the publish if it would not land on stream.
func WithExpectStream(stream string) PubOpt {
	return func(o *PubOpts) error { o.expectStream = stream; return nil }
}

// WithExpectLastSequence fails the publish unless seq is the stream's
// last sequence (optimistic concurrency on the stream tail).
func WithExpectLastSequence(seq uint64) PubOpt {
	return func(o *PubOpts) error { o.expectLastSeq = &seq; return nil }
}

// WithExpectLastMsgID fails the publish unless id is the stream's last
// message id.
func WithExpectLastMsgID(id string) PubOpt {
	return func(o *PubOpts) error { o.expectLastMsgID = id; return nil }
}

// WithExpectLastSequencePerSubject fails the publish unless seq is the
// last sequence published to this subject.
func WithExpectLastSequencePerSubject(seq uint64) PubOpt {
	return func(o *PubOpts) error { o.expectLastSubjSeq = &seq; return nil }
}

// WithRetryAttempts overrides the maximum number of publish attempts
// (including the first) made while the broker answers 503.
func WithRetryAttempts(n int) PubOpt {
	return func(o *PubOpts) error {
		if n < 1 {
			return fmt.Errorf("retries must be >= 1")
		}
		o.retries = n
		return nil
	}
}

// WithRetryWait overrides the delay between 503 retries.
func WithRetryWait(d time.Duration) PubOpt {
	return func(o *PubOpts) error {
		if d <= 0 {
			return fmt.Errorf("retry wait must be positive")
		}
		o.retryDelay = d
		return nil
	}
}

// SubOpts configures Client.Subscribe / Client.PullSubscribe (§4.7
// subscribe/pullSubscribe).
type SubOpts struct {
	ordered    bool
	bindOnly   bool
	manualAck  bool
	queue      string
	max        int
	stream     string
	callback   func(msg *Msg, err error)
	cfgOpts    []ConsumerOption
}

// SubOpt configures a single subscribe/pullSubscribe call.
type SubOpt func(*SubOpts)

// Stream names the stream to bind to explicitly, skipping the
// subject-to-stream lookup (§4.7 processOptions step 3).
func Stream(name string) SubOpt {
	return func(o *SubOpts) { o.stream = name }
}

// OrderedConsumer requests an ordered (gap-detecting, auto-recreating)
// push consumer.
func OrderedConsumer() SubOpt {
	return func(o *SubOpts) { o.ordered = true }
}

// BindOnly fails the subscribe unless a durable with this name already
// exists.
func BindOnly() SubOpt {
	return func(o *SubOpts) { o.bindOnly = true }
}

// ManualAck disables auto-ack; the application must call Msg.Ack.
func ManualAck() SubOpt {
	return func(o *SubOpts) { o.manualAck = true }
}

// Queue sets the push consumer's deliver group.
func Queue(group string) SubOpt {
	return func(o *SubOpts) { o.queue = group }
}

// MaxMessages auto-unsubscribes after the given number of deliveries.
func MaxMessages(n int) SubOpt {
	return func(o *SubOpts) { o.max = n }
}

// WithCallback delivers messages (and all classified errors) to cb
// instead of through an iterator.
func WithCallback(cb func(msg *Msg, err error)) SubOpt {
	return func(o *SubOpts) { o.callback = cb }
}

// WithConsumerOptions layers additional ConsumerOption values onto the
// subscription's server-side configuration.
func WithConsumerOptions(opts ...ConsumerOption) SubOpt {
	return func(o *SubOpts) { o.cfgOpts = append(o.cfgOpts, opts...) }
}
