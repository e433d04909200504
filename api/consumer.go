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

package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeliverPolicy determines from where in a stream a consumer starts
// delivering messages.
type DeliverPolicy int

const (
	DeliverAll DeliverPolicy = iota
	DeliverLast
	DeliverNew
	DeliverByStartSequence
	DeliverByStartTime
	DeliverLastPerSubject
)

func (p DeliverPolicy) String() string {
	switch p {
	case DeliverAll:
		return "all"
	case DeliverLast:
		return "last"
	case DeliverNew:
		return "new"
	case DeliverByStartSequence:
		return "by_start_sequence"
	case DeliverByStartTime:
		return "by_start_time"
	case DeliverLastPerSubject:
		return "last_per_subject"
	}
	return "unknown"
}

func (p DeliverPolicy) MarshalJSON() ([]byte, error) {
	s := p.String()
	if s == "unknown" {
		return nil, fmt.Errorf("jsc: unknown deliver policy %d", p)
	}
	return json.Marshal(s)
}

func (p *DeliverPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "all", "undefined", "":
		*p = DeliverAll
	case "last":
		*p = DeliverLast
	case "new":
		*p = DeliverNew
	case "by_start_sequence":
		*p = DeliverByStartSequence
	case "by_start_time":
		*p = DeliverByStartTime
	case "last_per_subject":
		*p = DeliverLastPerSubject
	default:
		return fmt.Errorf("jsc: cannot unmarshal deliver policy %q", s)
	}
	return nil
}

// AckPolicy determines how messages delivered by this consumer need to be
// acknowledged.
type AckPolicy int

const (
	AckNone AckPolicy = iota
	AckAll
	AckExplicit

	// AckNotSet marks a consumer option struct as "not yet decided",
	// distinct from the zero value AckNone.
	AckNotSet AckPolicy = 99
)

func (p AckPolicy) String() string {
	switch p {
	case AckNone:
		return "none"
	case AckAll:
		return "all"
	case AckExplicit:
		return "explicit"
	case AckNotSet:
		return "not set"
	}
	return "unknown"
}

func (p AckPolicy) MarshalJSON() ([]byte, error) {
	switch p {
	case AckNone, AckAll, AckExplicit:
		return json.Marshal(p.String())
	}
	return nil, fmt.Errorf("jsc: unknown ack policy %d", p)
}

func (p *AckPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*p = AckNone
	case "all":
		*p = AckAll
	case "explicit":
		*p = AckExplicit
	default:
		return fmt.Errorf("jsc: cannot unmarshal ack policy %q", s)
	}
	return nil
}

// UnmarshalText accepts the same policy names as UnmarshalJSON, so YAML
// consumer templates can spell the policy by name.
func (p *AckPolicy) UnmarshalText(text []byte) error {
	b, err := json.Marshal(string(text))
	if err != nil {
		return err
	}
	return p.UnmarshalJSON(b)
}

// ReplayPolicy determines the rate messages are redelivered to the consumer.
type ReplayPolicy int

const (
	ReplayInstant ReplayPolicy = iota
	ReplayOriginal
)

func (p ReplayPolicy) String() string {
	if p == ReplayOriginal {
		return "original"
	}
	return "instant"
}

func (p ReplayPolicy) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *ReplayPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "original" {
		*p = ReplayOriginal
	} else {
		*p = ReplayInstant
	}
	return nil
}

// SequenceInfo reports a consumer-sequence/stream-sequence pair, optionally
// with a last-activity timestamp.
type SequenceInfo struct {
	Consumer uint64     `json:"consumer_seq" yaml:"consumer_seq"`
	Stream   uint64     `json:"stream_seq" yaml:"stream_seq"`
	Last     *time.Time `json:"last_active,omitempty" yaml:"last_active,omitempty"`
}

// ConsumerConfig is the server-recognized shape of a JetStream consumer
// configuration.
type ConsumerConfig struct {
	Name            string          `json:"name,omitempty" yaml:"name,omitempty"`
	Durable         string          `json:"durable_name,omitempty" yaml:"durable_name,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	DeliverPolicy   DeliverPolicy   `json:"deliver_policy" yaml:"deliver_policy"`
	OptStartSeq     uint64          `json:"opt_start_seq,omitempty" yaml:"opt_start_seq,omitempty"`
	OptStartTime    *time.Time      `json:"opt_start_time,omitempty" yaml:"opt_start_time,omitempty"`
	AckPolicy       AckPolicy       `json:"ack_policy" yaml:"ack_policy"`
	AckWait         time.Duration   `json:"ack_wait,omitempty" yaml:"ack_wait,omitempty"`
	MaxDeliver      int             `json:"max_deliver,omitempty" yaml:"max_deliver,omitempty"`
	BackOff         []time.Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	FilterSubject   string          `json:"filter_subject,omitempty" yaml:"filter_subject,omitempty"`
	FilterSubjects  []string        `json:"filter_subjects,omitempty" yaml:"filter_subjects,omitempty"`
	ReplayPolicy    ReplayPolicy    `json:"replay_policy" yaml:"replay_policy"`
	RateLimit       uint64          `json:"rate_limit_bps,omitempty" yaml:"rate_limit_bps,omitempty"`
	SampleFrequency string          `json:"sample_freq,omitempty" yaml:"sample_freq,omitempty"`
	MaxWaiting      int             `json:"max_waiting,omitempty" yaml:"max_waiting,omitempty"`
	MaxAckPending   int             `json:"max_ack_pending,omitempty" yaml:"max_ack_pending,omitempty"`
	FlowControl     bool            `json:"flow_control,omitempty" yaml:"flow_control,omitempty"`
	Heartbeat       time.Duration   `json:"idle_heartbeat,omitempty" yaml:"idle_heartbeat,omitempty"`
	HeadersOnly     bool            `json:"headers_only,omitempty" yaml:"headers_only,omitempty"`

	// Pull-based knobs.
	MaxRequestBatch    int           `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
	MaxRequestExpires  time.Duration `json:"max_expires,omitempty" yaml:"max_expires,omitempty"`
	MaxRequestMaxBytes int           `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`

	// Push-based knobs.
	DeliverSubject string `json:"deliver_subject,omitempty" yaml:"deliver_subject,omitempty"`
	DeliverGroup   string `json:"deliver_group,omitempty" yaml:"deliver_group,omitempty"`

	InactiveThreshold time.Duration     `json:"inactive_threshold,omitempty" yaml:"inactive_threshold,omitempty"`
	Replicas          int               `json:"num_replicas,omitempty" yaml:"num_replicas,omitempty"`
	MemoryStorage     bool              `json:"mem_storage,omitempty" yaml:"mem_storage,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ConsumerInfo is the full server-reported state of a consumer.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name" yaml:"stream_name"`
	Name           string         `json:"name" yaml:"name"`
	Created        time.Time      `json:"created" yaml:"created"`
	Config         ConsumerConfig `json:"config" yaml:"config"`
	Delivered      SequenceInfo   `json:"delivered" yaml:"delivered"`
	AckFloor       SequenceInfo   `json:"ack_floor" yaml:"ack_floor"`
	NumAckPending  int            `json:"num_ack_pending" yaml:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered" yaml:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting" yaml:"num_waiting"`
	NumPending     uint64         `json:"num_pending" yaml:"num_pending"`
	Cluster        *ClusterInfo   `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	PushBound      bool           `json:"push_bound,omitempty" yaml:"push_bound,omitempty"`
}

// ConsumerCreateRequest is the body of a CONSUMER.CREATE/DURABLE.CREATE RPC.
type ConsumerCreateRequest struct {
	Stream string          `json:"stream_name"`
	Config *ConsumerConfig `json:"config"`
}

// ConsumerCreateResponse is the reply to a CONSUMER.CREATE/DURABLE.CREATE RPC.
type ConsumerCreateResponse struct {
	Response
	*ConsumerInfo
}

// ConsumerInfoResponse is the reply to a CONSUMER.INFO RPC.
type ConsumerInfoResponse struct {
	Response
	*ConsumerInfo
}

// ConsumerDeleteResponse is the reply to a CONSUMER.DELETE RPC.
type ConsumerDeleteResponse struct {
	Response
	Success bool `json:"success,omitempty"`
}

// ConsumerLeaderStepDownResponse is the reply to a CONSUMER.LEADER.STEPDOWN RPC.
type ConsumerLeaderStepDownResponse struct {
	Response
	Success bool `json:"success,omitempty"`
}

// ConsumerNextRequest is the body of a CONSUMER.MSG.NEXT (pull) RPC.
type ConsumerNextRequest struct {
	Batch     int           `json:"batch,omitempty"`
	Expires   time.Duration `json:"expires,omitempty"`
	NoWait    bool          `json:"no_wait,omitempty"`
	MaxBytes  int           `json:"max_bytes,omitempty"`
	Heartbeat time.Duration `json:"idle_heartbeat,omitempty"`
}

// DirectGetRequest is the body of a DIRECT.GET RPC: exactly one of Seq,
// LastBySubject or NextBySubject selects which stream message comes
// back.
type DirectGetRequest struct {
	Seq          uint64 `json:"seq,omitempty"`
	LastBySubject string `json:"last_by_subj,omitempty"`
	NextBySubject string `json:"next_by_subj,omitempty"`
}

// StreamNamesRequest looks streams up by subject.
type StreamNamesRequest struct {
	Subject string `json:"subject,omitempty"`
}

// StreamNamesResponse is the reply to a STREAM.NAMES RPC.
type StreamNamesResponse struct {
	Response
	Streams []string `json:"streams"`
}

// PubAck is the broker's acknowledgement of a published message.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PubAckResponse wraps a PubAck or an Error.
type PubAckResponse struct {
	Response
	*PubAck
}
