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

// DefaultAPIPrefix is the subject prefix used when the client does not
// override it.
const DefaultAPIPrefix = "$JS.API"

// Subject templates, relative to a (possibly custom) API prefix. Each
// takes stream and/or consumer name arguments via fmt.Sprintf.
const (
	ConsumerCreateT         = "CONSUMER.CREATE.%s"
	ConsumerDurableCreateT  = "CONSUMER.DURABLE.CREATE.%s.%s"
	ConsumerInfoT           = "CONSUMER.INFO.%s.%s"
	ConsumerDeleteT         = "CONSUMER.DELETE.%s.%s"
	ConsumerNextT           = "CONSUMER.MSG.NEXT.%s.%s"
	ConsumerLeaderStepDownT = "CONSUMER.LEADER.STEPDOWN.%s.%s"
	StreamNamesSubj         = "STREAM.NAMES"
)

// DirectGetT is not relative to the configurable prefix: direct-get always
// targets the fixed $JS.API subject space.
const DirectGetT = "$JS.API.DIRECT.GET.%s"

// Header names used on published messages and on inbound broker frames.
const (
	MsgIdHdr                   = "Nats-Msg-Id"
	ExpectedStreamHdr          = "Nats-Expected-Stream"
	ExpectedLastSeqHdr         = "Nats-Expected-Last-Sequence"
	ExpectedLastMsgIdHdr       = "Nats-Expected-Last-Msg-Id"
	ExpectedLastSubjSeqHdr     = "Nats-Expected-Last-Subject-Sequence"
	LastConsumerSeqHdr         = "Nats-Last-Consumer"
	ConsumerStalledHdr         = "Nats-Consumer-Stalled"
	DirectGetSubjectHdr        = "Nats-Subject"
	DirectGetSequenceHdr       = "Nats-Sequence"
	DirectGetTimestampHdr      = "Nats-Time-Stamp"
	DirectGetStreamHdr         = "Nats-Stream"
	StatusHdr                  = "Status"
	DescriptionHdr             = "Description"
)

// Well-known status codes carried on headers-only frames.
const (
	StatusFlowControlOrHeartbeat = 100
	StatusNoMessages             = 404
	StatusRequestTimeout         = 408
	StatusConflict               = 409
	StatusServiceUnavailable     = 503
)
