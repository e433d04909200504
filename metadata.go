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
	"strconv"
	"strings"
	"time"
)

// MsgMetadata is parsed from a data message's reply subject
// ($JS.ACK.<stream>.<consumer>.<num_delivered>.<stream_seq>.<consumer_seq>.<timestamp>.<num_pending>,
// or the 12-token domain form that parseMetadata also accepts).
type MsgMetadata struct {
	Stream       string
	Consumer     string
	NumDelivered uint64
	StreamSeq    uint64
	ConsumerSeq  uint64
	Timestamp    time.Time
	NumPending   uint64
	Domain       string
}

// parseMetadata recognizes both the plain and domain-prefixed ack
// reply subject shapes. A reply subject that isn't a JS ack token
// (e.g. a plain request/reply inbox) yields an error.
func parseMetadata(reply string) (*MsgMetadata, error) {
	if reply == "" {
		return nil, fmt.Errorf("jsc: message has no reply subject")
	}
	tokens := strings.Split(reply, ".")

	var domain string
	switch len(tokens) {
	case 9:
		// $JS.ACK.<stream>.<consumer>.<num_delivered>.<stream_seq>.<consumer_seq>.<timestamp>.<num_pending>
	case 12:
		// $JS.ACK.<domain>.<account hash>.<stream>.<consumer>.<num_delivered>.<stream_seq>.<consumer_seq>.<timestamp>.<num_pending>.<token>
		domain = tokens[2]
		tokens = append(tokens[:2], tokens[4:]...)
	default:
		return nil, fmt.Errorf("jsc: %q is not a valid JetStream ack reply subject", reply)
	}
	if tokens[0] != "$JS" || tokens[1] != "ACK" {
		return nil, fmt.Errorf("jsc: %q is not a valid JetStream ack reply subject", reply)
	}

	md := &MsgMetadata{Stream: tokens[2], Consumer: tokens[3], Domain: domain}
	var err error
	if md.NumDelivered, err = strconv.ParseUint(tokens[4], 10, 64); err != nil {
		return nil, fmt.Errorf("jsc: invalid num_delivered in %q: %w", reply, err)
	}
	if md.StreamSeq, err = strconv.ParseUint(tokens[5], 10, 64); err != nil {
		return nil, fmt.Errorf("jsc: invalid stream_seq in %q: %w", reply, err)
	}
	if md.ConsumerSeq, err = strconv.ParseUint(tokens[6], 10, 64); err != nil {
		return nil, fmt.Errorf("jsc: invalid consumer_seq in %q: %w", reply, err)
	}
	ts, err := strconv.ParseInt(tokens[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jsc: invalid timestamp in %q: %w", reply, err)
	}
	md.Timestamp = time.Unix(0, ts)
	if md.NumPending, err = strconv.ParseUint(tokens[8], 10, 64); err != nil {
		return nil, fmt.Errorf("jsc: invalid num_pending in %q: %w", reply, err)
	}
	return md, nil
}
