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
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

func pubAckReply(stream string, seq uint64) *nats.Msg {
	data, _ := json.Marshal(api.PubAckResponse{PubAck: &api.PubAck{Stream: stream, Sequence: seq}})
	return &nats.Msg{Data: data}
}

func TestClientPublishSetsExplicitMsgID(t *testing.T) {
	nc := newFakeConn()
	var gotMsgID string
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		gotMsgID = hdr.Get(api.MsgIdHdr)
		return pubAckReply("ORDERS", 1), nil
	}
	c := NewClient(nc)

	if _, err := c.Publish("orders.new", []byte("x"), WithMsgID("caller-chosen-id")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotMsgID != "caller-chosen-id" {
		t.Fatalf("expected caller-supplied Nats-Msg-Id to be preserved, got %q", gotMsgID)
	}
}

func TestClientPublishAutoGeneratesMsgIDOnRetry(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		if hdr.Get(api.MsgIdHdr) == "" {
			t.Fatalf("expected an auto-generated Nats-Msg-Id when retries > 1")
		}
		return pubAckReply("ORDERS", 1), nil
	}
	c := NewClient(nc)

	if _, err := c.Publish("orders.new", []byte("x"), WithRetryAttempts(3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestClientPublishNoMsgIDWithoutRetries(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		if hdr.Get(api.MsgIdHdr) != "" {
			t.Fatalf("did not expect an auto-generated Nats-Msg-Id without retries")
		}
		return pubAckReply("ORDERS", 1), nil
	}
	c := NewClient(nc)

	if _, err := c.Publish("orders.new", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestClientPublishRetriesOn503ThenSucceeds(t *testing.T) {
	nc := newFakeConn()
	attempts := 0
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		attempts++
		if attempts == 1 {
			h := nats.Header{}
			h.Set(api.StatusHdr, strconv.Itoa(api.StatusServiceUnavailable))
			return &nats.Msg{Header: h}, nil
		}
		return pubAckReply("ORDERS", 7), nil
	}
	c := NewClient(nc)

	ack, err := c.Publish("orders.new", []byte("x"), WithRetryAttempts(2), WithRetryWait(time.Millisecond))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	if ack.Sequence != 7 {
		t.Fatalf("expected the second attempt's ack, got seq %d", ack.Sequence)
	}
}

func TestClientPublishExpectationHeaders(t *testing.T) {
	nc := newFakeConn()
	var hdr nats.Header
	nc.requestFunc = func(subject string, data []byte, h nats.Header) (*nats.Msg, error) {
		hdr = h
		return pubAckReply("ORDERS", 1), nil
	}
	c := NewClient(nc)

	_, err := c.Publish("orders.new", []byte("x"),
		WithExpectStream("ORDERS"),
		WithExpectLastSequence(41),
	)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if hdr.Get(api.ExpectedStreamHdr) != "ORDERS" {
		t.Fatalf("expected stream expectation header, got %q", hdr.Get(api.ExpectedStreamHdr))
	}
	if hdr.Get(api.ExpectedLastSeqHdr) != "41" {
		t.Fatalf("expected last-seq expectation header, got %q", hdr.Get(api.ExpectedLastSeqHdr))
	}
}

func TestClientGetMsgBySequence(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		var req api.DirectGetRequest
		if err := json.Unmarshal(data, &req); err != nil {
			t.Fatalf("unmarshal direct get request: %v", err)
		}
		if req.Seq != 9 {
			t.Fatalf("expected seq 9 in request, got %d", req.Seq)
		}
		h := nats.Header{}
		h.Set(api.DirectGetSubjectHdr, "orders.new")
		h.Set(api.DirectGetStreamHdr, "ORDERS")
		h.Set(api.DirectGetSequenceHdr, "9")
		return &nats.Msg{Header: h, Data: []byte("payload")}, nil
	}
	c := NewClient(nc)

	dm, err := c.GetMsg("ORDERS", api.DirectGetRequest{Seq: 9})
	if err != nil {
		t.Fatalf("GetMsg: %v", err)
	}
	if dm.Subject != "orders.new" || dm.Stream != "ORDERS" || dm.Sequence != 9 {
		t.Fatalf("unexpected DirectMsg: %+v", dm)
	}
	if string(dm.Data) != "payload" {
		t.Fatalf("expected payload to round-trip, got %q", dm.Data)
	}
}

func TestClientGetMsgNotFound(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		h := nats.Header{}
		h.Set(api.StatusHdr, strconv.Itoa(api.StatusNoMessages))
		return &nats.Msg{Header: h}, nil
	}
	c := NewClient(nc)

	if _, err := c.GetMsg("ORDERS", api.DirectGetRequest{LastBySubject: "orders.missing"}); err == nil {
		t.Fatal("expected an error when direct get finds no matching message")
	}
}
