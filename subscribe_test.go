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
	"strings"
	"testing"

	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

func TestSubscribeCreatesPushConsumerWithFreshInbox(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		switch {
		case strings.Contains(subject, api.StreamNamesSubj):
			out, _ := json.Marshal(api.StreamNamesResponse{Streams: []string{"ORDERS"}})
			return &nats.Msg{Data: out}, nil
		case strings.Contains(subject, "CONSUMER.CREATE"):
			var req api.ConsumerCreateRequest
			_ = json.Unmarshal(data, &req)
			resp := api.ConsumerCreateResponse{ConsumerInfo: &api.ConsumerInfo{Name: "push1", Config: *req.Config}}
			out, _ := json.Marshal(resp)
			return &nats.Msg{Data: out}, nil
		}
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	client := NewClient(nc)

	js, err := client.Subscribe("orders.>", WithCallback(func(*Msg, error) {}))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer js.Unsubscribe()

	if js.last == nil || js.last.Config.DeliverSubject == "" {
		t.Fatal("expected the subscription to have been assigned a deliver inbox")
	}
	if js.last.Config.AckPolicy != api.AckAll {
		t.Fatalf("expected the push default ack policy AckAll, got %v", js.last.Config.AckPolicy)
	}
}

func TestSubscribeRejectsBindOnlyWithoutExistingDurable(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		switch {
		case strings.Contains(subject, api.StreamNamesSubj):
			out, _ := json.Marshal(api.StreamNamesResponse{Streams: []string{"ORDERS"}})
			return &nats.Msg{Data: out}, nil
		case strings.Contains(subject, "CONSUMER.INFO"):
			return consumerNotFoundReply(), nil
		}
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	client := NewClient(nc)

	_, err := client.Subscribe("orders.>", BindOnly(), WithConsumerOptions(DurableName("workers")))
	if err == nil {
		t.Fatal("expected an error: bind-only with no existing durable to bind to")
	}
}

func TestSubscribeAttachesWithoutAssigningNewInbox(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		if strings.Contains(subject, "CONSUMER.INFO") {
			return consumerInfoReply(&api.ConsumerInfo{
				Name: "workers",
				Config: api.ConsumerConfig{
					Durable:        "workers",
					FilterSubject:  "orders.>",
					AckPolicy:      api.AckExplicit,
					DeliverSubject: "deliver.existing",
				},
			}), nil
		}
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	client := NewClient(nc)

	js, err := client.Subscribe("orders.>", Stream("ORDERS"), WithConsumerOptions(DurableName("workers"), FilterStreamBySubject("orders.>")))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer js.Unsubscribe()

	if js.last.Config.DeliverSubject != "deliver.existing" {
		t.Fatalf("expected the attached durable's own deliver subject to be kept, got %q", js.last.Config.DeliverSubject)
	}
}

func TestPullSubscribeRejectsDeliverSubject(t *testing.T) {
	nc := newFakeConn()
	client := NewClient(nc)

	_, err := client.PullSubscribe("orders.>", Stream("ORDERS"), WithConsumerOptions(func(cfg *api.ConsumerConfig) error {
		cfg.DeliverSubject = "deliver.oops"
		return nil
	}))
	if err == nil {
		t.Fatal("expected an error: pull consumers cannot set a deliver subject")
	}
}

func TestPullSubscribeForcesExplicitAck(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		if strings.Contains(subject, "CONSUMER.CREATE") {
			var req api.ConsumerCreateRequest
			_ = json.Unmarshal(data, &req)
			resp := api.ConsumerCreateResponse{ConsumerInfo: &api.ConsumerInfo{Name: "pull1", Config: *req.Config}}
			out, _ := json.Marshal(resp)
			return &nats.Msg{Data: out}, nil
		}
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	client := NewClient(nc)

	p, err := client.PullSubscribe("orders.>", Stream("ORDERS"))
	if err != nil {
		t.Fatalf("PullSubscribe: %v", err)
	}
	defer p.Unsubscribe()

	if p.cfg.AckPolicy != api.AckExplicit {
		t.Fatalf("expected AckExplicit, got %v", p.cfg.AckPolicy)
	}
}

func TestPullSubscribeIgnoresOrderedOption(t *testing.T) {
	nc := newFakeConn()
	nc.requestFunc = func(subject string, data []byte, hdr nats.Header) (*nats.Msg, error) {
		if strings.Contains(subject, "CONSUMER.CREATE") {
			var req api.ConsumerCreateRequest
			_ = json.Unmarshal(data, &req)
			resp := api.ConsumerCreateResponse{ConsumerInfo: &api.ConsumerInfo{Name: "pull2", Config: *req.Config}}
			out, _ := json.Marshal(resp)
			return &nats.Msg{Data: out}, nil
		}
		return nil, fmt.Errorf("unexpected subject %q", subject)
	}
	client := NewClient(nc)

	// OrderedConsumer implies Durable=="" and MaxDeliver==1, both of
	// which would make no sense carried into a pull subscription;
	// PullSubscribe forces so.ordered = false before processing.
	p, err := client.PullSubscribe("orders.>", Stream("ORDERS"), OrderedConsumer())
	if err != nil {
		t.Fatalf("PullSubscribe: %v", err)
	}
	defer p.Unsubscribe()

	if p.cfg.AckPolicy != api.AckExplicit {
		t.Fatalf("expected explicit ack despite OrderedConsumer, got %v", p.cfg.AckPolicy)
	}
}
