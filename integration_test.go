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
	"context"
	"testing"
	"time"

	"github.com/nats-io/jsc.go/api"
)

func TestIntegrationPublishAndGetMsg(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded JetStream server")
	}
	nc, shutdown := runJetStreamServer(t)
	defer shutdown()
	createStream(t, nc, "ORDERS", "orders.>")

	client := NewClient(NewConnection(nc, nil))

	ack, err := client.Publish("orders.new", []byte("order-1"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ack.Stream != "ORDERS" || ack.Sequence != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	msg, err := client.GetMsg("ORDERS", api.DirectGetRequest{Seq: 1})
	if err != nil {
		t.Fatalf("GetMsg: %v", err)
	}
	if string(msg.Data) != "order-1" {
		t.Fatalf("unexpected message payload %q", msg.Data)
	}
}

func TestIntegrationPublishExpectedLastSequenceRejectsConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded JetStream server")
	}
	nc, shutdown := runJetStreamServer(t)
	defer shutdown()
	createStream(t, nc, "ORDERS", "orders.>")

	client := NewClient(NewConnection(nc, nil))

	if _, err := client.Publish("orders.new", []byte("order-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_, err := client.Publish("orders.new", []byte("order-2"), WithExpectLastSequence(99))
	if err == nil {
		t.Fatal("expected an error: expected_last_seq does not match the stream's actual last sequence")
	}
}

func TestIntegrationPullSubscribeFetchesPublishedMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded JetStream server")
	}
	nc, shutdown := runJetStreamServer(t)
	defer shutdown()
	createStream(t, nc, "ORDERS", "orders.>")

	client := NewClient(NewConnection(nc, nil))
	for i := 0; i < 3; i++ {
		if _, err := client.Publish("orders.new", []byte("order")); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	sub, err := client.PullSubscribe("orders.>", Stream("ORDERS"), WithConsumerOptions(DurableName("workers")))
	if err != nil {
		t.Fatalf("PullSubscribe: %v", err)
	}
	defer sub.Unsubscribe()

	f, err := client.Fetch("ORDERS", "workers", FetchOpts{Batch: 3, Expires: 2 * time.Second})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		msg, err := f.Next(ctx)
		if err != nil {
			t.Fatalf("Next message %d: %v", i+1, err)
		}
		if err := msg.Ack(); err != nil {
			t.Fatalf("Ack message %d: %v", i+1, err)
		}
	}
}

func TestIntegrationOrderedConsumerDeliversPublishedMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded JetStream server")
	}
	nc, shutdown := runJetStreamServer(t)
	defer shutdown()
	createStream(t, nc, "ORDERS", "orders.>")

	client := NewClient(NewConnection(nc, nil))

	received := make(chan string, 4)
	js, err := client.Subscribe("orders.>", OrderedConsumer(), WithCallback(func(msg *Msg, err error) {
		if msg != nil {
			received <- string(msg.Data)
		}
	}))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer js.Unsubscribe()

	for i := 0; i < 3; i++ {
		if _, err := client.Publish("orders.new", []byte("order")); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for ordered delivery %d", i+1)
		}
	}
}

func TestIntegrationConsumerInfoReflectsCreatedConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded JetStream server")
	}
	nc, shutdown := runJetStreamServer(t)
	defer shutdown()
	createStream(t, nc, "ORDERS", "orders.>")

	client := NewClient(NewConnection(nc, nil))
	sub, err := client.PullSubscribe("orders.>", Stream("ORDERS"), WithConsumerOptions(DurableName("workers"), AckWait(10*time.Second)))
	if err != nil {
		t.Fatalf("PullSubscribe: %v", err)
	}
	defer sub.Unsubscribe()

	info, err := client.consumerInfo("ORDERS", "workers")
	if err != nil {
		t.Fatalf("consumerInfo: %v", err)
	}
	if info.Config.AckWait != 10*time.Second {
		t.Fatalf("expected the ack_wait set at creation to stick, got %v", info.Config.AckWait)
	}
}
