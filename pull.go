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
	"time"

	"github.com/nats-io/jsc.go/api"
	"github.com/nats-io/nats.go"
)

// PullOpts recognized by pullSubscription.Pull (§4.6).
type PullOpts struct {
	Batch         int
	NoWait        bool
	MaxBytes      int
	Expires       time.Duration
	IdleHeartbeat time.Duration
}

// pullSubscription specializes jsSubscription with an explicit pull
// operation (§4.6). It is never ordered.
type pullSubscription struct {
	*jsSubscription
}

func newPullSubscription(client *Client, stream, name string, cfg *api.ConsumerConfig, attached bool, opts jsSubOpts) (*pullSubscription, error) {
	opts.ordered = false
	deliver := client.nc.NewInbox()
	js, err := newJSSubscription(client, stream, name, cfg, attached, deliver, opts)
	if err != nil {
		return nil, err
	}
	return &pullSubscription{jsSubscription: js}, nil
}

// Pull issues a CONSUMER.MSG.NEXT request for up to opts.Batch
// messages (or opts.MaxBytes bytes), delivered to this subscription's
// inbox (§4.6).
func (p *pullSubscription) Pull(opts PullOpts) error {
	if opts.MaxBytes > 0 && !p.client.nc.HasFeature(FeatureMaxBytes) {
		return fmt.Errorf("jsc: max_bytes pull requires a server supporting %s", FeatureMaxBytes)
	}
	if opts.IdleHeartbeat > 0 && opts.Expires <= opts.IdleHeartbeat {
		return fmt.Errorf("jsc: idle_heartbeat must be less than expires")
	}

	p.mu.Lock()
	if p.hbMon != nil {
		p.hbMon.Stop()
		p.hbMon = nil
	}
	deliver := p.deliver
	p.mu.Unlock()

	if opts.Expires > 0 && opts.IdleHeartbeat > 0 {
		p.installHeartbeatMonitor(opts.IdleHeartbeat, opts.Expires)
	}

	req := api.ConsumerNextRequest{
		Batch:     opts.Batch,
		Expires:   opts.Expires,
		NoWait:    opts.NoWait,
		MaxBytes:  opts.MaxBytes,
		Heartbeat: opts.IdleHeartbeat,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	subj := p.client.apiSubject(fmt.Sprintf(api.ConsumerNextT, p.stream, p.consumerName()))
	return p.client.nc.PublishMsg(&nats.Msg{Subject: subj, Reply: deliver, Data: data})
}
