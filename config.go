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
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nats-io/jsc.go/api"
)

// ConsumerTemplate is a checked-in, YAML-editable starting point for a
// fleet of related consumers: the parts of api.ConsumerConfig an
// operator tunes without a code change, plus the subscribe-side knobs
// that never travel to the server.
type ConsumerTemplate struct {
	Stream   string `yaml:"stream,omitempty"`
	Subject  string `yaml:"subject,omitempty"`
	Ordered  bool   `yaml:"ordered,omitempty"`
	BindOnly bool   `yaml:"bind_only,omitempty"`

	Config api.ConsumerConfig `yaml:"config"`
}

// LoadConsumerTemplate decodes a ConsumerTemplate from r.
func LoadConsumerTemplate(r io.Reader) (*ConsumerTemplate, error) {
	var t ConsumerTemplate
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ConsumerOptions renders t.Config as the ConsumerOption sequence
// Client.Subscribe/PullSubscribe expect, so a template can be used
// alongside code-specified overrides: WithConsumerOptions(t.ConsumerOptions()...).
func (t *ConsumerTemplate) ConsumerOptions() []ConsumerOption {
	cfg := t.Config
	return []ConsumerOption{
		func(o *api.ConsumerConfig) error {
			*o = cfg
			return nil
		},
	}
}

// SubOptions renders the subscribe-side knobs (ordered/bindOnly) as
// SubOpt values.
func (t *ConsumerTemplate) SubOptions() []SubOpt {
	var opts []SubOpt
	if t.Stream != "" {
		opts = append(opts, Stream(t.Stream))
	}
	if t.Ordered {
		opts = append(opts, OrderedConsumer())
	}
	if t.BindOnly {
		opts = append(opts, BindOnly())
	}
	opts = append(opts, WithConsumerOptions(t.ConsumerOptions()...))
	return opts
}
