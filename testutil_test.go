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
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// runJetStreamServer starts an embedded, JetStream-enabled server bound
// to an OS-assigned port and returns a connected client plus the
// server's own shutdown func. The store lives under t.TempDir, so
// nothing survives the test.
func runJetStreamServer(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}
	s, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("server.NewServer: %v", err)
	}
	s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded server never became ready")
	}

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		s.Shutdown()
		t.Fatalf("nats.Connect: %v", err)
	}

	return nc, func() {
		nc.Close()
		s.Shutdown()
		s.WaitForShutdown()
	}
}

// createStream issues a raw STREAM.CREATE request. The package under
// test never manages streams itself (§2 Non-goals), so tests drive
// stream setup directly against the API subject.
func createStream(t *testing.T, nc *nats.Conn, name string, subjects ...string) {
	t.Helper()

	req := struct {
		Name     string   `json:"name"`
		Subjects []string `json:"subjects"`
		Storage  string   `json:"storage"`
	}{Name: name, Subjects: subjects, Storage: "memory"}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal stream request: %v", err)
	}

	resp, err := nc.Request(fmt.Sprintf("$JS.API.STREAM.CREATE.%s", name), data, 5*time.Second)
	if err != nil {
		t.Fatalf("STREAM.CREATE request: %v", err)
	}

	var out struct {
		Error *struct {
			Code        int    `json:"code"`
			Description string `json:"description"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatalf("unmarshal STREAM.CREATE response: %v", err)
	}
	if out.Error != nil {
		t.Fatalf("STREAM.CREATE %s: %s (%d)", name, out.Error.Description, out.Error.Code)
	}
}
