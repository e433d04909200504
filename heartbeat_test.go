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
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartbeatMonitorFiresAfterMaxOut(t *testing.T) {
	var missedAt int32
	done := make(chan struct{})

	m := newHeartbeatMonitor(10*time.Millisecond, 2, 0, func(missed int) bool {
		atomic.StoreInt32(&missedAt, int32(missed))
		close(done)
		return false
	})
	defer m.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onMiss was never invoked")
	}
	if got := atomic.LoadInt32(&missedAt); got != 2 {
		t.Fatalf("expected onMiss to fire at missed=2, got %d", got)
	}
}

func TestHeartbeatMonitorWorkResetsMissCounter(t *testing.T) {
	fired := make(chan struct{}, 1)
	m := newHeartbeatMonitor(15*time.Millisecond, 2, 0, func(missed int) bool {
		select {
		case fired <- struct{}{}:
		default:
		}
		return false
	})
	defer m.Stop()

	stop := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(stop) {
		m.Work()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
		t.Fatal("onMiss fired despite regular Work() calls resetting the counter")
	default:
	}
}

func TestHeartbeatMonitorLastSeenAdvances(t *testing.T) {
	m := newHeartbeatMonitor(time.Hour, 2, 0, func(int) bool { return false })
	defer m.Stop()

	first := m.LastSeen()
	time.Sleep(2 * time.Millisecond)
	m.Work()
	second := m.LastSeen()

	if !second.After(first) {
		t.Fatalf("expected LastSeen to advance after Work(), first=%v second=%v", first, second)
	}
}

func TestHeartbeatMonitorStopIsIdempotent(t *testing.T) {
	m := newHeartbeatMonitor(5*time.Millisecond, 2, 0, func(int) bool { return true })
	m.Stop()
	m.Stop()
}

func TestHeartbeatMonitorCancelAfter(t *testing.T) {
	called := make(chan struct{})
	m := newHeartbeatMonitor(time.Hour, 2, 20*time.Millisecond, func(int) bool {
		close(called)
		return false
	})
	defer m.Stop()

	time.Sleep(60 * time.Millisecond)
	select {
	case <-called:
		t.Fatal("onMiss should not fire once cancelAfter stopped the monitor")
	default:
	}
}
