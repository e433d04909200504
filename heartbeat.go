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
	"sync"
	"time"
)

// defaultMaxOut is the number of consecutive missed ticks before the
// miss-handler is invoked.
const defaultMaxOut = 2

// heartbeatMonitor is a periodic liveness detector for one subscription's
// deliver inbox. It has no notion of ordered vs. push consumers; the
// owning subscription decides what a missed beat means.
type heartbeatMonitor struct {
	mu          sync.Mutex
	interval    time.Duration
	maxOut      int
	missed      int
	lastSeen    time.Time
	onMiss      func(missed int) bool
	timer       *time.Timer
	cancelTimer *time.Timer
	stopped     bool
}

// newHeartbeatMonitor starts a monitor ticking every interval. onMiss is
// invoked once the miss counter reaches maxOut (default 2); returning
// false stops the monitor. cancelAfter, if positive, unconditionally
// stops the monitor after that duration elapses (used by pull fetch's
// expires timeout).
func newHeartbeatMonitor(interval time.Duration, maxOut int, cancelAfter time.Duration, onMiss func(missed int) bool) *heartbeatMonitor {
	if maxOut <= 0 {
		maxOut = defaultMaxOut
	}
	m := &heartbeatMonitor{interval: interval, maxOut: maxOut, onMiss: onMiss, lastSeen: time.Now()}
	m.timer = time.AfterFunc(interval, m.tick)
	if cancelAfter > 0 {
		m.cancelTimer = time.AfterFunc(cancelAfter, m.Stop)
	}
	return m
}

func (m *heartbeatMonitor) tick() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.missed++
	missed := m.missed
	maxOut := m.maxOut
	onMiss := m.onMiss
	m.mu.Unlock()

	if missed >= maxOut && onMiss != nil {
		if !onMiss(missed) {
			m.Stop()
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.timer = time.AfterFunc(m.interval, m.tick)
}

// Work resets the missed-beat counter; called whenever any frame (data or
// protocol) arrives on the monitored inbox.
func (m *heartbeatMonitor) Work() {
	m.mu.Lock()
	m.missed = 0
	m.lastSeen = time.Now()
	m.mu.Unlock()
}

// LastSeen reports when the monitor last observed any frame, for
// diagnostic logging on a miss.
func (m *heartbeatMonitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Change atomically reconfigures the interval and cancel-after deadline,
// resetting the miss counter.
func (m *heartbeatMonitor) Change(interval time.Duration, cancelAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.cancelTimer != nil {
		m.cancelTimer.Stop()
		m.cancelTimer = nil
	}
	m.interval = interval
	m.missed = 0
	m.timer = time.AfterFunc(interval, m.tick)
	if cancelAfter > 0 {
		m.cancelTimer = time.AfterFunc(cancelAfter, m.Stop)
	}
}

// Stop cancels the monitor. Idempotent.
func (m *heartbeatMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.cancelTimer != nil {
		m.cancelTimer.Stop()
	}
}
