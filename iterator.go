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
	"errors"
	"sync"
)

// ErrIteratorClosed is returned by Next once the iterator has been
// stopped without an explicit error (natural end-of-sequence, e.g. a
// fetch batch that completed cleanly).
var ErrIteratorClosed = errors.New("jsc: iterator closed")

// dispatchedFunc is invoked after a value has been successfully handed
// to the consumer by Next.
type dispatchedFunc[T any] func(v *T)

type queuedItem[T any] struct {
	val T
	err error
}

// iterator is a bounded, cancellable, single-consumer sequence of values
// produced from incoming protocol frames (§4.3). Frame-kind filtering
// happens upstream, in subscription.ingest's frameHooks; by the time a
// value reaches push, it is already application-visible.
type iterator[T any] struct {
	ch     chan queuedItem[T]
	closed chan struct{}

	mu      sync.Mutex
	stopped bool
	stopErr error

	dispatched dispatchedFunc[T]
}

type iteratorOption[T any] func(*iterator[T])

func withDispatched[T any](fn dispatchedFunc[T]) iteratorOption[T] {
	return func(it *iterator[T]) { it.dispatched = fn }
}

func newIterator[T any](bufSize int, opts ...iteratorOption[T]) *iterator[T] {
	if bufSize <= 0 {
		bufSize = 64
	}
	it := &iterator[T]{
		ch:     make(chan queuedItem[T], bufSize),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// push enqueues v for delivery to the application. It is a no-op once
// the iterator has been stopped.
func (it *iterator[T]) push(v T) {
	it.mu.Lock()
	if it.stopped {
		it.mu.Unlock()
		return
	}
	it.mu.Unlock()

	select {
	case it.ch <- queuedItem[T]{val: v}:
	case <-it.closed:
	}
}

// stop terminates the iterator. err is nil for a natural end (batch
// reached, server signalled pending==0, expiration timer fired) or a
// *ClassifiedError for a terminal condition. Idempotent.
func (it *iterator[T]) stop(err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.stopped {
		return
	}
	it.stopped = true
	it.stopErr = err
	close(it.closed)
}

// next blocks for the next application-visible value, returning the
// stop error (or ErrIteratorClosed) once the iterator is done. Buffered
// values are drained before the stop error is surfaced.
func (it *iterator[T]) next(ctx ctxDoner) (T, error) {
	var zero T

	select {
	case item := <-it.ch:
		return it.deliver(item)
	default:
	}

	select {
	case item := <-it.ch:
		return it.deliver(item)
	case <-it.closed:
		it.mu.Lock()
		err := it.stopErr
		it.mu.Unlock()
		if err == nil {
			err = ErrIteratorClosed
		}
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (it *iterator[T]) deliver(item queuedItem[T]) (T, error) {
	if item.err != nil {
		var zero T
		return zero, item.err
	}
	if it.dispatched != nil {
		it.dispatched(&item.val)
	}
	return item.val, nil
}
