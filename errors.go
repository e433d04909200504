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
	"fmt"
	"strings"

	"github.com/nats-io/jsc.go/api"
)

// Kind names a specific, user-recognizable server condition.
type Kind string

const (
	KindNoMessages             Kind = "NoMessages"
	KindRequestTimeout         Kind = "RequestTimeout"
	KindMaxBatchExceeded       Kind = "MaxBatchExceeded"
	KindMaxExpiresExceeded     Kind = "MaxExpiresExceeded"
	KindMaxBytesExceeded       Kind = "MaxBytesExceeded"
	KindMaxMessageSizeExceeded Kind = "MaxMessageSizeExceeded"
	KindMaxWaitingExceeded     Kind = "MaxWaitingExceeded"
	KindIdleHeartbeatMissed    Kind = "IdleHeartbeatMissed"
	KindConsumerDeleted        Kind = "ConsumerDeleted"
	KindConsumerIsPushBased    Kind = "ConsumerIsPushBased"
	KindInvalidAck             Kind = "InvalidAck"
	KindRequestFailed          Kind = "RequestFailed"
	KindBrokerUnavailable      Kind = "BrokerUnavailable"

	// kindProtocolUnknown never leaves the package: it marks a 100-status
	// frame that is neither flow control nor a heartbeat (spec §9 open
	// question). It is logged at debug and dropped.
	kindProtocolUnknown Kind = "protocolUnknown"
)

// Severity is how a classified condition must propagate (§4.1/§7).
type Severity int

const (
	// SeverityNone means the frame carried no error at all.
	SeverityNone Severity = iota
	// SeverityTransient conditions are hidden from iterators and only
	// delivered to explicit callbacks.
	SeverityTransient
	// SeverityTerminal conditions stop an iterator and are always
	// delivered to callbacks.
	SeverityTerminal
)

// ClassifiedError is the error type produced by the classifier and by
// synthetic errors the delivery pipeline injects (missed heartbeats).
type ClassifiedError struct {
	Severity    Severity
	Kind        Kind
	Status      int
	Description string
}

func (e *ClassifiedError) Error() string {
	if e.Description == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Is lets errors.Is(err, ErrMaxBatchExceeded) work by comparing only the
// Kind, ignoring the status/description carried on a particular instance.
func (e *ClassifiedError) Is(target error) bool {
	var other *ClassifiedError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func newClassifiedError(sev Severity, kind Kind, status int, description string) *ClassifiedError {
	return &ClassifiedError{Severity: sev, Kind: kind, Status: status, Description: description}
}

// Sentinel instances usable with errors.Is.
var (
	ErrNoMessages             = newClassifiedError(SeverityTransient, KindNoMessages, api.StatusNoMessages, "")
	ErrRequestTimeout         = newClassifiedError(SeverityTransient, KindRequestTimeout, api.StatusRequestTimeout, "")
	ErrMaxBatchExceeded       = newClassifiedError(SeverityTerminal, KindMaxBatchExceeded, api.StatusConflict, "")
	ErrMaxExpiresExceeded     = newClassifiedError(SeverityTerminal, KindMaxExpiresExceeded, api.StatusConflict, "")
	ErrMaxBytesExceeded       = newClassifiedError(SeverityTerminal, KindMaxBytesExceeded, api.StatusConflict, "")
	ErrMaxMessageSizeExceeded = newClassifiedError(SeverityTerminal, KindMaxMessageSizeExceeded, api.StatusConflict, "")
	ErrMaxWaitingExceeded     = newClassifiedError(SeverityTerminal, KindMaxWaitingExceeded, api.StatusConflict, "")
	ErrIdleHeartbeatMissed    = newClassifiedError(SeverityTerminal, KindIdleHeartbeatMissed, api.StatusConflict, "")
	ErrConsumerDeleted        = newClassifiedError(SeverityTerminal, KindConsumerDeleted, api.StatusConflict, "")
	ErrConsumerIsPushBased    = newClassifiedError(SeverityTerminal, KindConsumerIsPushBased, api.StatusConflict, "")
	ErrInvalidAck             = newClassifiedError(SeverityTerminal, KindInvalidAck, 0, "")
	ErrRequestFailed          = newClassifiedError(SeverityTerminal, KindRequestFailed, 0, "")
	ErrBrokerUnavailable      = newClassifiedError(SeverityTransient, KindBrokerUnavailable, api.StatusServiceUnavailable, "")
)

// the exact descriptive text the broker uses for each terminal 409 kind.
const (
	descMaxBatchExceeded       = "Exceeded MaxRequestBatch"
	descMaxExpiresExceeded     = "Exceeded MaxRequestExpires"
	descMaxBytesExceeded       = "Exceeded MaxRequestMaxBytes"
	descMaxMessageSizeExceeded = "Message Size Exceeds MaxBytes"
	descMaxWaitingExceeded     = "Exceeded MaxWaiting"
	descConsumerDeleted        = "Consumer Deleted"
	descConsumerIsPushBased    = "Consumer is push based"
)

// classifyOpts carries the one testability seam spec §8 needs: whether a
// MaxWaitingExceeded 409 should be treated as terminal. Left false,
// MaxWaitingExceeded is transient, matching the broker's normal behavior
// where a saturated pull queue simply drops the extra pull silently.
type classifyOpts struct {
	waitingExceededTerminal bool
}

// classify turns a received status frame into a *ClassifiedError (nil
// for status 0). A status of 0 (no Status header at all) means "not an error frame".
func classify(status int, description string, opts classifyOpts) *ClassifiedError {
	switch status {
	case 0:
		return nil
	case api.StatusNoMessages:
		return newClassifiedError(SeverityTransient, KindNoMessages, status, description)
	case api.StatusRequestTimeout:
		return newClassifiedError(SeverityTransient, KindRequestTimeout, status, description)
	case api.StatusConflict:
		return classify409(description, opts)
	case api.StatusServiceUnavailable:
		return newClassifiedError(SeverityTransient, KindBrokerUnavailable, status, description)
	case api.StatusFlowControlOrHeartbeat:
		// Heartbeats and recognized flow-control requests are routed to
		// their own frame kinds upstream and never reach classify; a 100
		// here is some other, unrecognized use of the status: ignore it
		// rather than surface it as an error.
		return newClassifiedError(SeverityNone, kindProtocolUnknown, status, description)
	default:
		return newClassifiedError(SeverityTerminal, KindRequestFailed, status, description)
	}
}

func classify409(description string, opts classifyOpts) *ClassifiedError {
	switch {
	case strings.Contains(description, descMaxWaitingExceeded):
		if opts.waitingExceededTerminal {
			return newClassifiedError(SeverityTerminal, KindMaxWaitingExceeded, api.StatusConflict, description)
		}
		return newClassifiedError(SeverityTransient, KindMaxWaitingExceeded, api.StatusConflict, description)
	case strings.Contains(description, descMaxBatchExceeded):
		return newClassifiedError(SeverityTerminal, KindMaxBatchExceeded, api.StatusConflict, description)
	case strings.Contains(description, descMaxExpiresExceeded):
		return newClassifiedError(SeverityTerminal, KindMaxExpiresExceeded, api.StatusConflict, description)
	case strings.Contains(description, descMaxBytesExceeded):
		return newClassifiedError(SeverityTerminal, KindMaxBytesExceeded, api.StatusConflict, description)
	case strings.Contains(description, descMaxMessageSizeExceeded):
		return newClassifiedError(SeverityTerminal, KindMaxMessageSizeExceeded, api.StatusConflict, description)
	case strings.Contains(description, descConsumerDeleted):
		return newClassifiedError(SeverityTerminal, KindConsumerDeleted, api.StatusConflict, description)
	case strings.Contains(description, descConsumerIsPushBased):
		return newClassifiedError(SeverityTerminal, KindConsumerIsPushBased, api.StatusConflict, description)
	default:
		return newClassifiedError(SeverityTerminal, KindRequestFailed, api.StatusConflict, description)
	}
}
