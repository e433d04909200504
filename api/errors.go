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

package api

import "fmt"

// ErrorCode is the fine-grained error code the broker embeds alongside a
// status code, used to distinguish e.g. "consumer not found" from other
// 404s.
type ErrorCode int

const (
	JSErrCodeConsumerNotFound   ErrorCode = 10014
	JSErrCodeConsumerNameExists ErrorCode = 10013
	JSErrCodeStreamNotFound     ErrorCode = 10059
	JSErrCodeConsumerExists     ErrorCode = 10105
)

// Error is the error envelope the broker embeds in API responses.
type Error struct {
	Code        int       `json:"code"`
	ErrorCode   ErrorCode `json:"err_code,omitempty"`
	Description string    `json:"description,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Description, e.Code)
}

// Response is embedded in every JetStream API JSON reply.
type Response struct {
	Type  string `json:"type,omitempty"`
	Error *Error `json:"error,omitempty"`
}
