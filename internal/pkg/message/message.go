// Copyright 2025 Cloudo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package message defines the queue wire formats exchanged between the
// orchestrator and workers.
package message

import (
	"encoding/base64"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// MaxLogBytes caps raw output carried in an outcome message, before base64.
const MaxLogBytes = 131072

// Job is one dispatched runbook execution.
type Job struct {
	Runbook          string            `json:"runbook"`
	RunArgs          string            `json:"run_args"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	RequestedAt      string            `json:"requestedAt"`
	ExecID           string            `json:"exec_id"`
	OnCall           string            `json:"oncall"`
	MonitorCondition string            `json:"monitor_condition"`
	Severity         string            `json:"severity"`
	Worker           string            `json:"worker"`
	ResourceInfo     map[string]string `json:"resource_info,omitempty"`
	RoutingInfo      map[string]string `json:"routing_info,omitempty"`
}

// Outcome reports a job's result back through the notification queue.
type Outcome struct {
	RequestedAt      string            `json:"requestedAt"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ExecID           string            `json:"exec_id"`
	Runbook          string            `json:"runbook"`
	RunArgs          string            `json:"run_args"`
	Worker           string            `json:"worker"`
	Status           string            `json:"status"`
	OnCall           string            `json:"oncall"`
	MonitorCondition string            `json:"monitor_condition"`
	Severity         string            `json:"severity"`
	ResourceInfo     map[string]string `json:"resource_info,omitempty"`
	RoutingInfo      map[string]string `json:"routing_info,omitempty"`
	LogsB64          string            `json:"logs_b64,omitempty"`
	ContentType      string            `json:"content_type,omitempty"`
	SentAt           string            `json:"sent_at"`
}

// EncodeJob serializes j for the wire.
func EncodeJob(j Job) ([]byte, error) {
	raw, err := sonic.Marshal(j)
	if err != nil {
		return nil, errors.Wrap(err, "marshal job message")
	}
	return raw, nil
}

// DecodeJob parses a job message.
func DecodeJob(raw []byte) (Job, error) {
	var j Job
	if err := sonic.Unmarshal(raw, &j); err != nil {
		return Job{}, errors.Wrap(err, "unmarshal job message")
	}
	return j, nil
}

// EncodeOutcome serializes o for the wire.
func EncodeOutcome(o Outcome) ([]byte, error) {
	raw, err := sonic.Marshal(o)
	if err != nil {
		return nil, errors.Wrap(err, "marshal outcome message")
	}
	return raw, nil
}

// DecodeOutcome parses an outcome message.
func DecodeOutcome(raw []byte) (Outcome, error) {
	var o Outcome
	if err := sonic.Unmarshal(raw, &o); err != nil {
		return Outcome{}, errors.Wrap(err, "unmarshal outcome message")
	}
	return o, nil
}

// EncodeLogs truncates output to MaxLogBytes and base64-encodes it.
func EncodeLogs(output []byte) string {
	if len(output) > MaxLogBytes {
		output = output[:MaxLogBytes]
	}
	return base64.StdEncoding.EncodeToString(output)
}

// DecodeLogs decodes a logs_b64 field, returning an empty string for absent
// or malformed input rather than failing the whole message.
func DecodeLogs(logsB64 string) string {
	if logsB64 == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(logsB64)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Timestamp renders t in the wire timestamp layout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
