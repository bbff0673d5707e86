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

// Package heartbeat keeps this worker registered with the orchestrator.
package heartbeat

import (
	"strings"
	"time"

	"github.com/cloudo-ops/cloudo/internal/pkg/schedule"
	"github.com/cloudo-ops/cloudo/internal/worker/config"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Sender posts periodic registrations. A worker that stops sending drops out
// of dispatch within the orchestrator's freshness window.
type Sender struct {
	client *resty.Client
	url    string
	key    string
	cron   string
	body   map[string]any
	done   chan struct{}
}

func NewSender(hb config.HeartbeatConfig, runner config.RunnerConfig) *Sender {
	return &Sender{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    strings.TrimRight(hb.OrchestratorURL, "/") + "/api/workers/register",
		key:    hb.AuthKey,
		cron:   hb.Cron,
		body: map[string]any{
			"capability": runner.Capability,
			"worker_id":  runner.WorkerID,
			"queue":      runner.JobQueue,
			"region":     runner.Region,
		},
		done: make(chan struct{}),
	}
}

// Send posts one registration.
func (s *Sender) Send() error {
	resp, err := s.client.R().
		SetHeader("x-cloudo-key", s.key).
		SetBody(s.body).
		Post(s.url)
	if err != nil {
		return errors.Wrap(err, "send heartbeat")
	}
	if resp.IsError() {
		return errors.Errorf("heartbeat rejected: %s: %s", resp.Status(), resp.String())
	}
	return nil
}

// Start sends an initial registration and then follows the cron schedule.
func (s *Sender) Start() error {
	if err := s.Send(); err != nil {
		log.Errorw("initial heartbeat failed", "error", err)
	}
	return schedule.Ticker(s.cron, time.Second, s.done, func(time.Time) {
		if err := s.Send(); err != nil {
			log.Errorw("heartbeat failed", "error", err)
		}
	})
}

// Stop halts the schedule.
func (s *Sender) Stop() {
	close(s.done)
}
