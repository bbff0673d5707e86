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

package service

import (
	"context"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/pkg/schedule"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/pkg/errors"
)

// RegisterRequest is one worker heartbeat.
type RegisterRequest struct {
	Capability string `json:"capability"`
	WorkerID   string `json:"worker_id"`
	Queue      string `json:"queue"`
	Region     string `json:"region,omitempty"`
	Load       int    `json:"load,omitempty"`
}

// RegistryService maintains worker liveness: heartbeat upserts plus a
// periodic garbage collector. Liveness is poll+TTL, not lease-based; a
// worker that stops heartbeating is reclaimed within one GC cycle.
type RegistryService struct {
	workers  repo.IWorkerRepository
	gcWindow time.Duration
	gcCron   string
	done     chan struct{}
}

func NewRegistryService(workers repo.IWorkerRepository, gcWindow time.Duration, gcCron string) *RegistryService {
	return &RegistryService{
		workers:  workers,
		gcWindow: gcWindow,
		gcCron:   gcCron,
		done:     make(chan struct{}),
	}
}

// Register upserts the heartbeat row.
func (s *RegistryService) Register(ctx context.Context, req RegisterRequest) error {
	if req.Capability == "" || req.WorkerID == "" || req.Queue == "" {
		return errors.New("capability, worker_id and queue are required")
	}
	reg := &model.WorkerRegistration{
		Capability: req.Capability,
		WorkerID:   req.WorkerID,
		QueueName:  req.Queue,
		Region:     req.Region,
		Load:       req.Load,
		LastSeen:   time.Now().UTC(),
	}
	if err := s.workers.Upsert(ctx, reg); err != nil {
		return err
	}
	log.Debugw("worker heartbeat", "capability", req.Capability, "worker", req.WorkerID, "queue", req.Queue)
	return nil
}

// StartGC begins the periodic eviction of stale registrations.
func (s *RegistryService) StartGC() error {
	return schedule.Ticker(s.gcCron, time.Second, s.done, func(now time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.workers.DeleteStale(ctx, now.Add(-s.gcWindow))
		if err != nil {
			log.Errorw("worker registry gc failed", "error", err)
			return
		}
		if n > 0 {
			log.Infow("worker registry gc evicted stale workers", "count", n)
		}
	})
}

// Stop halts the GC loop.
func (s *RegistryService) Stop() {
	close(s.done)
}
