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
	"math/rand/v2"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/pkg/errors"
)

// ErrNoWorkerAvailable is terminal: dispatch does not retry or queue for
// later, the caller escalates.
var ErrNoWorkerAvailable = errors.New("no live worker available for capability")

// Selector picks a live worker for a capability. Selection is uniformly
// random among fresh candidates; the load column is tracked but deliberately
// not consulted.
type Selector struct {
	workers   repo.IWorkerRepository
	freshness time.Duration
	now       func() time.Time
	pick      func(n int) int
}

func NewSelector(workers repo.IWorkerRepository, freshness time.Duration) *Selector {
	return &Selector{
		workers:   workers,
		freshness: freshness,
		now:       time.Now,
		pick:      rand.IntN,
	}
}

// Select returns one fresh registration under capability. The freshness
// window is shorter than the GC window so selection never races a worker
// that is about to be evicted.
func (s *Selector) Select(ctx context.Context, capability string) (*model.WorkerRegistration, error) {
	regs, err := s.workers.ListByCapability(ctx, capability)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.freshness)
	fresh := regs[:0]
	for _, r := range regs {
		if r.LastSeen.After(cutoff) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil, errors.Wrap(ErrNoWorkerAvailable, capability)
	}

	chosen := fresh[s.pick(len(fresh))]
	return &chosen, nil
}
