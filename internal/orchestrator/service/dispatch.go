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

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/metrics"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/pkg/errors"
)

// Dispatcher routes jobs to capability-matched workers.
type Dispatcher struct {
	selector *Selector
	queue    queue.IQueue
}

func NewDispatcher(selector *Selector, q queue.IQueue) *Dispatcher {
	return &Dispatcher{selector: selector, queue: q}
}

// Dispatch selects a live worker for the schema's capability and enqueues
// the job to its queue. An enqueue failure is a dispatch failure, never a
// silent drop.
func (d *Dispatcher) Dispatch(ctx context.Context, schema *model.Schema, execID, requestedAt string,
	resourceInfo, routingInfo map[string]string) error {

	worker, err := d.selector.Select(ctx, schema.Worker)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(schema.Worker, "no_worker").Inc()
		return err
	}

	job := message.Job{
		Runbook:          schema.Runbook,
		RunArgs:          schema.RunArgs,
		ID:               schema.RowKey,
		Name:             schema.Name,
		RequestedAt:      requestedAt,
		ExecID:           execID,
		OnCall:           schema.OnCall,
		MonitorCondition: schema.MonitorCondition,
		Severity:         schema.Severity,
		Worker:           schema.Worker,
		ResourceInfo:     resourceInfo,
		RoutingInfo:      routingInfo,
	}
	raw, err := message.EncodeJob(job)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(schema.Worker, "encode_error").Inc()
		return err
	}

	if err := d.queue.Enqueue(ctx, worker.QueueName, raw); err != nil {
		metrics.DispatchTotal.WithLabelValues(schema.Worker, "enqueue_error").Inc()
		return errors.Wrapf(err, "dispatch %s to worker %s", execID, worker.WorkerID)
	}

	metrics.DispatchTotal.WithLabelValues(schema.Worker, "accepted").Inc()
	log.Infow("job dispatched",
		"execId", execID, "schema", schema.RowKey, "capability", schema.Worker,
		"worker", worker.WorkerID, "queue", worker.QueueName)
	return nil
}
