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

package engine

import (
	"context"
	"time"

	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/queue"
)

// Reporter publishes execution outcomes to the notification queue.
type Reporter struct {
	queue             queue.IQueue
	notificationQueue string
}

func NewReporter(q queue.IQueue, notificationQueue string) *Reporter {
	return &Reporter{queue: q, notificationQueue: notificationQueue}
}

// Report builds and enqueues the outcome message for job. Reporting is
// best-effort: a publish failure is logged, never propagated into the run.
func (r *Reporter) Report(ctx context.Context, job message.Job, status, logText string) {
	out := message.Outcome{
		RequestedAt:      job.RequestedAt,
		ID:               job.ID,
		Name:             job.Name,
		ExecID:           job.ExecID,
		Runbook:          job.Runbook,
		RunArgs:          job.RunArgs,
		Worker:           job.Worker,
		Status:           status,
		OnCall:           job.OnCall,
		MonitorCondition: job.MonitorCondition,
		Severity:         job.Severity,
		ResourceInfo:     job.ResourceInfo,
		RoutingInfo:      job.RoutingInfo,
		LogsB64:          message.EncodeLogs([]byte(logText)),
		ContentType:      "text/plain; charset=utf-8",
		SentAt:           message.Timestamp(time.Now()),
	}
	raw, err := message.EncodeOutcome(out)
	if err != nil {
		log.Errorw("encode outcome failed", "execId", job.ExecID, "error", err)
		return
	}
	if err := r.queue.Enqueue(ctx, r.notificationQueue, raw); err != nil {
		log.Errorw("publish outcome failed", "execId", job.ExecID, "status", status, "error", err)
		return
	}
	log.Debugw("outcome published", "execId", job.ExecID, "status", status)
}
