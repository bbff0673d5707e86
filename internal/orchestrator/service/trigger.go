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
	"github.com/cloudo-ops/cloudo/internal/orchestrator/routing"
	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNoSchemaID means neither the query string nor the alert body named a
// schema to run.
var ErrNoSchemaID = errors.New("unable to resolve schema id from request")

// TriggerResult reports how an inbound alert or manual trigger was handled.
type TriggerResult struct {
	ExecID       string           `json:"exec_id"`
	PartitionKey string           `json:"partition_key"`
	SchemaID     string           `json:"id"`
	SchemaName   string           `json:"name"`
	Status       string           `json:"status"`
	RequestedAt  string           `json:"requestedAt"`
	Message      string           `json:"message,omitempty"`
	Pending      *PendingApproval `json:"pending,omitempty"`
}

// TriggerService resolves inbound requests to a schema and either parks them
// behind the approval gate or dispatches immediately.
type TriggerService struct {
	schemas    repo.ISchemaRepository
	logs       repo.IExecutionLogRepository
	approvals  *ApprovalService
	dispatcher *Dispatcher
	escalator  *EscalationService

	now func() time.Time
}

func NewTriggerService(
	schemas repo.ISchemaRepository,
	logs repo.IExecutionLogRepository,
	approvals *ApprovalService,
	dispatcher *Dispatcher,
	escalator *EscalationService,
) *TriggerService {
	return &TriggerService{
		schemas:    schemas,
		logs:       logs,
		approvals:  approvals,
		dispatcher: dispatcher,
		escalator:  escalator,
		now:        time.Now,
	}
}

// Trigger handles one inbound request. schemaID comes from the query string
// for manual triggers; otherwise the alert body is parsed. Returns
// ErrNoSchemaID or repo.ErrSchemaNotFound for the handler to map to 400/404.
func (s *TriggerService) Trigger(ctx context.Context, schemaID string, body []byte) (*TriggerResult, error) {
	var alert ParsedAlert
	if schemaID == "" {
		alert = ParseAlert(body)
		schemaID = alert.SchemaID
	}
	if schemaID == "" {
		return nil, ErrNoSchemaID
	}

	schema, err := s.schemas.Get(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	schema.MonitorCondition = alert.MonitorCondition
	schema.Severity = alert.Severity

	if schema.RequireApproval {
		pending, err := s.approvals.CreatePending(ctx, schema, alert.ResourceInfo, alert.RoutingInfo)
		if err != nil {
			return nil, err
		}
		return &TriggerResult{
			ExecID:       pending.ExecID,
			PartitionKey: model.PartitionKey(s.now()),
			SchemaID:     schema.RowKey,
			SchemaName:   schema.Name,
			Status:       model.StatusPending,
			Message:      "Job is pending approval",
			Pending:      pending,
		}, nil
	}

	return s.dispatchNow(ctx, schema, alert)
}

// dispatchNow runs the non-approval path: dispatch, log accepted or error,
// and escalate a dispatch failure as a terminal outcome.
func (s *TriggerService) dispatchNow(ctx context.Context, schema *model.Schema, alert ParsedAlert) (*TriggerResult, error) {
	now := s.now()
	execID := uuid.NewString()
	requestedAt := message.Timestamp(now)
	partitionKey := model.PartitionKey(now)

	status := model.StatusAccepted
	logMsg := "Dispatched to worker queue"
	if err := s.dispatcher.Dispatch(ctx, schema, execID, requestedAt, alert.ResourceInfo, alert.RoutingInfo); err != nil {
		status = model.StatusError
		logMsg = "Dispatch failed: " + err.Error()
		log.Errorw("trigger dispatch failed", "execId", execID, "schema", schema.RowKey, "error", err)
	}

	rec := &model.ExecutionRecord{
		PartitionKey:     partitionKey,
		RowKey:           execID,
		ExecID:           execID,
		Status:           status,
		RequestedAt:      requestedAt,
		SchemaID:         schema.RowKey,
		Name:             schema.Name,
		Runbook:          schema.Runbook,
		RunArgs:          schema.RunArgs,
		Worker:           schema.Worker,
		OnCall:           schema.OnCall,
		MonitorCondition: schema.MonitorCondition,
		Severity:         schema.Severity,
		Log:              logMsg,
	}
	if err := s.logs.Append(ctx, rec); err != nil {
		return nil, err
	}

	if status != model.StatusAccepted {
		s.escalator.Escalate(ctx, routing.Context{
			ResourceID:    alert.ResourceInfo["resource_id"],
			ResourceGroup: alert.ResourceInfo["resource_rg"],
			ResourceName:  alert.ResourceInfo["resource_name"],
			SchemaName:    schema.Name,
			Severity:      schema.Severity,
			Namespace:     alert.ResourceInfo["namespace"],
			OnCall:        schema.OnCall,
			Status:        model.StatusError,
			ExecID:        execID,
			Name:          schema.Name,
			ID:            schema.RowKey,
			RoutingInfo:   alert.RoutingInfo,
		}, escalationInfo{
			monitorCondition: schema.MonitorCondition,
			runbook:          schema.Runbook,
			runArgs:          schema.RunArgs,
			rawAlert:         alert.ResourceInfo["_raw"],
			logText:          logMsg,
		})
	}

	return &TriggerResult{
		ExecID:       execID,
		PartitionKey: partitionKey,
		SchemaID:     schema.RowKey,
		SchemaName:   schema.Name,
		Status:       status,
		RequestedAt:  requestedAt,
		Message:      logMsg,
	}, nil
}
