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
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/notify"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/routing"
	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/internal/pkg/token"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrAlreadyDecided means a non-pending record exists for the execId; the
// decision conflicts and must not be applied again.
var ErrAlreadyDecided = errors.New("already decided or executed for this execId")

// PendingApproval is returned to the caller of an approval-gated trigger.
type PendingApproval struct {
	ExecID     string `json:"exec_id"`
	ApproveURL string `json:"approve"`
	RejectURL  string `json:"reject"`
	ExpiresAt  string `json:"expires_at"`
}

// DecisionResult reports one applied approval decision.
type DecisionResult struct {
	ExecID       string
	SchemaID     string
	SchemaName   string
	Status       string
	Approver     string
	PartitionKey string
	RequestedAt  string
}

// ApprovalService implements the signed, time-bounded approval gate.
// The state machine per execId is pending -> approved(dispatched) | rejected,
// enforced by the append-only log's idempotency check.
type ApprovalService struct {
	logs       repo.IExecutionLogRepository
	schemas    repo.ISchemaRepository
	dispatcher *Dispatcher
	escalator  *EscalationService
	codec      *token.Codec
	ttl        time.Duration
	baseURL    string

	chat         notify.IChatSender
	slackToken   string
	slackChannel string

	now func() time.Time
}

func NewApprovalService(
	logs repo.IExecutionLogRepository,
	schemas repo.ISchemaRepository,
	dispatcher *Dispatcher,
	escalator *EscalationService,
	codec *token.Codec,
	ttl time.Duration,
	baseURL string,
	chat notify.IChatSender,
	slackToken, slackChannel string,
) *ApprovalService {
	return &ApprovalService{
		logs:         logs,
		schemas:      schemas,
		dispatcher:   dispatcher,
		escalator:    escalator,
		codec:        codec,
		ttl:          ttl,
		baseURL:      strings.TrimRight(baseURL, "/"),
		chat:         chat,
		slackToken:   slackToken,
		slackChannel: slackChannel,
		now:          time.Now,
	}
}

// CreatePending writes the pending record, signs the approval token, and
// returns the approve/reject URLs. The TTL is a hard deadline with no
// renewal path.
func (s *ApprovalService) CreatePending(ctx context.Context, schema *model.Schema,
	resourceInfo, routingInfo map[string]string) (*PendingApproval, error) {

	now := s.now()
	execID := uuid.NewString()
	exp := now.Add(s.ttl)
	expiresAt := exp.UTC().Format(time.RFC3339)
	partitionKey := model.PartitionKey(now)

	payload, sig, err := s.codec.Encode(token.Payload{
		ExecID:           execID,
		SchemaID:         schema.RowKey,
		Exp:              exp.Unix(),
		ResourceInfo:     resourceInfo,
		RoutingInfo:      routingInfo,
		WorkerCapability: schema.Worker,
	})
	if err != nil {
		return nil, err
	}

	approveURL := fmt.Sprintf("%s/api/approvals/%s/%s/approve?p=%s&s=%s", s.baseURL, partitionKey, execID, payload, sig)
	rejectURL := fmt.Sprintf("%s/api/approvals/%s/%s/reject?p=%s&s=%s", s.baseURL, partitionKey, execID, payload, sig)

	logMsg, _ := sonic.MarshalString(map[string]any{
		"message": "Awaiting approval",
		"approve": approveURL,
		"reject":  rejectURL,
	})
	rec := &model.ExecutionRecord{
		PartitionKey:     partitionKey,
		RowKey:           execID,
		ExecID:           execID,
		Status:           model.StatusPending,
		RequestedAt:      message.Timestamp(now),
		SchemaID:         schema.RowKey,
		Name:             schema.Name,
		Runbook:          schema.Runbook,
		RunArgs:          schema.RunArgs,
		Worker:           schema.Worker,
		OnCall:           schema.OnCall,
		MonitorCondition: schema.MonitorCondition,
		Severity:         schema.Severity,
		Log:              logMsg,
		ApprovalRequired: true,
		ApprovalExpires:  expiresAt,
	}
	if err := s.logs.Append(ctx, rec); err != nil {
		return nil, err
	}

	s.notifyApprovalRequired(ctx, schema, execID, approveURL, rejectURL)

	return &PendingApproval{
		ExecID:     execID,
		ApproveURL: approveURL,
		RejectURL:  rejectURL,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *ApprovalService) notifyApprovalRequired(ctx context.Context, schema *model.Schema, execID, approveURL, rejectURL string) {
	if s.slackToken == "" {
		return
	}
	err := s.chat.SendChat(ctx, s.slackToken, s.slackChannel,
		fmt.Sprintf("[%s] APPROVAL REQUIRED: %s", execID, schema.Name),
		notify.ApprovalBlocks(schema.Name, schema.RowKey, execID, schema.Severity, schema.Runbook, schema.RunArgs, approveURL, rejectURL))
	if err != nil {
		log.Errorw("slack approval notify failed", "execId", execID, "error", err)
	}
}

// verify checks the signature, expiry and route binding, then enforces the
// idempotency invariant against today's log rows.
func (s *ApprovalService) verify(ctx context.Context, partitionKey, execID, payload, sig string) (token.Payload, error) {
	p, err := s.codec.Decode(payload, sig, execID, s.now())
	if err != nil {
		return token.Payload{}, err
	}

	rows, err := s.logs.ListByExec(ctx, partitionKey, execID)
	if err != nil {
		return token.Payload{}, err
	}
	for _, row := range rows {
		if strings.ToLower(strings.TrimSpace(row.Status)) != model.StatusPending {
			return token.Payload{}, ErrAlreadyDecided
		}
	}
	return p, nil
}

// Approve applies an approve decision: dispatch the job once and append the
// resulting accepted or error record. Dispatch failures escalate; the
// approval handler itself never retries them.
func (s *ApprovalService) Approve(ctx context.Context, partitionKey, execID, payload, sig, approver string) (*DecisionResult, error) {
	p, err := s.verify(ctx, partitionKey, execID, payload, sig)
	if err != nil {
		return nil, err
	}
	if approver == "" {
		approver = "unknown"
	}

	schema, err := s.schemas.Get(ctx, p.SchemaID)
	if err != nil {
		return nil, err
	}
	schema.Severity = firstNonEmptyStr(schema.Severity, p.ResourceInfo["severity"])

	now := s.now()
	requestedAt := message.Timestamp(now)

	status := model.StatusAccepted
	logMsg := "Approved and executed"
	if err := s.dispatcher.Dispatch(ctx, schema, execID, requestedAt, p.ResourceInfo, p.RoutingInfo); err != nil {
		status = model.StatusError
		logMsg = "Approve dispatch failed: " + err.Error()
		log.Errorw("approved job dispatch failed", "execId", execID, "error", err)
	}

	rec := &model.ExecutionRecord{
		PartitionKey:     model.PartitionKey(now),
		RowKey:           uuid.NewString(),
		ExecID:           execID,
		Status:           status,
		RequestedAt:      requestedAt,
		SchemaID:         schema.RowKey,
		Name:             schema.Name,
		Runbook:          schema.Runbook,
		RunArgs:          schema.RunArgs,
		Worker:           schema.Worker,
		OnCall:           schema.OnCall,
		Log:              logMsg,
		ApprovalRequired: true,
		ApprovalBy:       approver,
	}
	if err := s.logs.Append(ctx, rec); err != nil {
		return nil, err
	}
	metrics.ApprovalsTotal.WithLabelValues("approved").Inc()

	// Escalate only when the dispatch did not come back accepted.
	if status != model.StatusAccepted {
		s.escalator.Escalate(ctx, routing.Context{
			ResourceID:    p.ResourceInfo["resource_id"],
			ResourceGroup: p.ResourceInfo["resource_rg"],
			ResourceName:  p.ResourceInfo["resource_name"],
			SchemaName:    schema.Name,
			Namespace:     p.ResourceInfo["namespace"],
			Severity:      schema.Severity,
			OnCall:        schema.OnCall,
			Status:        model.StatusError,
			ExecID:        execID,
			Name:          schema.Name,
			ID:            schema.RowKey,
			RoutingInfo:   p.RoutingInfo,
		}, escalationInfo{
			runbook: schema.Runbook,
			runArgs: schema.RunArgs,
			logText: logMsg,
		})
	}

	s.notifyDecision(ctx, execID, schema.RowKey, "approved", approver, "*Status:* "+status)

	return &DecisionResult{
		ExecID:       execID,
		SchemaID:     schema.RowKey,
		SchemaName:   schema.Name,
		Status:       status,
		Approver:     approver,
		PartitionKey: partitionKey,
		RequestedAt:  requestedAt,
	}, nil
}

// Reject applies a reject decision: append the rejected record and escalate,
// never dispatching.
func (s *ApprovalService) Reject(ctx context.Context, partitionKey, execID, payload, sig, approver string) (*DecisionResult, error) {
	p, err := s.verify(ctx, partitionKey, execID, payload, sig)
	if err != nil {
		return nil, err
	}
	if approver == "" {
		approver = "unknown"
	}

	now := s.now()
	requestedAt := message.Timestamp(now)
	rec := &model.ExecutionRecord{
		PartitionKey:     model.PartitionKey(now),
		RowKey:           uuid.NewString(),
		ExecID:           execID,
		Status:           model.StatusRejected,
		RequestedAt:      requestedAt,
		SchemaID:         p.SchemaID,
		Log:              `{"message":"Rejected by approver"}`,
		ApprovalRequired: true,
		ApprovalBy:       approver,
	}
	if err := s.logs.Append(ctx, rec); err != nil {
		return nil, err
	}
	metrics.ApprovalsTotal.WithLabelValues("rejected").Inc()

	s.escalator.Escalate(ctx, routing.Context{
		SchemaName:  p.SchemaID,
		Status:      model.StatusRejected,
		ExecID:      execID,
		ID:          p.SchemaID,
		RoutingInfo: p.RoutingInfo,
	}, escalationInfo{logText: "Rejected by " + approver})

	s.notifyDecision(ctx, execID, p.SchemaID, "rejected", approver, "")

	return &DecisionResult{
		ExecID:       execID,
		SchemaID:     p.SchemaID,
		Status:       model.StatusRejected,
		Approver:     approver,
		PartitionKey: partitionKey,
		RequestedAt:  requestedAt,
	}, nil
}

func (s *ApprovalService) notifyDecision(ctx context.Context, execID, schemaID, decision, approver, extra string) {
	if s.slackToken == "" {
		return
	}
	emoji := "✅"
	if decision != "approved" {
		emoji = "❌"
	}
	err := s.chat.SendChat(ctx, s.slackToken, s.slackChannel,
		fmt.Sprintf("[%s] %s %s - %s", execID, emoji, strings.ToUpper(decision), schemaID),
		notify.DecisionBlocks(decision, execID, schemaID, approver, extra))
	if err != nil {
		log.Errorw("slack decision notify failed", "execId", execID, "error", err)
	}
}

func firstNonEmptyStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
