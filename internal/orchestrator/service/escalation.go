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

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/notify"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/routing"
	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/metrics"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EscalationService consumes worker outcomes from the notification queue,
// records them, and fans out notification actions through the routing
// engine. Escalation failures never propagate to callers.
type EscalationService struct {
	logs              repo.IExecutionLogRepository
	src               routing.SettingSource
	chat              notify.IChatSender
	page              notify.IPageSender
	queue             queue.IQueue
	notificationQueue string
	defaultChannel    string
}

func NewEscalationService(
	logs repo.IExecutionLogRepository,
	src routing.SettingSource,
	chat notify.IChatSender,
	page notify.IPageSender,
	q queue.IQueue,
	notificationQueue, defaultChannel string,
) *EscalationService {
	return &EscalationService{
		logs:              logs,
		src:               src,
		chat:              chat,
		page:              page,
		queue:             q,
		notificationQueue: notificationQueue,
		defaultChannel:    defaultChannel,
	}
}

// Run consumes the notification queue until ctx is cancelled.
func (s *EscalationService) Run(ctx context.Context) {
	log.Infow("escalation dispatcher started", "queue", s.notificationQueue)
	for {
		raw, err := s.queue.Dequeue(ctx, s.notificationQueue, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("escalation dispatcher stopped")
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			log.Errorw("dequeue outcome failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		outcome, err := message.DecodeOutcome(raw)
		if err != nil {
			log.Errorw("invalid outcome message dropped", "error", err)
			continue
		}
		if err := s.HandleOutcome(ctx, outcome); err != nil {
			log.Errorw("outcome handling failed", "execId", outcome.ExecID, "error", err)
		}
	}
}

// normalizeStatus maps worker status labels to canonical log labels.
func normalizeStatus(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	if normalized == "completed" {
		return model.StatusSucceeded
	}
	return normalized
}

// HandleOutcome appends the execution record and routes terminal outcomes.
// A running annotation is recorded but never escalated.
func (s *EscalationService) HandleOutcome(ctx context.Context, o message.Outcome) error {
	status := normalizeStatus(o.Status)
	logText := message.DecodeLogs(o.LogsB64)

	requestedAt := o.SentAt
	if requestedAt == "" {
		requestedAt = message.Timestamp(time.Now())
	}
	rec := &model.ExecutionRecord{
		PartitionKey:     model.PartitionKey(time.Now()),
		RowKey:           uuid.NewString(),
		ExecID:           o.ExecID,
		Status:           status,
		RequestedAt:      requestedAt,
		SchemaID:         o.ID,
		Name:             o.Name,
		Runbook:          o.Runbook,
		RunArgs:          o.RunArgs,
		Worker:           o.Worker,
		OnCall:           o.OnCall,
		MonitorCondition: o.MonitorCondition,
		Severity:         o.Severity,
		Log:              logText,
	}
	if err := s.logs.Append(ctx, rec); err != nil {
		return err
	}
	metrics.ExecutionsTotal.WithLabelValues(status).Inc()

	if status == model.StatusRunning {
		log.Debugw("running annotation recorded", "execId", o.ExecID)
		return nil
	}

	s.Escalate(ctx, routing.Context{
		ResourceID:    o.ResourceInfo["resource_id"],
		ResourceGroup: o.ResourceInfo["resource_rg"],
		ResourceName:  o.ResourceInfo["resource_name"],
		SchemaName:    o.Name,
		Severity:      o.Severity,
		Namespace:     o.ResourceInfo["namespace"],
		OnCall:        o.OnCall,
		Status:        status,
		ExecID:        o.ExecID,
		Name:          o.Name,
		ID:            o.ID,
		RoutingInfo:   o.RoutingInfo,
	}, escalationInfo{
		monitorCondition: o.MonitorCondition,
		runbook:          o.Runbook,
		runArgs:          o.RunArgs,
		rawAlert:         o.ResourceInfo["_raw"],
		logText:          logText,
	})
	return nil
}

type escalationInfo struct {
	monitorCondition string
	runbook          string
	runArgs          string
	rawAlert         string
	logText          string
}

// Escalate routes the context and executes the resulting actions. Never
// returns an error: escalation failures are terminal only to themselves.
func (s *EscalationService) Escalate(ctx context.Context, rctx routing.Context, info escalationInfo) {
	raw, _ := s.src.Lookup("ROUTING_RULES")
	cfg := routing.ParseConfig(raw, s.defaultChannel)
	engine := routing.NewEngine(cfg, s.src)

	decision := engine.Route(rctx)

	status := strings.ToLower(strings.TrimSpace(rctx.Status))
	blocks := notify.OutcomeBlocks(
		rctx.Name, rctx.ID, rctx.ExecID, status, rctx.Severity, rctx.OnCall,
		info.monitorCondition, info.runbook, info.runArgs, info.logText)
	text := fmt.Sprintf("[%s] Status: %s: %s", rctx.ExecID, status, rctx.Name)

	alert := notify.Alert{
		Message:          fmt.Sprintf("[%s] [%s] %s", rctx.ID, rctx.Severity, rctx.Name),
		Description:      opsgenieDescription(rctx.ExecID, info.rawAlert, info.logText),
		Priority:         notify.PriorityFromSeverity(rctx.Severity),
		Alias:            rctx.ExecID,
		MonitorCondition: info.monitorCondition,
		Details: map[string]string{
			"Name":             rctx.Name,
			"Id":               rctx.ID,
			"ExecId":           rctx.ExecID,
			"Status":           status,
			"Runbook":          info.runbook,
			"Run_Args":         info.runArgs,
			"OnCall":           rctx.OnCall,
			"MonitorCondition": info.monitorCondition,
			"Severity":         rctx.Severity,
		},
	}

	routing.ExecuteActions(decision, s.src,
		func(a routing.Action) error {
			err := s.chat.SendChat(ctx, a.Token, a.Channel, text, blocks)
			s.countAction("slack", err)
			return err
		},
		func(a routing.Action) error {
			err := s.page.SendPage(ctx, a.APIKey, alert)
			s.countAction("opsgenie", err)
			return err
		})
}

func (s *EscalationService) countAction(actionType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EscalationsTotal.WithLabelValues(actionType, result).Inc()
}

func opsgenieDescription(execID, rawAlert, result string) string {
	sep := strings.Repeat("=", 64)
	if rawAlert == "" {
		rawAlert = "-"
	}
	return fmt.Sprintf("%s\nAlarm content (JSON)\n%s\n%s\n\n%s\nExecution result for %s\n%s\n%s",
		sep, sep, rawAlert, sep, execID, sep, result)
}
