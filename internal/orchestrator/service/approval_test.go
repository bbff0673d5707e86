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
	"net/url"
	"testing"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/pkg/token"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	logs      *fakeLogs
	schemas   *fakeSchemas
	workers   *fakeWorkers
	queue     *fakeQueue
	chat      *fakeChat
	page      *fakePage
	settings  fakeSettings
	trigger   *TriggerService
	approvals *ApprovalService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{
		logs:     &fakeLogs{},
		schemas:  &fakeSchemas{byID: map[string]model.Schema{}},
		workers:  &fakeWorkers{},
		queue:    &fakeQueue{},
		chat:     &fakeChat{},
		page:     &fakePage{},
		settings: fakeSettings{},
	}
	selector := NewSelector(s.workers, 3*time.Minute)
	dispatcher := NewDispatcher(selector, s.queue)
	escalator := NewEscalationService(s.logs, s.settings, s.chat, s.page, s.queue, "notifications", "#cloudo-default")
	s.approvals = NewApprovalService(s.logs, s.schemas, dispatcher, escalator,
		token.NewCodec("test-secret"), time.Hour, "http://localhost:8080",
		s.chat, "xoxb-test", "#cloudo-test")
	s.trigger = NewTriggerService(s.schemas, s.logs, s.approvals, dispatcher, escalator)
	return s
}

func (s *stack) addSchema(id string, requireApproval bool) {
	s.schemas.byID[id] = model.Schema{
		PartitionKey:    model.SchemaPartition,
		RowKey:          id,
		Name:            "Restart " + id,
		Runbook:         "restart.sh",
		RunArgs:         "--grace 30",
		Worker:          "aks",
		OnCall:          "true",
		RequireApproval: requireApproval,
	}
}

func (s *stack) addWorker(capability string) {
	s.workers.regs = append(s.workers.regs, reg(capability, "w-"+capability, time.Now()))
}

// decisionParams pulls the signed payload and signature out of an approval URL.
func decisionParams(t *testing.T, rawURL string) (payload, sig string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query().Get("p"), u.Query().Get("s")
}

func TestCreatePendingWritesRecordAndURLs(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, pending.ExecID)
	assert.Contains(t, pending.ApproveURL, "/api/approvals/")
	assert.Contains(t, pending.ApproveURL, pending.ExecID+"/approve?p=")
	assert.Contains(t, pending.RejectURL, pending.ExecID+"/reject?p=")

	row := s.logs.last()
	assert.Equal(t, model.StatusPending, row.Status)
	assert.True(t, row.ApprovalRequired)
	assert.NotEmpty(t, row.ApprovalExpires)
	assert.Contains(t, row.Log, "Awaiting approval")

	// approval notice goes to the configured channel
	require.Len(t, s.chat.calls, 1)
	assert.Equal(t, "#cloudo-test", s.chat.calls[0].channel)
	assert.Contains(t, s.chat.calls[0].text, "APPROVAL REQUIRED")
}

func TestApproveDispatchesExactlyOnce(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	s.addWorker("aks")
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)
	p, sig := decisionParams(t, pending.ApproveURL)
	pk := model.PartitionKey(time.Now())

	res, err := s.approvals.Approve(context.Background(), pk, pending.ExecID, p, sig, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, res.Status)
	assert.Len(t, s.queue.messages["jobs-w-aks"], 1)

	row := s.logs.last()
	assert.Equal(t, model.StatusAccepted, row.Status)
	assert.Equal(t, "alice", row.ApprovalBy)

	// replaying the same link must conflict and must not dispatch again
	_, err = s.approvals.Approve(context.Background(), pk, pending.ExecID, p, sig, "bob")
	assert.True(t, errors.Is(err, ErrAlreadyDecided))
	assert.Len(t, s.queue.messages["jobs-w-aks"], 1)
}

func TestRejectThenApproveConflicts(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)
	p, sig := decisionParams(t, pending.RejectURL)
	pk := model.PartitionKey(time.Now())

	res, err := s.approvals.Reject(context.Background(), pk, pending.ExecID, p, sig, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.Status)

	_, err = s.approvals.Approve(context.Background(), pk, pending.ExecID, p, sig, "bob")
	assert.True(t, errors.Is(err, ErrAlreadyDecided))
	assert.Empty(t, s.queue.messages)
}

func TestApproveExpiredToken(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	s.addWorker("aks")
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)
	p, sig := decisionParams(t, pending.ApproveURL)
	pk := model.PartitionKey(time.Now())

	s.approvals.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.approvals.Approve(context.Background(), pk, pending.ExecID, p, sig, "alice")
	assert.True(t, errors.Is(err, token.ErrExpired))
	assert.Empty(t, s.queue.messages)
}

func TestApproveTamperedSignature(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)
	p, _ := decisionParams(t, pending.ApproveURL)
	pk := model.PartitionKey(time.Now())

	_, err = s.approvals.Approve(context.Background(), pk, pending.ExecID, p, "deadbeef", "alice")
	assert.True(t, errors.Is(err, token.ErrBadSignature))
}

func TestApproveNoWorkerRecordsError(t *testing.T) {
	s := newStack(t)
	s.addSchema("restart-pods", true)
	schema, _ := s.schemas.Get(context.Background(), "restart-pods")

	pending, err := s.approvals.CreatePending(context.Background(), schema, nil, nil)
	require.NoError(t, err)
	p, sig := decisionParams(t, pending.ApproveURL)
	pk := model.PartitionKey(time.Now())

	res, err := s.approvals.Approve(context.Background(), pk, pending.ExecID, p, sig, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, model.StatusError, s.logs.last().Status)
}
