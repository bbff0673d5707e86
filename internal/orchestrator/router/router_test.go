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

package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/notify"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/internal/pkg/token"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogs struct {
	mu   sync.Mutex
	rows []model.ExecutionRecord
}

func (m *memLogs) Append(_ context.Context, rec *model.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *rec)
	return nil
}

func (m *memLogs) ListByExec(_ context.Context, pk, execID string) ([]model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExecutionRecord
	for _, r := range m.rows {
		if r.PartitionKey == pk && r.ExecID == execID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memLogs) QueryPartition(_ context.Context, pk string) ([]model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ExecutionRecord
	for _, r := range m.rows {
		if r.PartitionKey == pk {
			out = append(out, r)
		}
	}
	return out, nil
}

type memSchemas map[string]model.Schema

func (m memSchemas) Get(_ context.Context, id string) (*model.Schema, error) {
	s, ok := m[id]
	if !ok {
		return nil, repo.ErrSchemaNotFound
	}
	return &s, nil
}
func (m memSchemas) Put(_ context.Context, s *model.Schema) error { m[s.RowKey] = *s; return nil }
func (m memSchemas) List(_ context.Context) ([]model.Schema, error) {
	var out []model.Schema
	for _, s := range m {
		out = append(out, s)
	}
	return out, nil
}

type memWorkers struct {
	regs []model.WorkerRegistration
}

func (m *memWorkers) Upsert(_ context.Context, reg *model.WorkerRegistration) error {
	for i := range m.regs {
		if m.regs[i].Capability == reg.Capability && m.regs[i].WorkerID == reg.WorkerID {
			m.regs[i] = *reg
			return nil
		}
	}
	m.regs = append(m.regs, *reg)
	return nil
}

func (m *memWorkers) ListByCapability(_ context.Context, capability string) ([]model.WorkerRegistration, error) {
	var out []model.WorkerRegistration
	for _, r := range m.regs {
		if r.Capability == capability {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memWorkers) DeleteStale(_ context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type memQueue struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (m *memQueue) Enqueue(_ context.Context, q string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = map[string][][]byte{}
	}
	m.messages[q] = append(m.messages[q], p)
	return nil
}

func (m *memQueue) Dequeue(context.Context, string, time.Duration) ([]byte, error) {
	return nil, queue.ErrEmpty
}
func (m *memQueue) Close() error { return nil }

type noopChat struct{}

func (noopChat) SendChat(context.Context, string, string, string, []notify.Block) error { return nil }

type noopPage struct{}

func (noopPage) SendPage(context.Context, string, notify.Alert) error { return nil }

type emptySource struct{}

func (emptySource) Lookup(string) (string, bool) { return "", false }

func newTestRouter(t *testing.T) (*Router, *memQueue, *memLogs) {
	t.Helper()
	logs := &memLogs{}
	schemas := memSchemas{
		"restart-pods": {
			PartitionKey: model.SchemaPartition,
			RowKey:       "restart-pods",
			Name:         "Restart pods",
			Runbook:      "restart.sh",
			Worker:       "aks",
		},
		"gated": {
			PartitionKey:    model.SchemaPartition,
			RowKey:          "gated",
			Name:            "Gated runbook",
			Runbook:         "danger.sh",
			Worker:          "aks",
			RequireApproval: true,
		},
	}
	workers := &memWorkers{regs: []model.WorkerRegistration{{
		Capability: "aks",
		WorkerID:   "w1",
		QueueName:  "jobs-w1",
		LastSeen:   time.Now(),
	}}}
	q := &memQueue{}

	selector := service.NewSelector(workers, 3*time.Minute)
	dispatcher := service.NewDispatcher(selector, q)
	escalator := service.NewEscalationService(logs, emptySource{}, noopChat{}, noopPage{}, q, "notifications", "#cloudo-default")
	approvals := service.NewApprovalService(logs, schemas, dispatcher, escalator,
		token.NewCodec("router-test"), time.Hour, "http://localhost:8080", noopChat{}, "", "")
	trigger := service.NewTriggerService(schemas, logs, approvals, dispatcher, escalator)
	registry := service.NewRegistryService(workers, 5*time.Minute, "0 * * * * *")
	logSvc := service.NewLogService(logs)

	rt := New(&httpx.Http{}, trigger, approvals, registry, logSvc, "worker-key")
	return rt, q, logs
}

func doReq(t *testing.T, rt *Router, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := rt.App().Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		_ = sonic.Unmarshal(raw, &body)
	} else {
		body = map[string]any{"_raw": string(raw)}
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	resp, body := doReq(t, rt, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestTriggerEndpoint(t *testing.T) {
	rt, q, _ := newTestRouter(t)

	resp, _ := doReq(t, rt, httptest.NewRequest(http.MethodPost, "/api/trigger", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doReq(t, rt, httptest.NewRequest(http.MethodPost, "/api/trigger?id=nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := doReq(t, rt, httptest.NewRequest(http.MethodPost, "/api/trigger?id=restart-pods", nil))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, model.StatusAccepted, body["status"])
	assert.Len(t, q.messages["jobs-w1"], 1)
}

func TestApprovalEndToEnd(t *testing.T) {
	rt, q, _ := newTestRouter(t)

	resp, body := doReq(t, rt, httptest.NewRequest(http.MethodPost, "/api/trigger?id=gated", nil))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	approveURL, _ := body["approve"].(string)
	require.NotEmpty(t, approveURL)
	assert.Empty(t, q.messages)

	path := strings.TrimPrefix(approveURL, "http://localhost:8080")
	resp, _ = doReq(t, rt, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, q.messages["jobs-w1"], 1)

	// replay conflicts and does not dispatch again
	resp, _ = doReq(t, rt, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, q.messages["jobs-w1"], 1)

	// tampered signature is unauthorized
	tampered := path[:len(path)-4] + "0000"
	resp, _ = doReq(t, rt, httptest.NewRequest(http.MethodGet, tampered, nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWorkerRegisterAuth(t *testing.T) {
	rt, _, _ := newTestRouter(t)

	payload := `{"capability":"aks","worker_id":"w9","queue":"jobs-w9"}`

	req := httptest.NewRequest(http.MethodPost, "/api/workers/register", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := doReq(t, rt, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/workers/register", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-cloudo-key", "worker-key")
	resp, body := doReq(t, rt, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "w9", body["registered"])
}

func TestLogsEndpoints(t *testing.T) {
	rt, _, logs := newTestRouter(t)

	resp, _ := doReq(t, rt, httptest.NewRequest(http.MethodGet, "/api/logs/20260825/unknown", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doReq(t, rt, httptest.NewRequest(http.MethodGet, "/api/logs/query", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, logs.Append(context.Background(), &model.ExecutionRecord{
		PartitionKey: "20260825",
		ExecID:       "exec-1",
		Status:       model.StatusSucceeded,
		RequestedAt:  "2026-08-25T10:00:00Z",
	}))

	resp, body := doReq(t, rt, httptest.NewRequest(http.MethodGet, "/api/logs/20260825/exec-1", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)

	resp, body = doReq(t, rt, httptest.NewRequest(http.MethodGet, "/api/logs/query?partitionKey=20260825&status=succeeded", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ = body["items"].([]any)
	assert.Len(t, items, 1)
}
