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
	"sync"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/notify"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/pkg/queue"
)

type fakeLogs struct {
	mu   sync.Mutex
	rows []model.ExecutionRecord
}

func (f *fakeLogs) Append(_ context.Context, rec *model.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(rec.Log) > model.MaxRecordLogChars {
		rec.Log = rec.Log[:model.MaxRecordLogChars]
	}
	rec.ID = uint(len(f.rows) + 1)
	f.rows = append(f.rows, *rec)
	return nil
}

func (f *fakeLogs) ListByExec(_ context.Context, partitionKey, execID string) ([]model.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExecutionRecord
	for _, r := range f.rows {
		if r.PartitionKey == partitionKey && r.ExecID == execID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLogs) QueryPartition(_ context.Context, partitionKey string) ([]model.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExecutionRecord
	for _, r := range f.rows {
		if r.PartitionKey == partitionKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLogs) last() model.ExecutionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[len(f.rows)-1]
}

type fakeSchemas struct {
	byID map[string]model.Schema
}

func (f *fakeSchemas) Get(_ context.Context, schemaID string) (*model.Schema, error) {
	s, ok := f.byID[schemaID]
	if !ok {
		return nil, repo.ErrSchemaNotFound
	}
	return &s, nil
}

func (f *fakeSchemas) Put(_ context.Context, schema *model.Schema) error {
	if f.byID == nil {
		f.byID = map[string]model.Schema{}
	}
	f.byID[schema.RowKey] = *schema
	return nil
}

func (f *fakeSchemas) List(_ context.Context) ([]model.Schema, error) {
	var out []model.Schema
	for _, s := range f.byID {
		out = append(out, s)
	}
	return out, nil
}

type fakeWorkers struct {
	regs []model.WorkerRegistration
}

func (f *fakeWorkers) Upsert(_ context.Context, reg *model.WorkerRegistration) error {
	for i := range f.regs {
		if f.regs[i].Capability == reg.Capability && f.regs[i].WorkerID == reg.WorkerID {
			f.regs[i] = *reg
			return nil
		}
	}
	f.regs = append(f.regs, *reg)
	return nil
}

func (f *fakeWorkers) ListByCapability(_ context.Context, capability string) ([]model.WorkerRegistration, error) {
	var out []model.WorkerRegistration
	for _, r := range f.regs {
		if r.Capability == capability {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeWorkers) DeleteStale(_ context.Context, olderThan time.Time) (int64, error) {
	var kept []model.WorkerRegistration
	var n int64
	for _, r := range f.regs {
		if r.LastSeen.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.regs = kept
	return n, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	messages map[string][][]byte
	failNext bool
}

func (f *fakeQueue) Enqueue(_ context.Context, queueName string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return queue.ErrEmpty
	}
	if f.messages == nil {
		f.messages = map[string][][]byte{}
	}
	f.messages[queueName] = append(f.messages[queueName], payload)
	return nil
}

func (f *fakeQueue) Dequeue(ctx context.Context, queueName string, _ time.Duration) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[queueName]
	if len(msgs) == 0 {
		return nil, queue.ErrEmpty
	}
	head := msgs[0]
	f.messages[queueName] = msgs[1:]
	return head, nil
}

func (f *fakeQueue) Close() error { return nil }

type chatCall struct {
	token, channel, text string
	blocks               []notify.Block
}

type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	err   error
}

func (f *fakeChat) SendChat(_ context.Context, token, channel, text string, blocks []notify.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{token: token, channel: channel, text: text, blocks: blocks})
	return f.err
}

type fakePage struct {
	mu     sync.Mutex
	alerts []notify.Alert
	keys   []string
	err    error
}

func (f *fakePage) SendPage(_ context.Context, apiKey string, alert notify.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, apiKey)
	f.alerts = append(f.alerts, alert)
	return f.err
}

type fakeSettings map[string]string

func (f fakeSettings) Lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}
