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
	"sort"
	"strings"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
)

// LogQuery filters one partition of the execution log. Zero values mean
// "no filter".
type LogQuery struct {
	PartitionKey string
	ExecID       string
	Status       string
	Text         string
	From         string
	To           string
	Order        string // asc|desc, desc default
	Limit        int
}

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 5000
)

// LogService answers execution-log reads.
type LogService struct {
	logs repo.IExecutionLogRepository
}

func NewLogService(logs repo.IExecutionLogRepository) *LogService {
	return &LogService{logs: logs}
}

// ByExec returns every recorded row for one execution.
func (s *LogService) ByExec(ctx context.Context, partitionKey, execID string) ([]model.ExecutionRecord, error) {
	return s.logs.ListByExec(ctx, partitionKey, execID)
}

// Query loads the partition and filters in memory. Partitions are one day
// wide, so the scan is bounded.
func (s *LogService) Query(ctx context.Context, q LogQuery) ([]model.ExecutionRecord, error) {
	recs, err := s.logs.QueryPartition(ctx, q.PartitionKey)
	if err != nil {
		return nil, err
	}

	out := recs[:0]
	for _, r := range recs {
		if q.ExecID != "" && r.ExecID != q.ExecID {
			continue
		}
		if q.Status != "" && !strings.EqualFold(r.Status, q.Status) {
			continue
		}
		if q.Text != "" && !recordContains(r, q.Text) {
			continue
		}
		if q.From != "" && r.RequestedAt < q.From {
			continue
		}
		if q.To != "" && r.RequestedAt > q.To {
			continue
		}
		out = append(out, r)
	}

	asc := strings.EqualFold(q.Order, "asc")
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].RequestedAt < out[j].RequestedAt
		}
		return out[i].RequestedAt > out[j].RequestedAt
	})

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordContains does a case-insensitive substring match over the text-ish
// columns of a record.
func recordContains(r model.ExecutionRecord, text string) bool {
	needle := strings.ToLower(text)
	for _, hay := range []string{r.Name, r.SchemaID, r.Runbook, r.RunArgs, r.Log} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}
