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

package repo

import (
	"context"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/pkg/database"
	"github.com/pkg/errors"
)

// IExecutionLogRepository persists the append-only execution log.
type IExecutionLogRepository interface {
	Append(ctx context.Context, rec *model.ExecutionRecord) error
	ListByExec(ctx context.Context, partitionKey, execID string) ([]model.ExecutionRecord, error)
	QueryPartition(ctx context.Context, partitionKey string) ([]model.ExecutionRecord, error)
}

type ExecutionLogRepo struct {
	database.IDatabase
}

func NewExecutionLogRepo(db database.IDatabase) IExecutionLogRepository {
	return &ExecutionLogRepo{IDatabase: db}
}

// Append writes one status transition row. Rows are never updated in place;
// the log column is truncated to the table cap first.
func (r *ExecutionLogRepo) Append(ctx context.Context, rec *model.ExecutionRecord) error {
	if len(rec.Log) > model.MaxRecordLogChars {
		rec.Log = rec.Log[:model.MaxRecordLogChars]
	}
	if err := r.Database().WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(err, "append execution record")
	}
	return nil
}

// ListByExec returns every row recorded for one execution within a partition.
func (r *ExecutionLogRepo) ListByExec(ctx context.Context, partitionKey, execID string) ([]model.ExecutionRecord, error) {
	var recs []model.ExecutionRecord
	err := r.Database().WithContext(ctx).
		Where("partition_key = ? AND exec_id = ?", partitionKey, execID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list execution records")
	}
	return recs, nil
}

// QueryPartition returns all rows in one date bucket.
func (r *ExecutionLogRepo) QueryPartition(ctx context.Context, partitionKey string) ([]model.ExecutionRecord, error) {
	var recs []model.ExecutionRecord
	err := r.Database().WithContext(ctx).
		Where("partition_key = ?", partitionKey).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "query execution partition")
	}
	return recs, nil
}
