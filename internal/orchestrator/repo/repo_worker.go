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
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/pkg/database"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// IWorkerRepository is the worker liveness table, partitioned by capability.
type IWorkerRepository interface {
	Upsert(ctx context.Context, reg *model.WorkerRegistration) error
	ListByCapability(ctx context.Context, capability string) ([]model.WorkerRegistration, error)
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type WorkerRepo struct {
	database.IDatabase
}

func NewWorkerRepo(db database.IDatabase) IWorkerRepository {
	return &WorkerRepo{IDatabase: db}
}

// Upsert writes a heartbeat row keyed by (capability, workerId).
func (r *WorkerRepo) Upsert(ctx context.Context, reg *model.WorkerRegistration) error {
	db := r.Database().WithContext(ctx)

	var existing model.WorkerRegistration
	err := db.Where("capability = ? AND worker_id = ?", reg.Capability, reg.WorkerID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(db.Create(reg).Error, "register worker")
	}
	if err != nil {
		return errors.Wrap(err, "upsert worker")
	}
	reg.ID = existing.ID
	return errors.Wrap(db.Save(reg).Error, "refresh worker")
}

// ListByCapability returns every registration under one capability partition.
func (r *WorkerRepo) ListByCapability(ctx context.Context, capability string) ([]model.WorkerRegistration, error) {
	var regs []model.WorkerRegistration
	err := r.Database().WithContext(ctx).
		Where("capability = ?", capability).
		Find(&regs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list workers")
	}
	return regs, nil
}

// DeleteStale evicts rows whose last heartbeat predates olderThan.
func (r *WorkerRepo) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.Database().WithContext(ctx).
		Where("last_seen < ?", olderThan).
		Delete(&model.WorkerRegistration{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete stale workers")
	}
	return res.RowsAffected, nil
}
