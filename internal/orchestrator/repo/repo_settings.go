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
	"gorm.io/gorm"
)

// ISettingsRepository reads global configuration rows (routing rules,
// chat/paging credentials) from the GlobalConfig partition.
type ISettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

type SettingsRepo struct {
	database.IDatabase
}

func NewSettingsRepo(db database.IDatabase) ISettingsRepository {
	return &SettingsRepo{IDatabase: db}
}

// Get returns the value stored under key, or ErrSettingNotFound.
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var s model.Setting
	err := r.Database().WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", model.SettingsPartition, key).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errors.Wrap(ErrSettingNotFound, key)
	}
	if err != nil {
		return "", errors.Wrap(err, "get setting")
	}
	return s.Value, nil
}

// Put upserts one setting row.
func (r *SettingsRepo) Put(ctx context.Context, key, value string) error {
	db := r.Database().WithContext(ctx)

	var existing model.Setting
	err := db.Where("partition_key = ? AND row_key = ?", model.SettingsPartition, key).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s := model.Setting{PartitionKey: model.SettingsPartition, RowKey: key, Value: value}
		return errors.Wrap(db.Create(&s).Error, "create setting")
	}
	if err != nil {
		return errors.Wrap(err, "put setting")
	}
	existing.Value = value
	return errors.Wrap(db.Save(&existing).Error, "update setting")
}
