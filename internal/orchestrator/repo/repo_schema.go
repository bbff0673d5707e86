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

// ISchemaRepository loads runbook definitions by id.
type ISchemaRepository interface {
	Get(ctx context.Context, schemaID string) (*model.Schema, error)
	Put(ctx context.Context, schema *model.Schema) error
	List(ctx context.Context) ([]model.Schema, error)
}

type SchemaRepo struct {
	database.IDatabase
}

func NewSchemaRepo(db database.IDatabase) ISchemaRepository {
	return &SchemaRepo{IDatabase: db}
}

// Get returns the schema row keyed by schemaID, or ErrSchemaNotFound.
func (r *SchemaRepo) Get(ctx context.Context, schemaID string) (*model.Schema, error) {
	var s model.Schema
	err := r.Database().WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", model.SchemaPartition, schemaID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrSchemaNotFound, schemaID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get schema")
	}
	return &s, nil
}

// Put upserts a schema definition.
func (r *SchemaRepo) Put(ctx context.Context, schema *model.Schema) error {
	schema.PartitionKey = model.SchemaPartition

	db := r.Database().WithContext(ctx)
	var existing model.Schema
	err := db.Where("partition_key = ? AND row_key = ?", model.SchemaPartition, schema.RowKey).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(db.Create(schema).Error, "create schema")
	}
	if err != nil {
		return errors.Wrap(err, "put schema")
	}
	schema.ID = existing.ID
	return errors.Wrap(db.Save(schema).Error, "update schema")
}

// List returns all schema definitions.
func (r *SchemaRepo) List(ctx context.Context) ([]model.Schema, error) {
	var out []model.Schema
	err := r.Database().WithContext(ctx).
		Where("partition_key = ?", model.SchemaPartition).
		Order("row_key ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list schemas")
	}
	return out, nil
}
