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
	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/pkg/database"
	"github.com/pkg/errors"
)

var (
	ErrSchemaNotFound  = errors.New("schema not found")
	ErrSettingNotFound = errors.New("setting not found")
)

// Migrate creates or updates all orchestrator tables.
func Migrate(db database.IDatabase) error {
	return db.Database().AutoMigrate(
		&model.ExecutionRecord{},
		&model.Schema{},
		&model.WorkerRegistration{},
		&model.Setting{},
	)
}
