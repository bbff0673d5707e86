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

package model

import (
	"time"
)

// BaseModel carries the common table columns.
type BaseModel struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// Execution statuses. Pending and running are transient; the rest end an
// execution's lifecycle.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusError     = "error"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
	StatusRouted    = "routed"
	StatusScheduled = "scheduled"
	StatusStopped   = "stopped"
	StatusSkipped   = "skipped"
	StatusTimeout   = "timeout"
)

// MaxRecordLogChars caps the log column of one execution record.
const MaxRecordLogChars = 32000

// PartitionKey buckets log rows by UTC date.
func PartitionKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// ExecutionRecord is one row per status transition of one execution. Rows are
// append-only; the status history for an execId is the idempotency surface.
type ExecutionRecord struct {
	BaseModel
	PartitionKey     string `gorm:"column:partition_key;index:idx_exec_log,priority:1" json:"partitionKey"`
	RowKey           string `gorm:"column:row_key;index:idx_exec_log,priority:2" json:"rowKey"`
	ExecID           string `gorm:"column:exec_id;index" json:"execId"`
	Status           string `gorm:"column:status" json:"status"`
	RequestedAt      string `gorm:"column:requested_at" json:"requestedAt"`
	SchemaID         string `gorm:"column:schema_id" json:"schemaId"`
	Name             string `gorm:"column:name" json:"name"`
	Runbook          string `gorm:"column:runbook" json:"runbook"`
	RunArgs          string `gorm:"column:run_args" json:"runArgs"`
	Worker           string `gorm:"column:worker" json:"worker"`
	OnCall           string `gorm:"column:oncall" json:"oncall"`
	MonitorCondition string `gorm:"column:monitor_condition" json:"monitorCondition"`
	Severity         string `gorm:"column:severity" json:"severity"`
	Log              string `gorm:"column:log;type:text" json:"log"`
	ApprovalRequired bool   `gorm:"column:approval_required" json:"approvalRequired"`
	ApprovalExpires  string `gorm:"column:approval_expires_at" json:"approvalExpiresAt"`
	ApprovalBy       string `gorm:"column:approval_decision_by" json:"approvalDecisionBy"`
}

func (ExecutionRecord) TableName() string {
	return "cloudo_execution_log"
}

// SchemaPartition is the fixed logical partition of the schema table.
const SchemaPartition = "RunbookSchema"

// Schema is a named runbook definition. MonitorCondition and Severity are
// filled from the triggering alert, not persisted.
type Schema struct {
	BaseModel
	PartitionKey     string `gorm:"column:partition_key;index:idx_schema,priority:1" json:"partitionKey"`
	RowKey           string `gorm:"column:row_key;index:idx_schema,priority:2" json:"id"`
	Name             string `gorm:"column:name" json:"name"`
	Description      string `gorm:"column:description" json:"description"`
	Runbook          string `gorm:"column:runbook" json:"runbook"`
	RunArgs          string `gorm:"column:run_args" json:"runArgs"`
	Worker           string `gorm:"column:worker" json:"worker"`
	OnCall           string `gorm:"column:oncall" json:"oncall"`
	RequireApproval  bool   `gorm:"column:require_approval" json:"requireApproval"`
	MonitorCondition string `gorm:"-" json:"monitorCondition,omitempty"`
	Severity         string `gorm:"-" json:"severity,omitempty"`
}

func (Schema) TableName() string {
	return "cloudo_schema"
}

// WorkerRegistration is one live worker instance, partitioned by capability.
type WorkerRegistration struct {
	BaseModel
	Capability string    `gorm:"column:capability;index:idx_worker,priority:1" json:"capability"`
	WorkerID   string    `gorm:"column:worker_id;index:idx_worker,priority:2" json:"workerId"`
	QueueName  string    `gorm:"column:queue_name" json:"queue"`
	LastSeen   time.Time `gorm:"column:last_seen" json:"lastSeen"`
	Region     string    `gorm:"column:region" json:"region,omitempty"`
	Load       int       `gorm:"column:load" json:"load,omitempty"`
}

func (WorkerRegistration) TableName() string {
	return "cloudo_worker"
}

// SettingsPartition is the fixed partition of the settings table.
const SettingsPartition = "GlobalConfig"

// Setting is one global configuration row (routing rules, credentials).
type Setting struct {
	BaseModel
	PartitionKey string `gorm:"column:partition_key;index:idx_setting,priority:1" json:"partitionKey"`
	RowKey       string `gorm:"column:row_key;index:idx_setting,priority:2" json:"key"`
	Value        string `gorm:"column:value;type:text" json:"value"`
}

func (Setting) TableName() string {
	return "cloudo_settings"
}
