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

package database

import (
	"fmt"
	"time"

	"github.com/cloudo-ops/cloudo/pkg/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Database defines persistence configuration. Driver selects the backing
// store: sqlite for single-node deployments, mysql for shared ones.
type Database struct {
	Driver      string `mapstructure:"driver"` // sqlite | mysql
	Path        string `mapstructure:"path"`   // sqlite file path
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbName"`
	MaxIdle     int    `mapstructure:"maxIdle"`
	MaxOpen     int    `mapstructure:"maxOpen"`
	MaxLifetime int    `mapstructure:"maxLifetime"` // seconds
	OutPut      bool   `mapstructure:"output"`      // log SQL statements
}

// SetDefaults fills unset fields with defaults.
func (d *Database) SetDefaults() {
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
	if d.Path == "" {
		d.Path = "cloudo.db"
	}
	if d.Port == 0 {
		d.Port = 3306
	}
	if d.MaxIdle == 0 {
		d.MaxIdle = 10
	}
	if d.MaxOpen == 0 {
		d.MaxOpen = 100
	}
	if d.MaxLifetime == 0 {
		d.MaxLifetime = 3600
	}
}

// IDatabase hands out the underlying gorm handle to repositories.
type IDatabase interface {
	Database() *gorm.DB
	Close() error
}

type manager struct {
	db *gorm.DB
}

func (m *manager) Database() *gorm.DB {
	return m.db
}

func (m *manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewManager opens the configured database and applies pool settings.
func NewManager(cfg Database) (IDatabase, error) {
	cfg.SetDefaults()

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}
	if cfg.OutPut {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormCfg)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	log.Infow("database connected", "driver", cfg.Driver)
	return &manager{db: db}, nil
}
