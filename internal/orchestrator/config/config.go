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

package config

import (
	"fmt"
	"sync"

	"github.com/cloudo-ops/cloudo/pkg/database"
	"github.com/cloudo-ops/cloudo/pkg/env"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/metrics"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ApprovalConfig controls the approval gate.
type ApprovalConfig struct {
	Secret       string `mapstructure:"secret"`
	TTLMinutes   int    `mapstructure:"ttlMinutes"`
	BaseURL      string `mapstructure:"baseUrl"` // public base for approve/reject URLs
	SlackToken   string `mapstructure:"slackToken"`
	SlackChannel string `mapstructure:"slackChannel"`
}

func (a *ApprovalConfig) SetDefaults() {
	if a.Secret == "" {
		a.Secret = env.String("APPROVAL_SECRET", "default")
	}
	if a.TTLMinutes == 0 {
		a.TTLMinutes = 60
	}
	if a.BaseURL == "" {
		a.BaseURL = "http://localhost:8080"
	}
	if a.SlackToken == "" {
		a.SlackToken = env.String("SLACK_TOKEN", "")
	}
	if a.SlackChannel == "" {
		a.SlackChannel = env.String("SLACK_CHANNEL", "#cloudo-test")
	}
}

// DispatchConfig controls worker selection, registry GC and outcome intake.
// Windows are seconds.
type DispatchConfig struct {
	FreshnessWindow   int    `mapstructure:"freshnessWindow"`
	GCWindow          int    `mapstructure:"gcWindow"`
	GCCron            string `mapstructure:"gcCron"`
	NotificationQueue string `mapstructure:"notificationQueue"`
	WorkerAuthKey     string `mapstructure:"workerAuthKey"` // shared secret for /workers/register
}

func (d *DispatchConfig) SetDefaults() {
	if d.FreshnessWindow == 0 {
		d.FreshnessWindow = 180
	}
	if d.GCWindow == 0 {
		d.GCWindow = 300
	}
	if d.GCCron == "" {
		d.GCCron = "0 * * * * *"
	}
	if d.NotificationQueue == "" {
		d.NotificationQueue = "notifications"
	}
	if d.WorkerAuthKey == "" {
		d.WorkerAuthKey = env.String("WORKER_AUTH_KEY", "")
	}
}

// RoutingConfig seeds the escalation engine.
type RoutingConfig struct {
	DefaultSlackChannel string `mapstructure:"defaultSlackChannel"`
}

func (r *RoutingConfig) SetDefaults() {
	if r.DefaultSlackChannel == "" {
		r.DefaultSlackChannel = env.String("SLACK_CHANNEL_DEFAULT", "#cloudo-default")
	}
}

// AppConfig is the orchestrator's full configuration.
type AppConfig struct {
	Log      log.Conf          `mapstructure:"log"`
	Http     httpx.Http        `mapstructure:"http"`
	Database database.Database `mapstructure:"database"`
	Queue    queue.Conf        `mapstructure:"queue"`
	Metrics  metrics.Conf      `mapstructure:"metrics"`
	Approval ApprovalConfig    `mapstructure:"approval"`
	Dispatch DispatchConfig    `mapstructure:"dispatch"`
	Routing  RoutingConfig     `mapstructure:"routing"`
}

func (c *AppConfig) SetDefaults() {
	c.Log.SetDefaults()
	c.Http.SetDefaults()
	c.Database.SetDefaults()
	c.Queue.SetDefaults()
	c.Metrics.SetDefaults()
	c.Approval.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Routing.SetDefaults()
}

var (
	cfg  AppConfig
	mu   sync.RWMutex
	once sync.Once
)

// NewConf loads the config file once and returns the shared instance.
func NewConf(confFile string) *AppConfig {
	once.Do(func() {
		var err error
		cfg, err = LoadConfigFile(confFile)
		if err != nil {
			panic(fmt.Sprintf("load config file error: %s", err))
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return &cfg
}

// GetConfig returns a copy of the current configuration.
func GetConfig() AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadConfigFile reads and watches the config file, re-unmarshalling on
// change.
func LoadConfigFile(confFile string) (AppConfig, error) {
	config := viper.New()
	config.SetConfigFile(confFile)
	if err := config.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read configuration file: %v", err)
	}

	config.WatchConfig()
	config.OnConfigChange(func(e fsnotify.Event) {
		log.Infow("configuration changed, reloading", "file", e.Name)
		if err := config.ReadInConfig(); err != nil {
			log.Errorw("failed to re-read configuration file", "error", err, "file", e.Name)
			return
		}
		mu.Lock()
		if err := config.Unmarshal(&cfg); err != nil {
			mu.Unlock()
			log.Errorw("failed to unmarshal configuration file", "error", err, "file", e.Name)
			return
		}
		cfg.SetDefaults()
		mu.Unlock()
		log.Infow("configuration reloaded", "file", e.Name)
	})

	if err := config.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal configuration file: %v", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}
