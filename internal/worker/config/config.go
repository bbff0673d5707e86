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

	"github.com/cloudo-ops/cloudo/pkg/env"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"github.com/spf13/viper"
)

// RunnerConfig controls runbook execution on this instance.
type RunnerConfig struct {
	Capability  string `mapstructure:"capability"`
	WorkerID    string `mapstructure:"workerId"`
	JobQueue    string `mapstructure:"jobQueue"`
	Region      string `mapstructure:"region"`
	Concurrency int    `mapstructure:"concurrency"`

	// Local script root for development; bypasses the remote fetch chain.
	DevScriptPath string `mapstructure:"devScriptPath"`
	Dev           bool   `mapstructure:"dev"`

	LoginScript string `mapstructure:"loginScript"`

	GitHubRepo       string `mapstructure:"githubRepo"` // owner/repo
	GitHubBranch     string `mapstructure:"githubBranch"`
	GitHubToken      string `mapstructure:"githubToken"`
	GitHubPathPrefix string `mapstructure:"githubPathPrefix"`

	NotificationQueue string `mapstructure:"notificationQueue"`
}

func (r *RunnerConfig) SetDefaults() {
	if r.Capability == "" {
		r.Capability = env.String("WORKER_CAPABILITY", "local")
	}
	if r.WorkerID == "" {
		r.WorkerID = env.String("WORKER_ID", "worker-"+xid.New().String())
	}
	if r.JobQueue == "" {
		r.JobQueue = env.String("QUEUE_NAME", "jobs-"+r.WorkerID)
	}
	if r.Region == "" {
		r.Region = env.String("REGION_NAME", "local")
	}
	if r.Concurrency == 0 {
		r.Concurrency = 4
	}
	if r.DevScriptPath == "" {
		r.DevScriptPath = env.String("DEV_SCRIPT_PATH", "")
	}
	if !r.Dev {
		r.Dev = env.Bool("FEATURE_DEV", false)
	}
	if r.LoginScript == "" {
		r.LoginScript = "utils/cluster-login.sh"
	}
	if r.GitHubRepo == "" {
		r.GitHubRepo = env.String("GITHUB_REPO", "")
	}
	if r.GitHubBranch == "" {
		r.GitHubBranch = env.String("GITHUB_BRANCH", "main")
	}
	if r.GitHubToken == "" {
		r.GitHubToken = env.String("GITHUB_TOKEN", "")
	}
	if r.GitHubPathPrefix == "" {
		r.GitHubPathPrefix = env.String("GITHUB_PATH_PREFIX", "runbooks")
	}
	if r.NotificationQueue == "" {
		r.NotificationQueue = env.String("NOTIFICATION_QUEUE_NAME", "notifications")
	}
}

// HeartbeatConfig controls registration against the orchestrator.
type HeartbeatConfig struct {
	OrchestratorURL string `mapstructure:"orchestratorUrl"`
	AuthKey         string `mapstructure:"authKey"`
	Cron            string `mapstructure:"cron"`
}

func (h *HeartbeatConfig) SetDefaults() {
	if h.OrchestratorURL == "" {
		h.OrchestratorURL = env.String("ORCHESTRATOR_URL", "http://localhost:8080")
	}
	if h.AuthKey == "" {
		h.AuthKey = env.String("WORKER_AUTH_KEY", "")
	}
	if h.Cron == "" {
		h.Cron = "0 * * * * *"
	}
}

// WorkerConfig is the worker binary's full configuration.
type WorkerConfig struct {
	Log       log.Conf        `mapstructure:"log"`
	Http      httpx.Http      `mapstructure:"http"`
	Queue     queue.Conf      `mapstructure:"queue"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
}

func (c *WorkerConfig) SetDefaults() {
	c.Log.SetDefaults()
	c.Http.SetDefaults()
	if c.Http.Port == 8080 {
		c.Http.Port = 8081
	}
	c.Queue.SetDefaults()
	c.Runner.SetDefaults()
	c.Heartbeat.SetDefaults()
}

var (
	cfg  WorkerConfig
	mu   sync.RWMutex
	once sync.Once
)

// NewConf loads the config file once and returns the shared instance.
func NewConf(confFile string) *WorkerConfig {
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

// LoadConfigFile reads and watches the config file, re-unmarshalling on
// change.
func LoadConfigFile(confFile string) (WorkerConfig, error) {
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
