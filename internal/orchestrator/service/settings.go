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
	"os"
	"strings"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
)

// SettingSource resolves settings and credentials, settings table first and
// environment second. It satisfies routing.SettingSource.
type SettingSource struct {
	settings repo.ISettingsRepository
	timeout  time.Duration
}

func NewSettingSource(settings repo.ISettingsRepository) *SettingSource {
	return &SettingSource{settings: settings, timeout: 5 * time.Second}
}

// Lookup returns the trimmed value for key. Missing table rows fall through
// to the environment.
func (s *SettingSource) Lookup(key string) (string, bool) {
	if s.settings != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if v, err := s.settings.Get(ctx, key); err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v, true
	}
	return "", false
}
