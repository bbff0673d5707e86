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

package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudo-ops/cloudo/internal/worker/config"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// ErrScriptNotFound means the runbook script exists neither locally nor in
// the configured repository.
var ErrScriptNotFound = errors.New("runbook script not found")

// ScriptFetcher resolves a runbook name to an executable local path. The
// chain is: local dev directory, GitHub Contents API (Bearer then classic
// token auth), then the raw content endpoint.
type ScriptFetcher struct {
	cfg     config.RunnerConfig
	client  *resty.Client
	apiBase string
	rawBase string
}

func NewScriptFetcher(cfg config.RunnerConfig) *ScriptFetcher {
	return &ScriptFetcher{
		cfg:     cfg,
		client:  resty.New().SetTimeout(30 * time.Second),
		apiBase: "https://api.github.com",
		rawBase: "https://raw.githubusercontent.com",
	}
}

// Fetch returns the script path and a cleanup func. Downloaded scripts land
// in a temp file that cleanup removes; local dev scripts are left in place.
func (f *ScriptFetcher) Fetch(ctx context.Context, scriptName string) (string, func(), error) {
	scriptName = strings.TrimSpace(scriptName)
	if scriptName == "" {
		return "", nil, errors.Wrap(ErrScriptNotFound, "empty runbook name")
	}

	if f.cfg.DevScriptPath != "" {
		path := scriptName
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.cfg.DevScriptPath, scriptName)
		}
		if _, err := os.Stat(path); err != nil {
			return "", nil, errors.Wrapf(ErrScriptNotFound, "local path %s", path)
		}
		return path, func() {}, nil
	}

	content, err := f.download(ctx, scriptName)
	if err != nil {
		return "", nil, err
	}

	pattern := "runbook_*"
	if strings.HasSuffix(strings.ToLower(scriptName), ".py") {
		pattern = "runbook_*.py"
	}
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, errors.Wrap(err, "create temp script")
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, errors.Wrap(err, "write temp script")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, errors.Wrap(err, "close temp script")
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, errors.Wrap(err, "chmod temp script")
	}

	path := tmp.Name()
	return path, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Errorw("remove temp script failed", "path", path, "error", err)
		}
	}, nil
}

// authHeaders returns the Authorization header variants to try, in order.
// Fine-grained tokens want Bearer; classic PATs want the token scheme.
func (f *ScriptFetcher) authHeaders() []string {
	if f.cfg.GitHubToken == "" {
		return []string{""}
	}
	return []string{"Bearer " + f.cfg.GitHubToken, "token " + f.cfg.GitHubToken, ""}
}

func (f *ScriptFetcher) repoPath(scriptName string) string {
	prefix := strings.Trim(f.cfg.GitHubPathPrefix, "/")
	if prefix == "" {
		return scriptName
	}
	return prefix + "/" + scriptName
}

func (f *ScriptFetcher) download(ctx context.Context, scriptName string) ([]byte, error) {
	repo := strings.TrimSpace(f.cfg.GitHubRepo)
	if repo == "" || !strings.Contains(repo, "/") {
		return nil, errors.Wrap(ErrScriptNotFound, "githubRepo must be set as owner/repo")
	}

	repoPath := f.repoPath(scriptName)

	// Contents API first
	apiURL := fmt.Sprintf("%s/repos/%s/contents/%s", f.apiBase, repo, repoPath)
	for _, auth := range f.authHeaders() {
		var body struct {
			Encoding string `json:"encoding"`
			Content  string `json:"content"`
		}
		req := f.client.R().SetContext(ctx).
			SetHeader("Accept", "application/vnd.github+json").
			SetQueryParam("ref", f.cfg.GitHubBranch).
			SetResult(&body)
		if auth != "" {
			req.SetHeader("Authorization", auth)
		}
		resp, err := req.Get(apiURL)
		if err != nil {
			log.Warnw("github contents request error", "error", err)
			continue
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			continue
		}
		if resp.IsSuccess() && body.Encoding == "base64" && body.Content != "" {
			raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
			if err != nil {
				return nil, errors.Wrap(err, "decode github content")
			}
			return raw, nil
		}
	}

	// raw endpoint fallback
	rawURL := fmt.Sprintf("%s/%s/%s/%s", f.rawBase, repo, f.cfg.GitHubBranch, repoPath)
	for _, auth := range f.authHeaders() {
		req := f.client.R().SetContext(ctx)
		if auth != "" {
			req.SetHeader("Authorization", auth)
		}
		resp, err := req.Get(rawURL)
		if err != nil {
			log.Warnw("github raw request error", "error", err)
			continue
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			continue
		}
		if resp.IsSuccess() {
			return resp.Body(), nil
		}
	}

	return nil, errors.Wrapf(ErrScriptNotFound, "%s@%s:%s", repo, f.cfg.GitHubBranch, repoPath)
}
