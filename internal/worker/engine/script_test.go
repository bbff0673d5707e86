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
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetcherWithServer(srv *httptest.Server, token string) *ScriptFetcher {
	cfg := testRunnerConfig("")
	cfg.GitHubRepo = "acme/runbooks"
	cfg.GitHubBranch = "main"
	cfg.GitHubPathPrefix = "runbooks"
	cfg.GitHubToken = token
	f := NewScriptFetcher(cfg)
	f.apiBase = srv.URL
	f.rawBase = srv.URL
	return f
}

func TestFetchLocalDevScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fix.sh", "#!/bin/sh\nexit 0\n")

	f := NewScriptFetcher(testRunnerConfig(dir))

	path, cleanup, err := f.Fetch(context.Background(), "fix.sh")
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, strings.HasPrefix(path, dir))

	cleanup()
	_, err = os.Stat(path)
	assert.NoError(t, err, "local dev scripts must not be removed")
}

func TestFetchLocalDevScriptMissing(t *testing.T) {
	f := NewScriptFetcher(testRunnerConfig(t.TempDir()))
	_, _, err := f.Fetch(context.Background(), "missing.sh")
	assert.True(t, errors.Is(err, ErrScriptNotFound))
}

func TestFetchEmptyName(t *testing.T) {
	f := NewScriptFetcher(testRunnerConfig(""))
	_, _, err := f.Fetch(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrScriptNotFound))
}

func TestFetchViaContentsAPI(t *testing.T) {
	const script = "print('restarting')\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/runbooks/contents/runbooks/fix.py", r.URL.Path)
		require.Equal(t, "main", r.URL.Query().Get("ref"))
		require.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		fmt.Fprintf(w, `{"encoding":"base64","content":%q}`,
			base64.StdEncoding.EncodeToString([]byte(script)))
	}))
	defer srv.Close()

	f := fetcherWithServer(srv, "")

	path, cleanup, err := f.Fetch(context.Background(), "fix.py")
	require.NoError(t, err)
	defer cleanup()

	assert.True(t, strings.HasSuffix(path, ".py"))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, script, string(body))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "downloaded script must be executable")

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup removes the temp script")
}

func TestFetchAuthSchemeFallback(t *testing.T) {
	const script = "#!/bin/sh\nexit 0\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// fine-grained Bearer auth rejected, classic token scheme accepted
		switch r.Header.Get("Authorization") {
		case "token tok":
			fmt.Fprintf(w, `{"encoding":"base64","content":%q}`,
				base64.StdEncoding.EncodeToString([]byte(script)))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	f := fetcherWithServer(srv, "tok")

	path, cleanup, err := f.Fetch(context.Background(), "fix.sh")
	require.NoError(t, err)
	defer cleanup()

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, script, string(body))
}

func TestFetchRawFallback(t *testing.T) {
	const script = "#!/bin/sh\necho raw\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/repos/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.Equal(t, "/acme/runbooks/main/runbooks/fix.sh", r.URL.Path)
		fmt.Fprint(w, script)
	}))
	defer srv.Close()

	f := fetcherWithServer(srv, "")

	path, cleanup, err := f.Fetch(context.Background(), "fix.sh")
	require.NoError(t, err)
	defer cleanup()

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, script, string(body))
}

func TestFetchNotFoundAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := fetcherWithServer(srv, "")

	_, _, err := f.Fetch(context.Background(), "ghost.sh")
	assert.True(t, errors.Is(err, ErrScriptNotFound))
}

func TestFetchRepoUnset(t *testing.T) {
	f := NewScriptFetcher(testRunnerConfig(""))
	_, _, err := f.Fetch(context.Background(), "fix.sh")
	assert.True(t, errors.Is(err, ErrScriptNotFound))
}
