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

// Package engine consumes dispatched jobs and executes runbooks as
// subprocesses on this worker instance.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cloudo-ops/cloudo/internal/pkg/message"
	"github.com/cloudo-ops/cloudo/internal/worker/config"
	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/cloudo-ops/cloudo/pkg/queue"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Run is one in-flight execution on this instance.
type Run struct {
	ExecID       string            `json:"exec_id"`
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Runbook      string            `json:"runbook"`
	RunArgs      string            `json:"run_args"`
	Worker       string            `json:"worker"`
	RequestedAt  string            `json:"requestedAt"`
	StartedAt    string            `json:"startedAt"`
	Status       string            `json:"status"`
	ResourceInfo map[string]string `json:"resource_info,omitempty"`
}

// Engine holds the per-instance execution state: the active-run registry and
// the process handles used by the stop endpoint.
type Engine struct {
	cfg      config.RunnerConfig
	queue    queue.IQueue
	fetcher  *ScriptFetcher
	reporter *Reporter

	mu     sync.Mutex
	active map[string]*Run
	procs  map[string]*exec.Cmd
}

func New(cfg config.RunnerConfig, q queue.IQueue, fetcher *ScriptFetcher, reporter *Reporter) *Engine {
	return &Engine{
		cfg:      cfg,
		queue:    q,
		fetcher:  fetcher,
		reporter: reporter,
		active:   map[string]*Run{},
		procs:    map[string]*exec.Cmd{},
	}
}

// Run consumes the job queue until ctx is cancelled, executing up to the
// configured number of jobs concurrently.
func (e *Engine) Run(ctx context.Context) {
	log.Infow("execution engine started",
		"queue", e.cfg.JobQueue, "capability", e.cfg.Capability, "concurrency", e.cfg.Concurrency)

	g := &errgroup.Group{}
	g.SetLimit(e.cfg.Concurrency)

	for {
		raw, err := e.queue.Dequeue(ctx, e.cfg.JobQueue, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			log.Errorw("dequeue job failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		g.Go(func() error {
			e.Handle(ctx, raw)
			return nil
		})
	}

	_ = g.Wait()
	log.Info("execution engine stopped")
}

// Handle processes one raw job message end to end.
func (e *Engine) Handle(ctx context.Context, raw []byte) {
	job, err := message.DecodeJob(raw)
	if err != nil {
		log.Errorw("invalid job message dropped", "error", err)
		return
	}
	log.Infow("job started", "execId", job.ExecID, "runbook", job.Runbook)

	if e.registerDuplicate(job) {
		msg := fmt.Sprintf("Execution %s already in progress, skipping", job.ExecID)
		log.Infow(msg, "execId", job.ExecID)
		e.reporter.Report(ctx, job, StatusSkipped, msg)
		return
	}
	defer e.unregister(job.ExecID)

	if ns, ok := validNamespace(job.ResourceInfo); ok {
		if err := e.clusterLogin(ctx, job, ns); err != nil {
			msg := fmt.Sprintf("Cluster login failed: %v", err)
			log.Errorw(msg, "execId", job.ExecID)
			e.reporter.Report(ctx, job, StatusError, msg)
			return
		}
		log.Infow("cluster login completed", "execId", job.ExecID)
	}

	e.execute(ctx, job)
}

// Outcome statuses reported by the engine. Completed maps to succeeded on the
// orchestrator side.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
	StatusSkipped   = "skipped"
	StatusStopped   = "stopped"
)

// registerDuplicate registers the run, or reports true when another run with
// the same (name, runbook, run_args) is already in flight. The suppression key
// is intentionally not execId: two alerts resolving to the same runbook and
// args within one run window are treated as one storm.
func (e *Engine) registerDuplicate(job message.Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.active {
		if r.Name == job.Name && r.Runbook == job.Runbook && r.RunArgs == job.RunArgs {
			return true
		}
	}
	e.active[job.ExecID] = &Run{
		ExecID:       job.ExecID,
		ID:           job.ID,
		Name:         job.Name,
		Runbook:      job.Runbook,
		RunArgs:      job.RunArgs,
		Worker:       job.Worker,
		RequestedAt:  job.RequestedAt,
		StartedAt:    message.Timestamp(time.Now()),
		Status:       "running",
		ResourceInfo: job.ResourceInfo,
	}
	return false
}

func (e *Engine) unregister(execID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, execID)
	delete(e.procs, execID)
}

// Processes lists the in-flight runs, optionally filtered by a substring on
// exec_id, id, name, or runbook. Newest first.
func (e *Engine) Processes(filter string) []Run {
	filter = strings.ToLower(strings.TrimSpace(filter))

	e.mu.Lock()
	out := make([]Run, 0, len(e.active))
	for _, r := range e.active {
		out = append(out, *r)
	}
	e.mu.Unlock()

	if filter != "" {
		matched := out[:0]
		for _, r := range out {
			hay := strings.ToLower(r.ExecID + " " + r.ID + " " + r.Name + " " + r.Runbook)
			if strings.Contains(hay, filter) {
				matched = append(matched, r)
			}
		}
		out = matched
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out
}

// Stop terminates the run with execID: SIGTERM, a grace period, then SIGKILL.
// Returns false when no such run is active.
func (e *Engine) Stop(ctx context.Context, execID string) bool {
	e.mu.Lock()
	cmd := e.procs[execID]
	run := e.active[execID]
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Errorw("terminate failed", "execId", execID, "error", err)
	}

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for alive := true; alive; {
		select {
		case <-deadline:
			if err := cmd.Process.Kill(); err != nil {
				log.Errorw("kill failed", "execId", execID, "error", err)
			}
			alive = false
		case <-tick.C:
			// signal 0 probes liveness without touching the process
			if cmd.Process.Signal(syscall.Signal(0)) != nil {
				alive = false
			}
		}
	}

	if run != nil {
		e.mu.Lock()
		run.Status = StatusStopped
		e.mu.Unlock()
		e.reporter.Report(ctx, message.Job{
			Runbook:     run.Runbook,
			RunArgs:     run.RunArgs,
			ID:          run.ID,
			Name:        run.Name,
			ExecID:      run.ExecID,
			Worker:      run.Worker,
			RequestedAt: run.RequestedAt,
		}, StatusStopped, fmt.Sprintf("Execution %s stopped by request", execID))
	}
	return true
}

// validNamespace reports the cluster namespace when the job carries a usable
// one.
func validNamespace(info map[string]string) (string, bool) {
	ns := strings.ToLower(strings.TrimSpace(info["namespace"]))
	switch ns {
	case "", "null", "none", "undefined":
		return "", false
	}
	return ns, true
}

// clusterLogin runs the login script with `<rg> <name> [namespace]` before
// the runbook gets cluster access.
func (e *Engine) clusterLogin(ctx context.Context, job message.Job, ns string) error {
	rg := strings.TrimSpace(job.ResourceInfo["resource_rg"])
	name := strings.TrimSpace(job.ResourceInfo["resource_name"])
	if rg == "" || name == "" {
		return errors.New("resource_rg and resource_name are required for cluster login")
	}
	if _, err := os.Stat(e.cfg.LoginScript); err != nil {
		return errors.Wrapf(err, "login script %s", e.cfg.LoginScript)
	}

	args := []string{rg, name}
	if ns != "" {
		args = append(args, ns)
	}
	cmd := exec.CommandContext(ctx, e.cfg.LoginScript, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Errorf("login script rc!=0: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// execute fetches the runbook script and runs it, reporting the outcome.
func (e *Engine) execute(ctx context.Context, job message.Job) {
	scriptPath, cleanup, err := e.fetcher.Fetch(ctx, job.Runbook)
	if err != nil {
		msg := fmt.Sprintf("Script %q not available: %v", job.Runbook, err)
		log.Errorw(msg, "execId", job.ExecID)
		e.reporter.Report(ctx, job, StatusError, msg)
		return
	}
	defer cleanup()

	argv := []string{scriptPath}
	if strings.HasSuffix(strings.ToLower(scriptPath), ".py") {
		argv = []string{"python3", scriptPath}
	}
	if strings.TrimSpace(job.RunArgs) != "" {
		extra, err := shellquote.Split(job.RunArgs)
		if err != nil {
			msg := fmt.Sprintf("Invalid run_args %q: %v", job.RunArgs, err)
			e.reporter.Report(ctx, job, StatusError, msg)
			return
		}
		argv = append(argv, extra...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), projectEnv(job)...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("Script start failed: %v", err)
		log.Errorw(msg, "execId", job.ExecID)
		e.reporter.Report(ctx, job, StatusError, msg)
		return
	}

	e.mu.Lock()
	e.procs[job.ExecID] = cmd
	e.mu.Unlock()

	waitErr := cmd.Wait()
	if waitErr == nil {
		msg := "Script succeeded.\nstdout:\n" + strings.TrimSpace(stdout.String())
		log.Infow("job completed", "execId", job.ExecID)
		e.reporter.Report(ctx, job, StatusCompleted, msg)
		return
	}

	if terminated(cmd) {
		// the stop endpoint already reported this run as stopped
		log.Infow("job terminated by stop request", "execId", job.ExecID)
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		msg := fmt.Sprintf("Script failed. returncode=%d stderr=%s stdout=%s",
			exitErr.ExitCode(), strings.TrimSpace(stderr.String()), strings.TrimSpace(stdout.String()))
		log.Errorw("job failed", "execId", job.ExecID, "returncode", exitErr.ExitCode())
		e.reporter.Report(ctx, job, StatusFailed, msg)
		return
	}

	e.reporter.Report(ctx, job, StatusError, fmt.Sprintf("Script execution error: %v", waitErr))
}

// DevRun executes a named script synchronously and returns its output. Used
// only by the dev endpoint for runbook development.
func (e *Engine) DevRun(ctx context.Context, scriptName, runArgs string) (stdout, stderr string, rc int, err error) {
	scriptPath, cleanup, err := e.fetcher.Fetch(ctx, scriptName)
	if err != nil {
		return "", "", -1, err
	}
	defer cleanup()

	argv := []string{scriptPath}
	if strings.HasSuffix(strings.ToLower(scriptPath), ".py") {
		argv = []string{"python3", scriptPath}
	}
	if strings.TrimSpace(runArgs) != "" {
		extra, err := shellquote.Split(runArgs)
		if err != nil {
			return "", "", -1, errors.Wrap(err, "split run_args")
		}
		argv = append(argv, extra...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = strings.TrimSpace(outBuf.String()), strings.TrimSpace(errBuf.String())
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	if runErr != nil {
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, 0, nil
}

// terminated reports whether the process exited on SIGTERM or SIGKILL.
func terminated(cmd *exec.Cmd) bool {
	state := cmd.ProcessState
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	sig := ws.Signal()
	return sig == syscall.SIGTERM || sig == syscall.SIGKILL
}

// projectEnv maps job resource fields into the subprocess environment.
func projectEnv(job message.Job) []string {
	info := job.ResourceInfo
	get := func(k string) string { return info[k] }
	return []string{
		"RESOURCE_NAME=" + get("resource_name"),
		"RESOURCE_RG=" + get("resource_rg"),
		"RESOURCE_ID=" + get("resource_id"),
		"CLUSTER_NAMESPACE=" + get("namespace"),
		"CLUSTER_POD=" + get("pod"),
		"CLUSTER_DEPLOYMENT=" + get("deployment"),
		"CLUSTER_JOB=" + get("job"),
		"CLUSTER_HPA=" + get("hpa"),
		"MONITOR_CONDITION=" + job.MonitorCondition,
	}
}
