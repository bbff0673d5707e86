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

// Package router exposes the worker's local HTTP API: health, active-run
// inspection, stop, and the dev script runner.
package router

import (
	"strings"
	"time"

	"github.com/cloudo-ops/cloudo/internal/worker/engine"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

type Router struct {
	app    *fiber.App
	engine *engine.Engine
	dev    bool
}

func New(httpConf *httpx.Http, eng *engine.Engine, dev bool) *Router {
	rt := &Router{
		app:    httpConf.NewApp("cloudo-worker"),
		engine: eng,
		dev:    dev,
	}
	rt.register()
	return rt
}

func (rt *Router) App() *fiber.App {
	return rt.app
}

func (rt *Router) register() {
	rt.app.Get("/healthz", rt.healthz)

	api := rt.app.Group("/api")
	{
		api.Get("/processes", rt.listProcesses)
		api.Delete("/processes/stop", rt.stopProcess)
		api.Post("/dev/run", rt.devRun)
	}
}

func (rt *Router) healthz(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return httpx.OK(c, fiber.Map{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"service": "cloudo-worker",
	})
}

func (rt *Router) listProcesses(c *fiber.Ctx) error {
	runs := rt.engine.Processes(c.Query("q"))
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	return httpx.OK(c, fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"count":  len(runs),
		"runs":   runs,
	})
}

func (rt *Router) stopProcess(c *fiber.Ctx) error {
	execID := strings.TrimSpace(c.Query("exec_id"))
	if execID == "" {
		execID = strings.TrimSpace(c.Get("ExecId"))
	}
	if execID == "" {
		return httpx.Error(c, fiber.StatusBadRequest, "exec_id missing")
	}

	if !rt.engine.Stop(c.Context(), execID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":  "not_found",
			"exec_id": execID,
		})
	}
	return httpx.OK(c, fiber.Map{"status": "stopped", "exec_id": execID})
}

func (rt *Router) devRun(c *fiber.Ctx) error {
	// hidden entirely unless the dev feature flag is on
	if !rt.dev {
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	}

	scriptName := strings.TrimSpace(c.Query("name"))
	if scriptName == "" {
		scriptName = strings.TrimSpace(c.Query("script"))
	}
	if scriptName == "" {
		scriptName = strings.TrimSpace(c.Get("runbook"))
	}
	if scriptName == "" {
		return httpx.Error(c, fiber.StatusBadRequest, "missing script name (use ?name= or header runbook)")
	}
	runArgs := c.Get("run_args")

	stdout, stderr, rc, err := rt.engine.DevRun(c.Context(), scriptName, runArgs)
	if err != nil {
		if errors.Is(err, engine.ErrScriptNotFound) {
			return httpx.Error(c, fiber.StatusNotFound, err.Error())
		}
		return httpx.Error(c, fiber.StatusInternalServerError, err.Error())
	}

	status := "ok"
	code := fiber.StatusOK
	if rc != 0 {
		status = "failed"
		code = fiber.StatusInternalServerError
	}
	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"script":     scriptName,
		"run_args":   runArgs,
		"returncode": rc,
		"stdout":     stdout,
		"stderr":     stderr,
	})
}
