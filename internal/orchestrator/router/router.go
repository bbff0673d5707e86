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

// Package router wires the orchestrator HTTP API.
package router

import (
	"crypto/subtle"
	"time"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/gofiber/fiber/v2"
)

// Router holds the handler dependencies.
type Router struct {
	app           *fiber.App
	trigger       *service.TriggerService
	approvals     *service.ApprovalService
	registry      *service.RegistryService
	logs          *service.LogService
	workerAuthKey string
}

func New(
	httpConf *httpx.Http,
	trigger *service.TriggerService,
	approvals *service.ApprovalService,
	registry *service.RegistryService,
	logs *service.LogService,
	workerAuthKey string,
) *Router {
	rt := &Router{
		app:           httpConf.NewApp("cloudo"),
		trigger:       trigger,
		approvals:     approvals,
		registry:      registry,
		logs:          logs,
		workerAuthKey: workerAuthKey,
	}
	rt.register()
	return rt
}

// App returns the configured fiber app.
func (rt *Router) App() *fiber.App {
	return rt.app
}

func (rt *Router) register() {
	rt.app.Get("/healthz", rt.healthz)

	api := rt.app.Group("/api")
	{
		api.Post("/trigger", rt.handleTrigger)
		api.Get("/trigger", rt.handleTrigger)

		api.Get("/approvals/:partitionKey/:execId/approve", rt.approve)
		api.Get("/approvals/:partitionKey/:execId/reject", rt.reject)

		api.Post("/workers/register", rt.workerAuth, rt.registerWorker)

		api.Get("/logs/query", rt.queryLogs)
		api.Get("/logs/:partitionKey/:execId", rt.logsByExec)
	}
}

func (rt *Router) healthz(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return httpx.OK(c, fiber.Map{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"service": "cloudo",
	})
}

// workerAuth guards the registration endpoint with the shared worker key.
func (rt *Router) workerAuth(c *fiber.Ctx) error {
	if rt.workerAuthKey == "" {
		return c.Next()
	}
	got := c.Get("x-cloudo-key")
	if subtle.ConstantTimeCompare([]byte(got), []byte(rt.workerAuthKey)) != 1 {
		return httpx.Error(c, fiber.StatusUnauthorized, "invalid worker key")
	}
	return c.Next()
}
