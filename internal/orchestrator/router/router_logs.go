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

package router

import (
	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/gofiber/fiber/v2"
)

func (rt *Router) logsByExec(c *fiber.Ctx) error {
	partitionKey := c.Params("partitionKey")
	execID := c.Params("execId")

	rows, err := rt.logs.ByExec(c.Context(), partitionKey, execID)
	if err != nil {
		return httpx.Error(c, fiber.StatusInternalServerError, err.Error())
	}
	if len(rows) == 0 {
		return httpx.Error(c, fiber.StatusNotFound, "no records for execId "+execID)
	}
	return httpx.OK(c, fiber.Map{"items": rows})
}

func (rt *Router) queryLogs(c *fiber.Ctx) error {
	partitionKey := c.Query("partitionKey")
	if partitionKey == "" {
		return httpx.Error(c, fiber.StatusBadRequest, "partitionKey is required")
	}

	rows, err := rt.logs.Query(c.Context(), service.LogQuery{
		PartitionKey: partitionKey,
		ExecID:       c.Query("execId"),
		Status:       c.Query("status"),
		Text:         c.Query("q"),
		From:         c.Query("from"),
		To:           c.Query("to"),
		Order:        c.Query("order"),
		Limit:        httpx.QueryInt(c, "limit"),
	})
	if err != nil {
		return httpx.Error(c, fiber.StatusInternalServerError, err.Error())
	}
	return httpx.OK(c, fiber.Map{"items": rows})
}
