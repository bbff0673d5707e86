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
	"strings"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/model"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

func (rt *Router) handleTrigger(c *fiber.Ctx) error {
	schemaID := strings.TrimSpace(c.Query("id"))

	res, err := rt.trigger.Trigger(c.Context(), schemaID, c.Body())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoSchemaID):
			return httpx.Error(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, repo.ErrSchemaNotFound):
			return httpx.Error(c, fiber.StatusNotFound, err.Error())
		default:
			return httpx.Error(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	switch res.Status {
	case model.StatusPending:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":     fiber.StatusAccepted,
			"message":    res.Message,
			"exec_id":    res.ExecID,
			"approve":    res.Pending.ApproveURL,
			"reject":     res.Pending.RejectURL,
			"expires_at": res.Pending.ExpiresAt,
		})
	case model.StatusAccepted:
		return c.Status(fiber.StatusAccepted).JSON(res)
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
}
