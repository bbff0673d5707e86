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
	"fmt"

	"github.com/cloudo-ops/cloudo/internal/orchestrator/repo"
	"github.com/cloudo-ops/cloudo/internal/orchestrator/service"
	"github.com/cloudo-ops/cloudo/internal/pkg/token"
	"github.com/cloudo-ops/cloudo/pkg/httpx"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

type decideFunc func(ctx *fiber.Ctx, partitionKey, execID, payload, sig, approver string) (*service.DecisionResult, error)

func (rt *Router) approve(c *fiber.Ctx) error {
	return rt.decide(c, "Approved ✅", func(c *fiber.Ctx, pk, execID, p, s, by string) (*service.DecisionResult, error) {
		return rt.approvals.Approve(c.Context(), pk, execID, p, s, by)
	})
}

func (rt *Router) reject(c *fiber.Ctx) error {
	return rt.decide(c, "Rejected ❌", func(c *fiber.Ctx, pk, execID, p, s, by string) (*service.DecisionResult, error) {
		return rt.approvals.Reject(c.Context(), pk, execID, p, s, by)
	})
}

func (rt *Router) decide(c *fiber.Ctx, label string, apply decideFunc) error {
	partitionKey := c.Params("partitionKey")
	execID := c.Params("execId")
	payload := c.Query("p")
	sig := c.Query("s")
	approver := c.Get("X-Approver", "unknown")

	if execID == "" || payload == "" || sig == "" {
		return httpx.Error(c, fiber.StatusBadRequest, "missing execId or signed payload")
	}

	res, err := apply(c, partitionKey, execID, payload, sig, approver)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrBadSignature), errors.Is(err, token.ErrExpired), errors.Is(err, token.ErrMismatch):
			// one indistinguishable rejection for any invalid link
			return httpx.Error(c, fiber.StatusUnauthorized, "invalid or expired approval link")
		case errors.Is(err, service.ErrAlreadyDecided):
			return httpx.Error(c, fiber.StatusConflict, "Already decided or executed for this ExecId")
		case errors.Is(err, repo.ErrSchemaNotFound):
			return httpx.Error(c, fiber.StatusNotFound, err.Error())
		default:
			return httpx.Error(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	// approval links open in a browser, so answer with a small page
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(fmt.Sprintf(
		`<html><body><h2>%s</h2><p>ExecId: <code>%s</code></p><p>Schema: <code>%s</code></p><p>Status: %s</p></body></html>`,
		label, res.ExecID, res.SchemaID, res.Status))
}
