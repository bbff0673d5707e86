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

// Package notify implements the chat and paging senders behind the
// escalation dispatcher.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudo-ops/cloudo/pkg/log"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Block is one Slack block-kit element.
type Block = map[string]any

// IChatSender posts a chat message. Implemented by SlackSender.
type IChatSender interface {
	SendChat(ctx context.Context, token, channel, text string, blocks []Block) error
}

// SlackSender posts messages through the Slack Web API.
type SlackSender struct {
	client  *resty.Client
	baseURL string
}

// NewSlackSender builds a sender. baseURL overrides the Slack endpoint in
// tests; pass empty for production.
func NewSlackSender(baseURL string) *SlackSender {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &SlackSender{
		client:  resty.New().SetTimeout(15 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// SendChat posts text (and optional blocks) to channel. A block-kit
// rejection is retried once with text only; that is the single built-in
// corrective retry in the escalation path.
func (s *SlackSender) SendChat(ctx context.Context, token, channel, text string, blocks []Block) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("slack: missing token")
	}
	if strings.TrimSpace(channel) == "" {
		return errors.New("slack: missing channel")
	}

	err := s.post(ctx, token, channel, text, blocks)
	if err != nil && len(blocks) > 0 && strings.Contains(err.Error(), "invalid_blocks") {
		log.Warnw("slack rejected blocks, retrying text-only", "channel", channel, "error", err)
		return s.post(ctx, token, channel, text, nil)
	}
	return err
}

func (s *SlackSender) post(ctx context.Context, token, channel, text string, blocks []Block) error {
	body := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if len(blocks) > 0 {
		body["blocks"] = blocks
	}

	var out slackResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(body).
		SetResult(&out).
		Post(s.baseURL + "/chat.postMessage")
	if err != nil {
		return errors.Wrap(err, "slack post")
	}
	if resp.IsError() {
		return errors.Errorf("slack post: http %d", resp.StatusCode())
	}
	if !out.OK {
		return errors.Errorf("slack post: %s", out.Error)
	}
	return nil
}

// SectionBlock builds a markdown section.
func SectionBlock(markdown string) Block {
	return Block{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": markdown},
	}
}

// ContextBlock builds a small context line.
func ContextBlock(markdown string) Block {
	return Block{
		"type":     "context",
		"elements": []any{map[string]any{"type": "mrkdwn", "text": markdown}},
	}
}

// ApprovalBlocks renders the approval-required notice with approve/reject
// buttons.
func ApprovalBlocks(name, schemaID, execID, severity, runbook, runArgs, approveURL, rejectURL string) []Block {
	if severity == "" {
		severity = "-"
	}
	if runbook == "" {
		runbook = "-"
	}
	if strings.TrimSpace(runArgs) == "" {
		runArgs = "-"
	}
	return []Block{
		SectionBlock(fmt.Sprintf(
			"*Approval required*\n*Name:* %s\n*Id:* `%s`\n*ExecId:* `%s`\n*Severity:* %s\n*Runbook:* `%s`\n*Args:* ```%s```",
			name, schemaID, execID, severity, runbook, runArgs)),
		{
			"type": "actions",
			"elements": []any{
				map[string]any{
					"type": "button",
					"text": map[string]any{"type": "plain_text", "text": "Approve ✅"},
					"url":  approveURL,
				},
				map[string]any{
					"type": "button",
					"text": map[string]any{"type": "plain_text", "text": "Reject ❌"},
					"url":  rejectURL,
				},
			},
		},
	}
}

// DecisionBlocks renders the approve/reject decision notice.
func DecisionBlocks(decision, execID, schemaID, approver, extra string) []Block {
	blocks := []Block{
		SectionBlock(fmt.Sprintf(
			"*%s*\n*ExecId:* `%s`\n*SchemaId:* `%s`\n*By:* %s",
			decision, execID, schemaID, approver)),
	}
	if extra != "" {
		blocks = append(blocks, ContextBlock(extra))
	}
	return blocks
}

// OutcomeBlocks renders a worker outcome notification.
func OutcomeBlocks(name, schemaID, execID, status, severity, onCall, monitorCondition, runbook, runArgs, logsExcerpt string) []Block {
	emoji := "❌"
	if status == "succeeded" {
		emoji = "✅"
	}
	if len(logsExcerpt) > 1500 {
		logsExcerpt = logsExcerpt[:1500]
	}
	return []Block{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": "Worker Notification " + emoji, "emoji": true},
		},
		{
			"type": "section",
			"fields": []any{
				map[string]any{"type": "mrkdwn", "text": "*Name:*\n" + name},
				map[string]any{"type": "mrkdwn", "text": "*Id:*\n" + schemaID},
				map[string]any{"type": "mrkdwn", "text": "*ExecId:*\n" + execID},
				map[string]any{"type": "mrkdwn", "text": "*Status:*\n" + status},
				map[string]any{"type": "mrkdwn", "text": "*Severity:*\n" + severity},
				map[string]any{"type": "mrkdwn", "text": "*OnCall:*\n" + onCall},
				map[string]any{"type": "mrkdwn", "text": "*MonitorCondition:*\n" + monitorCondition},
			},
		},
		SectionBlock("*Runbook:*\n" + runbook),
		SectionBlock("*Run Args:*\n```" + runArgs + "```"),
		SectionBlock("*Logs (truncated):*\n```" + logsExcerpt + "```"),
		{"type": "divider"},
	}
}
