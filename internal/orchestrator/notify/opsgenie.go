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

// Alert is one paging request.
type Alert struct {
	Message          string
	Description      string
	Priority         string
	Alias            string
	Tags             []string
	Details          map[string]string
	MonitorCondition string
}

// IPageSender creates or closes paging alerts. Implemented by OpsgenieSender.
type IPageSender interface {
	SendPage(ctx context.Context, apiKey string, alert Alert) error
}

// OpsgenieSender talks to the Opsgenie alerts API.
type OpsgenieSender struct {
	client  *resty.Client
	baseURL string
}

// NewOpsgenieSender builds a sender. baseURL overrides the endpoint in
// tests; pass empty for production.
func NewOpsgenieSender(baseURL string) *OpsgenieSender {
	if baseURL == "" {
		baseURL = "https://api.opsgenie.com"
	}
	return &OpsgenieSender{
		client:  resty.New().SetTimeout(15 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SendPage creates an alert, or closes the alert aliased by the execId when
// the outcome carries a resolved monitor condition.
func (o *OpsgenieSender) SendPage(ctx context.Context, apiKey string, alert Alert) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.New("opsgenie: missing apiKey")
	}

	if strings.EqualFold(strings.TrimSpace(alert.MonitorCondition), "resolved") {
		if alert.Alias == "" {
			return errors.New("opsgenie: cannot close alert without alias")
		}
		return o.close(ctx, apiKey, alert.Alias)
	}

	if alert.Priority == "" {
		alert.Priority = "P3"
	}
	body := map[string]any{
		"message":     alert.Message,
		"description": alert.Description,
		"priority":    alert.Priority,
	}
	if alert.Alias != "" {
		body["alias"] = alert.Alias
	}
	if len(alert.Tags) > 0 {
		body["tags"] = alert.Tags
	}
	if len(alert.Details) > 0 {
		body["details"] = alert.Details
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "GenieKey "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(o.baseURL + "/v2/alerts")
	if err != nil {
		return errors.Wrap(err, "opsgenie create alert")
	}
	if resp.IsError() {
		return errors.Errorf("opsgenie create alert: http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (o *OpsgenieSender) close(ctx context.Context, apiKey, alias string) error {
	resp, err := o.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "GenieKey "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("identifierType", "alias").
		SetBody(map[string]any{"user": "cloudo", "note": "Auto-closed on resolve"}).
		Post(o.baseURL + "/v2/alerts/" + alias + "/close")
	if err != nil {
		return errors.Wrap(err, "opsgenie close alert")
	}
	if resp.IsError() {
		return errors.Errorf("opsgenie close alert: http %d: %s", resp.StatusCode(), resp.String())
	}
	log.Infow("opsgenie alert closed", "alias", alias)
	return nil
}

// PriorityFromSeverity maps SevN to the paging priority P(N+1), clamped to
// the P1..P5 range. Unparsable severities map to P3.
func PriorityFromSeverity(severity string) string {
	s := strings.ToLower(strings.TrimSpace(severity))
	s = strings.TrimPrefix(s, "sev")
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return "P3"
	}
	n++
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return fmt.Sprintf("P%d", n)
}
