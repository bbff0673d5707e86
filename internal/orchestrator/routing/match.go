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

package routing

import (
	"strings"
)

// Context is the normalized outcome fed to the rule engine.
type Context struct {
	ResourceID    string
	ResourceGroup string
	ResourceName  string
	SchemaName    string
	Severity      string
	Namespace     string
	OnCall        string
	Status        string
	ExecID        string
	Name          string
	ID            string
	RoutingInfo   map[string]string
}

// NormalizeContext lowercases the fields compared case-insensitively.
func NormalizeContext(ctx Context) Context {
	ctx.OnCall = strings.ToLower(strings.TrimSpace(ctx.OnCall))
	ctx.Status = strings.ToLower(strings.TrimSpace(ctx.Status))
	if ctx.RoutingInfo == nil {
		ctx.RoutingInfo = map[string]string{}
	}
	return ctx
}

// finalStatuses restricts matching when finalOnly holds.
var finalStatuses = map[string]bool{
	"succeeded": true,
	"error":     true,
	"failed":    true,
	"timeout":   true,
	"routed":    true,
}

// fallbackStatuses gates the unmatched-terminal Opsgenie fallback.
var fallbackStatuses = map[string]bool{
	"error":     true,
	"failed":    true,
	"timeout":   true,
	"routed":    true,
	"scheduled": true,
}

func eq(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func hasPrefixFold(a, prefix string) bool {
	if a == "" || prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(a), strings.ToLower(prefix))
}

// subscriptionFromResourceID extracts the subscription segment from a cloud
// resource id of the form /subscriptions/<id>/....
func subscriptionFromResourceID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	if len(parts) > 2 && strings.EqualFold(parts[1], "subscriptions") {
		return parts[2]
	}
	return ""
}

// matchWhen reports whether ctx satisfies every predicate in when.
func matchWhen(when When, ctx Context) bool {
	// Catch-all short-circuits every other check, status filters included.
	if when.Any == "*" {
		return true
	}

	status := ctx.Status
	finalOnly := true
	if when.FinalOnly != nil {
		finalOnly = *when.FinalOnly
	}
	if finalOnly && !finalStatuses[status] {
		return false
	}
	if len(when.StatusIn) > 0 {
		allowed := false
		for _, s := range when.StatusIn {
			if strings.ToLower(strings.TrimSpace(s)) == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if when.ResourceID != nil && !eq(ctx.ResourceID, when.ResourceID.val()) {
		return false
	}
	if when.ResourceGroup != nil && !eq(ctx.ResourceGroup, when.ResourceGroup.val()) {
		return false
	}
	if when.ResourceName != nil && !eq(ctx.ResourceName, when.ResourceName.val()) {
		return false
	}
	if when.SubscriptionID != nil && !eq(subscriptionFromResourceID(ctx.ResourceID), when.SubscriptionID.val()) {
		return false
	}
	if when.Namespace != nil && !eq(ctx.Namespace, when.Namespace.val()) {
		return false
	}
	if when.SchemaName != nil && !eq(ctx.SchemaName, when.SchemaName.val()) {
		return false
	}
	if when.OnCall != nil && !eq(ctx.OnCall, when.OnCall.val()) {
		return false
	}

	if when.ResourceGroupPrefix != nil && !hasPrefixFold(ctx.ResourceGroup, when.ResourceGroupPrefix.val()) {
		return false
	}

	sev := sevToNum(ctx.Severity)

	if when.IsAlert != nil {
		shouldBeAlert := strings.EqualFold(strings.TrimSpace(when.IsAlert.val()), "true")
		// An event counts as an alert when it carries a parsable severity or
		// ended in a failure status.
		isAlert := sev >= 0 || status == "failed" || status == "error" || status == "timeout"
		if shouldBeAlert != isAlert {
			return false
		}
	}

	if when.SeverityMin != nil {
		if minv := sevToNum(when.SeverityMin.val()); minv >= 0 && (sev < 0 || sev < minv) {
			return false
		}
	}
	if when.SeverityMax != nil {
		if maxv := sevToNum(when.SeverityMax.val()); maxv >= 0 && (sev < 0 || sev > maxv) {
			return false
		}
	}

	return true
}
