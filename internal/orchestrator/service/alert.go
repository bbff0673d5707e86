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

package service

import (
	"strings"

	"github.com/bytedance/sonic"
)

// ParsedAlert is the schema resolution input extracted from a monitor
// webhook body.
type ParsedAlert struct {
	SchemaID         string
	MonitorCondition string
	Severity         string
	ResourceInfo     map[string]string
	RoutingInfo      map[string]string
}

// ParseAlert extracts the schema id, severity, monitor condition and
// resource fields from a cloud-monitor alert payload. Key lookup is
// case-insensitive since monitor products disagree on casing. Returns a
// zero-SchemaID alert when the body is not resolvable.
func ParseAlert(body []byte) ParsedAlert {
	var alert ParsedAlert
	if len(body) == 0 {
		return alert
	}

	var root map[string]any
	if err := sonic.Unmarshal(body, &root); err != nil {
		return alert
	}

	data := lookupMap(root, "data")
	essentials := lookupMap(data, "essentials")

	alert.SchemaID = firstNonEmptyStr(
		lookupString(root, "alertId"),
		lookupString(root, "schemaId"),
		lookupString(essentials, "alertId"),
		lookupString(essentials, "alertRule"),
	)
	alert.MonitorCondition = lookupString(essentials, "monitorCondition")
	alert.Severity = lookupString(essentials, "severity")

	resourceID := firstTarget(essentials)
	name, rg := splitResourceID(resourceID)

	dims := collectDimensions(data)
	if name != "" || len(dims) > 0 {
		info := map[string]string{
			"resource_name": name,
			"resource_rg":   rg,
			"resource_id":   resourceID,
			"namespace":     dims["namespace"],
			"pod":           dims["pod"],
			"deployment":    dims["deployment"],
			"job":           dims["job"],
			"hpa":           dims["horizontalpodautoscaler"],
		}
		if raw, err := sonic.MarshalString(root); err == nil {
			info["_raw"] = raw
		}
		alert.ResourceInfo = info
	}

	alert.RoutingInfo = lookupStringMap(root, "routing", "routing_info")
	return alert
}

func lookupAny(m map[string]any, keys ...string) any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		for mk, v := range m {
			if strings.EqualFold(mk, k) {
				return v
			}
		}
	}
	return nil
}

func lookupMap(m map[string]any, keys ...string) map[string]any {
	v, _ := lookupAny(m, keys...).(map[string]any)
	return v
}

func lookupString(m map[string]any, keys ...string) string {
	v, _ := lookupAny(m, keys...).(string)
	return strings.TrimSpace(v)
}

func lookupStringMap(m map[string]any, keys ...string) map[string]string {
	raw := lookupMap(m, keys...)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// firstTarget returns the first alert target resource id.
func firstTarget(essentials map[string]any) string {
	targets, _ := lookupAny(essentials, "alertTargetIDs", "alertTargetIds").([]any)
	for _, t := range targets {
		if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// splitResourceID pulls the resource name (last segment) and resource group
// out of a slash-delimited cloud resource id.
func splitResourceID(resourceID string) (name, group string) {
	if resourceID == "" {
		return "", ""
	}
	parts := strings.Split(strings.Trim(resourceID, "/"), "/")
	if len(parts) > 0 {
		name = parts[len(parts)-1]
	}
	for i, p := range parts {
		if strings.EqualFold(p, "resourceGroups") && i+1 < len(parts) {
			group = parts[i+1]
			break
		}
	}
	return name, group
}

// collectDimensions flattens the condition dimensions into a lowercase
// name -> value map.
func collectDimensions(data map[string]any) map[string]string {
	out := map[string]string{}
	condition := lookupMap(lookupMap(data, "alertContext"), "condition")
	allOf, _ := lookupAny(condition, "allOf").([]any)
	for _, c := range allOf {
		clause, ok := c.(map[string]any)
		if !ok {
			continue
		}
		dims, _ := lookupAny(clause, "dimensions").([]any)
		for _, d := range dims {
			dim, ok := d.(map[string]any)
			if !ok {
				continue
			}
			name := strings.ToLower(lookupString(dim, "name"))
			value := lookupString(dim, "value")
			if name == "" || value == "" {
				continue
			}
			// monitor products emit either bare or prefixed dimension names
			name = strings.TrimPrefix(name, "kubernetes ")
			name = strings.TrimPrefix(name, "kube_")
			if name == "hpa" {
				name = "horizontalpodautoscaler"
			}
			out[name] = value
		}
	}
	return out
}
