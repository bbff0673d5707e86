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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAlertFull(t *testing.T) {
	a := ParseAlert([]byte(alertBody))

	assert.Equal(t, "restart-pods", a.SchemaID)
	assert.Equal(t, "Sev2", a.Severity)
	assert.Equal(t, "Fired", a.MonitorCondition)
	assert.Equal(t, "prod-aks", a.ResourceInfo["resource_name"])
	assert.Equal(t, "prod-rg", a.ResourceInfo["resource_rg"])
	assert.Equal(t, "payments", a.ResourceInfo["namespace"])
	assert.Equal(t, "api-5d9f", a.ResourceInfo["pod"])
	assert.NotEmpty(t, a.ResourceInfo["_raw"])
}

func TestParseAlertSchemaIDFallbacks(t *testing.T) {
	a := ParseAlert([]byte(`{"alertId":"from-alert-id"}`))
	assert.Equal(t, "from-alert-id", a.SchemaID)

	a = ParseAlert([]byte(`{"data":{"essentials":{"alertRule":"from-rule"}}}`))
	assert.Equal(t, "from-rule", a.SchemaID)
}

func TestParseAlertRoutingInfo(t *testing.T) {
	a := ParseAlert([]byte(`{"schemaId":"x","routing":{"ri_opsgenie_team":"payments-sre","ignored":7}}`))
	assert.Equal(t, map[string]string{"ri_opsgenie_team": "payments-sre"}, a.RoutingInfo)
}

func TestParseAlertDimensionAliases(t *testing.T) {
	body := `{"schemaId":"x","data":{"alertContext":{"condition":{"allOf":[{"dimensions":[
		{"name":"Kubernetes namespace","value":"infra"},
		{"name":"hpa","value":"api-hpa"},
		{"name":"kube_deployment","value":"api"}
	]}]}}}}`
	a := ParseAlert([]byte(body))
	assert.Equal(t, "infra", a.ResourceInfo["namespace"])
	assert.Equal(t, "api-hpa", a.ResourceInfo["hpa"])
	assert.Equal(t, "api", a.ResourceInfo["deployment"])
}

func TestParseAlertGarbage(t *testing.T) {
	assert.Empty(t, ParseAlert(nil).SchemaID)
	assert.Empty(t, ParseAlert([]byte("not json")).SchemaID)
	assert.Empty(t, ParseAlert([]byte(`{"data":{}}`)).SchemaID)
}
