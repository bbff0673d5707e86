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

package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobWireFieldNames(t *testing.T) {
	raw, err := EncodeJob(Job{
		Runbook:          "restart_pods.sh",
		RunArgs:          "--grace 30",
		ID:               "restart-pods",
		Name:             "Restart pods",
		ExecID:           "exec-1",
		OnCall:           "True",
		MonitorCondition: "Fired",
		Severity:         "Sev2",
		Worker:           "k8s",
		ResourceInfo:     map[string]string{"namespace": "payments"},
	})
	require.NoError(t, err)

	for _, field := range []string{
		`"runbook"`, `"run_args"`, `"exec_id"`, `"oncall"`,
		`"monitor_condition"`, `"severity"`, `"worker"`, `"resource_info"`,
	} {
		require.Contains(t, string(raw), field)
	}

	got, err := DecodeJob(raw)
	require.NoError(t, err)
	require.Equal(t, "exec-1", got.ExecID)
	require.Equal(t, "payments", got.ResourceInfo["namespace"])
}

func TestEncodeLogsTruncates(t *testing.T) {
	big := []byte(strings.Repeat("x", MaxLogBytes+1000))

	decoded := DecodeLogs(EncodeLogs(big))
	require.Len(t, decoded, MaxLogBytes)
}

func TestDecodeLogsMalformed(t *testing.T) {
	require.Empty(t, DecodeLogs("not-base64!!!"))
	require.Empty(t, DecodeLogs(""))
}
