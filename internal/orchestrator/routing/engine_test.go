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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource map[string]string

func (f fakeSource) Lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestParseConfigSoftMerge(t *testing.T) {
	cfg := ParseConfig(`{"rules":[{"when":{"any":"*"},"then":[{"type":"slack"}]}]}`, "#ops")
	require.Equal(t, "#ops", cfg.Defaults.Slack.Channel)
	require.Equal(t, "default", cfg.Defaults.Opsgenie.Team)
	require.NotNil(t, cfg.Teams)
	require.Len(t, cfg.Rules, 1)
}

func TestParseConfigInvalidFallsBack(t *testing.T) {
	cfg := ParseConfig(`{not json`, "#ops")
	require.Len(t, cfg.Rules, 2)
	require.Equal(t, "#ops", cfg.Defaults.Slack.Channel)

	cfg = ParseConfig("", "")
	require.Equal(t, "#cloudo-default", cfg.Defaults.Slack.Channel)
}

func TestRulePrecedence(t *testing.T) {
	cfg := ParseConfig(`{
		"rules": [
			{"when": {"namespace": "payments"}, "then": [{"type": "slack", "channel": "#payments"}]},
			{"when": {"any": "*"}, "then": [{"type": "slack", "channel": "#catch-all"}]}
		]
	}`, "#ops")
	e := NewEngine(cfg, fakeSource{"SLACK_TOKEN_DEFAULT": "xoxb-1"})

	d := e.Route(Context{Namespace: "payments", Status: "failed", ExecID: "e1"})
	require.Equal(t, 0, d.MatchedRuleIndex)
	require.Equal(t, ReasonMatched, d.Reason)
	require.Len(t, d.Actions, 1)
	require.Equal(t, "#payments", d.Actions[0].Channel)
}

func TestFallbackForUnmatchedTerminal(t *testing.T) {
	cfg := ParseConfig(`{"rules":[{"when":{"namespace":"payments"},"then":[{"type":"slack"}]}]}`, "#ops")
	e := NewEngine(cfg, fakeSource{"OPSGENIE_API_KEY_DEFAULT": "og-key"})

	d := e.Route(Context{Namespace: "billing", Status: "failed"})
	require.Equal(t, ReasonFallbackOpsgenie, d.Reason)
	require.Equal(t, -1, d.MatchedRuleIndex)
	require.Len(t, d.Actions, 1)
	require.Equal(t, ActionOpsgenie, d.Actions[0].Type)
	require.Equal(t, "og-key", d.Actions[0].APIKey)
}

func TestNoActionForUnmatchedNonFinal(t *testing.T) {
	cfg := ParseConfig(`{"rules":[{"when":{"namespace":"payments"},"then":[{"type":"slack"}]}]}`, "#ops")
	e := NewEngine(cfg, fakeSource{})

	d := e.Route(Context{Namespace: "billing", Status: "running"})
	require.Equal(t, ReasonNoActionNonFinal, d.Reason)
	require.Empty(t, d.Actions)
}

func TestWildcardSlackScenario(t *testing.T) {
	// Sev1 failure, no team hint, only the wildcard-to-slack rule.
	cfg := ParseConfig(`{"rules":[{"when":{"any":"*"},"then":[{"type":"slack"}]}]}`, "#cloudo-default")
	src := fakeSource{}
	e := NewEngine(cfg, src)

	d := e.Route(Context{Severity: "Sev1", Status: "failed", ExecID: "e1"})
	require.Equal(t, ReasonMatched, d.Reason)
	require.Len(t, d.Actions, 1)
	require.Equal(t, ActionSlack, d.Actions[0].Type)
	require.Equal(t, "#cloudo-default", d.Actions[0].Channel)

	// No token configured: the slack action fails, so exactly one paging
	// fallback is attempted.
	var opsgenieCalls int
	ExecuteActions(d, fakeSource{"OPSGENIE_API_KEY": "og"}, func(a Action) error {
		t.Fatal("slack should not be sent without a token")
		return nil
	}, func(a Action) error {
		opsgenieCalls++
		require.Equal(t, "og", a.APIKey)
		return nil
	})
	require.Equal(t, 1, opsgenieCalls)
}

func TestSupplementalTeamSlackAction(t *testing.T) {
	cfg := ParseConfig(`{
		"teams": {"platform": {"slack": {"channel": "#platform"}}},
		"rules": [{"when": {"any": "*"}, "then": [{"type": "slack", "team": "infra", "channel": "#infra"}]}]
	}`, "#ops")
	src := fakeSource{
		"SLACK_TOKEN_INFRA":    "tok-infra",
		"SLACK_TOKEN_PLATFORM": "tok-platform",
	}
	e := NewEngine(cfg, src)

	d := e.Route(Context{
		Status:      "failed",
		RoutingInfo: map[string]string{"team": "platform"},
	})
	require.Len(t, d.Actions, 2)
	require.Equal(t, "infra", d.Actions[0].Team)
	require.Equal(t, "platform", d.Actions[1].Team)
	require.Equal(t, "#platform", d.Actions[1].Channel)
	require.Equal(t, "tok-platform", d.Actions[1].Token)
}

func TestCredentialResolutionOrder(t *testing.T) {
	src := fakeSource{
		"OPSGENIE_API_KEY_PLATFORM": `"team-key"`,
		"OPSGENIE_API_KEY_DEFAULT":  "default-key",
		"OPSGENIE_API_KEY":          "legacy-key",
	}
	require.Equal(t, "team-key", ResolveOpsgenieKey(src, "platform"))
	require.Equal(t, "default-key", ResolveOpsgenieKey(src, "unknown-team"))

	delete(src, "OPSGENIE_API_KEY_DEFAULT")
	require.Equal(t, "legacy-key", ResolveOpsgenieKey(src, "unknown-team"))

	require.Equal(t, "team-key", ResolveOpsgenieKey(fakeSource{"OPSGENIE_API_KEY_MY_TEAM": "team-key"}, "my-team"))
}

func TestExecuteActionsFanOut(t *testing.T) {
	d := Decision{
		Reason: ReasonMatched,
		Actions: []Action{
			{Type: ActionSlack, Channel: "#a", Token: "t"},
			{Type: ActionOpsgenie, APIKey: "k"},
		},
	}

	var slackCalls, opsgenieCalls int
	ExecuteActions(d, fakeSource{}, func(a Action) error {
		slackCalls++
		return errors.New("slack down")
	}, func(a Action) error {
		opsgenieCalls++
		return nil
	})

	// Slack failing never stops opsgenie, and one success suppresses the
	// last-resort fallback.
	require.Equal(t, 1, slackCalls)
	require.Equal(t, 1, opsgenieCalls)
}

func TestExecuteActionsNoFallbackForNonFinal(t *testing.T) {
	called := false
	ExecuteActions(Decision{Reason: ReasonNoActionNonFinal}, fakeSource{"OPSGENIE_API_KEY": "k"},
		func(a Action) error { return nil },
		func(a Action) error { called = true; return nil })
	require.False(t, called)
}
