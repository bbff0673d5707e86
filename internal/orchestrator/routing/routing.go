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

// Package routing decides which notification actions an execution outcome
// should trigger. The decision is a pure function of the outcome context and
// the rule set; the only I/O is credential lookup.
package routing

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudo-ops/cloudo/pkg/log"
)

// ActionType is resolved once at rule load, not re-interpreted per dispatch.
type ActionType int

const (
	ActionSlack ActionType = iota + 1
	ActionOpsgenie
)

func (t ActionType) String() string {
	switch t {
	case ActionSlack:
		return "slack"
	case ActionOpsgenie:
		return "opsgenie"
	default:
		return "unknown"
	}
}

func parseActionType(s string) (ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slack":
		return ActionSlack, true
	case "opsgenie":
		return ActionOpsgenie, true
	default:
		return 0, false
	}
}

// Action is one resolved notification call.
type Action struct {
	Type    ActionType
	Channel string
	Token   string
	Team    string
	APIKey  string
}

// Decision reasons.
const (
	ReasonMatched          = "matched"
	ReasonFallbackOpsgenie = "fallback_opsgenie"
	ReasonNoActionNonFinal = "no_action_non_final"
)

// Decision is the ordered action list for one outcome.
type Decision struct {
	Actions          []Action
	MatchedRuleIndex int // -1 when no rule matched
	MatchedTeam      string
	Reason           string
}

// flexString accepts JSON strings, booleans, and numbers, normalizing all of
// them to a string. Rule authors write `"isAlert": true` and `"isAlert":
// "true"` interchangeably.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var v string
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

func (f *flexString) val() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

// When is the conjunction of predicates gating one rule. Absent fields do
// not constrain.
type When struct {
	Any                 string      `json:"any,omitempty"`
	FinalOnly           *bool       `json:"finalOnly,omitempty"`
	StatusIn            []string    `json:"statusIn,omitempty"`
	ResourceID          *flexString `json:"resourceId,omitempty"`
	ResourceGroup       *flexString `json:"resourceGroup,omitempty"`
	ResourceName        *flexString `json:"resourceName,omitempty"`
	SubscriptionID      *flexString `json:"subscriptionId,omitempty"`
	Namespace           *flexString `json:"namespace,omitempty"`
	SchemaName          *flexString `json:"schemaName,omitempty"`
	OnCall              *flexString `json:"oncall,omitempty"`
	ResourceGroupPrefix *flexString `json:"resourceGroupPrefix,omitempty"`
	SeverityMin         *flexString `json:"severityMin,omitempty"`
	SeverityMax         *flexString `json:"severityMax,omitempty"`
	IsAlert             *flexString `json:"isAlert,omitempty"`
}

// ActionSpec is one unresolved `then` entry as authored in the rule set.
type ActionSpec struct {
	Type    string `json:"type"`
	Team    string `json:"team,omitempty"`
	Channel string `json:"channel,omitempty"`
	Token   string `json:"token,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

// Rule pairs a predicate conjunction with an ordered action list.
type Rule struct {
	When When         `json:"when"`
	Then []ActionSpec `json:"then"`
}

// TeamConf carries per-team channel/team overrides.
type TeamConf struct {
	Slack    SlackDefaults    `json:"slack,omitempty"`
	Opsgenie OpsgenieDefaults `json:"opsgenie,omitempty"`
}

type SlackDefaults struct {
	Channel string `json:"channel,omitempty"`
}

type OpsgenieDefaults struct {
	Team string `json:"team,omitempty"`
}

// Config is the full rule set with defaults and team overrides. Secrets are
// never stored here; they resolve through the setting source at decision
// time.
type Config struct {
	Version  int                 `json:"version,omitempty"`
	Defaults Defaults            `json:"defaults"`
	Teams    map[string]TeamConf `json:"teams"`
	Rules    []Rule              `json:"rules"`
}

type Defaults struct {
	Slack    SlackDefaults    `json:"slack"`
	Opsgenie OpsgenieDefaults `json:"opsgenie"`
}

// FallbackConfig is used when no rule set is configured or it fails to
// parse: page on failures, chat on everything else.
func FallbackConfig(defaultChannel string) Config {
	if defaultChannel == "" {
		defaultChannel = "#cloudo-default"
	}
	isAlert := flexString("true")
	return Config{
		Version: 1,
		Defaults: Defaults{
			Slack:    SlackDefaults{Channel: defaultChannel},
			Opsgenie: OpsgenieDefaults{Team: "default"},
		},
		Teams: map[string]TeamConf{},
		Rules: []Rule{
			{
				When: When{IsAlert: &isAlert, StatusIn: []string{"failed", "error", "routed"}},
				Then: []ActionSpec{{Type: "opsgenie"}, {Type: "slack"}},
			},
			{
				When: When{Any: "*"},
				Then: []ActionSpec{{Type: "slack"}},
			},
		},
	}
}

// ParseConfig parses raw rule-set JSON, soft-merging the fallback defaults so
// required keys always exist. An empty or invalid document yields the
// fallback configuration.
func ParseConfig(raw, defaultChannel string) Config {
	fallback := FallbackConfig(defaultChannel)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		log.Info("routing rules not set, using fallback configuration")
		return fallback
	}

	var cfg Config
	if err := sonic.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Errorw("invalid routing rules json, using fallback", "error", err)
		return fallback
	}
	if cfg.Defaults.Slack.Channel == "" {
		cfg.Defaults.Slack.Channel = fallback.Defaults.Slack.Channel
	}
	if cfg.Defaults.Opsgenie.Team == "" {
		cfg.Defaults.Opsgenie.Team = fallback.Defaults.Opsgenie.Team
	}
	if cfg.Teams == nil {
		cfg.Teams = map[string]TeamConf{}
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = fallback.Rules
	}
	return cfg
}

// sevToNum normalizes "Sev0".."Sev4" (or a bare number) to an int. Lower is
// more severe. Returns -1 when absent or unparsable.
func sevToNum(sev string) int {
	s := strings.ToLower(strings.TrimSpace(sev))
	if s == "" {
		return -1
	}
	s = strings.TrimPrefix(s, "sev")
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
