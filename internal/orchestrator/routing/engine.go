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

	"github.com/cloudo-ops/cloudo/pkg/log"
)

// SettingSource looks up a named credential or setting, table first then
// environment. Implemented by the orchestrator's settings layer.
type SettingSource interface {
	Lookup(key string) (string, bool)
}

// trimQuotes strips whitespace and stray quoting copied in from env files.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return strings.Trim(s, `'`)
}

// credKey builds the convention key <PREFIX>_<TEAM>, uppercased with dashes
// folded to underscores.
func credKey(prefix, team string) string {
	return strings.ToUpper(strings.ReplaceAll(prefix+"_"+team, "-", "_"))
}

// ResolveSlackToken resolves a chat token: SLACK_TOKEN_<TEAM>, then
// SLACK_TOKEN_DEFAULT.
func ResolveSlackToken(src SettingSource, team string) string {
	if team != "" {
		if v, ok := src.Lookup(credKey("SLACK_TOKEN", team)); ok && v != "" {
			return trimQuotes(v)
		}
	}
	if v, ok := src.Lookup("SLACK_TOKEN_DEFAULT"); ok {
		return trimQuotes(v)
	}
	return ""
}

// ResolveOpsgenieKey resolves a paging key: OPSGENIE_API_KEY_<TEAM>, then
// OPSGENIE_API_KEY_DEFAULT, then the legacy OPSGENIE_API_KEY.
func ResolveOpsgenieKey(src SettingSource, team string) string {
	if team != "" {
		if v, ok := src.Lookup(credKey("OPSGENIE_API_KEY", team)); ok && v != "" {
			return trimQuotes(v)
		}
	}
	if v, ok := src.Lookup("OPSGENIE_API_KEY_DEFAULT"); ok && v != "" {
		return trimQuotes(v)
	}
	if v, ok := src.Lookup("OPSGENIE_API_KEY"); ok {
		return trimQuotes(v)
	}
	return ""
}

// Engine evaluates the rule set against outcome contexts.
type Engine struct {
	cfg Config
	src SettingSource
}

func NewEngine(cfg Config, src SettingSource) *Engine {
	return &Engine{cfg: cfg, src: src}
}

// Route evaluates rules in declaration order; the first rule whose
// predicates all hold and that yields at least one action wins. Unmatched
// terminal outcomes fall back to a single default paging action; unmatched
// non-terminal outcomes produce no actions.
func (e *Engine) Route(raw Context) Decision {
	ctx := NormalizeContext(raw)

	riTeam := strings.TrimSpace(ctx.RoutingInfo["team"])
	riSlackToken := ctx.RoutingInfo["slack_token"]
	riSlackChannel := ctx.RoutingInfo["slack_channel"]
	riOpsgenieToken := ctx.RoutingInfo["opsgenie_token"]

	log.Infow("routing: evaluating rules",
		"execId", ctx.ExecID, "rules", len(e.cfg.Rules), "status", ctx.Status, "team", riTeam)

	for idx, rule := range e.cfg.Rules {
		if !matchWhen(rule.When, ctx) {
			continue
		}

		var actions []Action
		matchedTeam := ""

		for _, spec := range rule.Then {
			atype, ok := parseActionType(spec.Type)
			if !ok {
				log.Warnw("routing: ignoring unsupported action type", "type", spec.Type)
				continue
			}

			teamName := spec.Team
			if teamName == "" {
				teamName = riTeam
			}
			teamConf := e.cfg.Teams[teamName]
			if matchedTeam == "" {
				matchedTeam = teamName
			}

			switch atype {
			case ActionSlack:
				channel := firstNonEmpty(spec.Channel, teamConf.Slack.Channel, e.cfg.Defaults.Slack.Channel, riSlackChannel)
				tok := spec.Token
				if tok == "" {
					tok = ResolveSlackToken(e.src, teamName)
				}
				if tok == "" {
					tok = riSlackToken
				}
				actions = append(actions, Action{Type: ActionSlack, Channel: channel, Token: tok, Team: teamName})

			case ActionOpsgenie:
				ogTeam := firstNonEmpty(teamName, teamConf.Opsgenie.Team, e.cfg.Defaults.Opsgenie.Team, riTeam)
				key := spec.APIKey
				if key == "" {
					key = ResolveOpsgenieKey(e.src, ogTeam)
				}
				if key == "" {
					key = riOpsgenieToken
				}
				actions = append(actions, Action{Type: ActionOpsgenie, Team: ogTeam, APIKey: trimQuotes(key)})
			}
		}

		actions = e.appendTeamSupplements(actions, riTeam, riSlackToken, riSlackChannel, riOpsgenieToken)

		if len(actions) > 0 {
			log.Infow("routing: matched rule",
				"execId", ctx.ExecID, "rule", idx, "team", matchedTeam, "actions", len(actions))
			return Decision{
				Actions:          actions,
				MatchedRuleIndex: idx,
				MatchedTeam:      matchedTeam,
				Reason:           ReasonMatched,
			}
		}
	}

	if fallbackStatuses[ctx.Status] {
		ogTeam := firstNonEmpty(riTeam, e.cfg.Defaults.Opsgenie.Team)
		key := riOpsgenieToken
		if key == "" {
			key = ResolveOpsgenieKey(e.src, ogTeam)
		}
		log.Infow("routing: no rule matched, opsgenie fallback", "execId", ctx.ExecID)
		return Decision{
			Actions:          []Action{{Type: ActionOpsgenie, Team: ogTeam, APIKey: trimQuotes(key)}},
			MatchedRuleIndex: -1,
			Reason:           ReasonFallbackOpsgenie,
		}
	}

	log.Warnw("routing: non-final status and no rule matched", "execId", ctx.ExecID, "status", ctx.Status)
	return Decision{MatchedRuleIndex: -1, Reason: ReasonNoActionNonFinal}
}

// appendTeamSupplements makes sure a team named in the routing hints still
// gets notified when the matched rule's actions covered a different team.
func (e *Engine) appendTeamSupplements(actions []Action, riTeam, riSlackToken, riSlackChannel, riOpsgenieToken string) []Action {
	hasSlack := false
	hasOpsgenie := false
	for _, a := range actions {
		switch a.Type {
		case ActionSlack:
			hasSlack = true
		case ActionOpsgenie:
			hasOpsgenie = true
		}
	}

	if hasSlack && riTeam != "" {
		covered := false
		for _, a := range actions {
			if a.Type == ActionSlack && a.Team == riTeam {
				covered = true
				break
			}
		}
		if !covered {
			channel := firstNonEmpty(riSlackChannel, e.cfg.Teams[riTeam].Slack.Channel, e.cfg.Defaults.Slack.Channel)
			tok := riSlackToken
			if tok == "" {
				tok = ResolveSlackToken(e.src, riTeam)
			}
			if channel != "" || tok != "" {
				actions = append(actions, Action{Type: ActionSlack, Channel: channel, Token: tok, Team: riTeam})
			}
		}
	}

	if hasOpsgenie && (riTeam != "" || riOpsgenieToken != "") {
		ogTeam := firstNonEmpty(riTeam, e.cfg.Defaults.Opsgenie.Team)
		covered := false
		for _, a := range actions {
			if a.Type == ActionOpsgenie && a.Team == ogTeam {
				covered = true
				break
			}
		}
		if !covered {
			key := riOpsgenieToken
			if key == "" {
				key = ResolveOpsgenieKey(e.src, ogTeam)
			}
			if key != "" {
				actions = append(actions, Action{Type: ActionOpsgenie, Team: ogTeam, APIKey: trimQuotes(key)})
			}
		}
	}

	return actions
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// SendFunc attempts one notification action.
type SendFunc func(a Action) error

// ExecuteActions fans out the decided actions independently; one failure
// never stops the rest. When nothing succeeded and the decision was not the
// non-final no-action case, one last-resort default paging call is attempted.
// Escalation failures stop here and never propagate to the caller.
func ExecuteActions(decision Decision, src SettingSource, sendSlack, sendOpsgenie SendFunc) {
	anySuccess := false

	for _, a := range decision.Actions {
		var err error
		switch a.Type {
		case ActionSlack:
			if a.Token == "" {
				err = errMissing("slack token")
			} else if a.Channel == "" {
				err = errMissing("slack channel")
			} else {
				err = sendSlack(a)
			}
		case ActionOpsgenie:
			if a.APIKey == "" {
				err = errMissing("opsgenie apiKey")
			} else {
				err = sendOpsgenie(a)
			}
		}
		if err != nil {
			log.Errorw("routing action failed", "type", a.Type.String(), "team", a.Team, "error", err)
			continue
		}
		anySuccess = true
	}

	if anySuccess || decision.Reason == ReasonNoActionNonFinal {
		return
	}

	key := ResolveOpsgenieKey(src, "")
	if key == "" {
		log.Error("final opsgenie fallback skipped: no api key configured")
		return
	}
	log.Infow("attempting final opsgenie fallback", "reason", decision.Reason)
	if err := sendOpsgenie(Action{Type: ActionOpsgenie, APIKey: key}); err != nil {
		log.Errorw("final opsgenie fallback failed", "error", err)
	}
}

type errMissing string

func (e errMissing) Error() string {
	return "missing " + string(e)
}
