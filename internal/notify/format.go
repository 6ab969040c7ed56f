package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Target platforms. Detected from the webhook URL when not set explicitly.
const (
	PlatformSlack   = "slack"
	PlatformDiscord = "discord"
	PlatformTeams   = "teams"
	PlatformGeneric = "generic"
)

// Event types a tenant can subscribe to.
const (
	EventBlock     = "BLOCK"
	EventWarn      = "WARN"
	EventCostAlert = "COST_ALERT"
)

// Event is one policy or budget occurrence to deliver.
type Event struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	RiskLevel   string    `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	Explanation string    `json:"explanation"`
	TraceID     string    `json:"trace_id"`
	At          time.Time `json:"at"`
}

// DetectPlatform inspects a webhook URL and picks the card format.
func DetectPlatform(rawURL string) string {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "hooks.slack.com"):
		return PlatformSlack
	case strings.Contains(u, "discord.com/api/webhooks"), strings.Contains(u, "discordapp.com/api/webhooks"):
		return PlatformDiscord
	case strings.Contains(u, "webhook.office.com"), strings.Contains(u, "outlook.office.com"):
		return PlatformTeams
	default:
		return PlatformGeneric
	}
}

// FormatPayload renders the event as the platform's webhook body.
func FormatPayload(platform string, ev *Event) ([]byte, error) {
	switch platform {
	case PlatformSlack:
		return json.Marshal(slackPayload(ev))
	case PlatformDiscord:
		return json.Marshal(discordPayload(ev))
	case PlatformTeams:
		return json.Marshal(teamsPayload(ev))
	default:
		return json.Marshal(ev)
	}
}

func eventTitle(ev *Event) string {
	switch ev.Type {
	case EventBlock:
		return "Response blocked"
	case EventWarn:
		return "Response flagged"
	case EventCostAlert:
		return "Budget threshold reached"
	default:
		return "Gateway event"
	}
}

func eventColor(ev *Event) string {
	switch ev.Type {
	case EventBlock:
		return "#d63031"
	case EventWarn:
		return "#fdcb6e"
	default:
		return "#0984e3"
	}
}

func slackPayload(ev *Event) map[string]any {
	return map[string]any{
		"attachments": []map[string]any{{
			"color": eventColor(ev),
			"title": eventTitle(ev),
			"text":  ev.Explanation,
			"fields": []map[string]any{
				{"title": "Workspace", "value": ev.WorkspaceID, "short": true},
				{"title": "Provider", "value": fmt.Sprintf("%s / %s", ev.Provider, ev.Model), "short": true},
				{"title": "Risk", "value": fmt.Sprintf("%s (%.0f)", ev.RiskLevel, ev.RiskScore), "short": true},
				{"title": "Trace", "value": ev.TraceID, "short": true},
			},
			"ts": ev.At.Unix(),
		}},
	}
}

func discordPayload(ev *Event) map[string]any {
	color := 0x0984e3
	switch ev.Type {
	case EventBlock:
		color = 0xd63031
	case EventWarn:
		color = 0xfdcb6e
	}
	return map[string]any{
		"embeds": []map[string]any{{
			"title":       eventTitle(ev),
			"description": ev.Explanation,
			"color":       color,
			"fields": []map[string]any{
				{"name": "Workspace", "value": ev.WorkspaceID, "inline": true},
				{"name": "Provider", "value": fmt.Sprintf("%s / %s", ev.Provider, ev.Model), "inline": true},
				{"name": "Risk", "value": fmt.Sprintf("%s (%.0f)", ev.RiskLevel, ev.RiskScore), "inline": true},
			},
			"timestamp": ev.At.Format(time.RFC3339),
		}},
	}
}

func teamsPayload(ev *Event) map[string]any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": strings.TrimPrefix(eventColor(ev), "#"),
		"summary":    eventTitle(ev),
		"sections": []map[string]any{{
			"activityTitle": eventTitle(ev),
			"text":          ev.Explanation,
			"facts": []map[string]any{
				{"name": "Workspace", "value": ev.WorkspaceID},
				{"name": "Provider", "value": fmt.Sprintf("%s / %s", ev.Provider, ev.Model)},
				{"name": "Risk", "value": fmt.Sprintf("%s (%.0f)", ev.RiskLevel, ev.RiskScore)},
				{"name": "Trace", "value": ev.TraceID},
			},
		}},
	}
}
