// Package classify decides per message whether CRM data is needed and which
// provider slot should answer. Decisions are driven by ordered rule tables.
package classify

import (
	"strings"

	"github.com/suPer8Hu/mas-assistant/internal/ai"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// CRMKeywords trigger a CRM fetch on substring match. High recall is preferred.
var CRMKeywords = []string{
	"contact", "donor", "donation", "contribution", "member",
	"event", "participant", "volunteer", "database", "crm",
	"fundraising", "campaign", "constituent", "supporter",
	"case", "project", "service", "client", "coordinator",
	"activity", "task", "assignment", "open", "closed",
	"how many", "statistics", "stats", "total", "count",
	"recent", "upcoming", "list", "show me", "find", "my",
}

// Rule maps a keyword set to a provider. Rules are evaluated in order.
type Rule struct {
	Name     string
	Keywords []string
	Provider ai.ProviderID
}

// ProviderRules is evaluated first-match-wins; DefaultProvider applies when
// nothing matches.
var ProviderRules = []Rule{
	{Name: "technical", Keywords: []string{"code", "programming", "api", "javascript", "python", "sql"}, Provider: ai.ProviderTechnical},
	{Name: "analysis", Keywords: []string{"analyze", "data", "report", "metrics"}, Provider: ai.ProviderTechnical},
}

const DefaultProvider = ai.ProviderConsulting

func NeedsExternalData(message string) bool {
	return containsAny(strings.ToLower(message), CRMKeywords)
}

// SelectProvider ignores the profile; routing is a static rule on the message.
func SelectProvider(_ profile.UserProfile, message string) ai.ProviderID {
	id, _ := MatchProvider(message)
	return id
}

// MatchProvider returns the chosen provider and the name of the rule that
// selected it ("default" when none matched).
func MatchProvider(message string) (ai.ProviderID, string) {
	m := strings.ToLower(message)
	for _, r := range ProviderRules {
		if containsAny(m, r.Keywords) {
			return r.Provider, r.Name
		}
	}
	return DefaultProvider, "default"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
