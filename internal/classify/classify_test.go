package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/mas-assistant/internal/ai"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

func TestNeedsExternalData(t *testing.T) {
	for _, msg := range []string{
		"Who is our biggest donor?",
		"Show me case 12",
		"What are my open cases?",
		"HOW MANY volunteers signed up",
		"upcoming events this month",
	} {
		assert.True(t, NeedsExternalData(msg), msg)
	}

	for _, msg := range []string{
		"What is nonprofit governance?",
		"Help me write a board agenda",
		"",
	} {
		assert.False(t, NeedsExternalData(msg), msg)
	}
}

func TestSelectProvider_TechnicalKeywords(t *testing.T) {
	profiles := []profile.UserProfile{
		{Role: profile.RoleClient},
		{Role: profile.RoleStaff},
		{Role: profile.RoleOther, CustomRole: "Developer"},
	}
	for _, kw := range []string{"code", "sql", "python", "api", "javascript"} {
		for _, p := range profiles {
			assert.Equal(t, ai.ProviderTechnical, SelectProvider(p, "Can you help with "+kw+" for our donor list?"))
		}
	}
}

func TestSelectProvider_DefaultAndOrder(t *testing.T) {
	p := profile.UserProfile{Role: profile.RoleClient}
	assert.Equal(t, ai.ProviderConsulting, SelectProvider(p, "How do I build a fundraising plan?"))

	id, rule := MatchProvider("Write SQL to analyze donations")
	assert.Equal(t, ai.ProviderTechnical, id)
	assert.Equal(t, "technical", rule)

	id, rule = MatchProvider("Analyze our retention")
	assert.Equal(t, ai.ProviderTechnical, id)
	assert.Equal(t, "analysis", rule)

	_, rule = MatchProvider("Board governance tips")
	assert.Equal(t, "default", rule)
}
