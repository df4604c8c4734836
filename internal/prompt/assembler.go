// Package prompt assembles the system prompt for one turn.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

const (
	DefaultMaxChars = 24000
	HistoryTurns    = 5
	CRMLabel        = "CiviCRM Data:"
	TruncatedMarker = "[truncated]"
)

const BaseInstructions = `You are MAS AI Assistant, a specialized AI assistant designed to help nonprofits and social impact organizations maximize their effectiveness. You provide intelligent, actionable advice on operations, fundraising, program delivery, volunteer management, and organizational development.

Key principles:
- Focus on practical, implementable solutions
- Consider resource constraints typical of nonprofits
- Emphasize impact measurement and storytelling
- Suggest technology solutions that are affordable and accessible
- Provide step-by-step guidance when possible
- Consider ethical implications of recommendations

Always tailor your responses to the user's specific role, organization size, and stated goals.`

var roleGuidance = map[profile.Role]string{
	profile.RoleClient:  "Focus on MAS consulting services, implementation support, and leveraging MAS expertise for nonprofit growth.",
	profile.RoleStaff:   "Emphasize volunteer consulting best practices, MAS methodologies, CiviCRM expertise, and project management.",
	profile.RoleCharity: "Focus on Canadian nonprofit regulations, funding opportunities, and sector-specific challenges.",
	profile.RoleOther:   "Provide general nonprofit management advice that can be adapted to various roles and contexts.",
}

// RoleGuidance returns the guidance line for a role, defaulting to other.
func RoleGuidance(r profile.Role) string {
	if g, ok := roleGuidance[r]; ok {
		return g
	}
	return roleGuidance[profile.RoleOther]
}

type Input struct {
	Profile          profile.UserProfile
	History          []profile.Turn
	KnowledgeContext string
	CRMData          string
}

// Assembler builds prompts under a character budget. When over budget it
// drops the oldest turns, then the knowledge block, then truncates the CRM
// block. Base instructions, profile and guidance are always kept.
type Assembler struct {
	MaxChars int
}

func NewAssembler(maxChars int) *Assembler {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Assembler{MaxChars: maxChars}
}

// Report describes what the budget policy removed.
type Report struct {
	DroppedTurns     int
	DroppedKnowledge bool
	TruncatedCRM     bool
}

func (a *Assembler) Build(in Input) string {
	s, _ := a.BuildWithReport(in)
	return s
}

func (a *Assembler) BuildWithReport(in Input) (string, Report) {
	var rep Report

	turns := in.History
	if len(turns) > HistoryTurns {
		turns = turns[len(turns)-HistoryTurns:]
	}
	kb := strings.TrimSpace(in.KnowledgeContext)
	crm := strings.TrimSpace(in.CRMData)

	build := func() string {
		return join(
			BaseInstructions,
			profileBlock(in.Profile, turns),
			RoleGuidance(in.Profile.Role),
			kb,
			crmBlock(crm),
		)
	}

	out := build()
	for len(out) > a.MaxChars && len(turns) > 0 {
		turns = turns[1:]
		rep.DroppedTurns++
		out = build()
	}
	if len(out) > a.MaxChars && kb != "" {
		kb = ""
		rep.DroppedKnowledge = true
		out = build()
	}
	if over := len(out) - a.MaxChars; over > 0 && crm != "" {
		keep := len(crm) - over - len(TruncatedMarker) - 1
		if keep <= 0 {
			crm = ""
		} else {
			crm = truncateUTF8(crm, keep) + "\n" + TruncatedMarker
		}
		rep.TruncatedCRM = true
		out = build()
	}
	return out, rep
}

func profileBlock(p profile.UserProfile, turns []profile.Turn) string {
	var b strings.Builder
	b.WriteString("User Profile:\n")
	fmt.Fprintf(&b, "- Role: %s\n", profile.RoleDisplay(p))
	fmt.Fprintf(&b, "- Primary Topic of Interest: %s\n", profile.TopicDisplay(p))
	fmt.Fprintf(&b, "- Data Access Level: %s\n", strings.Join(p.DataAccess, ", "))
	fmt.Fprintf(&b, "- Identification Method: %s", p.Identification)
	if len(turns) > 0 {
		b.WriteString("\n\nRecent conversation context:")
		for _, t := range turns {
			fmt.Fprintf(&b, "\n%s: %s", t.Sender, t.Content)
		}
	}
	return b.String()
}

func crmBlock(data string) string {
	if data == "" {
		return ""
	}
	return CRMLabel + "\n" + data
}

func join(sections ...string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// truncateUTF8 cuts s to at most n bytes on a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
