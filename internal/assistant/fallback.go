package assistant

import (
	"fmt"
	"strings"

	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// FallbackRule is one row of the fallback table. Match sees the lower-cased
// message.
type FallbackRule struct {
	Name   string
	Match  func(lower string, p profile.UserProfile) bool
	Render func(role, topic string, p profile.UserProfile) string
}

func hasAny(keywords ...string) func(string, profile.UserProfile) bool {
	return func(lower string, _ profile.UserProfile) bool {
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		return false
	}
}

// FallbackRules is evaluated in order, first match wins. The last rule
// always matches.
var FallbackRules = []FallbackRule{
	{
		Name:  "fundraising",
		Match: hasAny("fundraising", "donor"),
		Render: func(role, topic string, _ profile.UserProfile) string {
			return fmt.Sprintf(`Here are some fundraising strategies that could work well for your organization:

1. **Digital Fundraising**: Set up online donation forms and social media campaigns
2. **Grant Writing**: Research foundations aligned with your mission
3. **Peer-to-Peer Fundraising**: Engage your supporters to fundraise on your behalf
4. **Corporate Partnerships**: Develop relationships with local businesses
5. **Event Fundraising**: Host virtual or in-person events

Would you like me to elaborate on any of these strategies specifically for your role as a %s with a focus on %s?`, role, topic)
		},
	},
	{
		Name:  "volunteer",
		Match: hasAny("volunteer"),
		Render: func(role, topic string, _ profile.UserProfile) string {
			return fmt.Sprintf(`For volunteer management, consider these approaches:

1. **Clear Role Descriptions**: Define specific volunteer positions and expectations
2. **Onboarding Process**: Create a welcoming orientation for new volunteers
3. **Recognition Programs**: Acknowledge volunteer contributions regularly
4. **Skill-Based Matching**: Match volunteers with roles that fit their skills
5. **Communication Tools**: Use platforms like Slack or VolunteerHub for coordination

As a %s interested in %s, what specific volunteer challenges are you facing?`, role, topic)
		},
	},
	{
		Name: "civicrm",
		Match: func(lower string, p profile.UserProfile) bool {
			return strings.Contains(lower, "civicrm") && p.Role == profile.RoleStaff
		},
		Render: func(role, topic string, _ profile.UserProfile) string {
			return fmt.Sprintf(`As a %s, here are some CiviCRM guidance areas I can help with:

1. **Implementation Planning**: Best practices for CiviCRM deployment
2. **Data Migration**: Moving from existing systems to CiviCRM
3. **Training and Support**: Helping organizations adopt CiviCRM effectively
4. **Custom Development**: Extensions and customizations for specific needs
5. **Reporting and Analytics**: Setting up meaningful reports and dashboards

Which CiviCRM area would you like to focus on for %s?`, role, topic)
		},
	},
	{
		Name:  "program",
		Match: hasAny("program", "impact"),
		Render: func(role, topic string, _ profile.UserProfile) string {
			return fmt.Sprintf(`To strengthen program delivery and measure impact:

1. **Logic Models**: Develop clear program theories of change
2. **Data Collection**: Implement systems to track program outcomes
3. **Stakeholder Feedback**: Regularly survey program participants
4. **Continuous Improvement**: Use data to refine program design
5. **Storytelling**: Document success stories and case studies

Given your interest in %s as a %s, which area would you like to explore first?`, topic, role)
		},
	},
	{
		Name:  "general",
		Match: func(string, profile.UserProfile) bool { return true },
		Render: func(role, topic string, p profile.UserProfile) string {
			var b strings.Builder
			fmt.Fprintf(&b, "I'd be happy to help you with that! As a %s interested in %s, I can provide guidance on:\n\n", role, topic)
			b.WriteString("- Strategic planning and organizational development\n")
			b.WriteString("- Fundraising and donor relations\n")
			b.WriteString("- Program design and evaluation\n")
			b.WriteString("- Volunteer management and engagement\n")
			b.WriteString("- Operations and process improvement\n")
			b.WriteString("- Technology solutions for nonprofits\n")
			if p.Role == profile.RoleStaff {
				b.WriteString("- CiviCRM implementation and best practices\n")
				b.WriteString("- MAS consulting methodologies\n")
			}
			b.WriteString("\nCould you provide more specific details about what you're looking to accomplish? I'll tailor my advice to your particular situation and goals.")
			return b.String()
		},
	},
}

// MatchFallback returns the name of the rule that answers message.
func MatchFallback(message string, p profile.UserProfile) string {
	return matchRule(strings.ToLower(message), p).Name
}

func matchRule(lower string, p profile.UserProfile) FallbackRule {
	for _, r := range FallbackRules {
		if r.Match(lower, p) {
			return r
		}
	}
	return FallbackRules[len(FallbackRules)-1]
}

// FallbackResponse renders the deterministic answer used when an upstream
// dependency fails. It only templates strings and cannot fail.
func FallbackResponse(message string, p profile.UserProfile) string {
	r := matchRule(strings.ToLower(message), p)
	return r.Render(profile.RoleDisplay(p), profile.TopicDisplay(p), p)
}
