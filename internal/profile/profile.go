// Package profile holds the per-turn user profile and conversation turn model
// shared by the routing and prompt assembly pipeline.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleClient  Role = "mas-client"
	RoleStaff   Role = "mas-staff-vc"
	RoleCharity Role = "canadian-charity"
	RoleOther   Role = "other"

	OtherSentinel = "other"
	otherLabel    = "Other"
)

type Identification string

const (
	IdentEmail     Identification = "email"
	IdentFederated Identification = "microsoft-login"
	IdentAnonymous Identification = "anonymous"
)

// Data access tags, ordered from least to most privileged.
const (
	AccessPublic         = "public"
	AccessVCTemplates    = "vc-templates"
	AccessProjectHistory = "project-history"
)

var roleAliases = map[string]Role{
	"client":           RoleClient,
	"staff-consultant": RoleStaff,
	"staff":            RoleStaff,
	"charity-member":   RoleCharity,
}

var identAliases = map[string]Identification{
	"federated-login": IdentFederated,
	"federated":       IdentFederated,
}

var roleDisplay = map[Role]string{
	RoleClient:  "MAS Client",
	RoleStaff:   "MAS Staff/Volunteer Consultant",
	RoleCharity: "Canadian Charity Team Member",
}

var topicDisplay = map[string]string{
	"ai":                       "AI",
	"planning":                 "Planning",
	"governance":               "Governance",
	"hr":                       "HR",
	"fundraising":              "Fundraising",
	"finance-it":               "Finance & IT",
	"marketing-communications": "Marketing & Communications",
	"using-civicrm":            "Using CiviCRM",
	"implementing-civicrm":     "Implementing CiviCRM",
}

// FederatedSession is the verified identity handed over by the login provider.
type FederatedSession struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

type UserProfile struct {
	Role             Role              `json:"role"`
	CustomRole       string            `json:"customRole,omitempty"`
	Topic            string            `json:"topic"`
	CustomTopic      string            `json:"customTopic,omitempty"`
	Identification   Identification    `json:"identification"`
	Email            string            `json:"email,omitempty"`
	DataAccess       []string          `json:"dataAccess,omitempty"`
	MicrosoftSession *FederatedSession `json:"microsoftSession,omitempty"`
}

var ErrInvalidProfile = errors.New("invalid user profile")

// Normalize canonicalizes aliases and enforces the data access invariants:
// public is always present and elevated tiers require federated login.
func (p UserProfile) Normalize() UserProfile {
	out := p
	r := strings.ToLower(strings.TrimSpace(string(p.Role)))
	if alias, ok := roleAliases[r]; ok {
		out.Role = alias
	} else {
		out.Role = Role(r)
	}
	id := strings.ToLower(strings.TrimSpace(string(p.Identification)))
	if alias, ok := identAliases[id]; ok {
		out.Identification = alias
	} else {
		out.Identification = Identification(id)
	}
	out.Topic = strings.TrimSpace(p.Topic)

	tiers := make([]string, 0, len(p.DataAccess)+1)
	tiers = append(tiers, AccessPublic)
	seen := map[string]bool{AccessPublic: true}
	for _, t := range p.DataAccess {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if t != AccessPublic && out.Identification != IdentFederated {
			continue
		}
		seen[t] = true
		tiers = append(tiers, t)
	}
	out.DataAccess = tiers

	if p.MicrosoftSession != nil {
		s := *p.MicrosoftSession
		out.MicrosoftSession = &s
	}
	return out
}

// Validate reports missing or unknown required fields.
func (p UserProfile) Validate() error {
	var missing []string
	if strings.TrimSpace(string(p.Role)) == "" {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(p.Topic) == "" {
		missing = append(missing, "topic")
	}
	if strings.TrimSpace(string(p.Identification)) == "" {
		missing = append(missing, "identification")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	switch p.Normalize().Identification {
	case IdentEmail, IdentFederated, IdentAnonymous:
	default:
		return fmt.Errorf("%w: unknown identification %q", ErrInvalidProfile, p.Identification)
	}
	return nil
}

// VerifiedEmail returns the federated session email, or "" when the caller
// did not sign in through the federated login.
func (p UserProfile) VerifiedEmail() string {
	if p.Identification != IdentFederated || p.MicrosoftSession == nil {
		return ""
	}
	return strings.TrimSpace(p.MicrosoftSession.Email)
}

// ContactEmail prefers the verified identity and falls back to the
// self-declared email.
func (p UserProfile) ContactEmail() string {
	if e := p.VerifiedEmail(); e != "" {
		return e
	}
	return strings.TrimSpace(p.Email)
}

// RoleDisplay resolves the human readable role name.
func RoleDisplay(p UserProfile) string {
	return resolveDisplay(string(p.Role), p.CustomRole, func(v string) (string, bool) {
		r := Role(strings.ToLower(v))
		if alias, ok := roleAliases[string(r)]; ok {
			r = alias
		}
		d, ok := roleDisplay[r]
		return d, ok
	})
}

// TopicDisplay resolves the human readable topic name.
func TopicDisplay(p UserProfile) string {
	return resolveDisplay(p.Topic, p.CustomTopic, func(v string) (string, bool) {
		d, ok := topicDisplay[strings.ToLower(v)]
		return d, ok
	})
}

func resolveDisplay(value, custom string, lookup func(string) (string, bool)) string {
	v := strings.TrimSpace(value)
	if strings.EqualFold(v, OtherSentinel) {
		if c := strings.TrimSpace(custom); c != "" {
			return c
		}
		return otherLabel
	}
	if d, ok := lookup(v); ok {
		return d
	}
	return v
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type TurnMetadata struct {
	Model            string `json:"model,omitempty"`
	TokensUsed       int    `json:"tokensUsed,omitempty"`
	HadCRMData       bool   `json:"hadCiviCRMData,omitempty"`
	HadKnowledgeBase bool   `json:"hadKnowledgeBase,omitempty"`
	ResponseTimeMS   int64  `json:"responseTime,omitempty"`
}

// Turn is one message of a conversation.
type Turn struct {
	ID        string        `json:"id,omitempty"`
	Sender    Sender        `json:"sender"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  *TurnMetadata `json:"metadata,omitempty"`
}
