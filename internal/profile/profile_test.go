package profile

import (
	"errors"
	"testing"
)

func TestRoleDisplay_OtherWithoutCustom(t *testing.T) {
	got := RoleDisplay(UserProfile{Role: "other"})
	if got != "Other" {
		t.Fatalf("expected Other, got %q", got)
	}
	got = RoleDisplay(UserProfile{Role: "Other", CustomRole: "Board Chair"})
	if got != "Board Chair" {
		t.Fatalf("expected custom role, got %q", got)
	}
}

func TestRoleDisplay_TableAndAliases(t *testing.T) {
	cases := map[Role]string{
		RoleClient:         "MAS Client",
		"staff-consultant": "MAS Staff/Volunteer Consultant",
		"charity-member":   "Canadian Charity Team Member",
		"treasurer":        "treasurer",
	}
	for role, want := range cases {
		if got := RoleDisplay(UserProfile{Role: role}); got != want {
			t.Fatalf("role %q: expected %q, got %q", role, want, got)
		}
	}
}

func TestTopicDisplay(t *testing.T) {
	if got := TopicDisplay(UserProfile{Topic: "Other"}); got != "Other" {
		t.Fatalf("expected Other, got %q", got)
	}
	if got := TopicDisplay(UserProfile{Topic: "other", CustomTopic: "Grant writing"}); got != "Grant writing" {
		t.Fatalf("expected custom topic, got %q", got)
	}
	if got := TopicDisplay(UserProfile{Topic: "finance-it"}); got != "Finance & IT" {
		t.Fatalf("expected mapped topic, got %q", got)
	}
	if got := TopicDisplay(UserProfile{Topic: "Fundraising"}); got != "Fundraising" {
		t.Fatalf("expected raw topic, got %q", got)
	}
}

func TestNormalize_DataAccess(t *testing.T) {
	p := UserProfile{
		Role:           "staff-consultant",
		Topic:          "Planning",
		Identification: "email",
		DataAccess:     []string{"vc-templates", "project-history"},
	}.Normalize()
	if p.Role != RoleStaff {
		t.Fatalf("expected alias to normalize, got %q", p.Role)
	}
	if len(p.DataAccess) != 1 || p.DataAccess[0] != AccessPublic {
		t.Fatalf("expected elevated tiers stripped, got %v", p.DataAccess)
	}

	p = UserProfile{
		Role:           RoleStaff,
		Topic:          "Planning",
		Identification: "federated-login",
		DataAccess:     []string{"vc-templates", "public", "vc-templates"},
	}.Normalize()
	if p.Identification != IdentFederated {
		t.Fatalf("expected federated alias to normalize, got %q", p.Identification)
	}
	want := []string{AccessPublic, AccessVCTemplates}
	if len(p.DataAccess) != len(want) {
		t.Fatalf("expected %v, got %v", want, p.DataAccess)
	}
	for i := range want {
		if p.DataAccess[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, p.DataAccess)
		}
	}
}

func TestValidate(t *testing.T) {
	err := UserProfile{Role: RoleClient}.Validate()
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	err = UserProfile{Role: RoleClient, Topic: "AI", Identification: "carrier-pigeon"}.Validate()
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected unknown identification to fail, got %v", err)
	}
	if err := (UserProfile{Role: RoleClient, Topic: "AI", Identification: IdentAnonymous}).Validate(); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
}

func TestVerifiedEmail(t *testing.T) {
	p := UserProfile{Identification: IdentEmail, Email: "a@b.org", MicrosoftSession: &FederatedSession{Email: "x@y.org"}}
	if p.VerifiedEmail() != "" {
		t.Fatalf("expected no verified email without federated login")
	}
	if p.ContactEmail() != "a@b.org" {
		t.Fatalf("expected self-declared email, got %q", p.ContactEmail())
	}
	p.Identification = IdentFederated
	if p.VerifiedEmail() != "x@y.org" {
		t.Fatalf("expected session email, got %q", p.VerifiedEmail())
	}
}
