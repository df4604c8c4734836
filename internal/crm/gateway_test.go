package crm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// fakeClient records every call. failAll makes every method fail; fail
// names individual methods that fail.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	failAll bool
	fail    map[string]bool
	delay   map[string]time.Duration
	contact []Record
}

var errDown = errors.New("crm down")

func (f *fakeClient) record(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	d := f.delay[name]
	failing := f.failAll || f.fail[strings.SplitN(name, "(", 2)[0]]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failing {
		return errDown
	}
	return nil
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeClient) GetOverallStats(ctx context.Context) (Stats, error) {
	if err := f.record(ctx, "GetOverallStats"); err != nil {
		return nil, err
	}
	return Stats{"total_contacts": 120}, nil
}

func (f *fakeClient) GetContacts(ctx context.Context, limit, offset int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetContacts(%d,%d)", limit, offset)); err != nil {
		return nil, err
	}
	return []Record{{"id": "1", "display_name": "Ada Lovelace"}}, nil
}

func (f *fakeClient) GetContributions(ctx context.Context, limit, offset int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetContributions(%d,%d)", limit, offset)); err != nil {
		return nil, err
	}
	return []Record{{"id": "5", "total_amount": "50.00"}}, nil
}

func (f *fakeClient) GetContributionStats(ctx context.Context) (Stats, error) {
	if err := f.record(ctx, "GetContributionStats"); err != nil {
		return nil, err
	}
	return Stats{"total_amount": 50.0}, nil
}

func (f *fakeClient) GetUpcomingEvents(ctx context.Context, limit int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetUpcomingEvents(%d)", limit)); err != nil {
		return nil, err
	}
	return []Record{{"id": "3", "title": "Gala"}}, nil
}

func (f *fakeClient) GetCases(ctx context.Context, limit, offset int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetCases(%d,%d)", limit, offset)); err != nil {
		return nil, err
	}
	return []Record{{"id": "9", "subject": "Recent"}}, nil
}

func (f *fakeClient) GetCaseByID(ctx context.Context, id int) (Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetCaseByID(%d)", id)); err != nil {
		return nil, err
	}
	return Record{"id": fmt.Sprint(id), "subject": "Board retreat"}, nil
}

func (f *fakeClient) GetCaseActivities(ctx context.Context, caseID, limit int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetCaseActivities(%d,%d)", caseID, limit)); err != nil {
		return nil, err
	}
	return []Record{{"id": "77", "subject": "Kickoff"}}, nil
}

func (f *fakeClient) GetCasesByRole(ctx context.Context, contactID int, role CaseRole) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetCasesByRole(%d,%s)", contactID, role)); err != nil {
		return nil, err
	}
	return []Record{{"id": "11", "subject": "Coordinated"}}, nil
}

func (f *fakeClient) GetOpenCasesByCoordinator(ctx context.Context, contactID int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("GetOpenCasesByCoordinator(%d)", contactID)); err != nil {
		return nil, err
	}
	return []Record{{"id": "12", "status_id": "1"}}, nil
}

func (f *fakeClient) SearchContacts(ctx context.Context, query string, limit int) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("SearchContacts(%s,%d)", query, limit)); err != nil {
		return nil, err
	}
	return []Record{{"id": "2", "display_name": query}}, nil
}

func (f *fakeClient) Call(ctx context.Context, entity, action string, params map[string]any) ([]Record, error) {
	if err := f.record(ctx, fmt.Sprintf("Call(%s.%s,%v)", entity, action, params["email"])); err != nil {
		return nil, err
	}
	return f.contact, nil
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func staffProfile() profile.UserProfile {
	return profile.UserProfile{
		Role:             "staff-consultant",
		Topic:            "Planning",
		Identification:   "federated-login",
		MicrosoftSession: &profile.FederatedSession{Email: "x@y.org"},
	}.Normalize()
}

func TestFetch_CaseIDRoundTrip(t *testing.T) {
	fc := &fakeClient{}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "Tell me about case 42 and upcoming events", profile.UserProfile{})
	require.NoError(t, err)

	assert.Equal(t, 1, fc.count("GetCaseByID(42)"))
	assert.Equal(t, 1, fc.count("GetCaseActivities(42,10)"))
	assert.Equal(t, 1, fc.count("GetCaseByID"))
	assert.Contains(t, res.Text, "Case 42 Details:\n{\n  \"id\": \"42\"")
	assert.Contains(t, res.Text, "Case 42 Activities:\n")
	assert.Equal(t, []string{"Upcoming Events:", "Recent Cases:", "Case 42 Details:", "Case 42 Activities:"}, res.Sections)
}

func TestFetch_PersonalCases(t *testing.T) {
	fc := &fakeClient{contact: []Record{{"id": "7", "email": "x@y.org"}}}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "What are my active projects?", staffProfile())
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Your Cases (as Coordinator):")
	assert.Contains(t, res.Text, "Your Open Cases:")
	assert.NotContains(t, res.Text, "Recent Cases:")
	assert.Equal(t, 1, fc.count("Call(Contact.get,x@y.org)"))
	assert.Equal(t, 1, fc.count("GetCasesByRole(7,case_coordinator)"))
	assert.Equal(t, 1, fc.count("GetOpenCasesByCoordinator(7)"))
	assert.Zero(t, fc.count("GetCases("))
}

func TestFetch_IdentityMissFallsBackToRecentCases(t *testing.T) {
	fc := &fakeClient{}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "show my open cases", staffProfile())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Recent Cases:")
	assert.NotContains(t, res.Text, "Your Cases")
}

func TestFetch_UnverifiedIdentityUsesRecentCases(t *testing.T) {
	fc := &fakeClient{contact: []Record{{"id": "7"}}}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	p := staffProfile()
	p.Identification = profile.IdentEmail
	res, err := g.Fetch(context.Background(), "What are my active projects?", p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Recent Cases:"}, res.Sections)
	assert.Zero(t, fc.count("Call("))
}

func TestFetch_AllFail(t *testing.T) {
	fc := &fakeClient{failAll: true}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "What are my active projects?", staffProfile())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, UnavailableNote, res.Text)
	assert.False(t, res.HasData())
}

func TestFetch_PartialFailureOmitsSection(t *testing.T) {
	fc := &fakeClient{fail: map[string]bool{"GetContacts": true}}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "donor contributions this year", profile.UserProfile{})
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "Recent Contacts:")
	assert.Contains(t, res.Text, "Recent Contributions:")
	assert.Contains(t, res.Text, "Contribution Statistics:")
	assert.Equal(t, []string{"contacts"}, res.Failed)
}

func TestFetch_FixedOrderDespiteCompletionOrder(t *testing.T) {
	fc := &fakeClient{delay: map[string]time.Duration{"GetOverallStats": 30 * time.Millisecond}}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "how many donors gave to the upcoming event? Jane Doe wants to know", profile.UserProfile{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Overall Statistics:",
		"Recent Contacts:",
		"Upcoming Events:",
		`Search Results for "Jane Doe":`,
	}, res.Sections)
	assert.Less(t, strings.Index(res.Text, "Overall Statistics:"), strings.Index(res.Text, "Recent Contacts:"))
	assert.Equal(t, 1, fc.count("SearchContacts(Jane Doe,5)"))
}

func TestFetch_CallTimeout(t *testing.T) {
	fc := &fakeClient{delay: map[string]time.Duration{"GetUpcomingEvents(5)": time.Second}}
	g := NewGateway(fc, nil, GatewayConfig{CallTimeout: 20 * time.Millisecond}, quietLog())

	res, err := g.Fetch(context.Background(), "upcoming events", profile.UserProfile{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, UnavailableNote, res.Text)
}

func TestFetch_NoTrigger(t *testing.T) {
	fc := &fakeClient{}
	g := NewGateway(fc, nil, GatewayConfig{}, quietLog())

	res, err := g.Fetch(context.Background(), "what is governance?", profile.UserProfile{})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Empty(t, fc.Calls())
}
