package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/mas-assistant/internal/profile"
	"golang.org/x/sync/errgroup"
)

const (
	// UnavailableNote stands in for data when every section failed. It is
	// never structured data.
	UnavailableNote = "Note: CRM data temporarily unavailable."

	defaultCallTimeout = 8 * time.Second
	defaultParallelism = 4

	contactLimit      = 10
	contributionLimit = 10
	eventLimit        = 5
	caseLimit         = 10
	activityLimit     = 10
	searchLimit       = 5
)

var (
	caseIDPattern = regexp.MustCompile(`(?i)case\s+(\d+)`)
	namePattern   = regexp.MustCompile(`\b([A-Z][a-z]+)\s+([A-Z][a-z]+)\b`)
)

// Result is the rendered CRM context for one message.
type Result struct {
	Text     string   // labeled blocks, or UnavailableNote
	Sections []string // labels rendered, in order
	Failed   []string // units that failed
}

// HasData reports whether Text carries real CRM data.
func (r Result) HasData() bool { return len(r.Sections) > 0 }

type block struct {
	label string
	data  any
}

// unit is one independently failing piece of work.
type unit struct {
	name string
	run  func(ctx context.Context) ([]block, error)
}

type GatewayConfig struct {
	CallTimeout time.Duration
	Parallelism int
}

type Gateway struct {
	client   Client
	resolver IdentityResolver
	cfg      GatewayConfig
	log      *slog.Logger
}

// NewGateway wires a gateway. A nil resolver resolves through the client.
func NewGateway(client Client, resolver IdentityResolver, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if resolver == nil {
		resolver = ClientResolver{Client: client}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{client: client, resolver: resolver, cfg: cfg, log: log}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// call bounds one remote call with the per-call timeout.
func call[T any](g *Gateway, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

func single[T any](g *Gateway, label string, fn func(context.Context) (T, error)) func(context.Context) ([]block, error) {
	return func(ctx context.Context) ([]block, error) {
		v, err := call(g, ctx, fn)
		if err != nil {
			return nil, err
		}
		return []block{{label: label, data: v}}, nil
	}
}

// plan maps the message to units in their fixed render order.
func (g *Gateway) plan(message string, p profile.UserProfile) []unit {
	m := strings.ToLower(message)
	var units []unit

	if containsAny(m, "statistic", "overview", "total", "how many") {
		units = append(units, unit{"overall_stats", single(g, "Overall Statistics:", g.client.GetOverallStats)})
	}
	if containsAny(m, "contact", "donor", "member", "constituent") {
		units = append(units, unit{"contacts", single(g, "Recent Contacts:", func(ctx context.Context) ([]Record, error) {
			return g.client.GetContacts(ctx, contactLimit, 0)
		})})
	}
	if containsAny(m, "donation", "contribution", "fundraising", "giving") {
		units = append(units,
			unit{"contributions", single(g, "Recent Contributions:", func(ctx context.Context) ([]Record, error) {
				return g.client.GetContributions(ctx, contributionLimit, 0)
			})},
			unit{"contribution_stats", single(g, "Contribution Statistics:", g.client.GetContributionStats)},
		)
	}
	if containsAny(m, "event", "upcoming", "program", "activity") {
		units = append(units, unit{"events", single(g, "Upcoming Events:", func(ctx context.Context) ([]Record, error) {
			return g.client.GetUpcomingEvents(ctx, eventLimit)
		})})
	}
	if containsAny(m, "case", "project", "service", "client") {
		email := p.VerifiedEmail()
		if containsAny(m, "my", "open") && email != "" {
			units = append(units, unit{"my_cases", func(ctx context.Context) ([]block, error) {
				return g.personalCases(ctx, email)
			}})
		} else {
			units = append(units, unit{"cases", g.recentCases})
		}
	}
	if match := caseIDPattern.FindStringSubmatch(message); match != nil {
		if id, err := strconv.Atoi(match[1]); err == nil {
			units = append(units,
				unit{"case_details", single(g, fmt.Sprintf("Case %d Details:", id), func(ctx context.Context) (Record, error) {
					return g.client.GetCaseByID(ctx, id)
				})},
				unit{"case_activities", single(g, fmt.Sprintf("Case %d Activities:", id), func(ctx context.Context) ([]Record, error) {
					return g.client.GetCaseActivities(ctx, id, activityLimit)
				})},
			)
		}
	}
	if name := namePattern.FindString(message); name != "" {
		units = append(units, unit{"contact_search", single(g, fmt.Sprintf("Search Results for %q:", name), func(ctx context.Context) ([]Record, error) {
			return g.client.SearchContacts(ctx, name, searchLimit)
		})})
	}
	return units
}

func (g *Gateway) recentCases(ctx context.Context) ([]block, error) {
	return single(g, "Recent Cases:", func(ctx context.Context) ([]Record, error) {
		return g.client.GetCases(ctx, caseLimit, 0)
	})(ctx)
}

// personalCases resolves the caller and fetches their coordinator cases. An
// identity miss falls through to the generic recent cases.
func (g *Gateway) personalCases(ctx context.Context, email string) ([]block, error) {
	id, err := call(g, ctx, func(ctx context.Context) (int, error) {
		return g.resolver.ResolveContactID(ctx, email)
	})
	if err != nil {
		if errors.Is(err, ErrNoContact) {
			g.log.Info("no crm contact for identity, using recent cases")
		} else {
			g.log.Warn("identity resolution failed, using recent cases", "error", err)
		}
		return g.recentCases(ctx)
	}

	var blocks []block
	var errs []error
	mine, err := call(g, ctx, func(ctx context.Context) ([]Record, error) {
		return g.client.GetCasesByRole(ctx, id, CaseRoleCoordinator)
	})
	if err != nil {
		errs = append(errs, err)
	} else {
		blocks = append(blocks, block{"Your Cases (as Coordinator):", mine})
	}
	open, err := call(g, ctx, func(ctx context.Context) ([]Record, error) {
		return g.client.GetOpenCasesByCoordinator(ctx, id)
	})
	if err != nil {
		errs = append(errs, err)
	} else {
		blocks = append(blocks, block{"Your Open Cases:", open})
	}

	if len(blocks) == 0 {
		return nil, errors.Join(errs...)
	}
	for _, e := range errs {
		g.log.Warn("crm section failed", "unit", "my_cases", "error", e)
	}
	return blocks, nil
}

func render(b block) (string, error) {
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return "", err
	}
	return b.label + "\n" + string(data) + "\n\n", nil
}

// Fetch runs every triggered unit concurrently and reassembles the blocks in
// fixed order. Failed units are omitted. When all of them fail the result is
// UnavailableNote and the error wraps ErrUnavailable.
func (g *Gateway) Fetch(ctx context.Context, message string, p profile.UserProfile) (Result, error) {
	units := g.plan(message, p)
	if len(units) == 0 {
		return Result{}, nil
	}

	type outcome struct {
		blocks []block
		err    error
	}
	outcomes := make([]outcome, len(units))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Parallelism)
	for i, u := range units {
		eg.Go(func() error {
			blocks, err := u.run(ctx)
			outcomes[i] = outcome{blocks: blocks, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var res Result
	var text strings.Builder
	var errs []error
	for i, o := range outcomes {
		name := units[i].name
		if o.err != nil {
			g.log.Warn("crm section failed", "unit", name, "error", o.err)
			res.Failed = append(res.Failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, o.err))
			continue
		}
		for _, b := range o.blocks {
			s, err := render(b)
			if err != nil {
				g.log.Warn("crm section render failed", "unit", name, "error", err)
				continue
			}
			text.WriteString(s)
			res.Sections = append(res.Sections, b.label)
		}
	}

	if len(res.Sections) == 0 && len(errs) > 0 {
		return Result{Text: UnavailableNote, Failed: res.Failed}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
	res.Text = text.String()
	g.log.Info("crm data fetched", "sections", len(res.Sections), "failed", len(res.Failed))
	return res, nil
}
