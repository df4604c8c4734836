package knowledge

import "time"

type Category string

const (
	CategoryGovernance  Category = "governance"
	CategoryFundraising Category = "fundraising"
	CategoryOperations  Category = "operations"
	CategoryCRMUsage    Category = "crm-usage"
	CategoryPlanning    Category = "planning"
	CategoryHR          Category = "hr"
	CategoryMarketing   Category = "marketing"
)

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    Category  `json:"category"`
	Tags        []string  `json:"tags"`
	Embedding   []float32 `json:"-"`
	LastUpdated time.Time `json:"last_updated"`
}

// Embedded reports whether the document can take part in ranking.
func (d Document) Embedded() bool { return len(d.Embedding) > 0 }

// embedText is what gets embedded for a document.
func (d Document) embedText() string { return d.Title + "\n\n" + d.Content }

func corpusDate() time.Time { return time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC) }

// DefaultCorpus returns the built in advisory documents.
func DefaultCorpus() []Document {
	updated := corpusDate()
	return []Document{
		{
			ID:       "governance-101",
			Title:    "Nonprofit Board Governance Fundamentals",
			Category: CategoryGovernance,
			Tags:     []string{"board", "governance", "leadership", "fiduciary"},
			Content: `Effective nonprofit governance requires a clear split between board and staff responsibilities.
The board sets strategic direction, provides oversight and upholds fiduciary duties of care, loyalty and obedience.
Staff carry out day to day operations.

Key practices:
- Hold regular board meetings with documented minutes
- Create annual board self-assessments
- Keep a conflict of interest policy and collect annual disclosures
- Use committees (finance, governance, fundraising) for focused work
- Run a structured onboarding program for new directors
- Separate policy setting from operational management`,
			LastUpdated: updated,
		},
		{
			ID:       "fundraising-strategy",
			Title:    "Strategic Fundraising for Small Nonprofits",
			Category: CategoryFundraising,
			Tags:     []string{"fundraising", "donors", "strategy", "grants"},
			Content: `Small nonprofits should diversify revenue instead of relying on a single source.

Core strategies:
1. Individual giving: build donor relationships through personal contact
2. Grant writing: research foundations whose mission aligns with yours
3. Events: host signature events that engage the community
4. Corporate partnerships: develop mutually beneficial sponsorships
5. Monthly giving: create predictable recurring revenue

Donor stewardship matters: thank donors within 48 hours, report on impact regularly and invite them to see the work firsthand.`,
			LastUpdated: updated,
		},
		{
			ID:       "civicrm-implementation",
			Title:    "CiviCRM Implementation Best Practices",
			Category: CategoryCRMUsage,
			Tags:     []string{"civicrm", "database", "implementation", "data"},
			Content: `A successful CiviCRM rollout depends on planning and change management.

Phases:
1. Discovery: document current processes and data sources
2. Data cleanup: deduplicate and standardize records before migration
3. Configuration: set up contact types, custom fields, groups and tags
4. Migration: import data in stages and validate each batch
5. Training: give role based training to staff and volunteers
6. Support: name internal champions and a helpdesk path

Common pitfalls are over-customizing early, skipping data cleanup and under-investing in training.`,
			LastUpdated: updated,
		},
		{
			ID:       "volunteer-management",
			Title:    "Volunteer Recruitment and Retention",
			Category: CategoryHR,
			Tags:     []string{"volunteers", "recruitment", "retention", "engagement"},
			Content: `Volunteers are a core resource for most nonprofits and need intentional management.

Recruitment: write clear role descriptions, recruit through community networks and match skills to needs.
Retention: provide orientation, recognize contributions often, offer growth opportunities and ask for feedback.
Track volunteer hours and impact so the contribution can be reported to the board and funders.`,
			LastUpdated: updated,
		},
		{
			ID:       "strategic-planning",
			Title:    "Strategic Planning on a Small Budget",
			Category: CategoryPlanning,
			Tags:     []string{"planning", "strategy", "goals", "evaluation"},
			Content: `A strategic plan connects mission to a few measurable priorities over three to five years.

Steps:
1. Review mission, vision and values with the board
2. Run a SWOT analysis with staff, volunteers and community partners
3. Pick three to five strategic priorities
4. Define outcomes and indicators for each priority
5. Build an annual operating plan and budget from the priorities
6. Review progress quarterly and adjust`,
			LastUpdated: updated,
		},
		{
			ID:       "marketing-basics",
			Title:    "Marketing and Communications for Nonprofits",
			Category: CategoryMarketing,
			Tags:     []string{"marketing", "communications", "storytelling", "social media"},
			Content: `Good nonprofit communication tells stories of impact to clearly defined audiences.

Practices:
- Write a one page messaging guide with key messages per audience
- Use a content calendar across newsletter, website and social media
- Feature beneficiaries and volunteers, with consent
- Measure open rates, engagement and conversions, and drop channels that do not perform`,
			LastUpdated: updated,
		},
		{
			ID:       "financial-controls",
			Title:    "Financial Controls and IT Basics",
			Category: CategoryOperations,
			Tags:     []string{"finance", "controls", "it", "budget"},
			Content: `Basic internal controls protect small organizations from errors and fraud.

Controls:
- Separate duties for approving, recording and reconciling transactions
- Require two signatures above a set threshold
- Reconcile bank accounts monthly and present financials to the board
- Keep restricted funds tracked separately

IT basics: use multi-factor authentication, back up data off site and keep a simple inventory of systems and licenses.`,
			LastUpdated: updated,
		},
	}
}
