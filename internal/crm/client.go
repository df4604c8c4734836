// Package crm retrieves organization data from the CRM and renders it as
// labeled prompt text.
package crm

import (
	"context"
	"errors"
)

// Record is one CRM entity as returned by the remote API.
type Record map[string]any

// Stats is an aggregate keyed by metric name.
type Stats map[string]any

type CaseRole string

const (
	CaseRoleClient      CaseRole = "client"
	CaseRoleCoordinator CaseRole = "case_coordinator"
	CaseRoleManager     CaseRole = "case_manager"
)

var (
	ErrUnavailable = errors.New("crm: data temporarily unavailable")
	ErrNoContact   = errors.New("crm: no contact matches identity")
	ErrNotFound    = errors.New("crm: record not found")
)

// Client is the read capability the gateway needs from the CRM.
type Client interface {
	GetOverallStats(ctx context.Context) (Stats, error)
	GetContacts(ctx context.Context, limit, offset int) ([]Record, error)
	GetContributions(ctx context.Context, limit, offset int) ([]Record, error)
	GetContributionStats(ctx context.Context) (Stats, error)
	GetUpcomingEvents(ctx context.Context, limit int) ([]Record, error)
	GetCases(ctx context.Context, limit, offset int) ([]Record, error)
	GetCaseByID(ctx context.Context, id int) (Record, error)
	GetCaseActivities(ctx context.Context, caseID, limit int) ([]Record, error)
	GetCasesByRole(ctx context.Context, contactID int, role CaseRole) ([]Record, error)
	GetOpenCasesByCoordinator(ctx context.Context, contactID int) ([]Record, error)
	SearchContacts(ctx context.Context, query string, limit int) ([]Record, error)
	// Call is a generic entity action, used for identity lookups.
	Call(ctx context.Context, entity, action string, params map[string]any) ([]Record, error)
}
