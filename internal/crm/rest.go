package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const restPath = "/civicrm/extern/rest.php"

const contactFields = "id,contact_type,display_name,first_name,last_name,email,phone,organization_name"

// RESTClient speaks the CiviCRM APIv3 REST interface.
type RESTClient struct {
	BaseURL string // site root, or the full rest.php URL
	APIKey  string // user api_key
	SiteKey string // site key
	Client  *http.Client
	Now     func() time.Time
}

func NewRESTClient(baseURL, apiKey, siteKey string) *RESTClient {
	return &RESTClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		SiteKey: siteKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Now:     time.Now,
	}
}

type apiResponse struct {
	IsError      int             `json:"is_error"`
	ErrorMessage string          `json:"error_message"`
	Count        int             `json:"count"`
	Values       json.RawMessage `json:"values"`
	Result       json.RawMessage `json:"result"`
}

func (c *RESTClient) endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if strings.HasSuffix(base, ".php") {
		return base
	}
	return base + restPath
}

func (c *RESTClient) do(ctx context.Context, entity, action string, params map[string]any) (*apiResponse, error) {
	if c.Client == nil {
		return nil, errors.New("civicrm: http client is nil")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("civicrm: base url is required")
	}

	p := map[string]any{"sequential": 1}
	for k, v := range params {
		p[k] = v
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("entity", entity)
	form.Set("action", action)
	form.Set("api_key", c.APIKey)
	form.Set("key", c.SiteKey)
	form.Set("json", string(encoded))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 4*1024 {
			msg = msg[:4*1024]
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("civicrm %s.%s: %s", entity, action, msg)
	}

	body = bytes.TrimSpace(body)
	// getcount may answer with a bare number
	if n, err := strconv.Atoi(string(body)); err == nil {
		return &apiResponse{Result: json.RawMessage(strconv.Itoa(n))}, nil
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("civicrm %s.%s: decode: %w", entity, action, err)
	}
	if out.IsError != 0 {
		return nil, fmt.Errorf("civicrm %s.%s: %s", entity, action, out.ErrorMessage)
	}
	return &out, nil
}

// decodeValues accepts both the sequential array and the id-keyed object form.
func decodeValues(raw json.RawMessage) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []Record
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var keyed map[string]Record
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	return out, nil
}

func (c *RESTClient) Call(ctx context.Context, entity, action string, params map[string]any) ([]Record, error) {
	resp, err := c.do(ctx, entity, action, params)
	if err != nil {
		return nil, err
	}
	return decodeValues(resp.Values)
}

func (c *RESTClient) count(ctx context.Context, entity string, params map[string]any) (int, error) {
	resp, err := c.do(ctx, entity, "getcount", params)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(resp.Result, &n); err != nil {
		return 0, fmt.Errorf("civicrm %s.getcount: %w", entity, err)
	}
	return n, nil
}

func options(limit, offset int, order string) map[string]any {
	o := map[string]any{"limit": limit}
	if offset > 0 {
		o["offset"] = offset
	}
	if order != "" {
		o["sort"] = order
	}
	return o
}

func (c *RESTClient) GetOverallStats(ctx context.Context) (Stats, error) {
	out := Stats{}
	for _, e := range []struct {
		key    string
		entity string
		params map[string]any
	}{
		{"total_contacts", "Contact", map[string]any{"is_deleted": 0}},
		{"total_contributions", "Contribution", nil},
		{"total_events", "Event", nil},
		{"total_cases", "Case", map[string]any{"is_deleted": 0}},
	} {
		n, err := c.count(ctx, e.entity, e.params)
		if err != nil {
			return nil, err
		}
		out[e.key] = n
	}
	return out, nil
}

func (c *RESTClient) GetContacts(ctx context.Context, limit, offset int) ([]Record, error) {
	return c.Call(ctx, "Contact", "get", map[string]any{
		"is_deleted": 0,
		"return":     contactFields,
		"options":    options(limit, offset, "id DESC"),
	})
}

func (c *RESTClient) GetContributions(ctx context.Context, limit, offset int) ([]Record, error) {
	return c.Call(ctx, "Contribution", "get", map[string]any{
		"return":  "id,contact_id,display_name,total_amount,currency,receive_date,financial_type,contribution_status",
		"options": options(limit, offset, "receive_date DESC"),
	})
}

func (c *RESTClient) GetContributionStats(ctx context.Context) (Stats, error) {
	rows, err := c.Call(ctx, "Contribution", "get", map[string]any{
		"contribution_status_id": "Completed",
		"return":                 "total_amount",
		"options":                map[string]any{"limit": 0},
	})
	if err != nil {
		return nil, err
	}
	var total float64
	for _, r := range rows {
		total += number(r["total_amount"])
	}
	avg := 0.0
	if len(rows) > 0 {
		avg = total / float64(len(rows))
	}
	return Stats{
		"completed_count": len(rows),
		"total_amount":    round2(total),
		"average_amount":  round2(avg),
	}, nil
}

func (c *RESTClient) GetUpcomingEvents(ctx context.Context, limit int) ([]Record, error) {
	return c.Call(ctx, "Event", "get", map[string]any{
		"is_active":  1,
		"start_date": map[string]any{">=": c.Now().Format("2006-01-02 15:04:05")},
		"return":     "id,title,event_type_id,start_date,end_date,max_participants",
		"options":    options(limit, 0, "start_date ASC"),
	})
}

func (c *RESTClient) GetCases(ctx context.Context, limit, offset int) ([]Record, error) {
	return c.Call(ctx, "Case", "get", map[string]any{
		"is_deleted": 0,
		"return":     "id,subject,case_type_id,status_id,start_date,end_date",
		"options":    options(limit, offset, "start_date DESC"),
	})
}

func (c *RESTClient) GetCaseByID(ctx context.Context, id int) (Record, error) {
	rows, err := c.Call(ctx, "Case", "get", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("case %d: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

func (c *RESTClient) GetCaseActivities(ctx context.Context, caseID, limit int) ([]Record, error) {
	return c.Call(ctx, "Activity", "get", map[string]any{
		"case_id": caseID,
		"return":  "id,activity_type_id,subject,activity_date_time,status_id",
		"options": options(limit, 0, "activity_date_time DESC"),
	})
}

var relationshipNames = map[CaseRole]string{
	CaseRoleCoordinator: "Case Coordinator is",
	CaseRoleManager:     "Case Manager is",
}

func (c *RESTClient) caseIDsForRole(ctx context.Context, contactID int, role CaseRole) ([]int, error) {
	name, ok := relationshipNames[role]
	if !ok {
		return nil, fmt.Errorf("civicrm: unsupported case role %q", role)
	}
	rels, err := c.Call(ctx, "Relationship", "get", map[string]any{
		"contact_id_b":                  contactID,
		"is_active":                     1,
		"relationship_type_id.name_a_b": name,
		"return":                        "case_id",
		"options":                       map[string]any{"limit": 0},
	})
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, r := range rels {
		if id := int(number(r["case_id"])); id > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *RESTClient) GetCasesByRole(ctx context.Context, contactID int, role CaseRole) ([]Record, error) {
	if role == CaseRoleClient {
		return c.Call(ctx, "Case", "get", map[string]any{
			"contact_id": contactID,
			"is_deleted": 0,
			"options":    map[string]any{"limit": 0},
		})
	}
	ids, err := c.caseIDsForRole(ctx, contactID, role)
	if err != nil || len(ids) == 0 {
		return []Record{}, err
	}
	return c.Call(ctx, "Case", "get", map[string]any{
		"id":         map[string]any{"IN": ids},
		"is_deleted": 0,
		"options":    map[string]any{"limit": 0, "sort": "start_date DESC"},
	})
}

func (c *RESTClient) GetOpenCasesByCoordinator(ctx context.Context, contactID int) ([]Record, error) {
	ids, err := c.caseIDsForRole(ctx, contactID, CaseRoleCoordinator)
	if err != nil || len(ids) == 0 {
		return []Record{}, err
	}
	return c.Call(ctx, "Case", "get", map[string]any{
		"id":         map[string]any{"IN": ids},
		"status_id":  "Open",
		"is_deleted": 0,
		"options":    map[string]any{"limit": 0, "sort": "start_date DESC"},
	})
}

func (c *RESTClient) SearchContacts(ctx context.Context, query string, limit int) ([]Record, error) {
	return c.Call(ctx, "Contact", "get", map[string]any{
		"sort_name":  map[string]any{"LIKE": "%" + query + "%"},
		"is_deleted": 0,
		"return":     contactFields,
		"options":    options(limit, 0, "sort_name ASC"),
	})
}

// number reads CiviCRM's string-or-number scalars.
func number(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
