// Package prospect lists sales prospects visible to one company scope.
package prospect

import (
	"context"
	"fmt"

	"example.com/fieldtrack/internal/filter"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/store"
)

const columns = "code, name, email, phone, city, agent_id, company, group_code, subgroup_code, created_date"

type Prospect struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	City        string `json:"city"`
	AgentID     string `json:"agentId"`
	Company     string `json:"company"`
	Group       string `json:"group"`
	Subgroup    string `json:"subgroup"`
	CreatedDate string `json:"createdDate"`
}

// Scope is the company/group/subgroup a caller is allowed to see. It is
// always passed with the request.
type Scope struct {
	Company  string `json:"company,omitempty"`
	Group    string `json:"group,omitempty"`
	Subgroup string `json:"subgroup,omitempty"`
}

type Criteria struct {
	// Search matches name, code or email as a substring.
	Search  string `json:"search,omitempty"`
	AgentID string `json:"agent,omitempty"`
	Scope   Scope  `json:"scope"`
	Page    int    `json:"-"`
	Limit   int    `json:"-"`
}

func (c Criteria) Predicate() filter.Predicate {
	return filter.New().
		Eq("company", c.Scope.Company).
		Eq("group_code", c.Scope.Group).
		Eq("subgroup_code", c.Scope.Subgroup).
		Eq("agent_id", c.AgentID).
		Contains(c.Search, "name", "code", "email").
		Predicate()
}

type Repository struct {
	exec   store.Executor
	limits page.Limits
}

func NewRepository(exec store.Executor, limits page.Limits) *Repository {
	return &Repository{exec: exec, limits: limits}
}

// List returns prospects ordered by name, then code.
func (r *Repository) List(ctx context.Context, c Criteria) (page.Envelope[Prospect], error) {
	req := page.Normalize(c.Page, c.Limit, r.limits)
	pred := c.Predicate()

	countRows, err := r.exec.Query(ctx, "SELECT COUNT(*) AS total FROM prospects "+pred.Where(), pred.Args...)
	if err != nil {
		return page.Envelope[Prospect]{}, fmt.Errorf("count prospects: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = int(countRows[0].Int64("total"))
	}
	if total == 0 {
		return page.NewEnvelope[Prospect](nil, req, 0), nil
	}

	q, pageArgs, err := page.Apply(r.exec.Dialect().Paging,
		"SELECT "+columns+" FROM prospects "+pred.Where(), "name, code", req)
	if err != nil {
		return page.Envelope[Prospect]{}, err
	}
	rows, err := r.exec.Query(ctx, q, append(append([]any{}, pred.Args...), pageArgs...)...)
	if err != nil {
		return page.Envelope[Prospect]{}, fmt.Errorf("list prospects: %w", err)
	}
	out := make([]Prospect, 0, len(rows))
	for _, row := range rows {
		out = append(out, Prospect{
			Code:        row.String("code"),
			Name:        row.String("name"),
			Email:       row.String("email"),
			Phone:       row.String("phone"),
			City:        row.String("city"),
			AgentID:     row.String("agent_id"),
			Company:     row.String("company"),
			Group:       row.String("group_code"),
			Subgroup:    row.String("subgroup_code"),
			CreatedDate: row.String("created_date"),
		})
	}
	return page.NewEnvelope(out, req, total), nil
}
