package checkin

import (
	"context"
	"fmt"
	"strings"

	"example.com/fieldtrack/internal/apperr"
	"example.com/fieldtrack/internal/filter"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/store"
)

const (
	columns = "id, visit_date, visit_time, client_id, client_name, city, latitude, longitude, agent_id"
	// Key breaks ties between visits logged in the same second.
	chronological = "visit_date, visit_time, id"
	newestFirst   = "visit_date DESC, visit_time DESC, id DESC"
)

// Repository reads check-ins from whichever store holds them.
type Repository struct {
	exec       store.Executor
	limits     page.Limits
	mapMaxRows int
}

func NewRepository(exec store.Executor, limits page.Limits, mapMaxRows int) *Repository {
	if mapMaxRows < 1 {
		mapMaxRows = 5000
	}
	return &Repository{exec: exec, limits: limits, mapMaxRows: mapMaxRows}
}

// List returns one chronological page of check-ins matching c.
func (r *Repository) List(ctx context.Context, c Criteria) (page.Envelope[Record], error) {
	req := page.Normalize(c.Page, c.Limit, r.limits)
	records, total, err := r.window(ctx, c.Predicate(), req)
	if err != nil {
		return page.Envelope[Record]{}, fmt.Errorf("list checkins: %w", err)
	}
	return page.NewEnvelope(records, req, total), nil
}

// Map returns every placed check-in matching c in chronological order, up
// to the configured row cap.
func (r *Repository) Map(ctx context.Context, c Criteria) (MapResult, error) {
	c.PlacedOnly = true
	records, total, err := r.window(ctx, c.Predicate(), page.Request{Page: 1, Limit: r.mapMaxRows})
	if err != nil {
		return MapResult{}, fmt.Errorf("map checkins: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return MapResult{
		Checkins:  records,
		Total:     total,
		Truncated: total > len(records),
	}, nil
}

// Latest returns the agent's most recent check-in, or nil when it has none.
func (r *Repository) Latest(ctx context.Context, agentID string) (*Record, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, apperr.Invalid("agent id required")
	}
	pred := filter.New().Eq("agent_id", agentID).Predicate()
	q, pageArgs, err := page.Apply(r.exec.Dialect().Paging,
		"SELECT "+columns+" FROM checkins "+pred.Where(), newestFirst, page.Request{Page: 1, Limit: 1})
	if err != nil {
		return nil, err
	}
	rows, err := r.exec.Query(ctx, q, append(append([]any{}, pred.Args...), pageArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("latest checkin: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec := fromRow(rows[0])
	return &rec, nil
}

// window runs the count and row queries with the same predicate.
func (r *Repository) window(ctx context.Context, pred filter.Predicate, req page.Request) ([]Record, int, error) {
	countRows, err := r.exec.Query(ctx, "SELECT COUNT(*) AS total FROM checkins "+pred.Where(), pred.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = int(countRows[0].Int64("total"))
	}
	if total == 0 {
		return nil, 0, nil
	}

	q, pageArgs, err := page.Apply(r.exec.Dialect().Paging,
		"SELECT "+columns+" FROM checkins "+pred.Where(), chronological, req)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.exec.Query(ctx, q, append(append([]any{}, pred.Args...), pageArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("rows: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRow(row))
	}
	return records, total, nil
}
