package page

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"example.com/fieldtrack/internal/store"
)

// ErrUnordered rejects windowing without a deterministic ORDER BY.
var ErrUnordered = errors.New("paged query requires an ORDER BY")

// Limits configures Normalize.
type Limits struct {
	Default int
	Max     int
}

// Request is a normalized page request: Page >= 1, 1 <= Limit <= Max.
type Request struct {
	Page  int
	Limit int
}

// Normalize enforces the page size contract. Missing or invalid values fall
// back to page 1 and the default limit; oversized limits are clamped.
func Normalize(page, limit int, l Limits) Request {
	if l.Max < 1 {
		l.Max = 100
	}
	if l.Default < 1 || l.Default > l.Max {
		l.Default = l.Max
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = l.Default
	}
	if limit > l.Max {
		limit = l.Max
	}
	// keep page*limit representable so Offset and Window cannot wrap
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	return Request{Page: page, Limit: limit}
}

func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

// Window returns the inclusive 1-based row-number bounds of the page.
func (r Request) Window() (start, end int) {
	return (r.Page-1)*r.Limit + 1, r.Page * r.Limit
}

// TotalPages is ceil(total/limit).
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Apply wraps base (a SELECT without ORDER BY) so it returns only the rows
// of req, using the engine's paging style. The returned args must be
// appended after the args of base.
func Apply(style store.PageStyle, base, orderBy string, req Request) (string, []any, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return "", nil, ErrUnordered
	}
	switch style {
	case store.LimitOffset:
		return fmt.Sprintf("%s ORDER BY %s LIMIT ? OFFSET ?", base, orderBy),
			[]any{req.Limit, req.Offset()}, nil
	case store.RowNumber:
		start, end := req.Window()
		q := fmt.Sprintf(`SELECT * FROM (
			SELECT w.*, ROW_NUMBER() OVER (ORDER BY %s) AS row_num FROM (%s) w
		) numbered WHERE row_num BETWEEN ? AND ? ORDER BY row_num`, orderBy, base)
		return q, []any{start, end}, nil
	default:
		return "", nil, fmt.Errorf("unsupported paging style %v", style)
	}
}

// Envelope is one page of rows plus the counters a client needs to render
// pagination controls.
type Envelope[T any] struct {
	Rows       []T  `json:"rows"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
	NextPage   *int `json:"nextPage,omitempty"`
}

func NewEnvelope[T any](rows []T, req Request, total int) Envelope[T] {
	if rows == nil {
		rows = []T{}
	}
	env := Envelope[T]{
		Rows:       rows,
		Page:       req.Page,
		Limit:      req.Limit,
		Total:      total,
		TotalPages: TotalPages(total, req.Limit),
	}
	if req.Offset()+len(rows) < total {
		env.HasMore = true
		next := req.Page + 1
		env.NextPage = &next
	}
	return env
}
