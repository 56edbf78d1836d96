// Package filter turns optional criteria into a parameterized SQL predicate.
//
// Every clause uses ? placeholders; executors rebind them for their engine.
// Criteria left blank produce no clause at all.
package filter

import (
	"strings"
)

// Predicate is a fragment that can be appended to "WHERE 1=1" together
// with its positional arguments.
type Predicate struct {
	SQL  string
	Args []any
}

// Where returns the full WHERE clause.
func (p Predicate) Where() string {
	return "WHERE 1=1" + p.SQL
}

// Empty reports whether no criterion contributed a clause.
func (p Predicate) Empty() bool {
	return p.SQL == ""
}

// Builder accumulates clauses in call order.
type Builder struct {
	clauses []string
	args    []any
}

func New() *Builder {
	return &Builder{}
}

// Eq adds col = value when value is not blank.
func (b *Builder) Eq(col, value string) *Builder {
	value = strings.TrimSpace(value)
	if value == "" {
		return b
	}
	return b.add(col+" = ?", value)
}

// Contains adds a case-insensitive substring match of value against any of
// cols. The same escaped pattern is bound once per column.
func (b *Builder) Contains(value string, cols ...string) *Builder {
	value = strings.TrimSpace(value)
	if value == "" || len(cols) == 0 {
		return b
	}
	pattern := ContainsPattern(value)
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = "LOWER(" + col + `) LIKE ? ESCAPE '\'`
		args[i] = pattern
	}
	clause := strings.Join(parts, " OR ")
	if len(cols) > 1 {
		clause = "(" + clause + ")"
	}
	return b.add(clause, args...)
}

// DateFrom adds col >= date, with date normalized by StorageDate.
func (b *Builder) DateFrom(col, date string) *Builder {
	date = StorageDate(date)
	if date == "" {
		return b
	}
	return b.add(col+" >= ?", date)
}

// DateTo adds col <= date, with date normalized by StorageDate.
func (b *Builder) DateTo(col, date string) *Builder {
	date = StorageDate(date)
	if date == "" {
		return b
	}
	return b.add(col+" <= ?", date)
}

// Placed requires every col to hold something other than "" or "0".
func (b *Builder) Placed(cols ...string) *Builder {
	for _, col := range cols {
		b.clauses = append(b.clauses, col+" <> '' AND "+col+" <> '0'")
	}
	return b
}

// Raw appends a caller-written clause. It must not embed user input.
func (b *Builder) Raw(clause string, args ...any) *Builder {
	return b.add(clause, args...)
}

func (b *Builder) Predicate() Predicate {
	var sb strings.Builder
	for _, c := range b.clauses {
		sb.WriteString(" AND ")
		sb.WriteString(c)
	}
	args := make([]any, len(b.args))
	copy(args, b.args)
	return Predicate{SQL: sb.String(), Args: args}
}

func (b *Builder) add(clause string, args ...any) *Builder {
	b.clauses = append(b.clauses, clause)
	b.args = append(b.args, args...)
	return b
}

// StorageDate converts calendar input (YYYY-MM-DD) to the stored YYYYMMDD
// form. Anything else only loses its hyphens; no further validation is
// applied, so a malformed value narrows the result instead of failing.
func StorageDate(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "-", "")
}

// EscapeLike escapes LIKE metacharacters using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern is the lower-cased, escaped %value% pattern.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(strings.ToLower(s)) + "%"
}
