package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Querier is the subset of *sql.DB the SQL source needs
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLSource reads events from a (user_id, client_time) table
type SQLSource struct {
	db    Querier
	table string
}

// NewSQLSource creates a source over table. The table name must be a trusted
// identifier; it is interpolated into the query.
func NewSQLSource(db Querier, table string) *SQLSource {
	return &SQLSource{db: db, table: table}
}

// Read implements Source
func (s *SQLSource) Read(ctx context.Context, q Query) ([]Event, error) {
	query, args := s.buildQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts timestampScanner
		if err := rows.Scan(&e.UserID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		e.Timestamp = ts.Time
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity events: %w", err)
	}
	return out, nil
}

func (s *SQLSource) buildQuery(q Query) (string, []any) {
	var b strings.Builder
	args := []any{q.Start.UTC(), q.End.UTC()}

	fmt.Fprintf(&b, "SELECT user_id, client_time FROM %s WHERE client_time >= ? AND client_time < ?", s.table)

	if len(q.UserIDs) > 0 {
		op := "IN"
		if q.Exclude {
			op = "NOT IN"
		}
		placeholders := make([]string, len(q.UserIDs))
		for i, id := range q.UserIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		fmt.Fprintf(&b, " AND user_id %s (%s)", op, strings.Join(placeholders, ", "))
	}

	b.WriteString(" GROUP BY user_id, client_time ORDER BY user_id, client_time")
	return b.String(), args
}

// timestampScanner accepts the shapes drivers hand back for DATETIME columns
type timestampScanner struct {
	time.Time
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func (t *timestampScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.UnixMilli(v).UTC()
		return nil
	case nil:
		return fmt.Errorf("client_time is NULL")
	}
	return fmt.Errorf("unsupported client_time type %T", src)
}

func (t *timestampScanner) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable client_time %q", s)
}
