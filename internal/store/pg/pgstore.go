package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"apicatalog.org/internal/activity"
)

// Store persists the activity feed in Postgres (table "activities").
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ activity.Recorder = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Record(ctx context.Context, a activity.Activity) error {
	a = activity.Prepare(a, s.now())
	_, err := s.db.ExecContext(ctx, `
		insert into activities (id, type, description, occurred_at, user_id, username,
			entity_id, entity_name, sector_id, sector_name)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (id) do nothing
	`, a.ID, string(a.Type), a.Description, a.Timestamp, a.UserID, a.Username,
		a.EntityID, a.EntityName, a.SectorID, a.SectorName)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int, types ...activity.Type) ([]activity.Activity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query, args := recentQuery(limit, types)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	defer rows.Close()

	var out []activity.Activity
	for rows.Next() {
		var (
			a   activity.Activity
			typ string
		)
		if err := rows.Scan(&a.ID, &typ, &a.Description, &a.Timestamp, &a.UserID, &a.Username,
			&a.EntityID, &a.EntityName, &a.SectorID, &a.SectorName); err != nil {
			return nil, err
		}
		a.Type = activity.Type(typ)
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func recentQuery(limit int, types []activity.Type) (string, []any) {
	var b strings.Builder
	b.WriteString(`select id, type, description, occurred_at, user_id, username,
		entity_id, entity_name, sector_id, sector_name
		from activities`)
	args := []any{}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			args = append(args, strings.ToUpper(string(t)))
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		b.WriteString(" where type in (" + strings.Join(placeholders, ",") + ")")
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " order by occurred_at desc, id desc limit $%d", len(args))
	return b.String(), args
}
