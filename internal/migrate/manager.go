package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Embedded returns the migrations shipped with the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	defaultMigrationsTable = "portal_schema_migrations"
	defaultSeedsTable      = "portal_schema_seeds"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Manager applies SQL migrations and seeds read from file systems.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the bookkeeping table for migrations.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the bookkeeping table for seeds.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if tableName.MatchString(name) {
			m.seedsTable = name
		}
	}
}

// WithSeeds sets where seed files are read from. Without it Seed is a no-op.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds = seeds }
}

// NewManager constructs a Manager. A nil migrations FS means Embedded().
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	if migrations == nil {
		migrations = Embedded()
	}
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns what it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.apply(ctx, m.migrations, m.migrationsTable, ".up.sql")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	return m.apply(ctx, m.seeds, m.seedsTable, ".sql")
}

func (m *Manager) apply(ctx context.Context, fsys fs.FS, table, suffix string) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.executed(ctx, table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if done[name] {
			continue
		}
		if err := m.exec(ctx, fsys, name, table, name, false); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	history, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, m.migrations, down, m.migrationsTable, last, true); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	return last, nil
}

// Status lists applied migrations in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// exec runs file and updates the bookkeeping row for record in one
// transaction: inserted on apply, deleted on rollback.
func (m *Manager) exec(ctx context.Context, fsys fs.FS, file, table, record string, rollback bool) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if rollback {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, table), record)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table), record, m.now().UTC())
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) executed(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := path.Base(p)
		// Seeds use the plain ".sql" suffix; never pick down files there.
		if strings.HasSuffix(name, suffix) && !strings.HasSuffix(name, ".down.sql") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops empty statements.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range src {
		switch {
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
