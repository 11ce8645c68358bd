package migrate

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	got := splitStatements("create table a (x text default 'a;b');\n\n insert into a values ('c');  ")
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if got[0] != "create table a (x text default 'a;b')" {
		t.Fatalf("first = %q", got[0])
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := collectSQL(Embedded(), ".up.sql")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(files) == 0 || files[0] != "0001_activities.up.sql" {
		t.Fatalf("unexpected embedded migrations: %v", files)
	}
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists portal_schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists portal_schema_seeds")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id text); create index b_idx on b (id);")},
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := NewManager(db, fsys)
	mgr.now = func() time.Time { return now }

	expectEnsure(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from portal_schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (id text)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create index b_idx on b (id)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into portal_schema_migrations(name, applied_at)")).
		WithArgs("0002_b.up.sql", now).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	mgr := NewManager(db, fsys)

	expectEnsure(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from portal_schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("drop table a")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("delete from portal_schema_migrations where name = $1")).
		WithArgs("0001_a.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	last, err := mgr.Down(context.Background())
	if err != nil || last != "0001_a.up.sql" {
		t.Fatalf("down = %q, %v", last, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	expectEnsure(mock)
	mock.ExpectQuery(regexp.QuoteMeta("select name from portal_schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	if _, err := NewManager(db, fstest.MapFS{}).Down(context.Background()); err == nil {
		t.Fatal("expected error when nothing is applied")
	}
}

func TestSeedWithoutSourceIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	applied, err := NewManager(db, fstest.MapFS{}).Seed(context.Background())
	if err != nil || len(applied) != 0 {
		t.Fatalf("seed = %v, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}
