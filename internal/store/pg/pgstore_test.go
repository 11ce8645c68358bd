package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"apicatalog.org/internal/activity"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("insert into activities")).
		WithArgs(sqlmock.AnyArg(), "API_CREATED", "Civil registry published", now, "u1", "ada",
			"c1", "Civil registry", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Record(context.Background(), activity.Activity{
		Type:        activity.APICreated,
		Description: "Civil registry published",
		UserID:      "u1",
		Username:    "ada",
		EntityID:    "c1",
		EntityName:  "Civil registry",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordWrapsError(t *testing.T) {
	store, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("insert into activities")).WillReturnError(boom)
	if err := store.Record(context.Background(), activity.Activity{Type: activity.APICreated}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRecentFiltersByType(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "type", "description", "occurred_at", "user_id", "username",
		"entity_id", "entity_name", "sector_id", "sector_name"}).
		AddRow("a2", "USER_REGISTERED", "Ada joined", at, "", "", "m1", "Ada", "s1", "Health")

	mock.ExpectQuery(regexp.QuoteMeta("from activities where type in ($1,$2) order by occurred_at desc, id desc limit $3")).
		WithArgs("USER_REGISTERED", "API_CREATED", 5).
		WillReturnRows(rows)

	got, err := store.Recent(context.Background(), 5, activity.UserRegistered, "api_created")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Type != activity.UserRegistered || got[0].SectorName != "Health" {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecentDefaultsLimit(t *testing.T) {
	t.Parallel()
	query, args := recentQuery(50, nil)
	if len(args) != 1 || args[0] != 50 {
		t.Fatalf("args = %v", args)
	}
	if !regexp.MustCompile(`limit \$1$`).MatchString(query) {
		t.Fatalf("query = %q", query)
	}
}
