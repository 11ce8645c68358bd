package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/catalog"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (r *recorder) hit(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if name == r.fail {
		return 0, errors.New("backend unavailable")
	}
	return 1, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) BulkLoad(_ context.Context, kind catalog.Kind) (int, error) {
	return r.hit(string(kind))
}

func (r *recorder) SyncCreation(_ context.Context, scope approval.Scope) (int, error) {
	return r.hit("creation:" + string(scope))
}

func (r *recorder) SyncAccess(_ context.Context, scope approval.Scope) (int, error) {
	return r.hit("access:" + string(scope))
}

func (r *recorder) SyncMemberships(context.Context) (int, error) {
	return r.hit("membership")
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	rec := &recorder{fail: string(catalog.Structures)}
	r, err := NewRefresher("@every 5m", rec, rec)
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}
	want := []string{"secteurs", "structures", "services", "creation:pending", "access:pending", "membership"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if r.LastRun().IsZero() {
		t.Fatal("last run not recorded")
	}
}

func TestNewRefresherRejectsBadSpec(t *testing.T) {
	if _, err := NewRefresher("every five minutes", nil, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	rec := &recorder{}
	r, err := NewRefresher("@every 1h", nil, rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.LastRun().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("initial refresh did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	if n := len(rec.snapshot()); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}
