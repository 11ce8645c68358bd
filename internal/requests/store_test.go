package requests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func day(d int) Timestamp {
	return At(time.Date(2026, 1, d, 9, 0, 0, 0, time.UTC))
}

func creation(id string, status Status, d int) CreationRequest {
	return CreationRequest{
		ID:             id,
		RequesterName:  "Provider " + id,
		RequesterEmail: id + "@gov.example",
		APIName:        "API " + id,
		StructureID:    "S1",
		SectorID:       "SEC1",
		BaseURL:        "https://x/y",
		Status:         status,
		RequestDate:    day(d),
	}
}

func TestUpsertDedupesAndDropsEmptyIDs(t *testing.T) {
	s := NewStore()
	first := creation("a", StatusPending, 1)
	second := creation("a", StatusPending, 1)
	second.APIName = "renamed"
	n := s.Creation.Upsert([]CreationRequest{first, creation("", StatusPending, 2), creation("  ", StatusPending, 3), second, creation("b", StatusPending, 4)})
	if n != 2 {
		t.Fatalf("Upsert stored %d ids, want 2", n)
	}
	if s.Creation.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Creation.Len())
	}
	got, ok := s.Creation.Get("a")
	if !ok || got.APIName != "renamed" {
		t.Fatalf("last write did not win: %+v", got)
	}
}

func TestListOrderingFilteringAndPaging(t *testing.T) {
	s := NewStore(WithNameLookup(func(field, id string) string {
		if field == "sector" && id == "SEC2" {
			return "Health"
		}
		return ""
	}))
	c := creation("c", StatusApproved, 5)
	c.SectorID = "SEC2"
	s.Creation.Replace([]CreationRequest{
		creation("b", StatusPending, 5),
		creation("a", StatusPending, 5),
		creation("d", StatusRejected, 1),
		c,
	})

	all := s.Creation.List(Filter{}, 0, 0)
	want := []string{"a", "b", "c", "d"}
	for i, id := range want {
		if all.Items[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s (%v)", i, all.Items[i].ID, id, all.Items)
		}
	}

	pending := s.Creation.List(Filter{Statuses: []Status{"PENDING"}}, 0, 10)
	if pending.Total != 2 {
		t.Fatalf("pending total = %d, want 2", pending.Total)
	}

	bySector := s.Creation.List(Filter{Sectors: []string{"health"}}, 0, 10)
	if bySector.Total != 1 || bySector.Items[0].ID != "c" {
		t.Fatalf("sector filter by name failed: %+v", bySector)
	}
	bySectorID := s.Creation.List(Filter{Sectors: []string{"/SEC2"}}, 0, 10)
	if bySectorID.Total != 1 {
		t.Fatalf("sector filter by id failed: %+v", bySectorID)
	}

	text := s.Creation.List(Filter{Text: "B@GOV"}, 0, 10)
	if text.Total != 1 || text.Items[0].ID != "b" {
		t.Fatalf("text filter failed: %+v", text)
	}
	if s.Creation.List(Filter{Text: "heal"}, 0, 10).Total != 1 {
		t.Fatal("text filter should match resolved sector names")
	}

	p := s.Creation.List(Filter{}, 1, 3)
	if p.Total != 4 || len(p.Items) != 1 || p.Items[0].ID != "d" || p.TotalPages() != 2 {
		t.Fatalf("unexpected page: %+v", p)
	}
	if got := s.Creation.List(Filter{}, 9, 3); len(got.Items) != 0 {
		t.Fatalf("page past the end should be empty: %+v", got)
	}
}

func TestListScopedHidesOutOfScope(t *testing.T) {
	s := NewStore()
	other := creation("x", StatusPending, 2)
	other.StructureID = "S9"
	s.Creation.Replace([]CreationRequest{creation("a", StatusPending, 1), other})

	mine := s.Creation.ListScoped(Filter{}, func(r CreationRequest) bool { return r.StructureID == "S1" }, 0, 10)
	if mine.Total != 1 || mine.Items[0].ID != "a" {
		t.Fatalf("scoped list = %+v", mine)
	}
	if s.Creation.ListScoped(Filter{}, nil, 0, 10).Total != 2 {
		t.Fatal("nil scope should keep everything")
	}
}

func approveCommit(calls *int32) Commit[CreationRequest] {
	return func(_ context.Context, r CreationRequest) (CreationRequest, error) {
		atomic.AddInt32(calls, 1)
		return r, nil
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	s := NewStore()
	s.Creation.Upsert([]CreationRequest{creation("r1", StatusPending, 1)})
	var calls int32

	got, err := s.Creation.ApplyTransition(context.Background(), "r1", StatusApproved, "ok", approveCommit(&calls))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved || got.Feedback != "ok" {
		t.Fatalf("unexpected record: %+v", got)
	}

	_, err = s.Creation.ApplyTransition(context.Background(), "r1", StatusRejected, "no", approveCommit(&calls))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if cur, _ := s.Creation.Get("r1"); cur.Status != StatusApproved {
		t.Fatalf("status changed after terminal: %s", cur.Status)
	}
	if calls != 1 {
		t.Fatalf("commit calls = %d, want 1", calls)
	}
	if _, err := s.Creation.ApplyTransition(context.Background(), "r1", StatusAccepted, "", approveCommit(&calls)); !errors.Is(err, ErrConflict) {
		t.Fatalf("membership status on creation request must conflict, got %v", err)
	}
}

func TestTransitionCheckRunsAfterStateCheck(t *testing.T) {
	s := NewStore()
	s.Creation.Upsert([]CreationRequest{creation("r1", StatusPending, 1), creation("r2", StatusRejected, 1)})
	var calls int32
	invalid := fmt.Errorf("%w: reason required", ErrInvalidInput)
	checked := 0
	check := func(CreationRequest) error {
		checked++
		return invalid
	}

	if _, err := s.Creation.ApplyTransitionChecked(context.Background(), "r2", StatusRejected, "", check, approveCommit(&calls)); !errors.Is(err, ErrConflict) {
		t.Fatalf("decided record: got %v", err)
	}
	if checked != 0 {
		t.Fatal("check must not run for a decided record")
	}
	if _, err := s.Creation.ApplyTransitionChecked(context.Background(), "r1", StatusRejected, "", check, approveCommit(&calls)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("pending record: got %v", err)
	}
	if cur, _ := s.Creation.Get("r1"); cur.Status != StatusPending || calls != 0 {
		t.Fatalf("failed check must leave the record alone: %+v, commits=%d", cur, calls)
	}
}

func TestTransitionRollsBackOnRemoteFailure(t *testing.T) {
	s := NewStore()
	s.Creation.Upsert([]CreationRequest{creation("r1", StatusPending, 1)})

	var seen Status
	boom := errors.New("backend unavailable")
	_, err := s.Creation.ApplyTransition(context.Background(), "r1", StatusApproved, "ok", func(ctx context.Context, r CreationRequest) (CreationRequest, error) {
		cur, _ := s.Creation.Get("r1")
		seen = cur.Status
		return CreationRequest{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if seen != StatusApproved {
		t.Fatalf("optimistic status not visible during commit: %s", seen)
	}
	cur, ok := s.Creation.Get("r1")
	if !ok || cur.Status != StatusPending || cur.Feedback != "" {
		t.Fatalf("rollback failed: %+v", cur)
	}
}

func TestTransitionDropsRecordGoneRemotely(t *testing.T) {
	s := NewStore()
	s.Access.Upsert([]AccessRequest{{ID: "x", APIID: "api", Status: StatusPending}})
	_, err := s.Access.ApplyTransition(context.Background(), "x", StatusApproved, "", func(context.Context, AccessRequest) (AccessRequest, error) {
		return AccessRequest{}, ErrConflict
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, ok := s.Access.Get("x"); ok {
		t.Fatal("stale record should be removed")
	}
	if _, err := s.Access.ApplyTransition(context.Background(), "missing", StatusApproved, "", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("unknown id must conflict, got %v", err)
	}
}

func TestConcurrentTransitionsSameIDApplyOnce(t *testing.T) {
	s := NewStore()
	s.Membership.Upsert([]MembershipRequest{{ID: "m1", Name: "n", Email: "n@x", Status: StatusPending}})

	var calls int32
	release := make(chan struct{})
	commit := func(ctx context.Context, r MembershipRequest) (MembershipRequest, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return r, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Membership.ApplyTransition(context.Background(), "m1", StatusAccepted, "", commit)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("ok=%d conflicts=%d, want 1/1", ok, conflicts)
	}
	if calls != 1 {
		t.Fatalf("commit calls = %d, want 1", calls)
	}
	if n := s.Membership.locks.size(); n != 0 {
		t.Fatalf("per-id locks leaked: %d", n)
	}
}

func TestTransitionHonoursContextWhileWaiting(t *testing.T) {
	s := NewStore()
	s.Creation.Upsert([]CreationRequest{creation("r1", StatusPending, 1)})
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = s.Creation.ApplyTransition(context.Background(), "r1", StatusApproved, "", func(ctx context.Context, r CreationRequest) (CreationRequest, error) {
			close(started)
			<-hold
			return r, nil
		})
	}()
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Creation.ApplyTransition(ctx, "r1", StatusRejected, "no", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(hold)
}

func TestLoadDiscardsSupersededResponse(t *testing.T) {
	s := NewStore()
	slowStarted := make(chan struct{})
	slowRelease := make(chan struct{})
	slowDone := make(chan error, 1)

	go func() {
		_, err := s.Creation.Load(context.Background(), "pending", Pending[CreationRequest], func(ctx context.Context) ([]CreationRequest, error) {
			close(slowStarted)
			<-slowRelease
			return []CreationRequest{creation("old", StatusPending, 1)}, nil
		})
		slowDone <- err
	}()
	<-slowStarted

	n, err := s.Creation.Load(context.Background(), "pending", Pending[CreationRequest], func(ctx context.Context) ([]CreationRequest, error) {
		return []CreationRequest{creation("new", StatusPending, 2)}, nil
	})
	if err != nil || n != 1 {
		t.Fatalf("fresh load: n=%d err=%v", n, err)
	}
	close(slowRelease)
	if err := <-slowDone; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if _, ok := s.Creation.Get("old"); ok {
		t.Fatal("stale result was applied")
	}
	if _, ok := s.Creation.Get("new"); !ok {
		t.Fatal("fresh result missing")
	}
}

func TestLoadCancelsSupersededFetch(t *testing.T) {
	s := NewStore()
	started := make(chan struct{})
	cancelled := make(chan struct{})
	go func() {
		_, _ = s.Access.Load(context.Background(), "pending", nil, func(ctx context.Context) ([]AccessRequest, error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		})
	}()
	<-started
	if _, err := s.Access.Load(context.Background(), "pending", nil, func(context.Context) ([]AccessRequest, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("second load: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}
}

func TestLoadPrunesOnlyItsScope(t *testing.T) {
	s := NewStore()
	s.Creation.Upsert([]CreationRequest{
		creation("done", StatusApproved, 1),
		creation("gone", StatusPending, 2),
		creation("kept", StatusPending, 3),
	})
	_, err := s.Creation.Load(context.Background(), "pending", Pending[CreationRequest], func(context.Context) ([]CreationRequest, error) {
		return []CreationRequest{creation("kept", StatusPending, 3), creation("fresh", StatusPending, 4)}, nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := s.Creation.Get("gone"); ok {
		t.Fatal("pending record missing from the fresh list should be pruned")
	}
	for _, id := range []string{"done", "kept", "fresh"} {
		if _, ok := s.Creation.Get(id); !ok {
			t.Fatalf("%s should be present", id)
		}
	}

	if _, err := s.Creation.Load(context.Background(), "all", All[CreationRequest], func(context.Context) ([]CreationRequest, error) {
		return []CreationRequest{creation("only", StatusRejected, 5)}, nil
	}); err != nil {
		t.Fatalf("full load: %v", err)
	}
	if s.Creation.Len() != 1 {
		t.Fatalf("full refresh left %d records", s.Creation.Len())
	}
}

func TestRemoveRestoresOnFailure(t *testing.T) {
	s := NewStore()
	s.Membership.Upsert([]MembershipRequest{{ID: "m1", Status: StatusPending}})
	boom := errors.New("boom")
	if err := s.Membership.Remove(context.Background(), "m1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.Membership.Get("m1"); !ok {
		t.Fatal("record not restored")
	}
	if err := s.Membership.Remove(context.Background(), "m1", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Membership.Get("m1"); ok {
		t.Fatal("record not removed")
	}
	if err := s.Membership.Remove(context.Background(), "m1", func(context.Context) error { return nil }); !errors.Is(err, ErrConflict) {
		t.Fatalf("second remove must conflict, got %v", err)
	}
}

func TestStoreSubscribeSeesChanges(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)
	s.Creation.Upsert([]CreationRequest{creation("a", StatusPending, 1)})
	select {
	case ch := <-ch:
		if ch.Kind != KindCreation || ch.Op != OpUpsert || len(ch.IDs) != 1 {
			t.Fatalf("unexpected change: %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}
