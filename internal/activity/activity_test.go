package activity

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRingKeepsNewestFirst(t *testing.T) {
	r := NewRing(3)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = r.Record(context.Background(), Activity{Type: APIRequestCreated, Description: fmt.Sprint(i), Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	got, err := r.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []string{"4", "3", "2"} {
		if got[i].Description != want {
			t.Fatalf("got[%d] = %q, want %q", i, got[i].Description, want)
		}
		if got[i].ID == "" {
			t.Fatalf("activity %d has no id", i)
		}
	}
}

func TestRingFiltersByType(t *testing.T) {
	r := NewRing(10)
	ctx := context.Background()
	_ = r.Record(ctx, Activity{Type: APICreated})
	_ = r.Record(ctx, Activity{Type: UserRegistered})
	_ = r.Record(ctx, Activity{Type: APIRequestRejected})

	got, _ := r.Recent(ctx, 5, ParseTypes("api_created, user_registered")...)
	if len(got) != 2 || got[0].Type != UserRegistered || got[1].Type != APICreated {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	got, _ = r.Recent(ctx, 1)
	if len(got) != 1 || got[0].Type != APIRequestRejected {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestRelativeTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1 minute ago"},
		{42 * time.Minute, "42 minutes ago"},
		{time.Hour, "1 hour ago"},
		{5 * time.Hour, "5 hours ago"},
		{3 * 24 * time.Hour, "3 days ago"},
		{60 * 24 * time.Hour, "2024-03-11"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			if got := RelativeTime(now.Add(-tc.ago), now); got != tc.want {
				t.Fatalf("RelativeTime(-%s) = %q, want %q", tc.ago, got, tc.want)
			}
		})
	}
}
