package activity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"apicatalog.org/internal/ids"
)

// Type classifies an activity.
type Type string

const (
	APICreated         Type = "API_CREATED"
	APIRequestCreated  Type = "API_REQUEST_CREATED"
	APIRequestApproved Type = "API_REQUEST_APPROVED"
	APIRequestRejected Type = "API_REQUEST_REJECTED"
	RequestDeleted     Type = "REQUEST_DELETED"
	UserRegistered     Type = "USER_REGISTERED"
	MembershipCreated  Type = "MEMBERSHIP_REQUESTED"
	MembershipRefused  Type = "MEMBERSHIP_REFUSED"
)

// Activity is one entry of the recent-activity feed.
type Activity struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"userId,omitempty"`
	Username    string    `json:"username,omitempty"`
	EntityID    string    `json:"entityId,omitempty"`
	EntityName  string    `json:"entityName,omitempty"`
	SectorID    string    `json:"sectorId,omitempty"`
	SectorName  string    `json:"sectorName,omitempty"`
}

// Recorder stores activities and serves the most recent ones.
type Recorder interface {
	Record(ctx context.Context, a Activity) error
	Recent(ctx context.Context, limit int, types ...Type) ([]Activity, error)
}

// Prepare fills the id and timestamp when missing.
func Prepare(a Activity, now time.Time) Activity {
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	a.Timestamp = a.Timestamp.UTC()
	if strings.TrimSpace(a.ID) == "" {
		a.ID = ids.NewAt(a.Timestamp)
	}
	return a
}

// Ring keeps the last N activities in memory.
type Ring struct {
	mu    sync.RWMutex
	items []Activity
	next  int
	full  bool
	now   func() time.Time
}

// NewRing returns a ring holding capacity entries (100 when <= 0).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{items: make([]Activity, capacity), now: time.Now}
}

func (r *Ring) Record(_ context.Context, a Activity) error {
	a = Prepare(a, r.now())
	r.mu.Lock()
	r.items[r.next] = a
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return nil
}

func (r *Ring) Recent(_ context.Context, limit int, types ...Type) ([]Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.next
	if r.full {
		n = len(r.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Activity, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		a := r.items[(r.next-i+len(r.items))%len(r.items)]
		if matchesType(a.Type, types) {
			out = append(out, a)
		}
	}
	return out, nil
}

func matchesType(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if strings.EqualFold(string(want), string(t)) {
			return true
		}
	}
	return false
}

// ParseTypes reads a comma-separated list such as "API_CREATED,USER_REGISTERED".
func ParseTypes(raw string) []Type {
	var out []Type
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, Type(part))
		}
	}
	return out
}

// RelativeTime renders t relative to now: "just now", "5 minutes ago",
// "1 hour ago", "3 days ago", then the date.
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	sec := roundDiv(d.Milliseconds(), 1000)
	mins := roundDiv(sec, 60)
	hour := roundDiv(mins, 60)
	day := roundDiv(hour, 24)
	switch {
	case sec < 30:
		return "just now"
	case mins < 60:
		return plural(mins, "minute")
	case hour < 24:
		return plural(hour, "hour")
	case day < 30:
		return plural(day, "day")
	}
	return t.Format("2006-01-02")
}

func roundDiv(n, d int64) int64 {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
