package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu       sync.Mutex
	names    map[string]string
	fail     error
	gate     chan struct{}
	calls    int32
	page     []byte
	pageErr  error
	lastSize int
}

func (f *fakeFetcher) FetchEntity(ctx context.Context, kind Kind, id string) (Entity, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Entity{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return Entity{}, f.fail
	}
	name, ok := f.names[id]
	if !ok {
		return Entity{}, errors.New("404")
	}
	return Entity{ID: id, Name: name}, nil
}

func (f *fakeFetcher) FetchPage(ctx context.Context, kind Kind, page, size int) ([]byte, error) {
	f.lastSize = size
	return f.page, f.pageErr
}

func (f *fakeFetcher) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestResolveNameSuppressesDuplicateFetches(t *testing.T) {
	f := &fakeFetcher{names: map[string]string{"S1": "Ministry of Interior"}, gate: make(chan struct{})}
	c := New(f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.ResolveName(Structures, "S1"); got != Placeholder {
				t.Errorf("ResolveName during fetch = %q, want placeholder", got)
			}
		}()
	}
	wg.Wait()
	close(f.gate)

	waitFor(t, func() bool { _, ok := c.Cached(Structures, "S1"); return ok })
	if got := c.ResolveName(Structures, "S1"); got != "Ministry of Interior" {
		t.Fatalf("ResolveName after fetch = %q", got)
	}
	if n := atomic.LoadInt32(&f.calls); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestResolveFallsBackWithoutPoisoning(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	f := &fakeFetcher{names: map[string]string{}}
	f.setFail(errors.New("connection refused"))
	c := New(f, WithClock(func() time.Time { return now }), WithRetryAfter(time.Minute))

	unknown := "0123456789abcdef01234567"
	if got := c.Resolve(context.Background(), Structures, unknown); got == "" || got == Placeholder {
		t.Fatalf("Resolve fallback = %q", got)
	} else if got != "Unknown structure" {
		t.Fatalf("Resolve fallback = %q, want generic unknown", got)
	}
	if got := c.Resolve(context.Background(), Structures, "684ca9cc8d30db693dd298bc"); got != "Ministry of Health" {
		t.Fatalf("well-known fallback = %q", got)
	}
	if got := c.ResolveName(Sectors, "sante-publique"); got != Placeholder {
		t.Fatalf("first non-blocking lookup = %q, want placeholder", got)
	}
	waitFor(t, func() bool { return c.ResolveName(Sectors, "sante-publique") == "Health" })

	if _, ok := c.Cached(Structures, unknown); ok {
		t.Fatal("failure must not be cached as a name")
	}
	calls := atomic.LoadInt32(&f.calls)
	if got := c.ResolveName(Structures, unknown); got != "Unknown structure" {
		t.Fatalf("within cooldown = %q", got)
	}
	if atomic.LoadInt32(&f.calls) != calls {
		t.Fatal("no refetch expected within cooldown")
	}

	f.setFail(nil)
	f.mu.Lock()
	f.names[unknown] = "Customs Authority"
	f.mu.Unlock()
	now = now.Add(2 * time.Minute)
	if got := c.Resolve(context.Background(), Structures, unknown); got != "Customs Authority" {
		t.Fatalf("after cooldown = %q", got)
	}
}

func TestResolveEmptyID(t *testing.T) {
	c := New(&fakeFetcher{})
	if got := c.ResolveName(Services, "  "); got != Unknown {
		t.Fatalf("empty id = %q", got)
	}
	if got := c.Resolve(context.Background(), Services, ""); got != Unknown {
		t.Fatalf("empty id = %q", got)
	}
}

func TestResolveStripsSeparators(t *testing.T) {
	f := &fakeFetcher{names: map[string]string{"681ca7d68d28db673dd296bc": "Education"}}
	c := New(f)
	if got := c.Resolve(context.Background(), Sectors, "/681ca7d68d28db673dd296bc"); got != "Education" {
		t.Fatalf("Resolve with separator = %q", got)
	}
	if got := c.ResolveName(Sectors, "681ca7d68d28db673dd296bc"); got != "Education" {
		t.Fatalf("stripped form not cached: %q", got)
	}

	f.page = []byte(`{"content":[{"id":"682/ca9cc","name":"Ministry of Education"}]}`)
	if _, err := c.BulkLoad(context.Background(), Structures); err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}
	if got, ok := c.Cached(Structures, "682ca9cc"); !ok || got != "Ministry of Education" {
		t.Fatalf("separator-free alias missing: %q %v", got, ok)
	}
}

func TestBulkLoad(t *testing.T) {
	f := &fakeFetcher{page: []byte(`{"secteurs":[{"id":"a","name":"Health"},{"id":"b","name":"Education"},{"id":"","name":"x"}]}`)}
	c := New(f, WithBulkSize(50))
	n, err := c.BulkLoad(context.Background(), Sectors)
	if err != nil || n != 2 {
		t.Fatalf("BulkLoad = %d, %v", n, err)
	}
	if f.lastSize != 50 {
		t.Fatalf("page size = %d, want 50", f.lastSize)
	}
	ents := c.Entities(Sectors)
	if len(ents) != 2 || ents[0].Name != "Education" {
		t.Fatalf("unexpected entities: %+v", ents)
	}
	if got := c.LookupField("sector", "a"); got != "Health" {
		t.Fatalf("LookupField = %q", got)
	}
	if got := c.LookupField("bogus", "a"); got != "" {
		t.Fatalf("LookupField unknown field = %q", got)
	}

	f.pageErr = errors.New("503")
	if _, err := c.BulkLoad(context.Background(), Structures); err == nil {
		t.Fatal("expected error")
	}
	if len(c.Entities(Structures)) != 0 {
		t.Fatal("failed bulk load must leave cache empty")
	}
	if len(c.Entities(Sectors)) != 2 {
		t.Fatal("failed bulk load must not touch other kinds")
	}
}

type memNames struct {
	mu    sync.Mutex
	names map[string]string
	puts  int
}

func (m *memNames) Get(_ context.Context, kind Kind, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.names[string(kind)+id]
	return n, ok, nil
}

func (m *memNames) Put(_ context.Context, kind Kind, ents []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		m.names[string(kind)+e.ID] = e.Name
	}
	m.puts++
	return nil
}

func TestSharedNameStore(t *testing.T) {
	shared := &memNames{names: map[string]string{"servicesSV1": "Birth Certificate"}}
	f := &fakeFetcher{names: map[string]string{"SV2": "Death Certificate"}}
	c := New(f, WithNameStore(shared))

	if got := c.Resolve(context.Background(), Services, "SV1"); got != "Birth Certificate" {
		t.Fatalf("shared hit = %q", got)
	}
	if atomic.LoadInt32(&f.calls) != 0 {
		t.Fatal("shared hit must not reach the backend")
	}
	if got := c.Resolve(context.Background(), Services, "SV2"); got != "Death Certificate" {
		t.Fatalf("remote = %q", got)
	}
	if shared.puts != 1 || shared.names["servicesSV2"] != "Death Certificate" {
		t.Fatalf("remote result not shared: %+v", shared.names)
	}
}
