package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDecodeEntitiesShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		kind Kind
		raw  string
		want int
	}{
		{"bare array", Structures, `[{"id":"1","name":"A"},{"id":"2","name":"B"}]`, 2},
		{"page envelope", Structures, `{"content":[{"id":"1","name":"A"}],"totalElements":1}`, 1},
		{"legacy envelope", Sectors, `{"secteurs":[{"id":"1","name":"Health"}]}`, 1},
		{"content wins over legacy", Sectors, `{"content":[{"id":"1","name":"A"}],"secteurs":[]}`, 1},
		{"legacy key of another kind", Structures, `{"secteurs":[{"id":"1","name":"Health"}]}`, 0},
		{"unknown envelope", Services, `{"data":[{"id":"1","name":"A"}]}`, 0},
		{"content not an array", Services, `{"content":{"id":"1"}}`, 0},
		{"scalar", Services, `42`, 0},
		{"garbage", Services, `{{{`, 0},
		{"empty", Services, ``, 0},
		{"skips incomplete elements", Services, `[{"id":"1"},{"name":"x"},"str",{"id":"2","name":"B","parentId":null}]`, 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DecodeEntities(tc.kind, []byte(tc.raw)); len(got) != tc.want {
				t.Fatalf("DecodeEntities() = %+v, want %d entities", got, tc.want)
			}
		})
	}
}

func TestBuildServiceTree(t *testing.T) {
	tree := BuildServiceTree([]Entity{
		{ID: "m2", Name: "Health"},
		{ID: "m1", Name: "Civil Status"},
		{ID: "c1", Name: "Birth Certificate", ParentID: "m1"},
		{ID: "c2", Name: "Death Certificate", ParentID: "/m1"},
		{ID: "c3", Name: "Vaccination", ParentID: "gone"},
		{ID: "c4", Name: "Grandchild", ParentID: "c1"},
	})
	if len(tree) != 3 {
		t.Fatalf("expected 2 mains + uncategorized, got %+v", tree)
	}
	if tree[0].ID != "m1" || len(tree[0].Children) != 2 {
		t.Fatalf("unexpected first node: %+v", tree[0])
	}
	if tree[1].ID != "m2" || len(tree[1].Children) != 0 {
		t.Fatalf("unexpected second node: %+v", tree[1])
	}
	last := tree[2]
	if last.ID != UncategorizedID || len(last.Children) != 2 {
		t.Fatalf("orphans not grouped: %+v", last)
	}
}

func TestFallbackNeverEmpty(t *testing.T) {
	for _, kind := range []Kind{Structures, Sectors, Services} {
		for _, id := range []string{"", "zzz", "000000000000000000000000", "/"} {
			if Fallback(kind, id) == "" {
				t.Fatalf("Fallback(%s, %q) is empty", kind, id)
			}
		}
	}
	if got := Fallback(Sectors, "/685ca7d68d31db703dd299bc"); got != "Transport and Vehicles" {
		t.Fatalf("Fallback with separator = %q", got)
	}
	if got := Fallback(Sectors, "ministere-justice"); got != "Justice" {
		t.Fatalf("keyword fallback = %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]Kind{"secteur": Sectors, "Sectors": Sectors, "structure": Structures, "services": Services} {
		if got, ok := ParseKind(raw); !ok || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseKind("users"); ok {
		t.Fatal("users is not a reference kind")
	}
}

type fakeAPIs struct {
	apis  map[string]API
	gets  int
	items []API
}

func (f *fakeAPIs) GetAPI(_ context.Context, id string) (API, error) {
	f.gets++
	a, ok := f.apis[id]
	if !ok {
		return API{}, errors.New("not found")
	}
	return a, nil
}

func (f *fakeAPIs) ListAPIs(context.Context, int, int) ([]API, error) { return f.items, nil }

func TestDirectory(t *testing.T) {
	src := &fakeAPIs{
		apis: map[string]API{"api1": {ID: "api1", StructureID: "S1", ApprovalStatus: "APPROVED"}},
		items: []API{
			{ID: "api1", ApprovalStatus: "approved"},
			{ID: "api2", ApprovalStatus: "pending", Status: "approved"},
			{ID: "api3", Status: "Approved"},
			{ID: "api4"},
		},
	}
	d := NewDirectory(src, time.Minute)
	for i := 0; i < 3; i++ {
		a, err := d.Lookup(context.Background(), "/api1")
		if err != nil || a.StructureID != "S1" {
			t.Fatalf("Lookup = %+v, %v", a, err)
		}
	}
	if src.gets != 1 {
		t.Fatalf("lookups not cached: %d", src.gets)
	}
	d.Invalidate("api1")
	if _, err := d.Lookup(context.Background(), "api1"); err != nil || src.gets != 2 {
		t.Fatalf("Invalidate did not force a reload: %d %v", src.gets, err)
	}

	pub, err := d.Published(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Published: %v", err)
	}
	if len(pub) != 2 || pub[0].ID != "api1" || pub[1].ID != "api3" {
		t.Fatalf("unexpected published set: %+v", pub)
	}
}
