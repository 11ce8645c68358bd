package requests

import (
	"sort"
	"strings"
)

// NameLookup returns the display name cached for a structure or sector id,
// or "" when none is known yet. field is "structure" or "sector".
type NameLookup func(field, id string) string

// Filter selects requests for a listing. Empty fields match everything.
type Filter struct {
	Statuses []Status `json:"statuses,omitempty"`
	Sectors  []string `json:"sectors,omitempty"`
	Text     string   `json:"text,omitempty"`
}

func matches[T Record[T]](r T, f Filter, names NameLookup) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if ParseStatus(string(s)) == r.State() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	structureID, sectorID := r.Refs()
	var structureName, sectorName string
	if names != nil {
		structureName = names("structure", structureID)
		sectorName = names("sector", sectorID)
	}

	if len(f.Sectors) > 0 {
		ok := false
		for _, s := range f.Sectors {
			if sameID(s, sectorID) || (sectorName != "" && strings.EqualFold(strings.TrimSpace(s), sectorName)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	q := strings.ToLower(strings.TrimSpace(f.Text))
	if q == "" {
		return true
	}
	fields := append(r.Text(), structureID, sectorID, structureName, sectorName)
	for _, v := range fields {
		if v != "" && strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

// sortRecords orders by submission date, newest first, then id ascending.
func sortRecords[T Record[T]](items []T) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := items[i].Submitted(), items[j].Submitted()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return items[i].Key() < items[j].Key()
	})
}

func paginate[T any](items []T, page, size int) Page[T] {
	total := len(items)
	if size <= 0 {
		return Page[T]{Items: items, Page: 0, Size: total, Total: total}
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return Page[T]{Items: items[start:end], Page: page, Size: size, Total: total}
}

func sameID(a, b string) bool {
	a, b = NormalizeID(a), NormalizeID(b)
	return a != "" && a == b
}

// NormalizeID strips whitespace and "/" separator noise from an identifier.
func NormalizeID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "/", "")
}
