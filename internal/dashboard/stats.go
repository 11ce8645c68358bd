package dashboard

import (
	"math"
	"sort"

	"apicatalog.org/internal/requests"
)

// Item is what the statistics need from a request.
type Item interface {
	State() requests.Status
	Refs() (structureID, sectorID string)
}

// StatusCounts summarises a snapshot. Accepted memberships count as approved
// and refused ones as rejected.
type StatusCounts struct {
	Total    int `json:"totalRequests"`
	Pending  int `json:"pendingRequests"`
	Approved int `json:"approvedRequests"`
	Rejected int `json:"rejectedRequests"`
}

// ComputeStatusCounts is a pure function of items.
func ComputeStatusCounts[T Item](items []T) StatusCounts {
	var c StatusCounts
	for _, it := range items {
		c.Total++
		switch it.State() {
		case requests.StatusPending:
			c.Pending++
		case requests.StatusApproved, requests.StatusAccepted:
			c.Approved++
		case requests.StatusRejected, requests.StatusRefused:
			c.Rejected++
		}
	}
	return c
}

// UnassignedSector buckets items that carry no sector id.
const UnassignedSector = "unknown"

// SectorStat is one row of the sector distribution. Percentage is rounded;
// Share keeps the exact value.
type SectorStat struct {
	SectorID   string  `json:"sectorId"`
	SectorName string  `json:"sectorName"`
	Count      int     `json:"count"`
	Percentage int     `json:"percentage"`
	Share      float64 `json:"-"`
}

// ComputeSectorDistribution groups items by sector. Every id in universe gets
// a row even with a zero count, so a distribution skewed onto one sector is
// visible as such. Rows are sorted by count descending, then name ascending.
func ComputeSectorDistribution[T Item](items []T, universe []string, name func(sectorID string) string) []SectorStat {
	counts := make(map[string]int)
	order := make([]string, 0, len(universe))
	for _, id := range universe {
		id = requests.NormalizeID(id)
		if id == "" {
			continue
		}
		if _, ok := counts[id]; !ok {
			counts[id] = 0
			order = append(order, id)
		}
	}
	total := 0
	for _, it := range items {
		_, sector := it.Refs()
		id := requests.NormalizeID(sector)
		if id == "" {
			id = UnassignedSector
		}
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
		total++
	}

	out := make([]SectorStat, 0, len(order))
	for _, id := range order {
		s := SectorStat{SectorID: id, Count: counts[id]}
		switch {
		case id == UnassignedSector:
			s.SectorName = "Unknown"
		case name != nil:
			s.SectorName = name(id)
		default:
			s.SectorName = id
		}
		if total > 0 {
			s.Share = float64(s.Count) / float64(total) * 100
			s.Percentage = int(math.Round(s.Share))
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].SectorName != out[j].SectorName {
			return out[i].SectorName < out[j].SectorName
		}
		return out[i].SectorID < out[j].SectorID
	})
	return out
}

// ComputeBalanceScore measures how evenly items spread over the sectors of
// dist: 100 is perfectly even, 0 is everything in one sector. A distribution
// with at most one sector, or no items at all, scores 100.
func ComputeBalanceScore(dist []SectorStat) int {
	n := len(dist)
	total := totalCount(dist)
	if n <= 1 || total == 0 {
		return 100
	}
	ideal := 100 / float64(n)
	var deviation float64
	for _, s := range dist {
		deviation += math.Abs(shareOf(s, total) - ideal)
	}
	maxDeviation := 2 * (100 - ideal)
	score := int(math.Round(100 - deviation/maxDeviation*100))
	return max(0, min(100, score))
}

// shareOf prefers the exact share and derives it from the counts for
// distributions built elsewhere, such as decoded JSON where Share is lost.
func shareOf(s SectorStat, total int) float64 {
	if s.Share > 0 || s.Count == 0 || total == 0 {
		return s.Share
	}
	return float64(s.Count) / float64(total) * 100
}

func totalCount(dist []SectorStat) int {
	total := 0
	for _, s := range dist {
		total += s.Count
	}
	return total
}

// BalanceLabel: above 70 Balanced, 40 and up Moderate, otherwise Unbalanced.
func BalanceLabel(score int) string {
	switch {
	case score > 70:
		return "Balanced"
	case score >= 40:
		return "Moderate"
	}
	return "Unbalanced"
}

// DistributionType describes the shape of dist.
func DistributionType(dist []SectorStat, score int) string {
	switch {
	case len(dist) <= 1:
		return "Single Sector"
	case score > 70:
		return "Even Distribution"
	case shareOf(dist[0], totalCount(dist)) > 50:
		return "Dominant Sector"
	}
	return "Clustered Distribution"
}
