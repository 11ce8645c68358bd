package dashboard

import (
	"context"
	"time"

	"apicatalog.org/internal/activity"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/obs"
	"apicatalog.org/internal/requests"
)

// Sectors supplies the sector universe and display names. catalog.Cache
// implements it.
type Sectors interface {
	Entities(kind catalog.Kind) []catalog.Entity
	ResolveName(kind catalog.Kind, id string) string
}

// Summary is the administrator dashboard.
type Summary struct {
	Creation           StatusCounts        `json:"creation"`
	Access             StatusCounts        `json:"access"`
	Membership         StatusCounts        `json:"membership"`
	ApprovedConsumers  int                 `json:"approvedConsumers"`
	PendingMemberships int                 `json:"pendingMemberships"`
	Sectors            []SectorStat        `json:"sectors"`
	TopSector          *SectorStat         `json:"topSector,omitempty"`
	BalanceScore       int                 `json:"balanceScore"`
	BalanceLabel       string              `json:"balanceLabel"`
	DistributionType   string              `json:"distributionType"`
	RecentActivities   []activity.Activity `json:"recentActivities"`
	GeneratedAt        time.Time           `json:"generatedAt"`
}

// Aggregator computes summaries from the request store. It only reads.
type Aggregator struct {
	store   *requests.Store
	sectors Sectors
	feed    activity.Recorder
	recent  int
	now     func() time.Time
}

// NewAggregator builds an Aggregator. sectors and feed may be nil.
func NewAggregator(store *requests.Store, sectors Sectors, feed activity.Recorder) *Aggregator {
	return &Aggregator{store: store, sectors: sectors, feed: feed, recent: 5, now: time.Now}
}

// Summary computes the dashboard from the current snapshot. The sector
// distribution covers creation requests over every known sector.
func (a *Aggregator) Summary(ctx context.Context) Summary {
	creation := a.store.Creation.Snapshot()
	access := a.store.Access.Snapshot()
	membership := a.store.Membership.Snapshot()

	var universe []string
	var name func(string) string
	if a.sectors != nil {
		for _, e := range a.sectors.Entities(catalog.Sectors) {
			universe = append(universe, e.ID)
		}
		name = func(id string) string { return a.sectors.ResolveName(catalog.Sectors, id) }
	}
	dist := ComputeSectorDistribution(creation, universe, name)
	score := ComputeBalanceScore(dist)

	s := Summary{
		Creation:          ComputeStatusCounts(creation),
		Access:            ComputeStatusCounts(access),
		Membership:        ComputeStatusCounts(membership),
		ApprovedConsumers: approvedConsumers(access),
		Sectors:           dist,
		BalanceScore:      score,
		BalanceLabel:      BalanceLabel(score),
		DistributionType:  DistributionType(dist, score),
		GeneratedAt:       a.now().UTC(),
	}
	s.PendingMemberships = s.Membership.Pending
	if len(dist) > 0 && dist[0].Count > 0 {
		top := dist[0]
		s.TopSector = &top
	}
	if a.feed != nil {
		acts, err := a.feed.Recent(ctx, a.recent)
		if err != nil {
			obs.Warn("recent activities unavailable", map[string]any{"error": err.Error()})
		}
		s.RecentActivities = acts
	}
	if s.RecentActivities == nil {
		s.RecentActivities = []activity.Activity{}
	}
	return s
}

// approvedConsumers counts distinct requesters holding an approved access request.
func approvedConsumers(items []requests.AccessRequest) int {
	seen := make(map[string]struct{})
	for _, r := range items {
		if r.Status != requests.StatusApproved {
			continue
		}
		key := r.RequesterID
		if key == "" {
			key = r.RequesterEmail
		}
		if key != "" {
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}
