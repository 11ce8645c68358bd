package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"apicatalog.org/internal/approval"
	"apicatalog.org/internal/catalog"
	"apicatalog.org/internal/obs"
)

// Catalog preloads reference entities. catalog.Cache implements it.
type Catalog interface {
	BulkLoad(ctx context.Context, kind catalog.Kind) (int, error)
}

// Syncer refreshes request lists. approval.Engine implements it.
type Syncer interface {
	SyncCreation(ctx context.Context, scope approval.Scope) (int, error)
	SyncAccess(ctx context.Context, scope approval.Scope) (int, error)
	SyncMemberships(ctx context.Context) (int, error)
}

type job struct {
	name string
	run  func(context.Context) (int, error)
}

// Refresher keeps the reference cache and the pending lists warm. Runs never
// overlap; a tick that fires while a run is in progress is skipped.
type Refresher struct {
	spec    string
	timeout time.Duration
	jobs    []job

	mu   sync.Mutex
	cron *cron.Cron
	last time.Time
}

// NewRefresher builds a Refresher. spec is any robfig/cron expression,
// including descriptors such as "@every 5m". Either dependency may be nil.
func NewRefresher(spec string, cat Catalog, syncer Syncer) (*Refresher, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, err
	}
	r := &Refresher{spec: spec, timeout: 2 * time.Minute}
	if cat != nil {
		for _, kind := range []catalog.Kind{catalog.Sectors, catalog.Structures, catalog.Services} {
			kind := kind
			r.jobs = append(r.jobs, job{name: "catalog." + string(kind), run: func(ctx context.Context) (int, error) {
				return cat.BulkLoad(ctx, kind)
			}})
		}
	}
	if syncer != nil {
		r.jobs = append(r.jobs,
			job{name: "requests.creation", run: func(ctx context.Context) (int, error) {
				return syncer.SyncCreation(ctx, approval.ScopePending)
			}},
			job{name: "requests.access", run: func(ctx context.Context) (int, error) {
				return syncer.SyncAccess(ctx, approval.ScopePending)
			}},
			job{name: "requests.membership", run: syncer.SyncMemberships},
		)
	}
	return r, nil
}

// Start runs one refresh in the background and then follows the schedule.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("schedule: already started")
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(obs.Logger())),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	id, err := c.AddFunc(r.spec, func() { _ = r.RunOnce(context.Background()) })
	if err != nil {
		return err
	}
	c.Start()
	r.cron = c
	go c.Entry(id).WrappedJob.Run()
	return nil
}

// Stop halts the schedule and waits for a running refresh until ctx ends.
func (r *Refresher) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce executes every job in order. A failing job is logged and does not
// stop the ones after it; the joined error is returned.
func (r *Refresher) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var errs []error
	for _, j := range r.jobs {
		start := time.Now()
		n, err := j.run(ctx)
		fields := map[string]any{"job": j.name, "records": n, "took_ms": time.Since(start).Milliseconds()}
		if err != nil {
			obs.ObserveRefresh(j.name, "error")
			obs.Error("refresh failed", err, fields)
			errs = append(errs, err)
			continue
		}
		obs.ObserveRefresh(j.name, "ok")
		obs.Info("refresh done", fields)
	}
	r.mu.Lock()
	r.last = time.Now().UTC()
	r.mu.Unlock()
	return errors.Join(errs...)
}

// LastRun reports when the most recent refresh finished.
func (r *Refresher) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
