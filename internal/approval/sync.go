package approval

import (
	"context"
	"fmt"

	"apicatalog.org/internal/auth"
	"apicatalog.org/internal/requests"
)

// Scope picks which backend listing a sync reads.
type Scope string

const (
	// ScopeMine lists the caller's own requests.
	ScopeMine Scope = "mine"
	// ScopePending lists requests awaiting the caller's decision.
	ScopePending Scope = "pending"
)

// ParseScope defaults to ScopePending.
func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case "", ScopePending:
		return ScopePending, nil
	case ScopeMine:
		return ScopeMine, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", requests.ErrInvalidInput, raw)
}

type lister[T any] func(ctx context.Context, page, size int) ([]T, int, error)

// fetchAll walks pages until the backend runs out or maxPages is reached.
func fetchAll[T any](ctx context.Context, list lister[T], size, maxPages int) ([]T, error) {
	var out []T
	for page := 0; page < maxPages; page++ {
		items, total, err := list(ctx, page, size)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < size || len(out) >= total {
			break
		}
	}
	return out, nil
}

func viewKey(scope Scope, p *auth.Principal) string {
	if p == nil {
		return string(scope) + ":service"
	}
	return string(scope) + ":" + p.SubjectID
}

// SyncCreation refreshes creation requests from the backend using the
// credential in ctx. Callers authorize; the scheduler runs it with the
// service credential. The store is shared by all users, so the caller's own
// list only merges. The pending list prunes decided requests, and for a
// non-admin only within their own structure.
func (e *Engine) SyncCreation(ctx context.Context, scope Scope) (int, error) {
	p := auth.CurrentPrincipal(ctx)
	list := lister[requests.CreationRequest](e.remote.ListPendingCreationRequests)
	var prune requests.Scope[requests.CreationRequest]
	switch {
	case scope == ScopeMine:
		list = e.remote.ListMyCreationRequests
	case p == nil || auth.CanAdminister(p):
		prune = requests.Pending[requests.CreationRequest]
	default:
		prune = func(r requests.CreationRequest) bool {
			return r.State() == requests.StatusPending && r.StructureID != "" && auth.OwnsStructure(p, r.StructureID)
		}
	}
	return e.store.Creation.Load(ctx, "creation:"+viewKey(scope, p), prune, func(ctx context.Context) ([]requests.CreationRequest, error) {
		return fetchAll(ctx, list, e.pageSize, e.maxPages)
	})
}

// SyncAccess refreshes usage requests. A non-admin's pending list only
// covers their own structure's APIs, so only those are pruned.
func (e *Engine) SyncAccess(ctx context.Context, scope Scope) (int, error) {
	p := auth.CurrentPrincipal(ctx)
	list := lister[requests.AccessRequest](e.remote.ListPendingAccessRequests)
	var prune requests.Scope[requests.AccessRequest]
	switch {
	case scope == ScopeMine:
		list = e.remote.ListMyAccessRequests
	case p == nil || auth.CanAdminister(p):
		prune = requests.Pending[requests.AccessRequest]
	default:
		prune = func(r requests.AccessRequest) bool {
			return r.State() == requests.StatusPending && r.APIStructureID != "" && auth.OwnsStructure(p, r.APIStructureID)
		}
	}
	return e.store.Access.Load(ctx, "access:"+viewKey(scope, p), prune, func(ctx context.Context) ([]requests.AccessRequest, error) {
		return fetchAll(ctx, list, e.pageSize, e.maxPages)
	})
}

// SyncMemberships replaces the membership collection with the backend's.
func (e *Engine) SyncMemberships(ctx context.Context) (int, error) {
	return e.store.Membership.Load(ctx, "membership:all", requests.All[requests.MembershipRequest], func(ctx context.Context) ([]requests.MembershipRequest, error) {
		items, _, err := e.remote.ListMemberships(ctx)
		return items, err
	})
}
