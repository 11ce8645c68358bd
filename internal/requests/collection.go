package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"apicatalog.org/internal/obs"
)

// Op names the kind of change a collection went through.
type Op string

const (
	OpUpsert     Op = "upsert"
	OpReplace    Op = "replace"
	OpTransition Op = "transition"
	OpRollback   Op = "rollback"
	OpRemove     Op = "remove"
)

// Change is published after every mutation of a collection.
type Change struct {
	Kind Kind      `json:"kind"`
	Op   Op        `json:"op"`
	IDs  []string  `json:"ids,omitempty"`
	At   time.Time `json:"at"`
}

// Commit performs the remote side of a transition. It receives the optimistic
// record and returns the server's view of it.
type Commit[T any] func(ctx context.Context, optimistic T) (T, error)

// Collection is the local projection of one request family. All mutation goes
// through Upsert, Replace, Load, ApplyTransition and Remove.
type Collection[T Record[T]] struct {
	kind    Kind
	mu      sync.RWMutex
	items   map[string]T
	loads   map[string]*loadState
	locks   *keyedLocks
	names   NameLookup
	publish func(Change)
}

type loadState struct {
	gen    uint64
	cancel context.CancelFunc
}

func newCollection[T Record[T]](kind Kind, names NameLookup, publish func(Change)) *Collection[T] {
	if publish == nil {
		publish = func(Change) {}
	}
	return &Collection[T]{
		kind:    kind,
		items:   make(map[string]T),
		loads:   make(map[string]*loadState),
		locks:   newKeyedLocks(),
		names:   names,
		publish: publish,
	}
}

// Kind returns the request family held by c.
func (c *Collection[T]) Kind() Kind { return c.kind }

// Get returns the record stored under id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.items[strings.TrimSpace(id)]
	return r, ok
}

// Len returns the number of records held.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns every record in default order.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	out := make([]T, 0, len(c.items))
	for _, r := range c.items {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sortRecords(out)
	return out
}

// List filters, sorts and paginates. page is zero-based; size <= 0 returns all.
func (c *Collection[T]) List(f Filter, page, size int) Page[T] {
	return c.ListScoped(f, nil, page, size)
}

// ListScoped is List restricted to records in scope. A nil scope keeps all.
func (c *Collection[T]) ListScoped(f Filter, scope Scope[T], page, size int) Page[T] {
	c.mu.RLock()
	out := make([]T, 0, len(c.items))
	for _, r := range c.items {
		if scope != nil && !scope(r) {
			continue
		}
		if matches(r, f, c.names) {
			out = append(out, r)
		}
	}
	c.mu.RUnlock()
	sortRecords(out)
	return paginate(out, page, size)
}

// Upsert merges server records. Duplicate ids resolve last-write-wins and
// records without an id are dropped. It returns the number stored.
func (c *Collection[T]) Upsert(items []T) int {
	c.mu.Lock()
	ids := c.mergeLocked(items)
	n := len(c.items)
	c.mu.Unlock()
	c.changed(OpUpsert, ids, n)
	return len(ids)
}

// Replace swaps the whole collection for items, with the same rules as Upsert.
func (c *Collection[T]) Replace(items []T) int {
	c.mu.Lock()
	c.items = make(map[string]T, len(items))
	ids := c.mergeLocked(items)
	n := len(c.items)
	c.mu.Unlock()
	c.changed(OpReplace, ids, n)
	return len(ids)
}

func (c *Collection[T]) mergeLocked(items []T) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, r := range items {
		id := r.Key()
		if id == "" {
			continue
		}
		c.items[id] = r
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Scope selects the records a load is authoritative for. Records in scope
// that the load did not return are dropped; records outside it are kept.
type Scope[T any] func(T) bool

// All is the scope of a full refresh.
func All[T any](T) bool { return true }

// Pending scopes a load to records still awaiting a decision.
func Pending[T Record[T]](r T) bool { return r.State() == StatusPending }

// Load runs fetch for view and merges the result. With a non-nil scope, local
// records in scope that fetch did not return are removed. Starting a new load
// for the same view cancels the previous one; a load that finishes after a
// newer one started is discarded with ErrStale.
func (c *Collection[T]) Load(ctx context.Context, view string, scope Scope[T], fetch func(context.Context) ([]T, error)) (int, error) {
	c.mu.Lock()
	st, ok := c.loads[view]
	if !ok {
		st = &loadState{}
		c.loads[view] = st
	}
	st.gen++
	gen := st.gen
	if st.cancel != nil {
		st.cancel()
	}
	lctx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	items, err := fetch(lctx)

	c.mu.Lock()
	if st.gen != gen {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s view %q", ErrStale, c.kind, view)
	}
	st.cancel = nil
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	var pruned []string
	if scope != nil {
		fresh := make(map[string]struct{}, len(items))
		for _, r := range items {
			fresh[r.Key()] = struct{}{}
		}
		for id, r := range c.items {
			if _, ok := fresh[id]; !ok && scope(r) {
				delete(c.items, id)
				pruned = append(pruned, id)
			}
		}
	}
	ids := c.mergeLocked(items)
	n := len(c.items)
	c.mu.Unlock()

	if len(pruned) > 0 {
		c.changed(OpRemove, pruned, n)
	}
	c.changed(OpUpsert, ids, n)
	return len(ids), nil
}

// ApplyTransition moves id to status to. Attempts for the same id are
// serialised: the first to finish wins and later ones see a non-pending record
// and fail with ErrConflict. The local record is updated optimistically before
// commit runs and restored if commit fails. When commit reports ErrConflict the
// record is gone server-side and is dropped locally.
func (c *Collection[T]) ApplyTransition(ctx context.Context, id string, to Status, feedback string, commit Commit[T]) (T, error) {
	return c.ApplyTransitionChecked(ctx, id, to, feedback, nil, commit)
}

// ApplyTransitionChecked is ApplyTransition with an extra precondition. check
// runs under the per-id lock after the state check and before the optimistic
// update, so it never observes the state of a commit still in flight.
func (c *Collection[T]) ApplyTransitionChecked(ctx context.Context, id string, to Status, feedback string, check func(current T) error, commit Commit[T]) (T, error) {
	var zero T
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return zero, err
	}
	defer unlock()

	c.mu.Lock()
	prev, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return zero, fmt.Errorf("%w: %s request %s not found, it may have been already processed or deleted", ErrConflict, c.kind, id)
	}
	if !CanTransition(c.kind, prev.State(), to) {
		c.mu.Unlock()
		return prev, fmt.Errorf("%w: %s request %s was already processed (%s)", ErrConflict, c.kind, id, prev.State())
	}
	if check != nil {
		if err := check(prev); err != nil {
			c.mu.Unlock()
			return prev, err
		}
	}
	optimistic := prev.WithState(to, feedback)
	c.items[id] = optimistic
	c.mu.Unlock()
	c.changed(OpTransition, []string{id}, -1)

	confirmed, err := commit(ctx, optimistic)
	if err != nil {
		c.mu.Lock()
		gone := errors.Is(err, ErrConflict)
		if gone {
			delete(c.items, id)
		} else if cur, ok := c.items[id]; ok && cur.State() == to {
			c.items[id] = prev
		}
		n := len(c.items)
		c.mu.Unlock()
		if gone {
			c.changed(OpRemove, []string{id}, n)
		} else {
			c.changed(OpRollback, []string{id}, n)
		}
		return prev, err
	}

	if confirmed.Key() != id || confirmed.State() != to {
		confirmed = optimistic
	}
	c.mu.Lock()
	c.items[id] = confirmed
	c.mu.Unlock()
	return confirmed, nil
}

// Remove deletes id locally, then remotely through commit. The record is
// restored when commit fails for any reason other than ErrConflict.
func (c *Collection[T]) Remove(ctx context.Context, id string, commit func(context.Context) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	c.mu.Lock()
	prev, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s request %s not found, it may have been already processed or deleted", ErrConflict, c.kind, id)
	}
	delete(c.items, id)
	n := len(c.items)
	c.mu.Unlock()
	c.changed(OpRemove, []string{id}, n)

	if err := commit(ctx); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		c.mu.Lock()
		if _, exists := c.items[id]; !exists {
			c.items[id] = prev
		}
		n = len(c.items)
		c.mu.Unlock()
		c.changed(OpRollback, []string{id}, n)
		return err
	}
	return nil
}

func (c *Collection[T]) changed(op Op, ids []string, size int) {
	if size >= 0 {
		obs.SetStoreSize(string(c.kind), size)
	}
	c.publish(Change{Kind: c.kind, Op: op, IDs: ids, At: time.Now().UTC()})
}
