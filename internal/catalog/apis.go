package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrAPINotFound is returned by an APISource for an unknown API id.
var ErrAPINotFound = errors.New("catalog: api not found")

// API is a catalog entry. It is visible to consumers only once approved.
type API struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	StructureID    string `json:"structure"`
	SectorID       string `json:"secteur"`
	ServiceID      string `json:"service,omitempty"`
	ProviderID     string `json:"providerId,omitempty"`
	BaseURL        string `json:"baseUrl,omitempty"`
	ApprovalStatus string `json:"approvalStatus,omitempty"`
	Status         string `json:"status,omitempty"`
}

// UnmarshalJSON folds the alternative field spellings older payloads use.
func (a *API) UnmarshalJSON(b []byte) error {
	type plain API
	var aux struct {
		plain
		StructureIDAlt string `json:"structureId"`
		ServiceIDAlt   string `json:"serviceId"`
		ProviderIDAlt  string `json:"providerID"`
		ProviderSnake  string `json:"provider_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*a = API(aux.plain)
	if a.StructureID == "" {
		a.StructureID = aux.StructureIDAlt
	}
	if a.ServiceID == "" {
		a.ServiceID = aux.ServiceIDAlt
	}
	if a.ProviderID == "" {
		a.ProviderID = aux.ProviderIDAlt
	}
	if a.ProviderID == "" {
		a.ProviderID = aux.ProviderSnake
	}
	return nil
}

// Published reports whether the API went through creation approval.
// approvalStatus wins over the legacy status field.
func (a API) Published() bool {
	s := a.ApprovalStatus
	if strings.TrimSpace(s) == "" {
		s = a.Status
	}
	return strings.EqualFold(strings.TrimSpace(s), "approved")
}

// APISource is the remote listing of APIs.
type APISource interface {
	GetAPI(ctx context.Context, id string) (API, error)
	ListAPIs(ctx context.Context, page, size int) ([]API, error)
}

// Directory caches API lookups for ownership checks.
type Directory struct {
	src APISource
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedAPI
}

type cachedAPI struct {
	api API
	at  time.Time
}

// NewDirectory builds a Directory. ttl <= 0 disables caching.
func NewDirectory(src APISource, ttl time.Duration) *Directory {
	return &Directory{src: src, ttl: ttl, now: time.Now, cache: make(map[string]cachedAPI)}
}

// Lookup returns the API with id, published or not.
func (d *Directory) Lookup(ctx context.Context, id string) (API, error) {
	id = normalizeID(id)
	if d.ttl > 0 {
		d.mu.Lock()
		c, ok := d.cache[id]
		d.mu.Unlock()
		if ok && d.now().Sub(c.at) < d.ttl {
			return c.api, nil
		}
	}
	api, err := d.src.GetAPI(ctx, id)
	if err != nil {
		return API{}, err
	}
	if d.ttl > 0 {
		d.mu.Lock()
		d.cache[id] = cachedAPI{api: api, at: d.now()}
		d.mu.Unlock()
	}
	return api, nil
}

// Published lists one page of APIs and keeps only the approved ones.
func (d *Directory) Published(ctx context.Context, page, size int) ([]API, error) {
	all, err := d.src.ListAPIs(ctx, page, size)
	if err != nil {
		return nil, err
	}
	out := make([]API, 0, len(all))
	for _, a := range all {
		if a.Published() {
			out = append(out, a)
		}
	}
	return out, nil
}

// Invalidate drops a cached entry so the next Lookup goes remote.
func (d *Directory) Invalidate(id string) {
	d.mu.Lock()
	delete(d.cache, normalizeID(id))
	d.mu.Unlock()
}
