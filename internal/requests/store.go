package requests

import (
	"context"

	"apicatalog.org/internal/events"
)

// Store holds the three request collections of one portal instance.
type Store struct {
	Creation   *Collection[CreationRequest]
	Access     *Collection[AccessRequest]
	Membership *Collection[MembershipRequest]

	changes *events.Bus[Change]
}

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	names NameLookup
}

// WithNameLookup lets free-text and sector filters match display names.
func WithNameLookup(fn NameLookup) Option {
	return func(c *storeConfig) { c.names = fn }
}

// NewStore builds an empty Store.
func NewStore(opts ...Option) *Store {
	var cfg storeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	bus := events.NewBus[Change](64)
	return &Store{
		Creation:   newCollection[CreationRequest](KindCreation, cfg.names, bus.Publish),
		Access:     newCollection[AccessRequest](KindAccess, cfg.names, bus.Publish),
		Membership: newCollection[MembershipRequest](KindMembership, cfg.names, bus.Publish),
		changes:    bus,
	}
}

// Subscribe streams collection changes until ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Change {
	return s.changes.Subscribe(ctx)
}
