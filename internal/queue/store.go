package queue

import (
	"context"
	"time"

	"github.com/kvasirlabs/waitline/internal/catalog"
)

// Reader is the snapshot-read surface shared by the store and its
// transactions. Reads outside a transaction may observe briefly-stale
// positions; the projection consumers accept this.
type Reader interface {
	GetBusiness(ctx context.Context, id string) (*catalog.Business, error)
	GetBusinessByHelper(ctx context.Context, helperID string) (*catalog.Business, error)
	GetService(ctx context.Context, id string) (*catalog.Service, error)
	GetUser(ctx context.Context, id string) (*catalog.User, error)
	GetManualCustomer(ctx context.Context, id string) (*catalog.ManualCustomer, error)

	GetEntry(ctx context.Context, id string) (*Entry, error)

	// ListLane returns the live entries of one (business, helper)
	// lane ordered by current position.
	ListLane(ctx context.Context, businessID, helperID string) ([]*Entry, error)

	// CountLane counts the live entries of one lane.
	CountLane(ctx context.Context, businessID, helperID string) (int, error)

	// ListLiveByBusiness returns every live entry of the business
	// whose joining time falls in [from, to], FCFS ordered.
	ListLiveByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]*Entry, error)

	// ListByHelper returns the live entries assigned to a helper with
	// joining time in [from, to], ordered by (position, joining time).
	ListByHelper(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error)

	// ListByUser returns all entries of a registered user joined in
	// [from, to], newest first.
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Entry, error)

	// ListByBusiness returns all entries of a business joined in
	// [from, to], newest first, optionally filtered to one helper.
	ListByBusiness(ctx context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error)
}

// Tx is the write surface available inside a store transaction. Every
// write-path operation reads-then-writes through one Tx so invariants
// hold at commit boundaries.
type Tx interface {
	Reader

	SetBusinessActive(ctx context.Context, id string, active bool) error
	UpdateBusinessHelpers(ctx context.Context, businessID string, helpers []catalog.Helper) error

	InsertEntry(ctx context.Context, e *Entry) error
	UpdateEntry(ctx context.Context, e *Entry) error
}

// Store is the persistence contract of the engine. RunInTx either
// commits every write issued through the Tx or none of them; conflicts
// with concurrent writers surface as apperr Conflict and are retried
// by the engine.
type Store interface {
	Reader

	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
