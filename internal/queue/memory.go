package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
)

// Memory is the in-memory Store used by tests and STORE_URI=memory
// deployments. Catalog records live in the shared catalog.Memory so
// the admin surface and the engine observe the same data. A single
// store mutex serializes transactions; entry writes are buffered per
// transaction and applied on commit, so a failed enqueue inserts
// nothing.
type Memory struct {
	cat *catalog.Memory

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemory creates an in-memory store sharing the given catalog.
func NewMemory(cat *catalog.Memory) *Memory {
	if cat == nil {
		cat = catalog.NewMemory()
	}
	return &Memory{cat: cat, entries: make(map[string]*Entry)}
}

var _ Store = (*Memory)(nil)

// Catalog exposes the shared catalog repository.
func (m *Memory) Catalog() *catalog.Memory { return m.cat }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		store:   m,
		pending: make(map[string]*Entry),
		helpers: make(map[string][]catalog.Helper),
		active:  make(map[string]bool),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, e := range tx.pending {
		m.entries[id] = e
	}
	for id, helpers := range tx.helpers {
		if err := m.cat.UpdateBusinessHelpers(ctx, id, helpers); err != nil {
			return err
		}
	}
	for id, active := range tx.active {
		if err := m.cat.SetBusinessActive(ctx, id, active); err != nil {
			return err
		}
	}
	return nil
}

// memTx buffers writes over the base maps. Reads see the buffered
// state first, matching read-your-writes transaction semantics.
type memTx struct {
	store   *Memory
	pending map[string]*Entry
	helpers map[string][]catalog.Helper
	active  map[string]bool
}

var _ Tx = (*memTx)(nil)

func (t *memTx) entry(id string) (*Entry, bool) {
	if e, ok := t.pending[id]; ok {
		return e, true
	}
	e, ok := t.store.entries[id]
	return e, ok
}

func (t *memTx) all() []*Entry {
	out := make([]*Entry, 0, len(t.store.entries)+len(t.pending))
	for id, e := range t.store.entries {
		if _, shadowed := t.pending[id]; shadowed {
			continue
		}
		out = append(out, e)
	}
	for _, e := range t.pending {
		out = append(out, e)
	}
	return out
}

func (t *memTx) GetBusiness(ctx context.Context, id string) (*catalog.Business, error) {
	b, err := t.store.cat.GetBusiness(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "business", id)
	}
	t.applyBusinessOverlay(b)
	return b, nil
}

func (t *memTx) GetBusinessByHelper(ctx context.Context, helperID string) (*catalog.Business, error) {
	b, err := t.store.cat.GetBusinessByHelper(ctx, helperID)
	if err != nil {
		return nil, mapNotFound(err, "business of helper", helperID)
	}
	t.applyBusinessOverlay(b)
	return b, nil
}

func (t *memTx) applyBusinessOverlay(b *catalog.Business) {
	if helpers, ok := t.helpers[b.ID]; ok {
		b.Helpers = append([]catalog.Helper(nil), helpers...)
	}
	if active, ok := t.active[b.ID]; ok {
		b.Active = active
	}
}

func (t *memTx) GetService(ctx context.Context, id string) (*catalog.Service, error) {
	s, err := t.store.cat.GetService(ctx, id)
	return s, mapNotFound(err, "service", id)
}

func (t *memTx) GetUser(ctx context.Context, id string) (*catalog.User, error) {
	u, err := t.store.cat.GetUser(ctx, id)
	return u, mapNotFound(err, "user", id)
}

func (t *memTx) GetManualCustomer(ctx context.Context, id string) (*catalog.ManualCustomer, error) {
	mc, err := t.store.cat.GetManualCustomer(ctx, id)
	return mc, mapNotFound(err, "manual customer", id)
}

func (t *memTx) GetEntry(_ context.Context, id string) (*Entry, error) {
	e, ok := t.entry(id)
	if !ok {
		return nil, apperr.NotFound("queue entry %s not found", id)
	}
	return e.Clone(), nil
}

func (t *memTx) ListLane(_ context.Context, businessID, helperID string) ([]*Entry, error) {
	return listLane(t.all(), businessID, helperID), nil
}

func (t *memTx) CountLane(_ context.Context, businessID, helperID string) (int, error) {
	return len(listLane(t.all(), businessID, helperID)), nil
}

func (t *memTx) ListLiveByBusiness(_ context.Context, businessID string, from, to time.Time) ([]*Entry, error) {
	return listLiveByBusiness(t.all(), businessID, from, to), nil
}

func (t *memTx) ListByHelper(_ context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByHelper(t.all(), businessID, helperID, from, to), nil
}

func (t *memTx) ListByUser(_ context.Context, userID string, from, to time.Time) ([]*Entry, error) {
	return listByUser(t.all(), userID, from, to), nil
}

func (t *memTx) ListByBusiness(_ context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByBusiness(t.all(), businessID, helperID, from, to), nil
}

func (t *memTx) SetBusinessActive(_ context.Context, id string, active bool) error {
	t.active[id] = active
	return nil
}

func (t *memTx) UpdateBusinessHelpers(_ context.Context, businessID string, helpers []catalog.Helper) error {
	t.helpers[businessID] = append([]catalog.Helper(nil), helpers...)
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, e *Entry) error {
	t.pending[e.ID] = e.Clone()
	return nil
}

func (t *memTx) UpdateEntry(_ context.Context, e *Entry) error {
	if _, ok := t.entry(e.ID); !ok {
		return apperr.NotFound("queue entry %s not found", e.ID)
	}
	t.pending[e.ID] = e.Clone()
	return nil
}

// Snapshot reads outside transactions.

func (m *Memory) snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

func (m *Memory) GetBusiness(ctx context.Context, id string) (*catalog.Business, error) {
	b, err := m.cat.GetBusiness(ctx, id)
	return b, mapNotFound(err, "business", id)
}

func (m *Memory) GetBusinessByHelper(ctx context.Context, helperID string) (*catalog.Business, error) {
	b, err := m.cat.GetBusinessByHelper(ctx, helperID)
	return b, mapNotFound(err, "business of helper", helperID)
}

func (m *Memory) GetService(ctx context.Context, id string) (*catalog.Service, error) {
	s, err := m.cat.GetService(ctx, id)
	return s, mapNotFound(err, "service", id)
}

func (m *Memory) GetUser(ctx context.Context, id string) (*catalog.User, error) {
	u, err := m.cat.GetUser(ctx, id)
	return u, mapNotFound(err, "user", id)
}

func (m *Memory) GetManualCustomer(ctx context.Context, id string) (*catalog.ManualCustomer, error) {
	mc, err := m.cat.GetManualCustomer(ctx, id)
	return mc, mapNotFound(err, "manual customer", id)
}

func (m *Memory) GetEntry(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperr.NotFound("queue entry %s not found", id)
	}
	return e.Clone(), nil
}

func (m *Memory) ListLane(_ context.Context, businessID, helperID string) ([]*Entry, error) {
	return listLane(m.snapshot(), businessID, helperID), nil
}

func (m *Memory) CountLane(_ context.Context, businessID, helperID string) (int, error) {
	return len(listLane(m.snapshot(), businessID, helperID)), nil
}

func (m *Memory) ListLiveByBusiness(_ context.Context, businessID string, from, to time.Time) ([]*Entry, error) {
	return listLiveByBusiness(m.snapshot(), businessID, from, to), nil
}

func (m *Memory) ListByHelper(_ context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByHelper(m.snapshot(), businessID, helperID, from, to), nil
}

func (m *Memory) ListByUser(_ context.Context, userID string, from, to time.Time) ([]*Entry, error) {
	return listByUser(m.snapshot(), userID, from, to), nil
}

func (m *Memory) ListByBusiness(_ context.Context, businessID, helperID string, from, to time.Time) ([]*Entry, error) {
	return listByBusiness(m.snapshot(), businessID, helperID, from, to), nil
}

// mapNotFound translates the catalog sentinel into the API error the
// engine propagates.
func mapNotFound(err error, what, id string) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return apperr.NotFound("%s %s not found", what, id)
	}
	return err
}

// Shared filters. All return clones so callers can mutate freely.

func inWindow(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && at.After(to) {
		return false
	}
	return true
}

func listLane(all []*Entry, businessID, helperID string) []*Entry {
	var out []*Entry
	for _, e := range all {
		if e.BusinessID == businessID && e.HelperID == helperID && e.Live() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPosition < out[j].CurrentPosition })
	return out
}

func listLiveByBusiness(all []*Entry, businessID string, from, to time.Time) []*Entry {
	var out []*Entry
	for _, e := range all {
		if e.BusinessID == businessID && e.Live() && inWindow(e.JoiningTime, from, to) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoiningTime.Equal(out[j].JoiningTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoiningTime.Before(out[j].JoiningTime)
	})
	return out
}

func listByHelper(all []*Entry, businessID, helperID string, from, to time.Time) []*Entry {
	var out []*Entry
	for _, e := range all {
		if e.BusinessID == businessID && e.HelperID == helperID && e.Live() && inWindow(e.JoiningTime, from, to) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentPosition != out[j].CurrentPosition {
			return out[i].CurrentPosition < out[j].CurrentPosition
		}
		return out[i].JoiningTime.Before(out[j].JoiningTime)
	})
	return out
}

func listByUser(all []*Entry, userID string, from, to time.Time) []*Entry {
	var out []*Entry
	for _, e := range all {
		if e.UserID == userID && inWindow(e.JoiningTime, from, to) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoiningTime.After(out[j].JoiningTime) })
	return out
}

func listByBusiness(all []*Entry, businessID, helperID string, from, to time.Time) []*Entry {
	var out []*Entry
	for _, e := range all {
		if e.BusinessID != businessID || !inWindow(e.JoiningTime, from, to) {
			continue
		}
		if helperID != "" && e.HelperID != helperID {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoiningTime.After(out[j].JoiningTime) })
	return out
}
