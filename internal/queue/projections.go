package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
)

// EntryView is the API-facing shape of an entry, joined with its
// service and customer.
type EntryView struct {
	ID              string         `json:"id"`
	BusinessID      string         `json:"businessId"`
	HelperID        string         `json:"helperId"`
	CustomerName    string         `json:"customerName,omitempty"`
	Registered      bool           `json:"registered"`
	ServiceID       string         `json:"serviceId"`
	ServiceName     string         `json:"serviceName"`
	DurationMinutes int            `json:"durationMinutes"`
	Gender          catalog.Gender `json:"gender"`
	Preference      Preference     `json:"preference"`
	JoiningPosition int            `json:"joiningPosition"`
	CurrentPosition int            `json:"currentPosition"`
	JoiningTime     time.Time      `json:"joiningTime"`
	EstServiceStart time.Time      `json:"estServiceStart"`
	EstWaitMinutes  int            `json:"estWaitMinutes"`
	Status          Status         `json:"status"`
	Total           float64        `json:"total"`
	Rating          *int           `json:"rating,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	History         []HistoryEvent `json:"history,omitempty"`
}

// HelperQueueView is one helper's lane plus status counts across the
// business.
type HelperQueueView struct {
	HelperID string         `json:"helperId"`
	OnBreak  bool           `json:"onBreak"`
	Entries  []EntryView    `json:"entries"`
	Counts   map[Status]int `json:"counts"`
}

// HelperWait is the advertised wait for joining one helper's lane now
// for one of the services the helper offers.
type HelperWait struct {
	HelperID       string `json:"helperId"`
	ServiceID      string `json:"serviceId"`
	ServiceName    string `json:"serviceName"`
	QueueLength    int    `json:"queueLength"`
	EstWaitMinutes int    `json:"estWaitMinutes"`
}

// ActionRecord is one recent vendor action, flattened out of entry
// histories for the undo picker.
type ActionRecord struct {
	EntryID      string    `json:"entryId"`
	Action       Action    `json:"action"`
	Source       Source    `json:"source"`
	At           time.Time `json:"at"`
	PrevPosition *int      `json:"prevPosition,omitempty"`
	NewPosition  *int      `json:"newPosition,omitempty"`
	AddedTime    *int      `json:"addedTime,omitempty"`
}

// HelperQueue returns the live lane of one helper with joined service
// and customer details, vendor-only.
func (e *Engine) HelperQueue(ctx context.Context, p identity.Principal, businessID, helperID string) (*HelperQueueView, error) {
	biz, err := loadVendorBusiness(ctx, e.store, businessID, p)
	if err != nil {
		return nil, err
	}
	h := biz.Helper(helperID)
	if h == nil {
		return nil, apperr.NotFound("helper %s not found", helperID)
	}
	lane, err := e.store.ListLane(ctx, businessID, helperID)
	if err != nil {
		return nil, err
	}
	view := &HelperQueueView{
		HelperID: helperID,
		OnBreak:  !h.Active,
		Entries:  make([]EntryView, 0, len(lane)),
		Counts:   map[Status]int{},
	}
	for _, entry := range lane {
		ev, err := e.entryView(ctx, entry)
		if err != nil {
			return nil, err
		}
		view.Entries = append(view.Entries, *ev)
		view.Counts[entry.Status]++
	}
	return view, nil
}

func waitCacheKey(businessID string) string {
	return fmt.Sprintf("waitline:waits:%s", businessID)
}

// HelperWaitTimes returns, for each active helper and each service
// they support, the wait a new joiner would see: lane length times the
// service duration. Read through a short-lived Redis cache; any caller
// may read it.
func (e *Engine) HelperWaitTimes(ctx context.Context, businessID string) ([]HelperWait, error) {
	if e.cache != nil {
		raw, err := e.cache.Get(ctx, waitCacheKey(businessID)).Result()
		if err == nil {
			var waits []HelperWait
			if json.Unmarshal([]byte(raw), &waits) == nil {
				return waits, nil
			}
		} else if err != redis.Nil {
			e.logger.Warn("wait cache read failed", "business_id", businessID, "error", err)
		}
	}

	biz, err := e.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if biz.Deleted || biz.Suspended {
		return nil, apperr.NotFound("business %s not found", businessID)
	}
	services := map[string]*catalog.Service{}
	var waits []HelperWait
	for _, h := range biz.ActiveHelpers() {
		length, err := e.store.CountLane(ctx, businessID, h.HelperID)
		if err != nil {
			return nil, err
		}
		for _, serviceID := range h.Services {
			svc, ok := services[serviceID]
			if !ok {
				svc, err = e.store.GetService(ctx, serviceID)
				if err != nil {
					continue
				}
				services[serviceID] = svc
			}
			if svc.Deleted {
				continue
			}
			waits = append(waits, HelperWait{
				HelperID:       h.HelperID,
				ServiceID:      svc.ID,
				ServiceName:    svc.Name,
				QueueLength:    length,
				EstWaitMinutes: length * svc.DurationMinutes,
			})
		}
	}

	if e.cache != nil {
		if raw, err := json.Marshal(waits); err == nil {
			if err := e.cache.Set(ctx, waitCacheKey(businessID), raw, e.waitCacheTTL).Err(); err != nil {
				e.logger.Warn("wait cache write failed", "business_id", businessID, "error", err)
			}
		}
	}
	return waits, nil
}

// dropWaitCache invalidates the cached waits after a committed write.
func (e *Engine) dropWaitCache(businessID string) {
	if e.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.cache.Del(ctx, waitCacheKey(businessID)).Err(); err != nil {
		e.logger.Warn("wait cache invalidation failed", "business_id", businessID, "error", err)
	}
}

// RecentHelperActions flattens the still-undoable vendor actions on a
// helper's live entries, newest first, capped at ten. The undo picker
// reads it; edits and undos themselves are not undoable so they are
// excluded.
func (e *Engine) RecentHelperActions(ctx context.Context, p identity.Principal, businessID, helperID string) ([]ActionRecord, error) {
	if _, err := loadVendorBusiness(ctx, e.store, businessID, p); err != nil {
		return nil, err
	}
	now := e.clock.Now()
	entries, err := e.store.ListByHelper(ctx, businessID, helperID, now.Add(-e.horizon), now)
	if err != nil {
		return nil, err
	}
	var records []ActionRecord
	for _, entry := range entries {
		for _, ev := range entry.History {
			if ev.Action == ActionEdit || ev.Action == ActionUndo || ev.Source != SourceVendor {
				continue
			}
			if now.Sub(ev.At) > e.undoWindow {
				continue
			}
			records = append(records, ActionRecord{
				EntryID:      entry.ID,
				Action:       ev.Action,
				Source:       ev.Source,
				At:           ev.At,
				PrevPosition: ev.PrevPosition,
				NewPosition:  ev.NewPosition,
				AddedTime:    ev.AddedTime,
			})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].At.After(records[j].At) })
	if len(records) > 10 {
		records = records[:10]
	}
	return records, nil
}

// UserHistory returns the caller's own entries joined in [from, to],
// newest first.
func (e *Engine) UserHistory(ctx context.Context, p identity.Principal, from, to time.Time) ([]EntryView, error) {
	entries, err := e.store.ListByUser(ctx, p.ID, from, to)
	if err != nil {
		return nil, err
	}
	return e.entryViews(ctx, entries)
}

// BusinessHistory returns the business's entries joined in [from, to],
// newest first, optionally narrowed to one helper. Vendor-only.
func (e *Engine) BusinessHistory(ctx context.Context, p identity.Principal, businessID, helperID string, from, to time.Time) ([]EntryView, error) {
	if _, err := loadVendorBusiness(ctx, e.store, businessID, p); err != nil {
		return nil, err
	}
	entries, err := e.store.ListByBusiness(ctx, businessID, helperID, from, to)
	if err != nil {
		return nil, err
	}
	return e.entryViews(ctx, entries)
}

// UpdateRating records a one-time rating on the caller's own completed
// entry.
func (e *Engine) UpdateRating(ctx context.Context, p identity.Principal, entryID string, rating int, notes string) (*Entry, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.InvalidArgument("rating must be between 1 and 5")
	}
	probe, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var updated *Entry
	err = e.runWrite(ctx, probe.BusinessID, func(ctx context.Context, tx Tx) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !entry.Registered() || entry.UserID != p.ID {
			return apperr.Forbidden("not your entry")
		}
		if entry.Status != StatusCompleted {
			return apperr.FailedPrecondition("only completed visits can be rated")
		}
		if entry.Rating != nil {
			return apperr.FailedPrecondition("this visit is already rated")
		}
		entry.Rating = intPtr(rating)
		entry.Notes = notes
		entry.UpdatedAt = e.clock.Now()
		updated = entry
		return tx.UpdateEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Engine) entryViews(ctx context.Context, entries []*Entry) ([]EntryView, error) {
	views := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		ev, err := e.entryView(ctx, entry)
		if err != nil {
			return nil, err
		}
		views = append(views, *ev)
	}
	return views, nil
}

// entryView joins one entry with its service and customer names.
// Lookups are best-effort: a deleted account never hides the entry.
func (e *Engine) entryView(ctx context.Context, entry *Entry) (*EntryView, error) {
	view := &EntryView{
		ID:              entry.ID,
		BusinessID:      entry.BusinessID,
		HelperID:        entry.HelperID,
		Registered:      entry.Registered(),
		ServiceID:       entry.ServiceID,
		Gender:          entry.Gender,
		Preference:      entry.Preference,
		JoiningPosition: entry.JoiningPosition,
		CurrentPosition: entry.CurrentPosition,
		JoiningTime:     entry.JoiningTime,
		EstServiceStart: entry.EstServiceStart,
		EstWaitMinutes:  entry.EstWaitMinutes,
		Status:          entry.Status,
		Total:           entry.Total,
		Rating:          entry.Rating,
		Notes:           entry.Notes,
		History:         entry.History,
	}
	if svc, err := e.store.GetService(ctx, entry.ServiceID); err == nil {
		view.ServiceName = svc.Name
		view.DurationMinutes = svc.DurationMinutes
	}
	if entry.Registered() {
		if user, err := e.store.GetUser(ctx, entry.UserID); err == nil {
			view.CustomerName = user.Email
		}
	} else if entry.ManualID != "" {
		if manual, err := e.store.GetManualCustomer(ctx, entry.ManualID); err == nil {
			view.CustomerName = manual.Name
		}
	}
	return view, nil
}
