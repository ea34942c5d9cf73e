package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
)

// RestructureResult summarizes one rebalance run.
type RestructureResult struct {
	UpdatedCount      int `json:"updatedCount"`
	NotificationsSent int `json:"notificationsSent"`
	ActiveHelpers     int `json:"activeHelpers"`
	TotalQueues       int `json:"totalQueues"`
}

// Restructure rebalances every lane of the business and notifies
// customers whose placement materially changed. Vendors may call it
// directly with an explicit joining-time window; zero bounds default
// to the engine horizon. Every action and break change also triggers
// it.
func (e *Engine) Restructure(ctx context.Context, p identity.Principal, businessID string, from, to time.Time) (*RestructureResult, error) {
	ctx, sp := tracer.Start(ctx, "engine.restructure")
	defer sp.End()
	sp.SetAttributes(attribute.String("waitline.business_id", businessID))

	e.locks.Lock(businessID)
	defer e.locks.Unlock(businessID)

	start := time.Now()
	var (
		result  *RestructureResult
		intents []notify.Intent
	)
	err := e.runWriteLocked(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := loadVendorBusiness(ctx, tx, businessID, p); err != nil {
			return err
		}
		var err error
		result, intents, err = e.restructureTx(ctx, tx, businessID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveRestructure(time.Since(start).Seconds())
	e.publish("restructure", intents)
	result.NotificationsSent = len(intents)
	e.committed(businessID)
	return result, nil
}

// restructureLocked reruns the rebalance in its own transaction for
// callers already holding the business mutex. It returns the intents
// for the caller to publish after its own notifications.
func (e *Engine) restructureLocked(ctx context.Context, businessID string) (*RestructureResult, []notify.Intent, error) {
	start := time.Now()
	var (
		result  *RestructureResult
		intents []notify.Intent
	)
	err := e.runWriteLocked(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		result, intents, err = e.restructureTx(ctx, tx, businessID, time.Time{}, time.Time{})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	e.metrics.ObserveRestructure(time.Since(start).Seconds())
	result.NotificationsSent = len(intents)
	return result, intents, nil
}

// restructureTx is the rebalance itself, run inside one transaction.
//
// Every live entry within the horizon lands in the lane of exactly one
// participating helper, positions dense from 1. Entries that stay on
// their current helper keep their relative order by current position,
// so action-made swaps survive the rerun; displaced entries (their
// helper stopped participating or dropped the service) are reassigned
// FCFS to the shortest capable lane, appended after the retained ones.
// SPECIFIC entries never move: if their helper is out they wait
// untouched. Running twice back to back changes nothing the second
// time.
func (e *Engine) restructureTx(ctx context.Context, tx Tx, businessID string, from, to time.Time) (*RestructureResult, []notify.Intent, error) {
	biz, err := tx.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, nil, err
	}
	now := e.clock.Now()
	if from.IsZero() {
		from = now.Add(-e.horizon)
	}
	if to.IsZero() {
		to = now
	}
	entries, err := tx.ListLiveByBusiness(ctx, businessID, from, to)
	if err != nil {
		return nil, nil, err
	}

	active := biz.ActiveHelpers()
	result := &RestructureResult{ActiveHelpers: len(active)}
	if !biz.Active {
		// A paused business already told its customers; leave the
		// lanes frozen until resume.
		return result, nil, nil
	}
	if len(active) == 0 {
		// Nothing to balance. Tell waiting customers the queue is
		// paused rather than silently freezing their ETAs.
		intents, err := e.pausedIntents(ctx, tx, biz, entries)
		return result, intents, err
	}

	services := map[string]*catalog.Service{}
	serviceOf := func(id string) (*catalog.Service, error) {
		if svc, ok := services[id]; ok {
			return svc, nil
		}
		svc, err := tx.GetService(ctx, id)
		if err != nil {
			return nil, err
		}
		services[id] = svc
		return svc, nil
	}
	capableCount := func(serviceID string) int {
		n := 0
		for _, h := range active {
			if h.Supports(serviceID) {
				n++
			}
		}
		return n
	}

	// Partition. Entries whose helper still participates stay in that
	// lane: SPECIFIC pins there, and a lane with no capable helper at
	// all keeps its entries rather than stranding them. Everything
	// else with at least one capable helper is displaced and gets
	// reassigned; a SPECIFIC entry whose helper stopped participating
	// is treated as flexible.
	buckets := map[string][]*Entry{}
	var displaced []*Entry
	for _, entry := range entries {
		cur := biz.Helper(entry.HelperID)
		participating := cur != nil && cur.Participates()
		switch {
		case participating && (entry.Preference == PreferenceSpecific ||
			cur.Supports(entry.ServiceID) || capableCount(entry.ServiceID) == 0):
			buckets[entry.HelperID] = append(buckets[entry.HelperID], entry)
		case capableCount(entry.ServiceID) > 0:
			displaced = append(displaced, entry)
		}
	}
	for _, lane := range buckets {
		sort.SliceStable(lane, func(i, j int) bool {
			if lane[i].CurrentPosition != lane[j].CurrentPosition {
				return lane[i].CurrentPosition < lane[j].CurrentPosition
			}
			return lane[i].JoiningTime.Before(lane[j].JoiningTime)
		})
	}

	// ListLiveByBusiness is FCFS ordered, so displaced keeps joining
	// order; each one goes to the shortest capable lane, ties to the
	// smallest helper id.
	for _, entry := range displaced {
		best := ""
		bestLen := 0
		for _, h := range active {
			if !h.Supports(entry.ServiceID) {
				continue
			}
			if n := len(buckets[h.HelperID]); best == "" || n < bestLen {
				best = h.HelperID
				bestLen = n
			}
		}
		buckets[best] = append(buckets[best], entry)
	}

	// Balance. A lane two or more deeper than another sheds its
	// earliest flexible non-head entry to the shortest capable lane
	// until lanes are within one of each other. Heads, holds, and
	// SPECIFIC entries never move; balanced lanes never churn, so a
	// rerun is a no-op.
	for {
		minID, maxID := "", ""
		for _, h := range active {
			n := len(buckets[h.HelperID])
			if minID == "" || n < len(buckets[minID]) {
				minID = h.HelperID
			}
			if maxID == "" || n > len(buckets[maxID]) {
				maxID = h.HelperID
			}
		}
		if minID == maxID || len(buckets[maxID]) < len(buckets[minID])+2 {
			break
		}
		src := buckets[maxID]
		dst := biz.Helper(minID)
		moved := -1
		for i := 1; i < len(src); i++ {
			if src[i].Preference != PreferenceAny || src[i].Status == StatusHold {
				continue
			}
			if dst.Supports(src[i].ServiceID) {
				moved = i
				break
			}
		}
		if moved < 0 {
			break
		}
		entry := src[moved]
		buckets[maxID] = append(src[:moved:moved], src[moved+1:]...)
		buckets[minID] = append(buckets[minID], entry)
	}

	var intents []notify.Intent
	users := map[string]*catalog.User{}
	for _, h := range active {
		lane := buckets[h.HelperID]
		if len(lane) == 0 {
			continue
		}
		result.TotalQueues++
		for i, entry := range lane {
			svc, err := serviceOf(entry.ServiceID)
			if err != nil {
				return nil, nil, err
			}
			newPos := i + 1
			newWait := (newPos-1)*svc.DurationMinutes + entry.AddedMinutes
			if entry.HelperID == h.HelperID && entry.CurrentPosition == newPos && entry.EstWaitMinutes == newWait {
				continue
			}
			prevPos, prevWait, prevHelper := entry.CurrentPosition, entry.EstWaitMinutes, entry.HelperID
			entry.HelperID = h.HelperID
			entry.CurrentPosition = newPos
			entry.recomputeETA(now, svc.DurationMinutes)
			ev := HistoryEvent{
				Action:       ActionEdit,
				Source:       SourceVendor,
				At:           now,
				PrevPosition: intPtr(prevPos),
				NewPosition:  intPtr(newPos),
				EstWait:      intPtr(entry.EstWaitMinutes),
			}
			if prevHelper != h.HelperID {
				ev.NewlyAssignedHelperID = h.HelperID
			}
			entry.appendEvent(ev)
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return nil, nil, err
			}
			result.UpdatedCount++

			material := prevHelper != entry.HelperID || prevPos != entry.CurrentPosition ||
				abs(entry.EstWaitMinutes-prevWait) >= e.materialWaitDelta
			if !material || !entry.Registered() {
				continue
			}
			user, err := e.lookupUser(ctx, tx, users, entry.UserID)
			if err != nil {
				return nil, nil, err
			}
			if user == nil || !user.Reachable() {
				continue
			}
			intents = append(intents, notify.Intent{
				To:    user.PushToken,
				Title: biz.Name,
				Body:  placementBody(entry, prevPos, prevHelper),
				Data:  map[string]any{"entryId": entry.ID, "businessId": biz.ID},
			})
		}
	}
	return result, intents, nil
}

// placementBody renders the customer-facing message for a changed
// placement.
func placementBody(entry *Entry, prevPos int, prevHelper string) string {
	var body string
	if entry.Status == StatusHold {
		body = fmt.Sprintf("On HOLD at position %d. ETA: %d mins", entry.CurrentPosition, entry.EstWaitMinutes)
	} else {
		body = fmt.Sprintf("Position: %d → %d. ETA: %d mins", prevPos, entry.CurrentPosition, entry.EstWaitMinutes)
	}
	if prevHelper != entry.HelperID {
		body += " Helper reassigned."
	}
	return body
}

// pausedIntents notifies every reachable registered customer still in
// line that no helper is available.
func (e *Engine) pausedIntents(ctx context.Context, tx Tx, biz *catalog.Business, entries []*Entry) ([]notify.Intent, error) {
	var intents []notify.Intent
	users := map[string]*catalog.User{}
	for _, entry := range entries {
		if !entry.Registered() {
			continue
		}
		user, err := e.lookupUser(ctx, tx, users, entry.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.Reachable() {
			continue
		}
		intents = append(intents, notify.Intent{
			To:    user.PushToken,
			Title: biz.Name,
			Body:  "Queue paused: no helpers are currently available.",
			Data:  map[string]any{"entryId": entry.ID, "businessId": biz.ID},
		})
	}
	return intents, nil
}

func (e *Engine) lookupUser(ctx context.Context, tx Tx, cache map[string]*catalog.User, id string) (*catalog.User, error) {
	if user, ok := cache[id]; ok {
		return user, nil
	}
	user, err := tx.GetUser(ctx, id)
	if err != nil {
		// The entry outliving its account is not a rebalance failure.
		e.logger.Warn("user lookup failed during restructure", "user_id", id, "error", err)
		cache[id] = nil
		return nil, nil
	}
	cache[id] = user
	return user, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
