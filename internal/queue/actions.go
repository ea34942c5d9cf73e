package queue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
)

// ActionRequest applies one action to one entry. Minutes is only read
// for add_time.
type ActionRequest struct {
	BusinessID string
	EntryID    string
	Action     Action
	Minutes    int
}

// ActionResult is the mutated entry plus the summary of the rebalance
// the action triggered.
type ActionResult struct {
	Entry       *Entry             `json:"entry"`
	Restructure *RestructureResult `json:"restructure"`
}

// ApplyAction runs one action transaction and then the rebalance, both
// under the business mutex, and publishes notifications only after
// both committed. Vendors may apply every action; a customer may only
// remove their own entry.
func (e *Engine) ApplyAction(ctx context.Context, p identity.Principal, req ActionRequest) (*ActionResult, error) {
	ctx, sp := tracer.Start(ctx, "engine.apply_action")
	defer sp.End()
	sp.SetAttributes(
		attribute.String("waitline.business_id", req.BusinessID),
		attribute.String("waitline.action", string(req.Action)),
	)

	if req.BusinessID == "" || req.EntryID == "" {
		return nil, apperr.InvalidArgument("businessId and entryId are required")
	}
	if !ValidAction(req.Action) {
		return nil, apperr.InvalidArgument("unknown action %q", req.Action)
	}
	if req.Action == ActionAddTime && req.Minutes <= 0 {
		return nil, apperr.InvalidArgument("minutes must be positive for add_time")
	}

	e.locks.Lock(req.BusinessID)
	defer e.locks.Unlock(req.BusinessID)

	start := time.Now()
	var (
		target  *Entry
		intents []notify.Intent
	)
	err := e.runWriteLocked(ctx, func(ctx context.Context, tx Tx) error {
		biz, err := tx.GetBusiness(ctx, req.BusinessID)
		if err != nil {
			return err
		}
		if biz.Deleted || biz.Suspended {
			return apperr.NotFound("business %s not found", req.BusinessID)
		}
		entry, err := tx.GetEntry(ctx, req.EntryID)
		if err != nil {
			return err
		}
		if entry.BusinessID != req.BusinessID {
			return apperr.NotFound("entry %s not found", req.EntryID)
		}

		source := SourceVendor
		switch {
		case p.Vendor() && biz.IsVendor(p.ID):
		case req.Action == ActionRemove && entry.Registered() && entry.UserID == p.ID:
			source = SourceUser
		default:
			return apperr.Forbidden("not allowed to act on this entry")
		}

		target = entry
		intents, err = e.applyActionTx(ctx, tx, biz, entry, source, req)
		return err
	})
	if err != nil {
		e.metrics.ObserveAction(string(req.Action), "error", time.Since(start).Seconds())
		return nil, err
	}

	// The action committed; the rebalance runs in its own transaction
	// so its failure never rolls the action back.
	restructure, moreIntents, rerr := e.restructureLocked(ctx, req.BusinessID)
	if rerr != nil {
		e.logger.Error("restructure after action failed", "business_id", req.BusinessID, "error", rerr)
		restructure = &RestructureResult{}
	}
	e.publish("action", intents)
	e.publish("restructure", moreIntents)
	e.metrics.ObserveAction(string(req.Action), "ok", time.Since(start).Seconds())
	e.committed(req.BusinessID)
	return &ActionResult{Entry: target, Restructure: restructure}, nil
}

// applyActionTx mutates the entry (and, for skip, its lane neighbor)
// inside the action transaction and returns the notifications to send
// once it commits.
func (e *Engine) applyActionTx(ctx context.Context, tx Tx, biz *catalog.Business, entry *Entry, source Source, req ActionRequest) ([]notify.Intent, error) {
	// Terminal entries admit no action except undoing the removal or
	// completion itself.
	if entry.Status.Terminal() && req.Action != ActionUndo {
		return nil, apperr.FailedPrecondition("entry is no longer in the queue")
	}
	svc, err := tx.GetService(ctx, entry.ServiceID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	var mutated []*Entry
	switch req.Action {
	case ActionSkip:
		mutated, err = e.applySkip(ctx, tx, entry, svc, source, now)
	case ActionHold:
		mutated, err = applyHold(entry, source, now)
	case ActionUnhold:
		mutated, err = applyUnhold(entry, source, now)
	case ActionRemove:
		mutated, err = applyRemove(entry, source, now)
	case ActionNext:
		mutated, err = applyNext(entry, source, now)
	case ActionAddTime:
		mutated, err = applyAddTime(entry, svc, source, now, req.Minutes)
	case ActionUndo:
		mutated, err = e.applyUndo(ctx, tx, entry, svc, now)
	default:
		return nil, apperr.InvalidArgument("unknown action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}

	var intents []notify.Intent
	users := map[string]*catalog.User{}
	for _, m := range mutated {
		if err := tx.UpdateEntry(ctx, m); err != nil {
			return nil, err
		}
		body := actionBody(req.Action, m, entry, source)
		if body == "" || !m.Registered() {
			continue
		}
		user, err := e.lookupUser(ctx, tx, users, m.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil || !user.Reachable() {
			continue
		}
		intents = append(intents, notify.Intent{
			To:    user.PushToken,
			Title: biz.Name,
			Body:  body,
			Data:  map[string]any{"entryId": m.ID, "businessId": biz.ID},
		})
	}
	return intents, nil
}

// applySkip swaps the entry with the next waiting entry behind it and
// marks it skipped. Held or already-skipped entries cannot yield, and
// the tail of a lane has no one to yield to.
func (e *Engine) applySkip(ctx context.Context, tx Tx, entry *Entry, svc *catalog.Service, source Source, now time.Time) ([]*Entry, error) {
	if entry.Status != StatusInQueue {
		return nil, apperr.FailedPrecondition("only a waiting entry can be skipped")
	}
	next, err := nextWaiting(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, apperr.FailedPrecondition("no entry behind to skip past")
	}
	nextSvc, err := tx.GetService(ctx, next.ServiceID)
	if err != nil {
		return nil, err
	}

	prevPos := entry.CurrentPosition
	entry.CurrentPosition, next.CurrentPosition = next.CurrentPosition, entry.CurrentPosition
	entry.Status = StatusSkipped
	entry.recomputeETA(now, svc.DurationMinutes)
	next.recomputeETA(now, nextSvc.DurationMinutes)

	entry.appendEvent(HistoryEvent{
		Action:       ActionSkip,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(prevPos),
		NewPosition:  intPtr(entry.CurrentPosition),
		EstWait:      intPtr(entry.EstWaitMinutes),
	})
	next.appendEvent(HistoryEvent{
		Action:       ActionEdit,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(entry.CurrentPosition),
		NewPosition:  intPtr(next.CurrentPosition),
		EstWait:      intPtr(next.EstWaitMinutes),
	})
	return []*Entry{entry, next}, nil
}

func applyHold(entry *Entry, source Source, now time.Time) ([]*Entry, error) {
	if entry.Status != StatusInQueue {
		return nil, apperr.FailedPrecondition("only a waiting entry can be held")
	}
	entry.Status = StatusHold
	entry.appendEvent(HistoryEvent{
		Action:       ActionHold,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(entry.CurrentPosition),
		EstWait:      intPtr(entry.EstWaitMinutes),
	})
	return []*Entry{entry}, nil
}

func applyUnhold(entry *Entry, source Source, now time.Time) ([]*Entry, error) {
	if entry.Status != StatusHold {
		return nil, apperr.FailedPrecondition("entry is not on hold")
	}
	entry.Status = StatusInQueue
	entry.appendEvent(HistoryEvent{
		Action:       ActionUnhold,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(entry.CurrentPosition),
		EstWait:      intPtr(entry.EstWaitMinutes),
	})
	return []*Entry{entry}, nil
}

func applyRemove(entry *Entry, source Source, now time.Time) ([]*Entry, error) {
	entry.Status = StatusRemoved
	entry.appendEvent(HistoryEvent{
		Action:       ActionRemove,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(entry.CurrentPosition),
	})
	return []*Entry{entry}, nil
}

// applyNext completes the entry. Only the head of a lane can be
// served, and a held head must be released first.
func applyNext(entry *Entry, source Source, now time.Time) ([]*Entry, error) {
	if entry.CurrentPosition != 1 {
		return nil, apperr.FailedPrecondition("only the entry at position 1 can be completed")
	}
	if entry.Status != StatusInQueue {
		return nil, apperr.FailedPrecondition("only a waiting entry can be completed")
	}
	entry.Status = StatusCompleted
	entry.EstWaitMinutes = 0
	entry.EstServiceStart = now
	entry.appendEvent(HistoryEvent{
		Action:       ActionNext,
		Source:       source,
		At:           now,
		PrevPosition: intPtr(1),
	})
	return []*Entry{entry}, nil
}

func applyAddTime(entry *Entry, svc *catalog.Service, source Source, now time.Time, minutes int) ([]*Entry, error) {
	entry.AddedMinutes += minutes
	entry.recomputeETA(now, svc.DurationMinutes)
	entry.appendEvent(HistoryEvent{
		Action:    ActionAddTime,
		Source:    source,
		At:        now,
		AddedTime: intPtr(minutes),
		EstWait:   intPtr(entry.EstWaitMinutes),
	})
	return []*Entry{entry}, nil
}

// laneEntryAt returns the live entry at the given position in the
// target's lane, or nil.
func laneEntryAt(ctx context.Context, tx Tx, entry *Entry, position int) (*Entry, error) {
	lane, err := tx.ListLane(ctx, entry.BusinessID, entry.HelperID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range lane {
		if candidate.CurrentPosition == position && candidate.ID != entry.ID {
			return candidate, nil
		}
	}
	return nil, nil
}

// nextWaiting returns the nearest in_queue entry behind the target in
// its lane, or nil. Held and skipped entries between them are not swap
// partners.
func nextWaiting(ctx context.Context, tx Tx, entry *Entry) (*Entry, error) {
	lane, err := tx.ListLane(ctx, entry.BusinessID, entry.HelperID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range lane {
		if candidate.Status == StatusInQueue && candidate.CurrentPosition > entry.CurrentPosition {
			return candidate, nil
		}
	}
	return nil, nil
}

// actionBody renders the customer-facing message for one mutated
// entry, or "" when no message should go out.
func actionBody(action Action, m, target *Entry, source Source) string {
	if m.ID != target.ID {
		// The swap counterpart; its edit event carries the move.
		ev := m.History[len(m.History)-1]
		if ev.PrevPosition == nil || ev.NewPosition == nil {
			return ""
		}
		return fmt.Sprintf("Position: %d → %d. ETA: %d mins", *ev.PrevPosition, *ev.NewPosition, m.EstWaitMinutes)
	}
	switch action {
	case ActionSkip:
		return fmt.Sprintf("Position: %d → %d. ETA: %d mins", m.CurrentPosition-1, m.CurrentPosition, m.EstWaitMinutes)
	case ActionHold:
		return fmt.Sprintf("On HOLD at position %d. ETA: %d mins", m.CurrentPosition, m.EstWaitMinutes)
	case ActionUnhold:
		return fmt.Sprintf("Back in line at position %d. ETA: %d mins", m.CurrentPosition, m.EstWaitMinutes)
	case ActionRemove:
		if source == SourceUser {
			return ""
		}
		return "You have been removed from the queue."
	case ActionNext:
		return "It's your turn now."
	case ActionAddTime:
		return fmt.Sprintf("Your wait was extended. ETA: %d mins", m.EstWaitMinutes)
	case ActionUndo:
		if m.Status == StatusHold {
			return fmt.Sprintf("On HOLD at position %d. ETA: %d mins", m.CurrentPosition, m.EstWaitMinutes)
		}
		return fmt.Sprintf("Queue update: position %d. ETA: %d mins", m.CurrentPosition, m.EstWaitMinutes)
	}
	return ""
}
