package queue

import (
	"context"
	"time"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
)

// applyUndo inverts the most recent vendor action on the entry. Edit
// events written by rebalances are transparent to undo; only a
// vendor-sourced action inside the undo window qualifies, and each
// action can be undone once. The triggered rebalance repairs any lane
// gap the inversion leaves.
func (e *Engine) applyUndo(ctx context.Context, tx Tx, entry *Entry, svc *catalog.Service, now time.Time) ([]*Entry, error) {
	ev := entry.lastActionEvent()
	if ev == nil {
		return nil, apperr.FailedPrecondition("nothing to undo")
	}
	if ev.Action == ActionUndo {
		return nil, apperr.FailedPrecondition("last action was already an undo")
	}
	if ev.Source != SourceVendor {
		return nil, apperr.FailedPrecondition("only vendor actions can be undone")
	}
	if now.Sub(ev.At) > e.undoWindow {
		return nil, apperr.InvalidArgument("undo window has passed")
	}

	prevPos := entry.CurrentPosition
	var mutated []*Entry
	switch ev.Action {
	case ActionSkip:
		counterpart, err := e.undoSkip(ctx, tx, entry, svc, ev, now)
		if err != nil {
			return nil, err
		}
		mutated = []*Entry{entry, counterpart}
	case ActionHold:
		if entry.Status != StatusHold {
			return nil, apperr.FailedPrecondition("entry is no longer on hold")
		}
		entry.Status = StatusInQueue
		mutated = []*Entry{entry}
	case ActionUnhold:
		if entry.Status != StatusInQueue {
			return nil, apperr.FailedPrecondition("entry left the queue since the unhold")
		}
		entry.Status = StatusHold
		mutated = []*Entry{entry}
	case ActionRemove:
		if entry.Status != StatusRemoved {
			return nil, apperr.FailedPrecondition("entry is not removed")
		}
		entry.Status = StatusInQueue
		if ev.PrevPosition != nil {
			entry.CurrentPosition = *ev.PrevPosition
		}
		entry.recomputeETA(now, svc.DurationMinutes)
		mutated = []*Entry{entry}
	case ActionNext:
		if entry.Status != StatusCompleted {
			return nil, apperr.FailedPrecondition("entry is not completed")
		}
		entry.Status = StatusInQueue
		entry.CurrentPosition = 1
		entry.recomputeETA(now, svc.DurationMinutes)
		mutated = []*Entry{entry}
	case ActionAddTime:
		if ev.AddedTime == nil {
			return nil, apperr.FailedPrecondition("nothing to undo")
		}
		entry.AddedMinutes -= *ev.AddedTime
		if entry.AddedMinutes < 0 {
			entry.AddedMinutes = 0
		}
		entry.recomputeETA(now, svc.DurationMinutes)
		mutated = []*Entry{entry}
	default:
		return nil, apperr.FailedPrecondition("action %s cannot be undone", ev.Action)
	}

	entry.appendEvent(HistoryEvent{
		Action:       ActionUndo,
		Source:       SourceVendor,
		At:           now,
		PrevPosition: intPtr(prevPos),
		NewPosition:  intPtr(entry.CurrentPosition),
		EstWait:      intPtr(entry.EstWaitMinutes),
	})
	return mutated, nil
}

// undoSkip swaps the entry back with whoever now holds its pre-skip
// position.
func (e *Engine) undoSkip(ctx context.Context, tx Tx, entry *Entry, svc *catalog.Service, ev *HistoryEvent, now time.Time) (*Entry, error) {
	if entry.Status != StatusSkipped {
		return nil, apperr.FailedPrecondition("entry is no longer skipped")
	}
	if ev.PrevPosition == nil {
		return nil, apperr.FailedPrecondition("skip event is missing its prior position")
	}
	counterpart, err := laneEntryAt(ctx, tx, entry, *ev.PrevPosition)
	if err != nil {
		return nil, err
	}
	if counterpart == nil {
		return nil, apperr.FailedPrecondition("the swapped entry has left the queue")
	}
	counterpartSvc, err := tx.GetService(ctx, counterpart.ServiceID)
	if err != nil {
		return nil, err
	}

	counterpartPrev := counterpart.CurrentPosition
	entry.CurrentPosition, counterpart.CurrentPosition = counterpart.CurrentPosition, entry.CurrentPosition
	entry.Status = StatusInQueue
	entry.recomputeETA(now, svc.DurationMinutes)
	counterpart.recomputeETA(now, counterpartSvc.DurationMinutes)
	counterpart.appendEvent(HistoryEvent{
		Action:       ActionEdit,
		Source:       SourceVendor,
		At:           now,
		PrevPosition: intPtr(counterpartPrev),
		NewPosition:  intPtr(counterpart.CurrentPosition),
		EstWait:      intPtr(counterpart.EstWaitMinutes),
	})
	return counterpart, nil
}
