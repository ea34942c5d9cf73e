package queue

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
)

// SetBusinessActive pauses or resumes the whole business. Only the
// owner may flip it. Pausing blocks new enqueues; existing entries stay
// live and are told the queue is paused. Resuming reruns the rebalance.
func (e *Engine) SetBusinessActive(ctx context.Context, p identity.Principal, businessID string, active bool) (*RestructureResult, error) {
	ctx, sp := tracer.Start(ctx, "engine.set_business_active")
	defer sp.End()
	sp.SetAttributes(
		attribute.String("waitline.business_id", businessID),
		attribute.Bool("waitline.active", active),
	)

	e.locks.Lock(businessID)
	defer e.locks.Unlock(businessID)

	var intents []notify.Intent
	err := e.runWriteLocked(ctx, func(ctx context.Context, tx Tx) error {
		intents = nil
		biz, err := loadVendorBusiness(ctx, tx, businessID, p)
		if err != nil {
			return err
		}
		if biz.OwnerID != p.ID {
			return apperr.Forbidden("only the owner can pause or resume the business")
		}
		if biz.Active == active {
			return nil
		}
		if err := tx.SetBusinessActive(ctx, businessID, active); err != nil {
			return err
		}
		if !active {
			now := e.clock.Now()
			entries, err := tx.ListLiveByBusiness(ctx, businessID, now.Add(-e.horizon), now)
			if err != nil {
				return err
			}
			intents, err = e.pausedIntents(ctx, tx, biz, entries)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish("pause", intents)

	result := &RestructureResult{}
	if active {
		var moreIntents []notify.Intent
		result, moreIntents, err = e.restructureLocked(ctx, businessID)
		if err != nil {
			return nil, err
		}
		e.publish("restructure", moreIntents)
	}
	e.committed(businessID)
	return result, nil
}

// SetHelperBreak puts one helper on break or brings them back. The
// owner may toggle anyone; a helper may only toggle themself. The
// rebalance then moves flexible entries off a resting helper and back
// when they return.
func (e *Engine) SetHelperBreak(ctx context.Context, p identity.Principal, businessID, helperID string, onBreak bool) (*RestructureResult, error) {
	ctx, sp := tracer.Start(ctx, "engine.set_helper_break")
	defer sp.End()
	sp.SetAttributes(
		attribute.String("waitline.business_id", businessID),
		attribute.String("waitline.helper_id", helperID),
		attribute.Bool("waitline.on_break", onBreak),
	)

	e.locks.Lock(businessID)
	defer e.locks.Unlock(businessID)

	err := e.runWriteLocked(ctx, func(ctx context.Context, tx Tx) error {
		biz, err := loadVendorBusiness(ctx, tx, businessID, p)
		if err != nil {
			return err
		}
		if biz.OwnerID != p.ID && helperID != p.ID {
			return apperr.Forbidden("helpers can only change their own break status")
		}
		h := biz.Helper(helperID)
		if h == nil || h.Status != catalog.HelperAccepted {
			return apperr.NotFound("helper %s not found", helperID)
		}
		if h.Active == !onBreak {
			return nil
		}
		h.Active = !onBreak
		return tx.UpdateBusinessHelpers(ctx, businessID, biz.Helpers)
	})
	if err != nil {
		return nil, err
	}

	result, intents, err := e.restructureLocked(ctx, businessID)
	if err != nil {
		return nil, err
	}
	e.publish("restructure", intents)
	e.committed(businessID)
	return result, nil
}
