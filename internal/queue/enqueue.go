package queue

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
)

// UserType distinguishes registered enqueues from vendor-entered
// walk-ins.
type UserType string

const (
	UserTypeNormal UserType = "normal"
	UserTypeManual UserType = "manual"
)

// LineItem is one requested queue entry.
type LineItem struct {
	ServiceID  string
	Gender     catalog.Gender
	Preference Preference
	HelperID   string
}

// EnqueueRequest creates one entry per line item, atomically.
type EnqueueRequest struct {
	BusinessID string
	UserType   UserType
	ManualID   string
	Items      []LineItem
}

// Enqueue validates the request under one transaction and inserts
// every requested entry or none. ANY-preference items are assigned to
// the capable helper with the shortest live lane, ties broken by
// smallest helper id; counts include entries created earlier in the
// same request.
func (e *Engine) Enqueue(ctx context.Context, p identity.Principal, req EnqueueRequest) ([]*Entry, error) {
	ctx, sp := tracer.Start(ctx, "engine.enqueue")
	defer sp.End()
	sp.SetAttributes(
		attribute.String("waitline.business_id", req.BusinessID),
		attribute.Int("waitline.items", len(req.Items)),
	)

	if req.BusinessID == "" {
		return nil, apperr.InvalidArgument("businessId is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.InvalidArgument("at least one service is required")
	}
	switch req.UserType {
	case UserTypeNormal:
		if req.ManualID != "" {
			return nil, apperr.InvalidArgument("manualId must be absent for a normal enqueue")
		}
	case UserTypeManual:
		if req.ManualID == "" {
			return nil, apperr.InvalidArgument("manualId is required for a manual enqueue")
		}
	default:
		return nil, apperr.InvalidArgument("userType must be normal or manual")
	}
	for _, item := range req.Items {
		if item.ServiceID == "" {
			return nil, apperr.InvalidArgument("serviceId is required")
		}
		if !catalog.ValidGender(item.Gender) {
			return nil, apperr.InvalidArgument("gender must be male, female, or child")
		}
		switch item.Preference {
		case PreferenceAny:
			// Helper is chosen by the engine.
		case PreferenceSpecific:
			if item.HelperID == "" {
				return nil, apperr.InvalidArgument("helperId is required for a SPECIFIC preference")
			}
		default:
			return nil, apperr.InvalidArgument("preference must be ANY or SPECIFIC")
		}
	}

	var created []*Entry
	err := e.runWrite(ctx, req.BusinessID, func(ctx context.Context, tx Tx) error {
		created = nil

		biz, err := tx.GetBusiness(ctx, req.BusinessID)
		if err != nil {
			return err
		}
		if biz.Deleted || biz.Suspended {
			return apperr.NotFound("business %s not found", req.BusinessID)
		}
		if !biz.Active {
			return apperr.FailedPrecondition("business is currently paused")
		}

		var userID, manualID string
		var gender catalog.Gender
		switch req.UserType {
		case UserTypeNormal:
			user, err := tx.GetUser(ctx, p.ID)
			if err != nil {
				return err
			}
			if user.Deleted || user.Suspended || !user.Active {
				return apperr.FailedPrecondition("account unavailable")
			}
			userID = user.ID
			gender = user.Gender
		case UserTypeManual:
			if !p.Vendor() || !biz.IsVendor(p.ID) {
				return apperr.Forbidden("only the owner or a helper can enqueue a walk-in")
			}
			manual, err := tx.GetManualCustomer(ctx, req.ManualID)
			if err != nil {
				return err
			}
			if manual.BusinessID != req.BusinessID {
				return apperr.NotFound("manual customer %s not found", req.ManualID)
			}
			manualID = manual.ID
			gender = manual.Gender
		}

		now := e.clock.Now()
		for _, item := range req.Items {
			svc, err := tx.GetService(ctx, item.ServiceID)
			if err != nil {
				return err
			}
			if svc.Deleted || svc.BusinessID != req.BusinessID {
				return apperr.NotFound("service %s not found", item.ServiceID)
			}
			itemGender := item.Gender
			if itemGender == "" {
				itemGender = gender
			}
			if !svc.AllowsGender(itemGender) {
				return apperr.InvalidArgument("service %s does not accept gender %s", svc.Name, itemGender)
			}

			helperID, err := e.chooseHelper(ctx, tx, biz, svc, item)
			if err != nil {
				return err
			}

			k, err := tx.CountLane(ctx, req.BusinessID, helperID)
			if err != nil {
				return err
			}

			entry := &Entry{
				ID:              uuid.NewString(),
				BusinessID:      req.BusinessID,
				HelperID:        helperID,
				UserID:          userID,
				ManualID:        manualID,
				ServiceID:       svc.ID,
				Gender:          itemGender,
				Preference:      item.Preference,
				JoiningPosition: k + 1,
				CurrentPosition: k + 1,
				JoiningTime:     now,
				Status:          StatusInQueue,
				Total:           svc.Price,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			entry.recomputeETA(now, svc.DurationMinutes)
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			created = append(created, entry)
		}
		return nil
	})
	if err != nil {
		e.metrics.ObserveEnqueue("error", 1)
		return nil, err
	}
	e.metrics.ObserveEnqueue("ok", len(created))
	e.committed(req.BusinessID)
	return created, nil
}

// chooseHelper resolves the lane for one line item. SPECIFIC pins to
// the requested helper; ANY picks the shortest lane among capable
// helpers.
func (e *Engine) chooseHelper(ctx context.Context, tx Tx, biz *catalog.Business, svc *catalog.Service, item LineItem) (string, error) {
	if item.Preference == PreferenceSpecific {
		h := biz.Helper(item.HelperID)
		if h == nil {
			return "", apperr.NotFound("helper %s not found", item.HelperID)
		}
		if !h.Participates() {
			return "", apperr.FailedPrecondition("helper %s is not currently available", item.HelperID)
		}
		if !h.Supports(svc.ID) {
			return "", apperr.FailedPrecondition("helper %s does not offer this service", item.HelperID)
		}
		return h.HelperID, nil
	}

	best := ""
	bestCount := 0
	for _, h := range biz.ActiveHelpers() {
		if !h.Supports(svc.ID) {
			continue
		}
		count, err := tx.CountLane(ctx, biz.ID, h.HelperID)
		if err != nil {
			return "", err
		}
		// ActiveHelpers is sorted by id, so strict less keeps the
		// smallest id on ties.
		if best == "" || count < bestCount {
			best = h.HelperID
			bestCount = count
		}
	}
	if best == "" {
		return "", apperr.FailedPrecondition("no available helper offers this service")
	}
	return best, nil
}
