package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/reporting"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// ReportingHandler serves the daily service rollups to vendors.
type ReportingHandler struct {
	store  *reporting.Store
	repo   catalog.Repository
	logger *logging.Logger
}

func NewReportingHandler(store *reporting.Store, repo catalog.Repository, logger *logging.Logger) *ReportingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReportingHandler{store: store, repo: repo, logger: logger.Component("http.reporting")}
}

// Daily handles GET /api/v1/reporting/daily?businessId&day.
func (h *ReportingHandler) Daily(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if h.store == nil {
		respondErr(w, h.logger, apperr.FailedPrecondition("reporting is not configured"))
		return
	}
	businessID := r.URL.Query().Get("businessId")
	if businessID == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("businessId is required"))
		return
	}
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			respondErr(w, h.logger, apperr.InvalidArgument("day must be YYYY-MM-DD"))
			return
		}
	}
	biz, err := h.repo.GetBusiness(r.Context(), businessID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondErr(w, h.logger, apperr.NotFound("business %s not found", businessID))
			return
		}
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	if !biz.IsVendor(p.ID) {
		respondErr(w, h.logger, apperr.Forbidden("only the owner or a helper can view reports"))
		return
	}
	stats, err := h.store.Daily(r.Context(), businessID, day)
	if err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	respond(w, http.StatusOK, "daily stats", stats)
}
