package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// ManualHandler manages walk-in customer records. Only the owner or a
// helper of the business can add or search them.
type ManualHandler struct {
	repo   catalog.Repository
	logger *logging.Logger
}

func NewManualHandler(repo catalog.Repository, logger *logging.Logger) *ManualHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ManualHandler{repo: repo, logger: logger.Component("http.manual")}
}

type manualCustomerView struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Gender     string `json:"gender"`
}

func viewManual(m *catalog.ManualCustomer) manualCustomerView {
	return manualCustomerView{
		ID:         m.ID,
		BusinessID: m.BusinessID,
		Name:       m.Name,
		Phone:      m.Phone,
		Gender:     string(m.Gender),
	}
}

type addManualRequest struct {
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Gender     string `json:"gender"`
}

// Add handles POST /api/v1/customers/manual.
func (h *ManualHandler) Add(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body addManualRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("name is required"))
		return
	}
	gender := catalog.Gender(body.Gender)
	if !catalog.ValidGender(gender) {
		respondErr(w, h.logger, apperr.InvalidArgument("gender must be male, female, or child"))
		return
	}
	if err := h.authorize(r, p.ID, body.BusinessID); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	m := &catalog.ManualCustomer{
		ID:         uuid.NewString(),
		BusinessID: body.BusinessID,
		Name:       strings.TrimSpace(body.Name),
		Phone:      strings.TrimSpace(body.Phone),
		Gender:     gender,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.CreateManualCustomer(r.Context(), m); err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	respond(w, http.StatusCreated, "walk-in added", viewManual(m))
}

const manualSearchLimit = 20

// Search handles GET /api/v1/customers/manual/search?businessId&q.
func (h *ManualHandler) Search(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	businessID := r.URL.Query().Get("businessId")
	if businessID == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("businessId is required"))
		return
	}
	if err := h.authorize(r, p.ID, businessID); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	matches, err := h.repo.SearchManualCustomers(r.Context(), businessID,
		strings.TrimSpace(r.URL.Query().Get("q")), manualSearchLimit)
	if err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	views := make([]manualCustomerView, 0, len(matches))
	for i := range matches {
		views = append(views, viewManual(&matches[i]))
	}
	respond(w, http.StatusOK, "walk-ins", views)
}

func (h *ManualHandler) authorize(r *http.Request, userID, businessID string) error {
	biz, err := h.repo.GetBusiness(r.Context(), businessID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return apperr.NotFound("business %s not found", businessID)
		}
		return apperr.Internal(err)
	}
	if biz.Deleted {
		return apperr.NotFound("business %s not found", businessID)
	}
	if !biz.IsVendor(userID) {
		return apperr.Forbidden("only the owner or a helper can manage walk-ins")
	}
	return nil
}
