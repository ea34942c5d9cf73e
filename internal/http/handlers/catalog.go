package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// CatalogHandler manages businesses, services, and helper invites.
type CatalogHandler struct {
	repo   catalog.Repository
	logger *logging.Logger
}

func NewCatalogHandler(repo catalog.Repository, logger *logging.Logger) *CatalogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CatalogHandler{repo: repo, logger: logger.Component("http.catalog")}
}

type businessView struct {
	ID       string           `json:"id"`
	OwnerID  string           `json:"ownerId"`
	Name     string           `json:"name"`
	Timezone string           `json:"timezone"`
	Active   bool             `json:"active"`
	Helpers  []catalog.Helper `json:"helpers"`
}

func viewBusiness(b *catalog.Business) businessView {
	return businessView{
		ID:       b.ID,
		OwnerID:  b.OwnerID,
		Name:     b.Name,
		Timezone: b.Timezone,
		Active:   b.Active,
		Helpers:  b.Helpers,
	}
}

type serviceView struct {
	ID              string           `json:"id"`
	BusinessID      string           `json:"businessId"`
	Name            string           `json:"name"`
	DurationMinutes int              `json:"durationMinutes"`
	Price           float64          `json:"price"`
	AllowedGenders  []catalog.Gender `json:"allowedGenders,omitempty"`
}

func viewService(s *catalog.Service) serviceView {
	return serviceView{
		ID:              s.ID,
		BusinessID:      s.BusinessID,
		Name:            s.Name,
		DurationMinutes: s.DurationMinutes,
		Price:           s.Price,
		AllowedGenders:  s.AllowedGenders,
	}
}

type createBusinessRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

// CreateBusiness handles POST /api/v1/businesses. The caller becomes
// the owner.
func (h *CatalogHandler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body createBusinessRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if body.Name == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("name is required"))
		return
	}
	tz := body.Timezone
	if tz == "" {
		tz = "UTC"
	} else if _, err := time.LoadLocation(tz); err != nil {
		respondErr(w, h.logger, apperr.InvalidArgument("timezone %q is not a valid IANA zone", tz))
		return
	}
	now := time.Now().UTC()
	biz := &catalog.Business{
		ID:        uuid.NewString(),
		OwnerID:   p.ID,
		Name:      body.Name,
		Timezone:  tz,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateBusiness(r.Context(), biz); err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	respond(w, http.StatusCreated, "business created", viewBusiness(biz))
}

type createServiceRequest struct {
	Name            string   `json:"name"`
	DurationMinutes int      `json:"durationMinutes"`
	Price           float64  `json:"price"`
	AllowedGenders  []string `json:"allowedGenders,omitempty"`
}

// CreateService handles POST /api/v1/businesses/{businessId}/services.
func (h *CatalogHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	biz, err := h.ownedBusiness(r, p.ID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body createServiceRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if body.Name == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("name is required"))
		return
	}
	if body.DurationMinutes <= 0 {
		respondErr(w, h.logger, apperr.InvalidArgument("durationMinutes must be positive"))
		return
	}
	var genders []catalog.Gender
	for _, g := range body.AllowedGenders {
		gender := catalog.Gender(g)
		if !catalog.ValidGender(gender) {
			respondErr(w, h.logger, apperr.InvalidArgument("gender %q is not recognized", g))
			return
		}
		genders = append(genders, gender)
	}
	svc := &catalog.Service{
		ID:              uuid.NewString(),
		BusinessID:      biz.ID,
		Name:            body.Name,
		DurationMinutes: body.DurationMinutes,
		Price:           body.Price,
		AllowedGenders:  genders,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.repo.CreateService(r.Context(), svc); err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	respond(w, http.StatusCreated, "service created", viewService(svc))
}

// ListServices handles GET /api/v1/businesses/{businessId}/services.
func (h *CatalogHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.repo.ListServices(r.Context(), chi.URLParam(r, "businessId"))
	if err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	views := make([]serviceView, 0, len(services))
	for i := range services {
		views = append(views, viewService(&services[i]))
	}
	respond(w, http.StatusOK, "services", views)
}

type inviteHelperRequest struct {
	HelperID string   `json:"helperId"`
	Services []string `json:"services"`
}

// InviteHelper handles POST /api/v1/businesses/{businessId}/helpers.
// The invite sits pending until the helper responds.
func (h *CatalogHandler) InviteHelper(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	biz, err := h.ownedBusiness(r, p.ID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body inviteHelperRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if body.HelperID == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("helperId is required"))
		return
	}
	user, err := h.repo.GetUser(r.Context(), body.HelperID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondErr(w, h.logger, apperr.NotFound("user %s not found", body.HelperID))
			return
		}
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	if user.Role != catalog.RoleVendor {
		respondErr(w, h.logger, apperr.InvalidArgument("only ownerOrHelper accounts can be invited"))
		return
	}
	for _, id := range body.Services {
		if _, err := h.repo.GetService(r.Context(), id); err != nil {
			respondErr(w, h.logger, apperr.InvalidArgument("service %s not found", id))
			return
		}
	}
	if existing := biz.Helper(body.HelperID); existing != nil {
		if existing.Status == catalog.HelperAccepted || existing.Status == catalog.HelperPending {
			respondErr(w, h.logger, apperr.Conflict("helper already invited"))
			return
		}
		existing.Status = catalog.HelperPending
		existing.Active = true
		existing.Services = body.Services
	} else {
		biz.Helpers = append(biz.Helpers, catalog.Helper{
			HelperID: body.HelperID,
			Status:   catalog.HelperPending,
			Active:   true,
			Services: body.Services,
		})
	}
	if err := h.repo.UpdateBusinessHelpers(r.Context(), biz.ID, biz.Helpers); err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	respond(w, http.StatusOK, "helper invited", viewBusiness(biz))
}

type respondInviteRequest struct {
	BusinessID string `json:"businessId"`
	Accept     bool   `json:"accept"`
}

// RespondInvite handles POST /api/v1/helpers/respond. Only the invited
// helper can answer their own invite.
func (h *CatalogHandler) RespondInvite(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body respondInviteRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	biz, err := h.repo.GetBusiness(r.Context(), body.BusinessID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondErr(w, h.logger, apperr.NotFound("business %s not found", body.BusinessID))
			return
		}
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	helper := biz.Helper(p.ID)
	if helper == nil || helper.Status != catalog.HelperPending {
		respondErr(w, h.logger, apperr.NotFound("no pending invite for this business"))
		return
	}
	if body.Accept {
		helper.Status = catalog.HelperAccepted
	} else {
		helper.Status = catalog.HelperRejected
	}
	if err := h.repo.UpdateBusinessHelpers(r.Context(), biz.ID, biz.Helpers); err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	msg := "invite accepted"
	if !body.Accept {
		msg = "invite rejected"
	}
	respond(w, http.StatusOK, msg, viewBusiness(biz))
}

func (h *CatalogHandler) ownedBusiness(r *http.Request, userID string) (*catalog.Business, error) {
	id := chi.URLParam(r, "businessId")
	biz, err := h.repo.GetBusiness(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, apperr.NotFound("business %s not found", id)
		}
		return nil, apperr.Internal(err)
	}
	if biz.Deleted {
		return nil, apperr.NotFound("business %s not found", id)
	}
	if biz.OwnerID != userID {
		return nil, apperr.Forbidden("only the owner can manage this business")
	}
	return biz, nil
}
