package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/queue"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// QueueHandler exposes the engine operations.
type QueueHandler struct {
	eng    *queue.Engine
	logger *logging.Logger
}

func NewQueueHandler(eng *queue.Engine, logger *logging.Logger) *QueueHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueHandler{eng: eng, logger: logger.Component("http.queue")}
}

func principal(r *http.Request) (identity.Principal, error) {
	p, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Principal{}, apperr.Unauthorized("authentication required")
	}
	return p, nil
}

// entryResponse is the wire shape of one queue entry.
type entryResponse struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"businessId"`
	HelperID        string    `json:"helperId"`
	UserID          string    `json:"userId,omitempty"`
	ManualID        string    `json:"manualId,omitempty"`
	ServiceID       string    `json:"serviceId"`
	Gender          string    `json:"gender"`
	Preference      string    `json:"preference"`
	JoiningPosition int       `json:"joiningPosition"`
	CurrentPosition int       `json:"currentPosition"`
	JoiningTime     time.Time `json:"joiningTime"`
	EstServiceStart time.Time `json:"estServiceStart"`
	EstWaitMinutes  int       `json:"estWaitMinutes"`
	Status          string    `json:"status"`
	Total           float64   `json:"total"`
	Rating          *int      `json:"rating,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func viewEntry(e *queue.Entry) entryResponse {
	return entryResponse{
		ID:              e.ID,
		BusinessID:      e.BusinessID,
		HelperID:        e.HelperID,
		UserID:          e.UserID,
		ManualID:        e.ManualID,
		ServiceID:       e.ServiceID,
		Gender:          string(e.Gender),
		Preference:      string(e.Preference),
		JoiningPosition: e.JoiningPosition,
		CurrentPosition: e.CurrentPosition,
		JoiningTime:     e.JoiningTime,
		EstServiceStart: e.EstServiceStart,
		EstWaitMinutes:  e.EstWaitMinutes,
		Status:          string(e.Status),
		Total:           e.Total,
		Rating:          e.Rating,
		Notes:           e.Notes,
	}
}

func viewEntries(entries []*queue.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewEntry(e))
	}
	return out
}

type enqueueItem struct {
	ServiceID  string `json:"serviceId"`
	Gender     string `json:"gender"`
	Preference string `json:"preference"`
	HelperID   string `json:"helperId,omitempty"`
}

type enqueueRequest struct {
	BusinessID string        `json:"businessId"`
	UserType   string        `json:"userType"`
	ManualID   string        `json:"manualId,omitempty"`
	Services   []enqueueItem `json:"services"`
}

// Enqueue handles POST /api/v1/queue/enqueue.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body enqueueRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	req := queue.EnqueueRequest{
		BusinessID: body.BusinessID,
		UserType:   queue.UserType(body.UserType),
		ManualID:   body.ManualID,
	}
	for _, item := range body.Services {
		req.Items = append(req.Items, queue.LineItem{
			ServiceID:  item.ServiceID,
			Gender:     catalog.Gender(item.Gender),
			Preference: queue.Preference(item.Preference),
			HelperID:   item.HelperID,
		})
	}
	created, err := h.eng.Enqueue(r.Context(), p, req)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusCreated, "queued", viewEntries(created))
}

type actionRequest struct {
	Action    string `json:"action"`
	AddedTime int    `json:"addedTime,omitempty"`
}

// Action handles POST /api/v1/queue/{queueId}/action.
func (h *QueueHandler) Action(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body actionRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	entryID := chi.URLParam(r, "queueId")
	entry, err := h.eng.Store().GetEntry(r.Context(), entryID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	result, err := h.eng.ApplyAction(r.Context(), p, queue.ActionRequest{
		BusinessID: entry.BusinessID,
		EntryID:    entryID,
		Action:     queue.Action(body.Action),
		Minutes:    body.AddedTime,
	})
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	payload := struct {
		Entry       entryResponse            `json:"entry"`
		Restructure *queue.RestructureResult `json:"restructure,omitempty"`
	}{viewEntry(result.Entry), result.Restructure}
	respond(w, http.StatusOK, "action applied", payload)
}

type restructureRequest struct {
	BusinessID string `json:"businessId"`
	StartTime  string `json:"startTime,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
}

// Restructure handles POST /api/v1/queue/restructure.
func (h *QueueHandler) Restructure(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body restructureRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	from, err := parseBodyTime(body.StartTime, "startTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	to, err := parseBodyTime(body.EndTime, "endTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	result, err := h.eng.Restructure(r.Context(), p, body.BusinessID, from, to)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "restructured", result)
}

// HelperQueue handles GET /api/v1/queue/helper/{helperId}.
func (h *QueueHandler) HelperQueue(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	helperID := chi.URLParam(r, "helperId")
	biz, err := h.eng.Store().GetBusinessByHelper(r.Context(), helperID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	view, err := h.eng.HelperQueue(r.Context(), p, biz.ID, helperID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "helper queue", view)
}

// WaitTimes handles GET /api/v1/queue/wait-times/{businessId}.
func (h *QueueHandler) WaitTimes(w http.ResponseWriter, r *http.Request) {
	waits, err := h.eng.HelperWaitTimes(r.Context(), chi.URLParam(r, "businessId"))
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "wait times", waits)
}

type ratingRequest struct {
	Rating int    `json:"rating"`
	Notes  string `json:"notes,omitempty"`
}

// Rating handles POST /api/v1/queue/{queueId}/rating.
func (h *QueueHandler) Rating(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body ratingRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	entry, err := h.eng.UpdateRating(r.Context(), p, chi.URLParam(r, "queueId"), body.Rating, body.Notes)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "rating saved", viewEntry(entry))
}

// UserHistory handles GET /api/v1/queue/history/user.
func (h *QueueHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	from, err := timeParam(r, "startTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	to, err := timeParam(r, "endTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	views, err := h.eng.UserHistory(r.Context(), p, from, to)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "history", views)
}

// BusinessHistory handles GET /api/v1/queue/history/business/{businessId}.
func (h *QueueHandler) BusinessHistory(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	from, err := timeParam(r, "startTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	to, err := timeParam(r, "endTime")
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	views, err := h.eng.BusinessHistory(r.Context(), p, chi.URLParam(r, "businessId"),
		r.URL.Query().Get("helperId"), from, to)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "history", views)
}

// RecentActions handles GET /api/v1/queue/helper/{helperId}/recent-actions.
func (h *QueueHandler) RecentActions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	helperID := chi.URLParam(r, "helperId")
	biz, err := h.eng.Store().GetBusinessByHelper(r.Context(), helperID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	records, err := h.eng.RecentHelperActions(r.Context(), p, biz.ID, helperID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondErr(w, h.logger, apperr.InvalidArgument("limit must be a positive integer"))
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}
	respond(w, http.StatusOK, "recent actions", records)
}

func parseBodyTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.InvalidArgument("%s must be RFC3339", name)
}
