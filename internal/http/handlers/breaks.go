package handlers

import (
	"net/http"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/queue"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// BreaksHandler pauses and resumes a whole business or a single helper.
type BreaksHandler struct {
	eng    *queue.Engine
	logger *logging.Logger
}

func NewBreaksHandler(eng *queue.Engine, logger *logging.Logger) *BreaksHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BreaksHandler{eng: eng, logger: logger.Component("http.breaks")}
}

type breakRequest struct {
	BusinessID string `json:"businessId"`
	HelperID   string `json:"helperId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Set handles POST /api/v1/breaks/set. With a helperId it benches that
// helper; without one it pauses the whole business.
func (h *BreaksHandler) Set(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, true)
}

// Resume handles POST /api/v1/breaks/resume.
func (h *BreaksHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, false)
}

func (h *BreaksHandler) apply(w http.ResponseWriter, r *http.Request, onBreak bool) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body breakRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if body.BusinessID == "" {
		respondErr(w, h.logger, apperr.InvalidArgument("businessId is required"))
		return
	}
	var result *queue.RestructureResult
	if body.HelperID != "" {
		result, err = h.eng.SetHelperBreak(r.Context(), p, body.BusinessID, body.HelperID, onBreak)
	} else {
		result, err = h.eng.SetBusinessActive(r.Context(), p, body.BusinessID, !onBreak)
	}
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	msg := "break started"
	if !onBreak {
		msg = "break ended"
	}
	respond(w, http.StatusOK, msg, result)
}
