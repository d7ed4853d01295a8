package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/micro-nova/lpaplayer/internal/models"
)

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Settings())
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request) {
	// The body is optional: an empty one plays the configured media file.
	var req models.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	st, appErr := h.ctrl.Start(r.Context(), req)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) pause(w http.ResponseWriter, r *http.Request) {
	drain, err := boolQuery(r, "drain")
	if err != nil {
		writeError(w, err)
		return
	}
	st, appErr := h.ctrl.Pause(drain)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) resume(w http.ResponseWriter, r *http.Request) {
	st, appErr := h.ctrl.Resume()
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) seek(w http.ResponseWriter, r *http.Request) {
	var req models.SeekRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PositionUs == nil {
		writeError(w, models.ErrInvalidField("position_us", "position_us is required"))
		return
	}
	st, appErr := h.ctrl.Seek(*req.PositionUs)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) reset(w http.ResponseWriter, r *http.Request) {
	st, appErr := h.ctrl.Reset()
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) setRoute(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Remote == nil {
		writeError(w, models.ErrInvalidField("remote", "remote is required"))
		return
	}
	st, appErr := h.ctrl.SetRoute(*req.Remote)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) getEffects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Effects())
}

func (h *Handlers) setEffects(w http.ResponseWriter, r *http.Request) {
	var upd models.EffectsUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	cfg, appErr := h.ctrl.SetEffects(upd)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
