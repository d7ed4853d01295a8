// Package api implements the HTTP control API for the player daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/micro-nova/lpaplayer/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl   Controller
	events EventBus
}

// Controller is the interface the handlers use to drive playback.
type Controller interface {
	Status() models.Status
	Settings() models.Settings
	Start(ctx context.Context, req models.StartRequest) (models.Status, *models.AppError)
	Pause(drain bool) (models.Status, *models.AppError)
	Resume() (models.Status, *models.AppError)
	Seek(positionUs int64) (models.Status, *models.AppError)
	Reset() (models.Status, *models.AppError)
	SetRoute(remote bool) (models.Status, *models.AppError)
	Effects() models.Effects
	SetEffects(upd models.EffectsUpdate) (models.Effects, *models.AppError)
}

// EventBus is the interface for subscribing to player events.
type EventBus interface {
	Subscribe(id string) <-chan models.Event
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) *models.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// boolQuery reads an optional boolean query parameter.
func boolQuery(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, models.ErrInvalidField(name, "invalid "+name+" parameter")
	}
	return b, nil
}
