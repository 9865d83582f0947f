package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"dutlab/backend/app/dto"
	"dutlab/backend/app/repo"
	"dutlab/backend/app/services"
	"dutlab/backend/global"
)

type DeviceController struct{ Queue *services.QueueService }

func NewDeviceController(queue *services.QueueService) *DeviceController {
	return &DeviceController{Queue: queue}
}

func (c *DeviceController) List(w http.ResponseWriter, r *http.Request) {
	views, err := c.Queue.Devices(r.Context())
	if err != nil {
		global.Logger.Error().Err(err).Msg("list devices")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (c *DeviceController) Drain(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, c.Queue.Drain)
}

func (c *DeviceController) Reset(w http.ResponseWriter, r *http.Request) {
	c.run(w, r, c.Queue.Reset)
}

func (c *DeviceController) run(w http.ResponseWriter, r *http.Request, op func(context.Context, int) (int, error)) {
	id, err := strconv.Atoi(r.URL.Query().Get("device_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	n, err := op(r.Context(), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not managed")
	case errors.Is(err, services.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, services.ErrDeviceActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		global.Logger.Error().Err(err).Int("device_id", id).Msg("device operation")
		writeError(w, http.StatusInternalServerError, "operation failed")
	default:
		writeJSON(w, http.StatusOK, dto.DrainResponse{DeviceID: id, Executed: n})
	}
}
