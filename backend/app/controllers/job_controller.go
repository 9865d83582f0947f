package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"dutlab/artifact"
	"dutlab/backend/app/dto"
	"dutlab/backend/app/middleware"
	"dutlab/backend/app/repo"
	"dutlab/backend/app/services"
	"dutlab/backend/global"
	"dutlab/plugin"
)

type JobController struct {
	Queue     *services.QueueService
	Logs      *services.LogService
	Registry  *plugin.Registry
	Artifacts artifact.Store
}

func NewJobController(queue *services.QueueService, logs *services.LogService, reg *plugin.Registry, artifacts artifact.Store) *JobController {
	return &JobController{Queue: queue, Logs: logs, Registry: reg, Artifacts: artifacts}
}

// Submit blocks until a run-now job finishes; queued jobs answer 202.
func (c *JobController) Submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.TestName = strings.TrimSpace(req.TestName)
	if req.TestName == "" {
		writeError(w, http.StatusBadRequest, "test_name is required")
		return
	}
	if req.Iterations < 0 {
		writeError(w, http.StatusBadRequest, "iterations must not be negative")
		return
	}
	evt := global.Logger.Info().Str("request_id", middleware.RequestID(r.Context())).Int("device_id", req.DeviceID).Str("test", req.TestName)
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		evt = evt.Str("operator", claims.Username)
	}
	evt.Msg("job submitted")
	res := c.Queue.Submit(r.Context(), req)
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (c *JobController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	rec, err := c.Logs.Get(r.Context(), id)
	if err != nil {
		global.Logger.Error().Err(err).Uint64("job_id", id).Msg("get log record")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no result for job")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Artifact streams the plaintext capture of a job, or its error file when the
// plugin never started.
func (c *JobController) Artifact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("job_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	f, _, err := c.Artifacts.Open(id)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no capture for job")
		return
	}
	if err != nil {
		global.Logger.Error().Err(err).Uint64("job_id", id).Msg("open capture")
		writeError(w, http.StatusInternalServerError, "open failed")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

func (c *JobController) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.LogFilter{TestName: q.Get("test_name")}
	if raw := q.Get("device_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid device_id")
			return
		}
		f.DeviceID = &id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = limit
	}
	recs, err := c.Logs.List(r.Context(), f)
	if err != nil {
		global.Logger.Error().Err(err).Msg("list log records")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (c *JobController) Plugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.PluginsResponse{
		Remote: c.Registry.Names(plugin.Remote),
		Local:  c.Registry.Names(plugin.Local),
	})
}
