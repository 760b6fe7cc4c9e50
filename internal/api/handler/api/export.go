package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/newthinker/keywatch/internal/api/job"
	"github.com/newthinker/keywatch/internal/api/response"
	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

const exportTimeout = 10 * time.Minute

// ExportApp defines the interface needed from app.App.
type ExportApp interface {
	Export(ctx context.Context, collector, keyword string, start, end time.Time) (string, error)
}

// ExportRequest is the request body for starting an export.
type ExportRequest struct {
	Collector string `json:"collector"`
	Keyword   string `json:"keyword"`
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
}

// ExportHandler runs archive exports as background jobs.
type ExportHandler struct {
	app      ExportApp
	jobStore *job.Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportHandler creates a new export handler.
func NewExportHandler(app ExportApp, jobStore *job.Store, logger *zap.Logger) *ExportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportHandler{
		app:      app,
		jobStore: jobStore,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a new export job.
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	if req.Collector == "" || req.Keyword == "" || req.Start == "" {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigMissing, nil))
		return
	}

	start, end, err := window(req.Start, req.End, h.now())
	if err != nil {
		response.Fail(w, err)
		return
	}

	j := h.jobStore.Create("export", map[string]any{
		"collector": req.Collector,
		"keyword":   req.Keyword,
		"start":     start,
		"end":       end,
	})

	go h.runExport(j.ID, req.Collector, req.Keyword, start, end)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// runExport executes the export and updates job status.
func (h *ExportHandler) runExport(jobID, collector, keyword string, start, end time.Time) {
	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	path, err := h.app.Export(ctx, collector, keyword, start, end)

	if err != nil {
		h.logger.Warn("export job failed", zap.String("job_id", jobID), zap.Error(err))
		var coded *core.Error
		if !errors.As(err, &coded) {
			coded = core.WrapError(core.ErrStoreFailed, err)
		}
		h.jobStore.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = coded
		})
		return
	}

	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Result = map[string]string{"path": path}
	})
}

// GetStatus returns the status of an export job.
func (h *ExportHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobStore.Get(r.PathValue("id"))
	if err != nil {
		response.Error(w, http.StatusNotFound, err)
		return
	}

	resp := map[string]any{
		"job_id": j.ID,
		"status": j.Status,
		"params": j.Params,
	}
	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		resp["error"] = map[string]string{
			"code":    j.Error.Code,
			"message": j.Error.Message,
		}
	}

	response.JSON(w, http.StatusOK, resp)
}
