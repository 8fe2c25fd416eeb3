package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/services"
)

// JobRunner serializes runs of a named job with its scheduled runs
type JobRunner interface {
	Exclusive(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// JobsHandler triggers the batch jobs on demand, e.g. from an external cron
type JobsHandler struct {
	runner    JobRunner
	sweep     *services.SweepService
	recompute *services.RecomputeService
	reaper    *services.StaleEventService
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(runner JobRunner, sweep *services.SweepService, recompute *services.RecomputeService, reaper *services.StaleEventService) *JobsHandler {
	return &JobsHandler{runner: runner, sweep: sweep, recompute: recompute, reaper: reaper}
}

// HandleSweep runs one notification sweep
func (h *JobsHandler) HandleSweep(c *gin.Context) {
	companyID, ok := companyFilter(c)
	if !ok {
		return
	}
	h.run(c, services.JobSweep, func(ctx context.Context) (interface{}, error) {
		return h.sweep.Sweep(ctx, companyID)
	})
}

// HandleRecompute re-evaluates inclusion flags
func (h *JobsHandler) HandleRecompute(c *gin.Context) {
	companyID, ok := companyFilter(c)
	if !ok {
		return
	}
	h.run(c, services.JobRecompute, func(ctx context.Context) (interface{}, error) {
		return h.recompute.RecomputeAll(ctx, companyID)
	})
}

// HandleWeeklyDigest sends last week's digests not yet sent
func (h *JobsHandler) HandleWeeklyDigest(c *gin.Context) {
	companyID, ok := companyFilter(c)
	if !ok {
		return
	}
	h.run(c, services.JobWeeklyDigest, func(ctx context.Context) (interface{}, error) {
		return h.sweep.WeeklyDigest(ctx, companyID)
	})
}

// HandleReapEvents fails webhook events stuck in pending
func (h *JobsHandler) HandleReapEvents(c *gin.Context) {
	h.run(c, services.JobReapEvents, func(ctx context.Context) (interface{}, error) {
		n, err := h.reaper.Reap(ctx)
		return gin.H{"failed": n}, err
	})
}

// run executes fn under the job's lock; a run already in flight is a 409
func (h *JobsHandler) run(c *gin.Context, name string, fn func(ctx context.Context) (interface{}, error)) {
	var result interface{}
	ran, err := h.runner.Exclusive(c.Request.Context(), name, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "job already running"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// companyFilter reads the optional company_id query parameter
func companyFilter(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("company_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
		return nil, false
	}
	return &id, true
}
