package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studioforge/genrunner/internal/api/dto"
	"github.com/studioforge/genrunner/internal/runner"
	"github.com/studioforge/genrunner/internal/runner/domain"
)

// SubmitJob handles POST /api/v1/jobs
// Accepts a generation job and returns its id immediately; the work runs
// on a background worker.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params := domain.Params{
		Prompt:      req.Prompt,
		StoryID:     req.StoryID,
		Scene:       req.Scene,
		RowID:       req.RowID,
		Profile:     req.Profile,
		ProjectURL:  req.ProjectURL,
		FrameImages: req.FrameImages,
	}

	jobID, err := h.orchestrator.Submit(params, req.WebhookURL)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": vErr.Error(),
			})
			return
		}
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   jobID,
		"status":   domain.StatusQueued,
		"story_id": params.StoryID,
		"scene":    params.Scene,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns a point-in-time snapshot of the job record.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.orchestrator.Get(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists job snapshots with optional filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs := h.orchestrator.List(runner.ListFilter{
		Status:   req.Status,
		StoryID:  req.StoryID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = jobToDTO(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&runner.Cursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// ListHistory handles GET /api/v1/history
// Returns recently archived terminal runs; 503 when the archive is off.
func (h *JobHandler) ListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "run archive is not enabled",
		})
		return
	}

	limit := 50
	runs, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list archived runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list archived runs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs": runs,
	})
}

func jobToDTO(job domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:     job.ID,
		Status:    job.Status,
		StoryID:   job.Params.StoryID,
		Scene:     job.Params.Scene,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		out.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	if job.Result != nil {
		out.Result = job.Result
	}
	if job.Failure != nil {
		out.Failure = job.Failure
	}
	return out
}
