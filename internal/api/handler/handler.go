package handler

import (
	"context"
	"log/slog"

	"github.com/studioforge/genrunner/internal/archive"
	"github.com/studioforge/genrunner/internal/profile"
	"github.com/studioforge/genrunner/internal/runner"
	"github.com/studioforge/genrunner/internal/runner/domain"
)

// Orchestrator is the slice of the job orchestrator the API uses.
type Orchestrator interface {
	Submit(params domain.Params, callback string) (string, error)
	Get(jobID string) (domain.Job, error)
	List(filter runner.ListFilter) []domain.Job
}

// History reads the optional run archive.
type History interface {
	ListRecent(ctx context.Context, limit int) ([]archive.Run, error)
}

// ProfileLauncher opens a headful browser window for a profile.
type ProfileLauncher interface {
	LaunchProfile(ctx context.Context, name string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator Orchestrator
	Profiles     *profile.Manager
	Launcher     ProfileLauncher
	History      History
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
	history      History
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		history:      deps.History,
	}
}

// ProfileHandler handles browser profile HTTP requests
type ProfileHandler struct {
	logger   *slog.Logger
	profiles *profile.Manager
	launcher ProfileLauncher
}

// NewProfileHandler creates a new ProfileHandler instance
func NewProfileHandler(deps *Dependencies) *ProfileHandler {
	return &ProfileHandler{
		logger:   deps.Logger,
		profiles: deps.Profiles,
		launcher: deps.Launcher,
	}
}
