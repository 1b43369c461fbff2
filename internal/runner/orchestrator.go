// Package runner accepts generation jobs, tracks their lifecycle in an
// in-memory record store, and supervises one background worker per job.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studioforge/genrunner/internal/detect"
	"github.com/studioforge/genrunner/internal/notify"
	"github.com/studioforge/genrunner/internal/runner/domain"
	"github.com/studioforge/genrunner/internal/surface"
)

// Notifier delivers the terminal job payload to a callback address.
type Notifier interface {
	Deliver(ctx context.Context, address string, payload notify.Payload)
}

// Archive records terminal jobs in a durable ledger. Failures are logged
// and never affect the job.
type Archive interface {
	Record(ctx context.Context, job domain.Job) error
}

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrent caps simultaneously running workers. Zero means
	// unbounded. A gated job stays queued until a slot frees up.
	MaxConcurrent int
	// NotifyTimeout bounds one delivery attempt.
	NotifyTimeout time.Duration
}

// Orchestrator owns the job record store and the per-job workers.
type Orchestrator struct {
	cfg      Config
	store    *Store
	surfaces surface.Factory
	detector *detect.Detector
	notifier Notifier
	archive  Archive
	logger   *slog.Logger
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New creates an orchestrator. archive may be nil when the run archive is
// disabled.
func New(cfg Config, store *Store, surfaces surface.Factory, detector *detect.Detector, notifier Notifier, archive Archive, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		surfaces: surfaces,
		detector: detector,
		notifier: notifier,
		archive:  archive,
		logger:   logger,
	}
	if cfg.MaxConcurrent > 0 {
		o.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return o
}

// Submit validates params, inserts a queued record, and starts exactly one
// worker for it. Validation failures are returned synchronously and never
// create a job. The call returns as soon as the record is queued.
func (o *Orchestrator) Submit(params domain.Params, callback string) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	job := domain.Job{
		ID:        uuid.New().String(),
		Params:    params,
		Status:    domain.StatusQueued,
		Callback:  callback,
		CreatedAt: time.Now(),
	}
	o.store.Insert(job)

	o.logger.Info("Job accepted",
		slog.String("job_id", job.ID),
		slog.String("story_id", params.StoryID),
		slog.Int("scene", params.Scene),
	)

	o.wg.Add(1)
	go o.runWorker(job.ID)

	return job.ID, nil
}

// Get returns a point-in-time snapshot of the job record.
func (o *Orchestrator) Get(jobID string) (domain.Job, error) {
	return o.store.Get(jobID)
}

// List returns job snapshots matching the filter.
func (o *Orchestrator) List(filter ListFilter) []domain.Job {
	return o.store.List(filter)
}

// Shutdown waits for in-flight workers until ctx expires. Workers are not
// cancelled: a submitted job runs to a terminal state or process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers still running at shutdown: %w", ctx.Err())
	}
}
