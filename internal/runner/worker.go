package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/studioforge/genrunner/internal/detect"
	"github.com/studioforge/genrunner/internal/notify"
	"github.com/studioforge/genrunner/internal/runner/domain"
)

// runWorker supervises one job from queued to a terminal state. Any
// failure, including a panic at any step, is converted into an error
// outcome so no job is ever left running; finalize and the notification
// run exactly once either way.
func (o *Orchestrator) runWorker(jobID string) {
	defer o.wg.Done()

	ctx := context.Background()

	var (
		result  *domain.Result
		failure *domain.Failure
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Worker panicked",
					slog.String("job_id", jobID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				failure = &domain.Failure{
					Kind:    domain.FailureWorkerFault,
					Message: fmt.Sprintf("worker panic: %v", r),
				}
			}
		}()
		result, failure = o.execute(ctx, jobID)
	}()

	o.finalize(ctx, jobID, result, failure)
}

// execute performs the job steps: wait for a slot, mark running, trigger
// the remote action, wait for completion, retrieve the artifact.
func (o *Orchestrator) execute(ctx context.Context, jobID string) (*domain.Result, *domain.Failure) {
	if o.sem != nil {
		// The record stays queued while waiting for a slot.
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
	}

	job, err := o.store.Update(jobID, func(j *domain.Job) {
		now := time.Now()
		j.Status = domain.StatusRunning
		j.StartedAt = &now
	})
	if err != nil {
		return nil, domain.NewFailure(domain.FailureWorkerFault, fmt.Errorf("failed to mark job running: %w", err))
	}

	sf, err := o.surfaces.Open(ctx, job.Params)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureInteraction, fmt.Errorf("failed to open surface session: %w", err))
	}
	defer func() {
		if closeErr := sf.Close(ctx); closeErr != nil {
			o.logger.Warn("Failed to close surface session",
				slog.String("job_id", jobID),
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	// The baseline must be captured before the action becomes externally
	// observable, or the diff in phase 2 loses its meaning.
	baseline, err := sf.CaptureBaseline(ctx)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureInteraction, fmt.Errorf("failed to capture baseline: %w", err))
	}

	o.logger.Info("Baseline captured",
		slog.String("job_id", jobID),
		slog.Int("existing_artifacts", baseline.Size()),
	)

	if err := sf.TriggerSubmission(ctx, job.Params); err != nil {
		return nil, domain.NewFailure(domain.FailureInteraction, fmt.Errorf("submission failed: %w", err))
	}

	outcome, err := o.detector.Wait(ctx, sf, baseline)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureWorkerFault, fmt.Errorf("detection aborted: %w", err))
	}

	if outcome.Kind == detect.KindTimeout {
		return nil, &domain.Failure{
			Kind: domain.FailureDetectionTimeout,
			Message: fmt.Sprintf("no new artifact within %s (start %s)",
				outcome.Elapsed.Round(time.Second), outcome.Start),
		}
	}

	handle, err := sf.RetrieveArtifact(ctx, outcome.Artifact, job.Params)
	if err != nil {
		return nil, domain.NewFailure(domain.FailureInteraction, fmt.Errorf("failed to retrieve artifact: %w", err))
	}

	detection := domain.DetectionNovelty
	if outcome.Fallback {
		detection = domain.DetectionFallback
	}

	return &domain.Result{
		ArtifactID:   outcome.Artifact.ID,
		ArtifactPath: handle.Path,
		Variant:      handle.Variant,
		Detection:    detection,
		StoryID:      job.Params.StoryID,
		Scene:        job.Params.Scene,
	}, nil
}

// finalize records the terminal outcome, archives it best-effort, and
// delivers the callback at most once.
func (o *Orchestrator) finalize(ctx context.Context, jobID string, result *domain.Result, failure *domain.Failure) {
	job, err := o.store.Update(jobID, func(j *domain.Job) {
		now := time.Now()
		j.FinishedAt = &now
		if failure != nil {
			j.Status = domain.StatusError
			j.Failure = failure
		} else {
			j.Status = domain.StatusDone
			j.Result = result
		}
	})
	if err != nil {
		o.logger.Error("Failed to finalize job record",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if failure != nil {
		o.logger.Error("Job failed",
			slog.String("job_id", jobID),
			slog.String("kind", failure.Kind),
			slog.String("reason", failure.Message),
		)
	} else {
		o.logger.Info("Job completed",
			slog.String("job_id", jobID),
			slog.String("artifact_path", result.ArtifactPath),
			slog.String("detection", result.Detection),
		)
	}

	if o.archive != nil {
		if err := o.archive.Record(ctx, job); err != nil {
			o.logger.Warn("Failed to archive job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	if job.Callback == "" {
		return
	}

	timeout := o.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	notifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.notifier.Deliver(notifyCtx, job.Callback, notify.Payload{
		JobID:   job.ID,
		Status:  job.Status,
		Result:  job.Result,
		Failure: job.Failure,
	})
}
