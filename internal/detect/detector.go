// Package detect decides when a newly requested artifact has actually
// become ready on the remote surface, distinguishing it from results that
// existed before the submission.
package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/studioforge/genrunner/internal/clock"
	"github.com/studioforge/genrunner/internal/surface"
)

// Surface is the slice of the external surface the detector polls.
type Surface interface {
	InProgress(ctx context.Context) (bool, error)
	FindNovelArtifact(ctx context.Context, baseline surface.Baseline) (surface.ArtifactRef, bool, error)
	FindAnyReadyArtifact(ctx context.Context) (surface.ArtifactRef, bool, error)
}

// StartState is how phase 1 concluded.
type StartState int

const (
	// StartUnknown means phase 1 never concluded (timeout before exit).
	StartUnknown StartState = iota
	// StartConfirmed means an in-progress indicator was observed.
	StartConfirmed
	// StartAssumed means no indicator appeared but the minimum start wait
	// elapsed, so the run is assumed to have begun. Fast-completing runs
	// may never show an indicator at all.
	StartAssumed
)

func (s StartState) String() string {
	switch s {
	case StartConfirmed:
		return "confirmed"
	case StartAssumed:
		return "assumed"
	default:
		return "unknown"
	}
}

// Kind is the terminal result of a detection wait.
type Kind int

const (
	KindReady Kind = iota
	KindTimeout
)

// Outcome is the detector's terminal verdict. Fallback marks the ambiguous
// path: a generic ready signal was accepted without positive confirmation
// of novelty.
type Outcome struct {
	Kind     Kind
	Artifact surface.ArtifactRef
	Start    StartState
	Fallback bool
	Elapsed  time.Duration
}

// Config tunes the detector. The values are configuration, not protocol:
// correctness does not depend on them.
type Config struct {
	// PollInterval is the phase 2 tick.
	PollInterval time.Duration
	// StartPollInterval is the phase 1 tick.
	StartPollInterval time.Duration
	// MinStartWait is the minimum elapsed time before phase 1 may exit
	// without having seen an in-progress indicator.
	MinStartWait time.Duration
	// MaxWait is the overall wall-clock deadline.
	MaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.StartPollInterval <= 0 {
		c.StartPollInterval = time.Second
	}
	if c.MinStartWait <= 0 {
		c.MinStartWait = 5 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Minute
	}
	return c
}

// Detector runs the two-phase completion state machine.
type Detector struct {
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger
}

// New creates a detector. A nil clock selects the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Detector {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{cfg: cfg.withDefaults(), clk: clk, logger: logger}
}

// Wait blocks until a new artifact is ready or the deadline passes.
//
// Phase 1 confirms the run started before any readiness check happens:
// declaring completion earlier would misattribute a pre-existing artifact
// to this submission. Phase 2 polls for completion, preferring a novelty
// diff against the baseline and falling back to a generic ready signal
// only once the start was confirmed or assumed.
func (d *Detector) Wait(ctx context.Context, sf Surface, baseline surface.Baseline) (Outcome, error) {
	start := d.clk.Now()
	deadline := start.Add(d.cfg.MaxWait)

	startState, err := d.confirmStart(ctx, sf, start, deadline)
	if err != nil {
		return Outcome{}, err
	}
	if startState == StartUnknown {
		// Deadline passed while still waiting for the run to begin.
		return Outcome{Kind: KindTimeout, Start: startState, Elapsed: d.clk.Now().Sub(start)}, nil
	}

	d.logger.Info("Generation start phase complete",
		slog.String("start", startState.String()),
		slog.Duration("elapsed", d.clk.Now().Sub(start)),
	)

	return d.confirmCompletion(ctx, sf, baseline, start, deadline, startState)
}

// confirmStart is phase 1: poll for the in-progress indicator, exiting
// confirmed as soon as it is observed or assumed once MinStartWait elapsed.
// It never declares readiness.
func (d *Detector) confirmStart(ctx context.Context, sf Surface, start, deadline time.Time) (StartState, error) {
	for {
		now := d.clk.Now()
		if now.After(deadline) {
			return StartUnknown, nil
		}

		inProgress, err := sf.InProgress(ctx)
		if err != nil {
			d.logger.Warn("In-progress probe failed",
				slog.String("phase", "start"),
				slog.String("error", err.Error()),
			)
		} else if inProgress {
			return StartConfirmed, nil
		}

		if d.clk.Now().Sub(start) >= d.cfg.MinStartWait {
			return StartAssumed, nil
		}

		select {
		case <-ctx.Done():
			return StartUnknown, ctx.Err()
		case <-d.clk.After(d.cfg.StartPollInterval):
		}
	}
}

// confirmCompletion is phase 2. Each tick: while the in-progress indicator
// is asserted no readiness check runs at all (a "ready" signal coexisting
// with an active run belongs to an older artifact). Once idle, the ordered
// decision table applies: novelty diff first, generic ready probe second
// and only because phase 1 confirmed or assumed the start.
func (d *Detector) confirmCompletion(ctx context.Context, sf Surface, baseline surface.Baseline, start, deadline time.Time, startState StartState) (Outcome, error) {
	for {
		now := d.clk.Now()
		if now.After(deadline) {
			d.logger.Warn("Generation wait deadline reached",
				slog.Duration("max_wait", d.cfg.MaxWait),
			)
			return Outcome{Kind: KindTimeout, Start: startState, Elapsed: now.Sub(start)}, nil
		}

		inProgress, err := sf.InProgress(ctx)
		if err != nil {
			d.logger.Warn("In-progress probe failed",
				slog.String("phase", "completion"),
				slog.String("error", err.Error()),
			)
		} else if !inProgress {
			outcome, done := d.checkReadiness(ctx, sf, baseline, start, startState)
			if done {
				return outcome, nil
			}
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-d.clk.After(d.cfg.PollInterval):
		}
	}
}

// checkReadiness applies the ordered readiness rules for one idle tick.
func (d *Detector) checkReadiness(ctx context.Context, sf Surface, baseline surface.Baseline, start time.Time, startState StartState) (Outcome, bool) {
	// Rule 1: a novel artifact, absent from the baseline, wins outright.
	ref, found, err := sf.FindNovelArtifact(ctx, baseline)
	if err != nil {
		d.logger.Warn("Novelty probe failed",
			slog.String("error", err.Error()),
		)
	} else if found {
		d.logger.Info("New artifact detected",
			slog.String("artifact_id", ref.ID),
		)
		return Outcome{
			Kind:     KindReady,
			Artifact: ref,
			Start:    startState,
			Elapsed:  d.clk.Now().Sub(start),
		}, true
	}

	// Rule 2: a generic ready signal is accepted only after the start was
	// confirmed or assumed, and is flagged as a fallback: it cannot prove
	// the artifact is new.
	if startState != StartConfirmed && startState != StartAssumed {
		return Outcome{}, false
	}

	ref, found, err = sf.FindAnyReadyArtifact(ctx)
	if err != nil {
		d.logger.Warn("Ready probe failed",
			slog.String("error", err.Error()),
		)
		return Outcome{}, false
	}
	if !found {
		return Outcome{}, false
	}

	d.logger.Info("Ready indicator found without novelty confirmation",
		slog.String("artifact_id", ref.ID),
	)
	return Outcome{
		Kind:     KindReady,
		Artifact: ref,
		Start:    startState,
		Fallback: true,
		Elapsed:  d.clk.Now().Sub(start),
	}, true
}
