// Package surface defines the capability contract the orchestrator uses to
// drive the remote generation surface. The workers depend only on this
// contract; selector and click detail lives behind its implementations.
package surface

import (
	"context"

	"github.com/studioforge/genrunner/internal/runner/domain"
)

// ArtifactRef identifies one artifact observed on the remote surface.
type ArtifactRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Handle is a retrieved artifact on local storage.
type Handle struct {
	Path    string
	Variant string
}

// Baseline is the immutable set of artifact signatures captured immediately
// before the submission is triggered. It is compared, never merged, against
// later observations to identify novel artifacts.
type Baseline struct {
	ids map[string]struct{}
}

// NewBaseline builds a baseline from the artifact ids present before the
// action.
func NewBaseline(ids []string) Baseline {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Baseline{ids: set}
}

// Contains reports whether the artifact id existed at capture time.
func (b Baseline) Contains(id string) bool {
	_, ok := b.ids[id]
	return ok
}

// Size returns the number of artifacts captured.
func (b Baseline) Size() int { return len(b.ids) }

// Surface is one live session against the remote generation surface.
type Surface interface {
	// CaptureBaseline snapshots the artifacts that already exist.
	CaptureBaseline(ctx context.Context) (Baseline, error)

	// TriggerSubmission performs the externally observable action.
	TriggerSubmission(ctx context.Context, params domain.Params) error

	// InProgress reports whether the remote surface shows an active run.
	InProgress(ctx context.Context) (bool, error)

	// FindNovelArtifact looks for an artifact absent from the baseline.
	FindNovelArtifact(ctx context.Context, baseline Baseline) (ArtifactRef, bool, error)

	// FindAnyReadyArtifact reports any ready artifact without confirming
	// novelty. Best-effort: the surface may not distinguish artifacts by
	// identity on this path.
	FindAnyReadyArtifact(ctx context.Context) (ArtifactRef, bool, error)

	// RetrieveArtifact downloads the artifact to local storage.
	RetrieveArtifact(ctx context.Context, ref ArtifactRef, params domain.Params) (Handle, error)

	// Close releases the session.
	Close(ctx context.Context) error
}

// Factory opens one surface session per job.
type Factory interface {
	Open(ctx context.Context, params domain.Params) (Surface, error)
}
