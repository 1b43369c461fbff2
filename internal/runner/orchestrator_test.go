package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioforge/genrunner/internal/clock"
	"github.com/studioforge/genrunner/internal/detect"
	"github.com/studioforge/genrunner/internal/notify"
	"github.com/studioforge/genrunner/internal/runner/domain"
	"github.com/studioforge/genrunner/internal/surface"
)

type fakeSurface struct {
	captureFn    func(ctx context.Context) (surface.Baseline, error)
	triggerFn    func(ctx context.Context, params domain.Params) error
	inProgressFn func() (bool, error)
	novelFn      func() (surface.ArtifactRef, bool, error)
	readyFn      func() (surface.ArtifactRef, bool, error)
	retrieveFn   func(ref surface.ArtifactRef, params domain.Params) (surface.Handle, error)

	closed bool
}

func (s *fakeSurface) CaptureBaseline(ctx context.Context) (surface.Baseline, error) {
	if s.captureFn == nil {
		return surface.NewBaseline(nil), nil
	}
	return s.captureFn(ctx)
}

func (s *fakeSurface) TriggerSubmission(ctx context.Context, params domain.Params) error {
	if s.triggerFn == nil {
		return nil
	}
	return s.triggerFn(ctx, params)
}

func (s *fakeSurface) InProgress(ctx context.Context) (bool, error) {
	if s.inProgressFn == nil {
		return false, nil
	}
	return s.inProgressFn()
}

func (s *fakeSurface) FindNovelArtifact(ctx context.Context, baseline surface.Baseline) (surface.ArtifactRef, bool, error) {
	if s.novelFn == nil {
		return surface.ArtifactRef{}, false, nil
	}
	return s.novelFn()
}

func (s *fakeSurface) FindAnyReadyArtifact(ctx context.Context) (surface.ArtifactRef, bool, error) {
	if s.readyFn == nil {
		return surface.ArtifactRef{}, false, nil
	}
	return s.readyFn()
}

func (s *fakeSurface) RetrieveArtifact(ctx context.Context, ref surface.ArtifactRef, params domain.Params) (surface.Handle, error) {
	if s.retrieveFn == nil {
		return surface.Handle{Path: "/out/" + ref.ID + ".mp4"}, nil
	}
	return s.retrieveFn(ref, params)
}

func (s *fakeSurface) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

type fakeFactory struct {
	openFn func(ctx context.Context, params domain.Params) (surface.Surface, error)
}

func (f *fakeFactory) Open(ctx context.Context, params domain.Params) (surface.Surface, error) {
	return f.openFn(ctx, params)
}

// happySurface confirms the start on its first in-progress poll and reports
// a novel artifact immediately after, so detection completes without any
// real sleeping.
func happySurface(artifactID string) *fakeSurface {
	polls := 0
	return &fakeSurface{
		inProgressFn: func() (bool, error) {
			polls++
			return polls == 1, nil
		},
		novelFn: func() (surface.ArtifactRef, bool, error) {
			return surface.ArtifactRef{ID: artifactID}, true, nil
		},
		retrieveFn: func(ref surface.ArtifactRef, params domain.Params) (surface.Handle, error) {
			return surface.Handle{Path: "/out/" + ref.ID + ".mp4", Variant: "fast"}, nil
		},
	}
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []notify.Payload
	addresses  []string
}

func (n *recordingNotifier) Deliver(ctx context.Context, address string, payload notify.Payload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addresses = append(n.addresses, address)
	n.deliveries = append(n.deliveries, payload)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deliveries)
}

type recordingArchive struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (a *recordingArchive) Record(ctx context.Context, job domain.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	return a.err
}

func validParams() domain.Params {
	return domain.Params{
		Prompt:  "a lighthouse in a storm",
		StoryID: "story-1",
		Scene:   3,
		Profile: "default",
	}
}

type orchestratorEnv struct {
	store    *Store
	notifier *recordingNotifier
	archive  *recordingArchive
}

func newOrchestrator(t *testing.T, cfg Config, factory surface.Factory, clk clock.Clock) (*Orchestrator, *orchestratorEnv) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	env := &orchestratorEnv{
		store:    NewStore(),
		notifier: &recordingNotifier{},
		archive:  &recordingArchive{},
	}
	detector := detect.New(detect.Config{
		PollInterval:      time.Second,
		StartPollInterval: time.Second,
		MinStartWait:      5 * time.Second,
		MaxWait:           time.Minute,
	}, clk, logger)

	o := New(cfg, env.store, factory, detector, env.notifier, env.archive, logger)
	return o, env
}

func waitForWorkers(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}

func TestSubmit_ValidationFailureCreatesNoJob(t *testing.T) {
	o, env := newOrchestrator(t, Config{}, &fakeFactory{}, clock.Real{})

	params := validParams()
	params.Prompt = ""

	_, err := o.Submit(params, "")
	require.Error(t, err)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "prompt", verr.Field)
	assert.Zero(t, env.store.Len())
	assert.Zero(t, env.notifier.count())
}

func TestSubmit_HappyPath(t *testing.T) {
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return happySurface("vid-42"), nil
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.Real{})

	id, err := o.Submit(validParams(), "http://callback.test/done")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "vid-42", job.Result.ArtifactID)
	assert.Equal(t, "/out/vid-42.mp4", job.Result.ArtifactPath)
	assert.Equal(t, domain.DetectionNovelty, job.Result.Detection)
	assert.Equal(t, "story-1", job.Result.StoryID)
	assert.Equal(t, 3, job.Result.Scene)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)

	// Exactly one callback with the terminal payload.
	require.Equal(t, 1, env.notifier.count())
	assert.Equal(t, "http://callback.test/done", env.notifier.addresses[0])
	assert.Equal(t, domain.StatusDone, env.notifier.deliveries[0].Status)

	// Archived once, terminal.
	require.Len(t, env.archive.jobs, 1)
	assert.Equal(t, domain.StatusDone, env.archive.jobs[0].Status)
}

func TestSubmit_NoCallbackMeansNoDelivery(t *testing.T) {
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return happySurface("vid-1"), nil
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.Real{})

	_, err := o.Submit(validParams(), "")
	require.NoError(t, err)
	waitForWorkers(t, o)

	assert.Zero(t, env.notifier.count())
}

func TestSubmit_SurfaceOpenFailureIsInteractionError(t *testing.T) {
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return nil, errors.New("agent unreachable")
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.Real{})

	id, err := o.Submit(validParams(), "http://callback.test/done")
	require.NoError(t, err)
	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	require.NotNil(t, job.Failure)
	assert.Equal(t, domain.FailureInteraction, job.Failure.Kind)
	assert.Contains(t, job.Failure.Message, "agent unreachable")

	require.Equal(t, 1, env.notifier.count())
	assert.Equal(t, domain.StatusError, env.notifier.deliveries[0].Status)
}

func TestSubmit_PanicBecomesWorkerFault(t *testing.T) {
	sf := happySurface("vid-1")
	sf.triggerFn = func(ctx context.Context, params domain.Params) error {
		panic("selector table corrupted")
	}
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return sf, nil
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.Real{})

	id, err := o.Submit(validParams(), "http://callback.test/done")
	require.NoError(t, err)
	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	require.NotNil(t, job.Failure)
	assert.Equal(t, domain.FailureWorkerFault, job.Failure.Kind)
	assert.Contains(t, job.Failure.Message, "selector table corrupted")

	// Even a panicking worker notifies exactly once.
	assert.Equal(t, 1, env.notifier.count())
}

func TestSubmit_DetectionTimeoutFailure(t *testing.T) {
	// Nothing ever starts or becomes ready; the fake clock walks the
	// detector to its deadline without real sleeping.
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return &fakeSurface{}, nil
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.NewFake(time.Unix(1000, 0)))

	id, err := o.Submit(validParams(), "http://callback.test/done")
	require.NoError(t, err)
	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	require.NotNil(t, job.Failure)
	assert.Equal(t, domain.FailureDetectionTimeout, job.Failure.Kind)
	assert.Contains(t, job.Failure.Message, "no new artifact")

	assert.Equal(t, 1, env.notifier.count())
}

func TestSubmit_FallbackDetectionRecordedOnResult(t *testing.T) {
	sf := &fakeSurface{
		inProgressFn: func() (bool, error) { return false, nil },
		readyFn: func() (surface.ArtifactRef, bool, error) {
			return surface.ArtifactRef{ID: "vid-maybe"}, true, nil
		},
	}
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return sf, nil
		},
	}
	// No indicator ever shows, so the start is assumed after the minimum
	// wait; the fake clock makes that instantaneous.
	o, _ := newOrchestrator(t, Config{}, factory, clock.NewFake(time.Unix(1000, 0)))

	id, err := o.Submit(validParams(), "")
	require.NoError(t, err)
	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, domain.DetectionFallback, job.Result.Detection)
}

func TestSubmit_FailuresAreIsolatedAcrossJobs(t *testing.T) {
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			if params.Scene == 13 {
				return nil, errors.New("session rejected")
			}
			return happySurface("vid-ok"), nil
		},
	}
	o, _ := newOrchestrator(t, Config{}, factory, clock.Real{})

	good := validParams()
	goodID, err := o.Submit(good, "")
	require.NoError(t, err)

	bad := validParams()
	bad.Scene = 13
	badID, err := o.Submit(bad, "")
	require.NoError(t, err)

	waitForWorkers(t, o)

	goodJob, err := o.Get(goodID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, goodJob.Status)

	badJob, err := o.Get(badID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, badJob.Status)
}

func TestSubmit_GatedJobStaysQueued(t *testing.T) {
	release := make(chan struct{})
	holding := make(chan struct{})

	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			if params.Scene == 1 {
				close(holding)
				<-release
			}
			return happySurface("vid-1"), nil
		},
	}
	o, _ := newOrchestrator(t, Config{MaxConcurrent: 1}, factory, clock.Real{})

	first := validParams()
	first.Scene = 1
	_, err := o.Submit(first, "")
	require.NoError(t, err)

	<-holding

	second := validParams()
	second.Scene = 2
	secondID, err := o.Submit(second, "")
	require.NoError(t, err)

	// With the only slot occupied the second job cannot start.
	job, err := o.Get(secondID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)

	close(release)
	waitForWorkers(t, o)

	job, err = o.Get(secondID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
}

func TestSubmit_ArchiveFailureDoesNotAffectJob(t *testing.T) {
	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			return happySurface("vid-1"), nil
		},
	}
	o, env := newOrchestrator(t, Config{}, factory, clock.Real{})
	env.archive.err = errors.New("database unavailable")

	id, err := o.Submit(validParams(), "http://callback.test/done")
	require.NoError(t, err)
	waitForWorkers(t, o)

	job, err := o.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, job.Status)
	assert.Equal(t, 1, env.notifier.count())
}

func TestShutdown_TimesOutWithWorkersRunning(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	factory := &fakeFactory{
		openFn: func(ctx context.Context, params domain.Params) (surface.Surface, error) {
			<-block
			return happySurface("vid-1"), nil
		},
	}
	o, _ := newOrchestrator(t, Config{}, factory, clock.Real{})

	_, err := o.Submit(validParams(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = o.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers still running")
}
