package surface

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioforge/genrunner/internal/clock"
	"github.com/studioforge/genrunner/internal/runner/domain"
)

// fakeAgent is an httptest stand-in for the browser-agent sidecar.
type fakeAgent struct {
	mu          sync.Mutex
	artifacts   []map[string]string
	inProgress  bool
	menuOptions []string

	submits  []map[string]any
	chosen   []string
	launches []string
	closes   int
}

func (a *fakeAgent) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	})
	mux.HandleFunc("DELETE /sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.closes++
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /profiles/launch", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.launches = append(a.launches, body["profile"])
		a.mu.Unlock()
	})
	mux.HandleFunc("GET /sessions/sess-1/artifacts", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"artifacts": a.artifacts})
	})
	mux.HandleFunc("GET /sessions/sess-1/progress", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]bool{"in_progress": a.inProgress})
	})
	mux.HandleFunc("POST /sessions/sess-1/actions/submit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.submits = append(a.submits, body)
		a.mu.Unlock()
		if body["technique"] == "standard" {
			http.Error(w, "element not interactable", http.StatusConflict)
			return
		}
	})
	mux.HandleFunc("POST /sessions/sess-1/actions/open_menu", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /sessions/sess-1/menu", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"options": a.menuOptions})
	})
	mux.HandleFunc("POST /sessions/sess-1/actions/choose", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.chosen = append(a.chosen, body["option"])
		a.mu.Unlock()
	})
	mux.HandleFunc("GET /sessions/sess-1/artifacts/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes-" + r.PathValue("id")))
	})

	return mux
}

func newTestFactory(t *testing.T, baseURL string) *RemoteFactory {
	t.Helper()
	return NewRemoteFactory(RemoteConfig{
		BaseURL:          baseURL,
		RequestTimeout:   5 * time.Second,
		Techniques:       []string{"standard", "javascript"},
		VariantPrefs:     []string{"fast", "quality"},
		MenuPollInterval: 10 * time.Millisecond,
		MenuTimeout:      200 * time.Millisecond,
		OutputDir:        t.TempDir(),
	}, clock.NewFake(time.Unix(1000, 0)), slog.New(slog.DiscardHandler))
}

func testParams() domain.Params {
	return domain.Params{
		Prompt:  "a lighthouse in a storm",
		StoryID: "story-1",
		Scene:   3,
		Profile: "default",
	}
}

func TestRemoteFactory_OpenAndClose(t *testing.T) {
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	require.NoError(t, sf.Close(context.Background()))
	assert.Equal(t, 1, agent.closes)
}

func TestRemoteFactory_OpenAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no free browser", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	_, err := f.Open(context.Background(), testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open agent session")
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteFactory_LaunchProfile(t *testing.T) {
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	require.NoError(t, f.LaunchProfile(context.Background(), "work"))
	assert.Equal(t, []string{"work"}, agent.launches)
}

func TestRemoteSurface_BaselineAndNoveltyDiff(t *testing.T) {
	agent := &fakeAgent{
		artifacts: []map[string]string{
			{"id": "vid-1", "url": "/v/1"},
			{"id": "vid-2", "url": "/v/2"},
		},
	}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	baseline, err := sf.CaptureBaseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, baseline.Size())

	// Nothing new yet.
	_, found, err := sf.FindNovelArtifact(context.Background(), baseline)
	require.NoError(t, err)
	assert.False(t, found)

	// A third artifact appears; only it is novel.
	agent.mu.Lock()
	agent.artifacts = append(agent.artifacts, map[string]string{"id": "vid-3", "url": "/v/3"})
	agent.mu.Unlock()

	ref, found, err := sf.FindNovelArtifact(context.Background(), baseline)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "vid-3", ref.ID)
	assert.Equal(t, "/v/3", ref.URL)
}

func TestRemoteSurface_TriggerSubmissionFallsThroughTechniques(t *testing.T) {
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	// The agent rejects the "standard" technique; "javascript" succeeds.
	require.NoError(t, sf.TriggerSubmission(context.Background(), testParams()))

	require.Len(t, agent.submits, 2)
	assert.Equal(t, "standard", agent.submits[0]["technique"])
	assert.Equal(t, "javascript", agent.submits[1]["technique"])
	assert.Equal(t, "a lighthouse in a storm", agent.submits[1]["prompt"])
}

func TestRemoteSurface_InProgress(t *testing.T) {
	agent := &fakeAgent{inProgress: true}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	busy, err := sf.InProgress(context.Background())
	require.NoError(t, err)
	assert.True(t, busy)

	agent.mu.Lock()
	agent.inProgress = false
	agent.mu.Unlock()

	busy, err = sf.InProgress(context.Background())
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestRemoteSurface_RetrieveArtifactWithVariant(t *testing.T) {
	agent := &fakeAgent{menuOptions: []string{"Quality (slow)", "Fast mode"}}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	handle, err := sf.RetrieveArtifact(context.Background(), ArtifactRef{ID: "vid-7"}, testParams())
	require.NoError(t, err)

	assert.Equal(t, "Fast mode", handle.Variant)
	assert.Equal(t, []string{"Fast mode"}, agent.chosen)

	assert.Equal(t, filepath.Join("story-1", "scene_3_vid-7.mp4"), mustRel(t, f.cfg.OutputDir, handle.Path))
	data, err := os.ReadFile(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes-vid-7", string(data))
}

func TestRemoteSurface_RetrieveArtifactMenuFailureDownloadsDefault(t *testing.T) {
	// Empty menu: variant selection times out, the default variant is
	// still downloaded.
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent.handler())
	defer srv.Close()

	f := newTestFactory(t, srv.URL)
	sf, err := f.Open(context.Background(), testParams())
	require.NoError(t, err)

	handle, err := sf.RetrieveArtifact(context.Background(), ArtifactRef{ID: "vid-7"}, testParams())
	require.NoError(t, err)

	assert.Empty(t, handle.Variant)
	assert.FileExists(t, handle.Path)
}

func mustRel(t *testing.T, base, target string) string {
	t.Helper()
	rel, err := filepath.Rel(base, target)
	require.NoError(t, err)
	return rel
}
