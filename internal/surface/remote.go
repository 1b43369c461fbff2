package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/studioforge/genrunner/internal/clock"
	"github.com/studioforge/genrunner/internal/interact"
	"github.com/studioforge/genrunner/internal/runner/domain"
)

// RemoteConfig holds connection and interaction settings for the
// browser-agent sidecar.
type RemoteConfig struct {
	BaseURL          string
	RequestTimeout   time.Duration
	Techniques       []string
	VariantPrefs     []string
	MenuPollInterval time.Duration
	MenuTimeout      time.Duration
	OutputDir        string
}

// RemoteFactory opens sessions against the browser-agent sidecar.
type RemoteFactory struct {
	cfg      RemoteConfig
	client   *http.Client
	resolver *interact.Resolver
	clk      clock.Clock
	logger   *slog.Logger
}

// NewRemoteFactory creates a factory for agent-backed surfaces.
func NewRemoteFactory(cfg RemoteConfig, clk clock.Clock, logger *slog.Logger) *RemoteFactory {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteFactory{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		resolver: interact.NewResolver(logger),
		clk:      clk,
		logger:   logger,
	}
}

// Open starts an agent session with the job's browser profile and project
// URL and returns the session-scoped surface.
func (f *RemoteFactory) Open(ctx context.Context, params domain.Params) (Surface, error) {
	body := map[string]string{
		"profile":     params.Profile,
		"project_url": params.ProjectURL,
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := f.doJSON(ctx, http.MethodPost, f.cfg.BaseURL+"/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to open agent session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("agent returned empty session id")
	}

	f.logger.Info("Agent session opened",
		slog.String("session_id", resp.SessionID),
		slog.String("profile", params.Profile),
	)

	return &remoteSurface{
		factory: f,
		base:    fmt.Sprintf("%s/sessions/%s", f.cfg.BaseURL, resp.SessionID),
		id:      resp.SessionID,
	}, nil
}

// LaunchProfile asks the agent to open a headful browser window for manual
// login against the named profile.
func (f *RemoteFactory) LaunchProfile(ctx context.Context, name string) error {
	body := map[string]string{"profile": name}
	if err := f.doJSON(ctx, http.MethodPost, f.cfg.BaseURL+"/profiles/launch", body, nil); err != nil {
		return fmt.Errorf("failed to launch profile %q: %w", name, err)
	}
	return nil
}

// doJSON issues a request with a JSON body and decodes a JSON response.
func (f *RemoteFactory) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent responded %d: %s", resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

// remoteSurface maps the surface contract onto one agent session.
type remoteSurface struct {
	factory *RemoteFactory
	base    string
	id      string
}

type agentArtifact struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *remoteSurface) listArtifacts(ctx context.Context) ([]agentArtifact, error) {
	var resp struct {
		Artifacts []agentArtifact `json:"artifacts"`
	}
	if err := s.factory.doJSON(ctx, http.MethodGet, s.base+"/artifacts", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return resp.Artifacts, nil
}

func (s *remoteSurface) CaptureBaseline(ctx context.Context) (Baseline, error) {
	artifacts, err := s.listArtifacts(ctx)
	if err != nil {
		return Baseline{}, err
	}
	ids := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.ID)
	}
	return NewBaseline(ids), nil
}

// TriggerSubmission submits the prompt through the strategy resolver: one
// strategy per configured technique, first success wins.
func (s *remoteSurface) TriggerSubmission(ctx context.Context, params domain.Params) error {
	techniques := s.factory.cfg.Techniques
	strategies := make([]interact.Strategy, 0, len(techniques))
	for _, technique := range techniques {
		strategies = append(strategies, interact.StrategyFunc{
			Technique: technique,
			Fn: func(ctx context.Context) error {
				body := map[string]any{
					"technique":    technique,
					"prompt":       params.Prompt,
					"frame_images": params.FrameImages,
				}
				return s.factory.doJSON(ctx, http.MethodPost, s.base+"/actions/submit", body, nil)
			},
		})
	}

	return s.factory.resolver.Attempt(ctx, "submit", strategies)
}

func (s *remoteSurface) InProgress(ctx context.Context) (bool, error) {
	var resp struct {
		InProgress bool `json:"in_progress"`
	}
	if err := s.factory.doJSON(ctx, http.MethodGet, s.base+"/progress", nil, &resp); err != nil {
		return false, fmt.Errorf("failed to read progress: %w", err)
	}
	return resp.InProgress, nil
}

func (s *remoteSurface) FindNovelArtifact(ctx context.Context, baseline Baseline) (ArtifactRef, bool, error) {
	artifacts, err := s.listArtifacts(ctx)
	if err != nil {
		return ArtifactRef{}, false, err
	}
	for _, a := range artifacts {
		if !baseline.Contains(a.ID) {
			return ArtifactRef{ID: a.ID, URL: a.URL}, true, nil
		}
	}
	return ArtifactRef{}, false, nil
}

func (s *remoteSurface) FindAnyReadyArtifact(ctx context.Context) (ArtifactRef, bool, error) {
	var resp struct {
		Ready    bool          `json:"ready"`
		Artifact agentArtifact `json:"artifact"`
	}
	if err := s.factory.doJSON(ctx, http.MethodGet, s.base+"/ready", nil, &resp); err != nil {
		return ArtifactRef{}, false, err
	}
	if !resp.Ready {
		return ArtifactRef{}, false, nil
	}
	return ArtifactRef{ID: resp.Artifact.ID, URL: resp.Artifact.URL}, true, nil
}

// RetrieveArtifact selects the preferred variant from the surface's menu,
// then streams the artifact content into the output directory. Variant
// selection is best-effort: when the menu cannot be resolved the surface's
// default variant is downloaded.
func (s *remoteSurface) RetrieveArtifact(ctx context.Context, ref ArtifactRef, params domain.Params) (Handle, error) {
	variant := ""
	if len(s.factory.cfg.VariantPrefs) > 0 {
		menu := &remoteMenu{surface: s, artifactID: ref.ID}
		chosen, err := s.factory.resolver.SelectPreferred(ctx, menu, s.factory.cfg.VariantPrefs, interact.MenuConfig{
			PollInterval: s.factory.cfg.MenuPollInterval,
			Timeout:      s.factory.cfg.MenuTimeout,
			Clock:        s.factory.clk,
		})
		if err != nil {
			s.factory.logger.Warn("Variant selection failed, downloading default variant",
				slog.String("artifact_id", ref.ID),
				slog.String("error", err.Error()),
			)
		} else {
			variant = chosen
		}
	}

	path, err := s.download(ctx, ref, params)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Path: path, Variant: variant}, nil
}

func (s *remoteSurface) download(ctx context.Context, ref ArtifactRef, params domain.Params) (string, error) {
	url := fmt.Sprintf("%s/artifacts/%s/content", s.base, ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.factory.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact download responded %d", resp.StatusCode)
	}

	dir := filepath.Join(s.factory.cfg.OutputDir, params.StoryID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("scene_%d_%s.mp4", params.Scene, ref.ID))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write artifact file: %w", err)
	}

	return path, nil
}

func (s *remoteSurface) Close(ctx context.Context) error {
	if err := s.factory.doJSON(ctx, http.MethodDelete, s.base, nil, nil); err != nil {
		return fmt.Errorf("failed to close agent session: %w", err)
	}
	return nil
}

// remoteMenu exposes the artifact's variant picker through the agent.
type remoteMenu struct {
	surface    *remoteSurface
	artifactID string
}

func (m *remoteMenu) Open(ctx context.Context) error {
	body := map[string]string{"artifact_id": m.artifactID}
	return m.surface.factory.doJSON(ctx, http.MethodPost, m.surface.base+"/actions/open_menu", body, nil)
}

func (m *remoteMenu) Options(ctx context.Context) ([]string, error) {
	var resp struct {
		Options []string `json:"options"`
	}
	if err := m.surface.factory.doJSON(ctx, http.MethodGet, m.surface.base+"/menu", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Options, nil
}

func (m *remoteMenu) Choose(ctx context.Context, option string) error {
	body := map[string]string{"option": option}
	return m.surface.factory.doJSON(ctx, http.MethodPost, m.surface.base+"/actions/choose", body, nil)
}
