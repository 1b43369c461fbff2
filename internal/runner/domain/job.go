package domain

import "time"

// Status values a job moves through. Transitions are monotonic:
// queued -> running -> done | error. Terminal states are never left.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// statusRank orders statuses for the monotonic transition guard.
var statusRank = map[string]int{
	StatusQueued:  0,
	StatusRunning: 1,
	StatusDone:    2,
	StatusError:   2,
}

// IsTerminal reports whether status is done or error.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusError
}

// CanTransition reports whether a job may move from one status to the next.
// A terminal status can never be left, and a status never moves backwards.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Params is the immutable submission payload for a generation job.
type Params struct {
	Prompt      string   `json:"prompt"`
	StoryID     string   `json:"story_id"`
	Scene       int      `json:"scene"`
	RowID       string   `json:"row_id,omitempty"`
	Profile     string   `json:"profile,omitempty"`
	ProjectURL  string   `json:"project_url,omitempty"`
	FrameImages []string `json:"frame_images,omitempty"`
}

// Result is the payload recorded on a job that reached done.
type Result struct {
	ArtifactID   string `json:"artifact_id"`
	ArtifactPath string `json:"artifact_path"`
	Variant      string `json:"variant,omitempty"`
	Detection    string `json:"detection"`
	StoryID      string `json:"story_id"`
	Scene        int    `json:"scene"`
}

// Detection values recorded on results. The fallback path cannot confirm
// the artifact is new; callers deciding whether to trust it read this field.
const (
	DetectionNovelty  = "novelty-diff"
	DetectionFallback = "ready-fallback"
)

// Job is one asynchronous unit of work tracked by the orchestrator.
// Records are retained in memory for the lifetime of the process.
type Job struct {
	ID         string     `json:"job_id"`
	Params     Params     `json:"params"`
	Status     string     `json:"status"`
	Callback   string     `json:"callback,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Failure    *Failure   `json:"failure,omitempty"`
}
