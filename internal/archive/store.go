// Package archive keeps a durable, best-effort ledger of terminal jobs.
// It is a derived record for reporting: the in-memory job store remains
// the source of truth for job state.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/studioforge/genrunner/internal/runner/domain"
	"github.com/studioforge/genrunner/shared/postgresql"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_archive (
	job_id       TEXT PRIMARY KEY,
	story_id     TEXT NOT NULL,
	scene        INT NOT NULL,
	status       TEXT NOT NULL,
	detection    TEXT NOT NULL DEFAULT '',
	artifact     TEXT NOT NULL DEFAULT '',
	failure_kind TEXT NOT NULL DEFAULT '',
	failure_msg  TEXT NOT NULL DEFAULT '',
	params       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
)`

// Run is one archived terminal job.
type Run struct {
	JobID       string    `db:"job_id" json:"job_id"`
	StoryID     string    `db:"story_id" json:"story_id"`
	Scene       int       `db:"scene" json:"scene"`
	Status      string    `db:"status" json:"status"`
	Detection   string    `db:"detection" json:"detection,omitempty"`
	Artifact    string    `db:"artifact" json:"artifact,omitempty"`
	FailureKind string    `db:"failure_kind" json:"failure_kind,omitempty"`
	FailureMsg  string    `db:"failure_msg" json:"failure_msg,omitempty"`
	Params      []byte    `db:"params" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates the archive store and ensures its schema exists.
func NewStore(ctx context.Context, pg *postgresql.Client) (*Store, error) {
	s := &Store{db: pg.GetDB()}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return s, nil
}

// Record inserts one terminal job. Conflicts are ignored: a job is
// finalized once, so a duplicate means the row already exists.
func (s *Store) Record(ctx context.Context, job domain.Job) error {
	if !domain.IsTerminal(job.Status) {
		return fmt.Errorf("refusing to archive non-terminal job %s (%s)", job.ID, job.Status)
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	run := Run{
		JobID:     job.ID,
		StoryID:   job.Params.StoryID,
		Scene:     job.Params.Scene,
		Status:    job.Status,
		Params:    params,
		CreatedAt: job.CreatedAt,
	}
	if job.FinishedAt != nil {
		run.FinishedAt = *job.FinishedAt
	}
	if job.Result != nil {
		run.Detection = job.Result.Detection
		run.Artifact = job.Result.ArtifactPath
	}
	if job.Failure != nil {
		run.FailureKind = job.Failure.Kind
		run.FailureMsg = job.Failure.Message
	}

	query := `
		INSERT INTO run_archive (
			job_id, story_id, scene, status, detection, artifact,
			failure_kind, failure_msg, params, created_at, finished_at
		) VALUES (
			:job_id, :story_id, :scene, :status, :detection, :artifact,
			:failure_kind, :failure_msg, :params, :created_at, :finished_at
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	return nil
}

// ListRecent returns the most recently finished runs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT
			job_id, story_id, scene, status, detection, artifact,
			failure_kind, failure_msg, params, created_at, finished_at
		FROM run_archive
		ORDER BY finished_at DESC, job_id DESC
		LIMIT $1
	`

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list archived runs: %w", err)
	}
	return runs, nil
}
