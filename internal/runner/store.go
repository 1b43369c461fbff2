package runner

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/studioforge/genrunner/internal/runner/domain"
)

// storeShardCount spreads records over independent locks so long-running
// jobs never contend with status queries against other jobs.
const storeShardCount = 16

// Store is the concurrency-safe job record table. Records are kept for the
// lifetime of the process. Only the orchestrator mutates; reads return
// copies so callers never observe a record mid-update.
type Store struct {
	shards [storeShardCount]storeShard
}

type storeShard struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewStore creates an empty job record store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].jobs = make(map[string]*domain.Job)
	}
	return s
}

func (s *Store) shard(jobID string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return &s.shards[h.Sum32()%storeShardCount]
}

// Insert adds a new job record. The caller owns id uniqueness.
func (s *Store) Insert(job domain.Job) {
	shard := s.shard(job.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	stored := job
	shard.jobs[job.ID] = &stored
}

// Get returns a point-in-time copy of the record.
func (s *Store) Get(jobID string) (domain.Job, error) {
	shard := s.shard(jobID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	job, ok := shard.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *job, nil
}

// Update applies mutate to the record under the shard lock. Status changes
// must follow the monotonic queued -> running -> {done, error} order; an
// update that would violate it is rejected and the record is untouched.
func (s *Store) Update(jobID string, mutate func(*domain.Job)) (domain.Job, error) {
	shard := s.shard(jobID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	job, ok := shard.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}

	next := *job
	mutate(&next)

	if next.Status != job.Status && !domain.CanTransition(job.Status, next.Status) {
		return domain.Job{}, domain.ErrInvalidTransition
	}

	*job = next
	return next, nil
}

// Len returns the number of records across all shards.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].jobs)
		s.shards[i].mu.RUnlock()
	}
	return total
}

// ListFilter narrows and paginates List results.
type ListFilter struct {
	Status   string
	StoryID  string
	PageSize int
	Cursor   *Cursor
}

// Cursor marks a position in the created_at/job_id ordering.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	JobID     string    `json:"job_id"`
}

// List returns up to PageSize+1 job copies, newest first, ordered by
// created_at then job id for a stable cursor walk. The extra record lets
// the caller detect another page.
func (s *Store) List(filter ListFilter) []domain.Job {
	var jobs []domain.Job
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for _, job := range shard.jobs {
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
			if filter.StoryID != "" && job.Params.StoryID != filter.StoryID {
				continue
			}
			jobs = append(jobs, *job)
		}
		shard.mu.RUnlock()
	}

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})

	if filter.Cursor != nil {
		cut := sort.Search(len(jobs), func(i int) bool {
			j := jobs[i]
			if !j.CreatedAt.Equal(filter.Cursor.CreatedAt) {
				return j.CreatedAt.Before(filter.Cursor.CreatedAt)
			}
			return j.ID < filter.Cursor.JobID
		})
		jobs = jobs[cut:]
	}

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs
}
