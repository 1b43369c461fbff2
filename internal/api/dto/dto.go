package dto

// SubmitJobRequest is the POST /api/v1/jobs body.
type SubmitJobRequest struct {
	Prompt      string   `json:"prompt"`
	StoryID     string   `json:"story_id"`
	Scene       int      `json:"scene"`
	RowID       string   `json:"row_id"`
	Profile     string   `json:"profile"`
	ProjectURL  string   `json:"project_url"`
	FrameImages []string `json:"frame_images"`
	WebhookURL  string   `json:"webhook_url"`
}

// ListJobsRequest is the GET /api/v1/jobs query.
type ListJobsRequest struct {
	Status   string `form:"status"`
	StoryID  string `form:"story_id"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is the GET /api/v1/jobs body.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is one job snapshot on the wire.
type JobDTO struct {
	JobID      string      `json:"job_id"`
	Status     string      `json:"status"`
	StoryID    string      `json:"story_id"`
	Scene      int         `json:"scene"`
	CreatedAt  string      `json:"created_at"`
	StartedAt  string      `json:"started_at,omitempty"`
	FinishedAt string      `json:"finished_at,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Failure    interface{} `json:"failure,omitempty"`
}

// CreateProfileRequest is the POST /api/v1/profiles body.
type CreateProfileRequest struct {
	Name string `json:"name"`
}
