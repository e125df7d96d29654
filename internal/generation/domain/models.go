package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// EnhancementJob is one requested enhancement of one source photo. The
// external request id is the resume pointer for the outbound queue call:
// nil means no request is in flight, non-nil means a request was submitted
// and must never be submitted again.
type EnhancementJob struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id,string"`
	WorkspaceID snowflake.ID  `gorm:"index:idx_enhancement_jobs_workspace;not null" json:"workspace_id,string"`
	Tool        string        `gorm:"not null" json:"tool"`
	TemplateID  *snowflake.ID `json:"template_id,omitempty"`

	SourceImageURL string  `gorm:"not null" json:"source_image_url"`
	ResultImageURL *string `json:"result_image_url,omitempty"`

	Status            JobStatus `gorm:"index:idx_enhancement_jobs_status;not null;default:pending" json:"status"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	ExternalRequestID *string   `json:"-"`

	CreditCost int64 `gorm:"not null" json:"credit_cost"`
	Attempts   int   `gorm:"not null;default:0" json:"attempts"`

	CreatedAt   time.Time  `gorm:"index:idx_enhancement_jobs_created_at" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (EnhancementJob) TableName() string {
	return "enhancement_jobs"
}

// Terminal reports whether the job can no longer change through processing.
func (j *EnhancementJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
