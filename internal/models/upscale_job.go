package models

import "time"

// UpscaleWorkflow selects which upscale template variant runs
type UpscaleWorkflow string

const (
	UpscaleWorkflowUltimate UpscaleWorkflow = "ultimate"
	UpscaleWorkflowSimple   UpscaleWorkflow = "simple"
)

// UpscaleJob represents one upscale request. SourceJobID is a soft
// reference: the source row may have been purged by the time the
// upscale runs, so everything needed to execute is copied here.
type UpscaleJob struct {
	ID              string          `json:"id"`
	RequesterID     string          `json:"requester_id"`
	GuildID         string          `json:"guild_id"`
	ChannelID       string          `json:"channel_id"`
	Status          JobStatus       `json:"status"`
	SourceJobID     string          `json:"source_job_id"`
	SourceImage     string          `json:"source_image"`
	PositivePrompt  string          `json:"positive_prompt"`
	NegativePrompt  string          `json:"negative_prompt"`
	UpscaleModel    string          `json:"upscale_model"`
	Workflow        UpscaleWorkflow `json:"workflow"`
	BackendPromptID string          `json:"backend_prompt_id,omitempty"`
	OutputImages    []string        `json:"output_images,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       time.Time       `json:"started_at,omitempty"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
}
