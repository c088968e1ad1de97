package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the state of a render job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SizePreset selects the output resolution of a render
type SizePreset string

const (
	SizePortrait  SizePreset = "portrait"
	SizeSquare    SizePreset = "square"
	SizeLandscape SizePreset = "landscape"
)

// Dimensions returns the pixel width and height for the preset.
// Unknown presets fall back to portrait.
func (s SizePreset) Dimensions() (int, int) {
	switch s {
	case SizeSquare:
		return 1024, 1024
	case SizeLandscape:
		return 1216, 832
	default:
		return 832, 1216
	}
}

// MaxSeed is the largest accepted seed value (unsigned 32-bit range)
const MaxSeed = int64(1<<32 - 1)

// MaxAdapters caps how many adapter slots a single render may chain
const MaxAdapters = 4

// AdapterSlot is one LoRA adapter selection on a render.
// Trigger words are resolved at selection time and kept in memory only;
// the persisted form is {name, strength}.
type AdapterSlot struct {
	Name         string   `json:"name"`
	Strength     float64  `json:"strength" validate:"min=0.1,max=3"`
	TriggerWords []string `json:"-"`
}

// Job represents one render request through its whole lifecycle.
// Timestamps are zero until the corresponding state is reached and are
// persisted as milliseconds since epoch.
type Job struct {
	ID              string        `json:"id"`
	RequesterID     string        `json:"requester_id"`
	GuildID         string        `json:"guild_id"`
	ChannelID       string        `json:"channel_id"`
	Status          JobStatus     `json:"status"`
	Model           string        `json:"model"`
	Sampler         string        `json:"sampler"`
	Scheduler       string        `json:"scheduler"`
	Steps           int           `json:"steps" validate:"min=1,max=150"`
	CFG             float64       `json:"cfg" validate:"min=1,max=30"`
	Seed            int64         `json:"seed" validate:"min=0"`
	Size            SizePreset    `json:"size"`
	PositivePrompt  string        `json:"positive_prompt"`
	NegativePrompt  string        `json:"negative_prompt"`
	Adapters        []AdapterSlot `json:"adapters" validate:"max=4,dive"`
	BackendPromptID string        `json:"backend_prompt_id,omitempty"`
	OutputImages    []string      `json:"output_images,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       time.Time     `json:"started_at,omitempty"`
	CompletedAt     time.Time     `json:"completed_at,omitempty"`
}

// MarshalAdapters serializes the persisted adapter form
func MarshalAdapters(adapters []AdapterSlot) (string, error) {
	if len(adapters) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(adapters)
	if err != nil {
		return "", fmt.Errorf("failed to marshal adapters: %w", err)
	}
	return string(data), nil
}

// UnmarshalAdapters restores adapter slots from their persisted form
func UnmarshalAdapters(data string) ([]AdapterSlot, error) {
	if data == "" {
		return nil, nil
	}
	var adapters []AdapterSlot
	if err := json.Unmarshal([]byte(data), &adapters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal adapters: %w", err)
	}
	return adapters, nil
}
