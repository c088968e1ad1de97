package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique render job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewUpscaleID generates a unique upscale job ID with the "ups_" prefix
// Format: ups_<uuid>
func NewUpscaleID() string {
	return "ups_" + uuid.New().String()
}
