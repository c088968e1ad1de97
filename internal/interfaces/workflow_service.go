package interfaces

import (
	"github.com/ternarybob/pictor/internal/models"
)

// WorkflowBinder - interface for turning job rows into executable
// render graphs. Binding is pure: the same job against the same
// template yields the same graph.
type WorkflowBinder interface {
	// BindRender produces the generation graph for a render job
	BindRender(job *models.Job) (models.Graph, error)

	// BindUpscale produces the upscale graph for an upscale job using
	// the configured workflow variant
	BindUpscale(job *models.UpscaleJob) (models.Graph, error)
}
