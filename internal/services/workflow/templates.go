package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/pictor/internal/models"
)

// Node ids the bind transform writes to. These are fixed by the shipped
// template files; boot validation fails fast when a template was edited
// out from under them.
const (
	nodePrimarySampler = "22"
	nodeLatent         = "135"
	nodeCheckpoint     = "152"
	nodePositive       = "161"
	nodeNegative       = "163"
	nodeSeed           = "256"

	nodeUpscaleSource   = "71"
	nodeUpscaleModel    = "72"
	nodeUpscalePositive = "75"
	nodeUpscaleNegative = "76"

	// Adapter loader nodes are numbered from here, well clear of the
	// template's own id range so edge rewriting can skip them
	adapterFirstID = 2001
)

// auxSamplerNodes receive only sampler_name and scheduler on bind.
// Their steps and cfg belong to the template and are never written.
var auxSamplerNodes = []string{"23", "24", "25"}

const (
	generateTemplateFile        = "generate.json"
	upscaleUltimateTemplateFile = "upscale-ultimate.json"
	upscaleSimpleTemplateFile   = "upscale-simple.json"
)

// requiredNode names one node a template must carry, with the inputs
// that must be populated before and after binding
type requiredNode struct {
	id     string
	role   string
	fields []string
}

var generateRequired = []requiredNode{
	{nodeLatent, "latent size", []string{"width", "height"}},
	{nodeCheckpoint, "checkpoint", []string{"ckpt_name"}},
	{nodeSeed, "seed", []string{"seed"}},
	{nodePositive, "positive encoder", []string{"text"}},
	{nodeNegative, "negative encoder", []string{"text"}},
	{nodePrimarySampler, "primary sampler", []string{"sampler_name", "scheduler", "steps", "cfg"}},
	{"23", "aux sampler", []string{"sampler_name", "scheduler"}},
	{"24", "aux sampler", []string{"sampler_name", "scheduler"}},
	{"25", "aux sampler", []string{"sampler_name", "scheduler"}},
}

var upscaleUltimateRequired = []requiredNode{
	{nodeUpscaleSource, "source image", []string{"image"}},
	{nodeUpscaleModel, "upscale model", []string{"model_name"}},
	{nodeUpscalePositive, "positive encoder", []string{"text"}},
	{nodeUpscaleNegative, "negative encoder", []string{"text"}},
}

var upscaleSimpleRequired = []requiredNode{
	{nodeUpscaleSource, "source image", []string{"image"}},
	{nodeUpscaleModel, "upscale model", []string{"model_name"}},
}

// template holds one graph's source text. The text is read once; every
// bind parses a fresh copy so jobs never share node maps.
type template struct {
	name     string
	source   []byte
	required []requiredNode
}

func loadTemplate(dir, file string, required []requiredNode) (*template, error) {
	path := filepath.Join(dir, file)
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	t := &template{name: file, source: source, required: required}
	graph, err := t.parse()
	if err != nil {
		return nil, err
	}
	if err := validateGraph(t.name, graph, required); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *template) parse() (models.Graph, error) {
	var graph models.Graph
	if err := json.Unmarshal(t.source, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", t.name, err)
	}
	return graph, nil
}

// validateGraph checks the required-node table, stopping at the first
// missing node or unpopulated input
func validateGraph(name string, graph models.Graph, required []requiredNode) error {
	for _, req := range required {
		node, ok := graph[req.id]
		if !ok || node == nil {
			return fmt.Errorf("template %s: missing %s node %s", name, req.role, req.id)
		}
		for _, field := range req.fields {
			value, ok := node.Inputs[field]
			if !ok || value == nil {
				return fmt.Errorf("template %s: node %s (%s) has no input %q", name, req.id, req.role, field)
			}
		}
	}
	return nil
}

func upscaleTemplateFor(workflow models.UpscaleWorkflow) (string, []requiredNode, error) {
	switch workflow {
	case models.UpscaleWorkflowUltimate:
		return upscaleUltimateTemplateFile, upscaleUltimateRequired, nil
	case models.UpscaleWorkflowSimple:
		return upscaleSimpleTemplateFile, upscaleSimpleRequired, nil
	default:
		return "", nil, fmt.Errorf("unknown upscale workflow %q", workflow)
	}
}
