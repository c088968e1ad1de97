package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

type service struct {
	generate        *template
	upscale         *template
	upscaleWorkflow models.UpscaleWorkflow
	logger          arbor.ILogger
}

// NewService loads and validates the generation template and the
// configured upscale variant. Any template problem is a boot failure.
func NewService(config *common.Config, logger arbor.ILogger) (interfaces.WorkflowBinder, error) {
	dir := config.Generation.TemplatesDir

	generate, err := loadTemplate(dir, generateTemplateFile, generateRequired)
	if err != nil {
		return nil, err
	}

	workflow := models.UpscaleWorkflow(config.Upscale.Workflow)
	file, required, err := upscaleTemplateFor(workflow)
	if err != nil {
		return nil, err
	}
	upscale, err := loadTemplate(dir, file, required)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("dir", dir).
		Str("upscale_workflow", string(workflow)).
		Msg("Workflow templates loaded")

	return &service{
		generate:        generate,
		upscale:         upscale,
		upscaleWorkflow: workflow,
		logger:          logger,
	}, nil
}

// BindRender produces the generation graph for a render job
func (s *service) BindRender(job *models.Job) (models.Graph, error) {
	graph, err := s.generate.parse()
	if err != nil {
		return nil, err
	}
	if err := validateGraph(s.generate.name, graph, s.generate.required); err != nil {
		return nil, err
	}

	adapters := activeAdapters(job.Adapters)
	injectAdapters(graph, adapters)

	width, height := job.Size.Dimensions()
	setInput(graph, nodeLatent, "width", width)
	setInput(graph, nodeLatent, "height", height)
	setInput(graph, nodeCheckpoint, "ckpt_name", job.Model)
	setInput(graph, nodeSeed, "seed", job.Seed)
	setInput(graph, nodePositive, "text", positiveText(job.PositivePrompt, adapters))
	setInput(graph, nodeNegative, "text", job.NegativePrompt)

	setInput(graph, nodePrimarySampler, "sampler_name", job.Sampler)
	setInput(graph, nodePrimarySampler, "scheduler", job.Scheduler)
	setInput(graph, nodePrimarySampler, "steps", job.Steps)
	setInput(graph, nodePrimarySampler, "cfg", job.CFG)
	for _, id := range auxSamplerNodes {
		// Steps and cfg on the aux samplers stay template-owned
		setInput(graph, id, "sampler_name", job.Sampler)
		setInput(graph, id, "scheduler", job.Scheduler)
	}

	if err := validateGraph(s.generate.name, graph, s.generate.required); err != nil {
		return nil, fmt.Errorf("bound graph invalid: %w", err)
	}
	return graph, nil
}

// BindUpscale produces the upscale graph for an upscale job using the
// configured workflow variant
func (s *service) BindUpscale(job *models.UpscaleJob) (models.Graph, error) {
	if job.Workflow != s.upscaleWorkflow {
		return nil, fmt.Errorf("upscale workflow %q is not loaded (configured: %q)", job.Workflow, s.upscaleWorkflow)
	}

	graph, err := s.upscale.parse()
	if err != nil {
		return nil, err
	}
	if err := validateGraph(s.upscale.name, graph, s.upscale.required); err != nil {
		return nil, err
	}

	setInput(graph, nodeUpscaleSource, "image", job.SourceImage)
	setInput(graph, nodeUpscaleModel, "model_name", job.UpscaleModel)
	if job.Workflow == models.UpscaleWorkflowUltimate {
		setInput(graph, nodeUpscalePositive, "text", job.PositivePrompt)
		setInput(graph, nodeUpscaleNegative, "text", job.NegativePrompt)
	}

	if err := validateGraph(s.upscale.name, graph, s.upscale.required); err != nil {
		return nil, fmt.Errorf("bound graph invalid: %w", err)
	}
	return graph, nil
}

// setInput writes a literal value on a node validated to exist
func setInput(graph models.Graph, id, field string, value any) {
	graph[id].Inputs[field] = value
}

// activeAdapters filters to populated slots, capped at the chain limit
func activeAdapters(slots []models.AdapterSlot) []models.AdapterSlot {
	active := make([]models.AdapterSlot, 0, len(slots))
	for _, slot := range slots {
		if strings.TrimSpace(slot.Name) == "" {
			continue
		}
		active = append(active, slot)
		if len(active) == models.MaxAdapters {
			break
		}
	}
	return active
}

// injectAdapters chains adapter loader nodes between the checkpoint and
// the rest of the graph. The first loader reads the checkpoint's model
// and clip outputs, each further loader reads the previous one, and
// every pre-existing edge onto the checkpoint's outputs 0 or 1 is
// rerouted to the last loader. Matching is by (source id, port), not by
// input name, since consumers name these inputs differently.
func injectAdapters(graph models.Graph, adapters []models.AdapterSlot) {
	if len(adapters) == 0 {
		return
	}

	lastID := nodeCheckpoint
	inserted := make(map[string]bool, len(adapters))
	for i, slot := range adapters {
		id := strconv.Itoa(adapterFirstID + i)
		graph[id] = &models.GraphNode{
			ClassType: "LoraLoader",
			Inputs: map[string]any{
				"lora_name":      slot.Name,
				"strength_model": slot.Strength,
				"strength_clip":  slot.Strength,
				"model":          models.NodeRef(lastID, 0),
				"clip":           models.NodeRef(lastID, 1),
			},
		}
		inserted[id] = true
		lastID = id
	}

	for id, node := range graph {
		if inserted[id] {
			continue
		}
		for field, value := range node.Inputs {
			src, port, ok := models.AsNodeRef(value)
			if !ok || src != nodeCheckpoint {
				continue
			}
			if port == 0 || port == 1 {
				node.Inputs[field] = models.NodeRef(lastID, port)
			}
		}
	}
}

// positiveText appends the adapters' trigger words to the prompt,
// deduplicated case-insensitively in first-seen order
func positiveText(prompt string, adapters []models.AdapterSlot) string {
	parts := []string{prompt}
	seen := make(map[string]bool)
	for _, slot := range adapters {
		for _, word := range slot.TriggerWords {
			word = strings.TrimSpace(word)
			key := strings.ToLower(word)
			if word == "" || seen[key] {
				continue
			}
			seen[key] = true
			parts = append(parts, word)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return prompt
	}
	return text
}
