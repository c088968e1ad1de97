package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// shippedTemplatesDir points at the template files the binary ships with
const shippedTemplatesDir = "../../../templates"

func newTestBinder(t *testing.T, upscaleWorkflow string) interfaces.WorkflowBinder {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Generation.TemplatesDir = shippedTemplatesDir
	config.Upscale.Workflow = upscaleWorkflow

	binder, err := NewService(config, arbor.NewLogger())
	require.NoError(t, err)
	return binder
}

func renderJob() *models.Job {
	return &models.Job{
		ID:             "job_1",
		Status:         models.JobStatusQueued,
		Model:          "base.safetensors",
		Sampler:        "euler_ancestral",
		Scheduler:      "karras",
		Steps:          30,
		CFG:            7.5,
		Seed:           424242,
		Size:           models.SizeLandscape,
		PositivePrompt: "a lighthouse at dusk",
		NegativePrompt: "blurry, watermark",
	}
}

// edgeTo asserts that the input named field on node id is an edge to
// (src, port)
func edgeTo(t *testing.T, graph models.Graph, id, field, src string, port int) {
	t.Helper()
	gotSrc, gotPort, ok := models.AsNodeRef(graph[id].Inputs[field])
	require.True(t, ok, "node %s input %s is not an edge", id, field)
	assert.Equal(t, src, gotSrc, "node %s input %s source", id, field)
	assert.Equal(t, port, gotPort, "node %s input %s port", id, field)
}

func TestBindRender_SetsJobValues(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	graph, err := binder.BindRender(renderJob())
	require.NoError(t, err)

	assert.Equal(t, "base.safetensors", graph["152"].Inputs["ckpt_name"])
	assert.Equal(t, int64(424242), graph["256"].Inputs["seed"])
	assert.Equal(t, 1216, graph["135"].Inputs["width"])
	assert.Equal(t, 832, graph["135"].Inputs["height"])
	assert.Equal(t, "a lighthouse at dusk", graph["161"].Inputs["text"])
	assert.Equal(t, "blurry, watermark", graph["163"].Inputs["text"])

	sampler := graph["22"].Inputs
	assert.Equal(t, "euler_ancestral", sampler["sampler_name"])
	assert.Equal(t, "karras", sampler["scheduler"])
	assert.Equal(t, 30, sampler["steps"])
	assert.Equal(t, 7.5, sampler["cfg"])
}

func TestBindRender_AuxSamplersKeepTemplateStepsAndCFG(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	graph, err := binder.BindRender(renderJob())
	require.NoError(t, err)

	// The refinement passes take the job's sampler and scheduler but
	// keep their own tuned step counts and cfg
	wantSteps := map[string]float64{"23": 14, "24": 12, "25": 10}
	for id, steps := range wantSteps {
		inputs := graph[id].Inputs
		assert.Equal(t, "euler_ancestral", inputs["sampler_name"], "node %s", id)
		assert.Equal(t, "karras", inputs["scheduler"], "node %s", id)
		assert.Equal(t, steps, inputs["steps"], "node %s", id)
		assert.Equal(t, 5.0, inputs["cfg"], "node %s", id)
	}
}

func TestBindRender_NoAdaptersLeavesGraphUntouched(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	graph, err := binder.BindRender(renderJob())
	require.NoError(t, err)

	for id, node := range graph {
		assert.NotEqual(t, "LoraLoader", node.ClassType, "unexpected loader node %s", id)
	}
	edgeTo(t, graph, "22", "model", "152", 0)
	edgeTo(t, graph, "161", "clip", "152", 1)
}

func TestBindRender_SingleAdapterChains(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := renderJob()
	job.Adapters = []models.AdapterSlot{{Name: "neon.safetensors", Strength: 0.8}}

	graph, err := binder.BindRender(job)
	require.NoError(t, err)

	loader := graph["2001"]
	require.NotNil(t, loader)
	assert.Equal(t, "LoraLoader", loader.ClassType)
	assert.Equal(t, "neon.safetensors", loader.Inputs["lora_name"])
	assert.Equal(t, 0.8, loader.Inputs["strength_model"])
	assert.Equal(t, 0.8, loader.Inputs["strength_clip"])
	edgeTo(t, graph, "2001", "model", "152", 0)
	edgeTo(t, graph, "2001", "clip", "152", 1)

	// Every model and clip consumer now reads from the loader
	for _, id := range []string{"22", "23", "24", "25"} {
		edgeTo(t, graph, id, "model", "2001", 0)
	}
	edgeTo(t, graph, "161", "clip", "2001", 1)
	edgeTo(t, graph, "163", "clip", "2001", 1)
}

func TestBindRender_AdapterChainSparesVAEEdges(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := renderJob()
	job.Adapters = []models.AdapterSlot{{Name: "neon.safetensors", Strength: 0.8}}

	graph, err := binder.BindRender(job)
	require.NoError(t, err)

	// The checkpoint's VAE output (port 2) is not a loader concern and
	// keeps flowing from the checkpoint
	edgeTo(t, graph, "31", "vae", "152", 2)
	for _, id := range []string{"22", "23", "24", "25"} {
		edgeTo(t, graph, id, "optional_vae", "152", 2)
	}
}

func TestBindRender_FourAdapterChain(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := renderJob()
	job.Adapters = []models.AdapterSlot{
		{Name: "a.safetensors", Strength: 1.0},
		{Name: "b.safetensors", Strength: 0.6},
		{Name: "c.safetensors", Strength: 1.4},
		{Name: "d.safetensors", Strength: 0.9},
	}

	graph, err := binder.BindRender(job)
	require.NoError(t, err)

	// Loaders chain in selection order off the checkpoint
	edgeTo(t, graph, "2001", "model", "152", 0)
	edgeTo(t, graph, "2002", "model", "2001", 0)
	edgeTo(t, graph, "2003", "model", "2002", 0)
	edgeTo(t, graph, "2004", "model", "2003", 0)
	edgeTo(t, graph, "2004", "clip", "2003", 1)

	// Consumers read from the end of the chain
	edgeTo(t, graph, "22", "model", "2004", 0)
	edgeTo(t, graph, "161", "clip", "2004", 1)
	assert.Equal(t, "b.safetensors", graph["2002"].Inputs["lora_name"])
	assert.Equal(t, 0.9, graph["2004"].Inputs["strength_model"])
}

func TestBindRender_BlankSlotsSkippedAndChainCapped(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := renderJob()
	job.Adapters = []models.AdapterSlot{
		{Name: "  ", Strength: 1.0},
		{Name: "a.safetensors", Strength: 1.0},
		{Name: "b.safetensors", Strength: 1.0},
		{Name: "c.safetensors", Strength: 1.0},
		{Name: "d.safetensors", Strength: 1.0},
		{Name: "e.safetensors", Strength: 1.0},
	}

	graph, err := binder.BindRender(job)
	require.NoError(t, err)

	assert.NotNil(t, graph["2004"])
	assert.Nil(t, graph["2005"])
	assert.Equal(t, "a.safetensors", graph["2001"].Inputs["lora_name"])
	assert.Equal(t, "d.safetensors", graph["2004"].Inputs["lora_name"])
}

func TestBindRender_TriggerWordsAppendedDeduplicated(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := renderJob()
	job.PositivePrompt = "a lighthouse"
	job.Adapters = []models.AdapterSlot{
		{Name: "a.safetensors", Strength: 1.0, TriggerWords: []string{"neon", "glow"}},
		{Name: "b.safetensors", Strength: 1.0, TriggerWords: []string{"Glow", "  ", "film grain"}},
	}

	graph, err := binder.BindRender(job)
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse neon glow film grain", graph["161"].Inputs["text"])
}

func TestBindRender_BindsAreIsolated(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	withAdapters := renderJob()
	withAdapters.Adapters = []models.AdapterSlot{{Name: "neon.safetensors", Strength: 0.8}}

	first, err := binder.BindRender(withAdapters)
	require.NoError(t, err)

	second, err := binder.BindRender(renderJob())
	require.NoError(t, err)

	// The second bind starts from a fresh parse: no loader nodes, edges
	// back on the checkpoint
	assert.Nil(t, second["2001"])
	edgeTo(t, second, "22", "model", "152", 0)

	// And the first bind's graph is not disturbed by the second
	assert.NotNil(t, first["2001"])
	edgeTo(t, first, "22", "model", "2001", 0)
}

func TestBindUpscale_Ultimate(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	job := &models.UpscaleJob{
		ID:             "ups_1",
		SourceImage:    "pictor_0001.png",
		PositivePrompt: "a lighthouse at dusk",
		NegativePrompt: "blurry",
		UpscaleModel:   "4x-ultra.pth",
		Workflow:       models.UpscaleWorkflowUltimate,
	}

	graph, err := binder.BindUpscale(job)
	require.NoError(t, err)
	assert.Equal(t, "pictor_0001.png", graph["71"].Inputs["image"])
	assert.Equal(t, "4x-ultra.pth", graph["72"].Inputs["model_name"])
	assert.Equal(t, "a lighthouse at dusk", graph["75"].Inputs["text"])
	assert.Equal(t, "blurry", graph["76"].Inputs["text"])
}

func TestBindUpscale_Simple(t *testing.T) {
	binder := newTestBinder(t, "simple")

	job := &models.UpscaleJob{
		ID:           "ups_1",
		SourceImage:  "pictor_0001.png",
		UpscaleModel: "4x-ultra.pth",
		Workflow:     models.UpscaleWorkflowSimple,
	}

	graph, err := binder.BindUpscale(job)
	require.NoError(t, err)
	assert.Equal(t, "pictor_0001.png", graph["71"].Inputs["image"])
	assert.Equal(t, "4x-ultra.pth", graph["72"].Inputs["model_name"])
}

func TestBindUpscale_WorkflowMismatch(t *testing.T) {
	binder := newTestBinder(t, "ultimate")

	_, err := binder.BindUpscale(&models.UpscaleJob{
		ID:           "ups_1",
		SourceImage:  "pictor_0001.png",
		UpscaleModel: "4x-ultra.pth",
		Workflow:     models.UpscaleWorkflowSimple,
	})
	assert.Error(t, err)
}

func TestNewService_MissingTemplatesDir(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Generation.TemplatesDir = filepath.Join(t.TempDir(), "absent")

	_, err := NewService(config, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate.json")
}

func TestNewService_ValidatesRequiredNodes(t *testing.T) {
	dir := t.TempDir()

	// A generation template without its seed node must fail boot with a
	// diagnostic naming the node
	source, err := os.ReadFile(filepath.Join(shippedTemplatesDir, "generate.json"))
	require.NoError(t, err)

	var graph models.Graph
	require.NoError(t, json.Unmarshal(source, &graph))
	delete(graph, "256")

	trimmed, err := json.Marshal(graph)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generate.json"), trimmed, 0644))

	config := common.NewDefaultConfig()
	config.Generation.TemplatesDir = dir

	_, err = NewService(config, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "256")
}

func TestNewService_UnknownUpscaleVariant(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Generation.TemplatesDir = shippedTemplatesDir
	config.Upscale.Workflow = "fancy"

	_, err := NewService(config, arbor.NewLogger())
	assert.Error(t, err)
}
