package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// Select menus on the chat platform cap out at 25 options and 100
// characters per label. Adapters present through an autocomplete-style
// picker instead and allow 100 entries.
const (
	maxSelectOptions  = 25
	maxAdapterOptions = 100
	maxLabelLength    = 100
)

// Preference orders for locating loader and sampler classes in the
// renderer's node schema. Earlier entries win.
var (
	checkpointClasses = []string{"CheckpointLoader|pysssss", "CheckpointLoaderSimple"}
	samplerClasses    = []string{"KSampler Adv. (Efficient)", "KSampler (Efficient)", "KSampler"}
	adapterClass      = "LoraLoader"
)

type resolver struct {
	renderer interfaces.RendererClient
	logger   arbor.ILogger

	mu      sync.RWMutex
	catalog *models.Catalog
}

// NewResolver creates a catalog service backed by the renderer's node
// schema. Refresh must succeed once before Catalog returns anything.
func NewResolver(renderer interfaces.RendererClient, logger arbor.ILogger) interfaces.CatalogService {
	return &resolver{
		renderer: renderer,
		logger:   logger,
	}
}

// Refresh pulls the node schema and rebuilds the catalog snapshot.
// The previous snapshot stays in place when the refresh fails.
func (r *resolver) Refresh(ctx context.Context) error {
	schema, err := r.renderer.ObjectInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch node schema: %w", err)
	}

	catalog := &models.Catalog{Truncated: make(map[string]int)}

	checkpointClass, checkpointSchema, fuzzy := findClass(schema, checkpointClasses, "CheckpointLoader")
	if checkpointSchema == nil {
		return fmt.Errorf("renderer exposes no checkpoint loader node")
	}
	if fuzzy {
		r.logger.Warn().Str("class", checkpointClass).Msg("No known checkpoint loader class, using fuzzy match")
	}
	catalog.CheckpointClass = checkpointClass
	if catalog.Models, err = checkpointSchema.EnumValues("ckpt_name"); err != nil {
		return fmt.Errorf("checkpoint loader %s: %w", checkpointClass, err)
	}
	if len(catalog.Models) == 0 {
		return fmt.Errorf("checkpoint loader %s lists no models", checkpointClass)
	}

	samplerClass, samplerSchema, _ := findClass(schema, samplerClasses, "")
	if samplerSchema == nil {
		return fmt.Errorf("renderer exposes no sampler node")
	}
	if samplerClass == "KSampler" {
		// The stock sampler has different graph semantics than the
		// efficiency variants the templates were authored against
		r.logger.Warn().Str("class", samplerClass).Msg("Falling back to stock sampler class")
	}
	catalog.SamplerClass = samplerClass
	if catalog.Samplers, err = samplerSchema.EnumValues("sampler_name"); err != nil {
		return fmt.Errorf("sampler node %s: %w", samplerClass, err)
	}
	if catalog.Schedulers, err = samplerSchema.EnumValues("scheduler"); err != nil {
		return fmt.Errorf("sampler node %s: %w", samplerClass, err)
	}
	if len(catalog.Samplers) == 0 || len(catalog.Schedulers) == 0 {
		return fmt.Errorf("sampler node %s lists no samplers or schedulers", samplerClass)
	}

	if adapterSchema, ok := schema[adapterClass]; ok {
		if catalog.Adapters, err = adapterSchema.EnumValues("lora_name"); err != nil {
			r.logger.Warn().Err(err).Msg("Adapter loader present but unusable, adapters disabled")
			catalog.Adapters = nil
		}
	}

	catalog.Models = r.fitList("models", catalog.Models, maxSelectOptions, catalog.Truncated)
	catalog.Adapters = r.fitList("adapters", catalog.Adapters, maxAdapterOptions, catalog.Truncated)
	catalog.Samplers = r.fitList("samplers", catalog.Samplers, maxSelectOptions, catalog.Truncated)
	catalog.Schedulers = r.fitList("schedulers", catalog.Schedulers, maxSelectOptions, catalog.Truncated)

	r.mu.Lock()
	r.catalog = catalog
	r.mu.Unlock()

	r.logger.Info().
		Str("checkpoint_class", catalog.CheckpointClass).
		Str("sampler_class", catalog.SamplerClass).
		Int("models", len(catalog.Models)).
		Int("adapters", len(catalog.Adapters)).
		Int("samplers", len(catalog.Samplers)).
		Int("schedulers", len(catalog.Schedulers)).
		Msg("Catalog refreshed")

	return nil
}

// Catalog returns the last refreshed snapshot, or nil before the
// first successful refresh.
func (r *resolver) Catalog() *models.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// fitList applies the option-count limit, recording the original length of any cut list
func (r *resolver) fitList(name string, values []string, limit int, truncated map[string]int) []string {
	if len(values) > limit {
		r.logger.Warn().
			Str("list", name).
			Int("total", len(values)).
			Int("kept", limit).
			Msg("Catalog list exceeds widget capacity, truncating")
		truncated[name] = len(values)
		values = values[:limit]
	}
	for i, v := range values {
		if len(v) > maxLabelLength {
			values[i] = v[:maxLabelLength]
		}
	}
	return values
}

// findClass returns the first schema entry from the preference list,
// falling back to a substring scan when fallbackContains is non-empty.
// The third return reports whether the fallback was used.
func findClass(schema map[string]*models.NodeSchema, preferred []string, fallbackContains string) (string, *models.NodeSchema, bool) {
	for _, name := range preferred {
		if s, ok := schema[name]; ok {
			return name, s, false
		}
	}
	if fallbackContains == "" {
		return "", nil, false
	}
	// Deterministic pick among fuzzy matches
	var bestName string
	var bestSchema *models.NodeSchema
	for name, s := range schema {
		if !strings.Contains(name, fallbackContains) {
			continue
		}
		if bestSchema == nil || name < bestName {
			bestName, bestSchema = name, s
		}
	}
	return bestName, bestSchema, bestSchema != nil
}
