package models

// Catalog holds the option lists resolved from the renderer's node
// registry at boot. Lists are already truncated to the chat platform's
// select-menu limits; Truncated records the original length of any list
// that was cut.
type Catalog struct {
	Models     []string       `json:"models"`
	Samplers   []string       `json:"samplers"`
	Schedulers []string       `json:"schedulers"`
	Adapters   []string       `json:"adapters"`
	Truncated  map[string]int `json:"truncated,omitempty"`

	// Resolved node class names, kept for diagnostics
	CheckpointClass string `json:"checkpoint_class"`
	SamplerClass    string `json:"sampler_class"`
}

// HasModel reports whether name is an offered checkpoint
func (c *Catalog) HasModel(name string) bool {
	return containsString(c.Models, name)
}

// HasSampler reports whether name is an offered sampler
func (c *Catalog) HasSampler(name string) bool {
	return containsString(c.Samplers, name)
}

// HasScheduler reports whether name is an offered scheduler
func (c *Catalog) HasScheduler(name string) bool {
	return containsString(c.Schedulers, name)
}

// HasAdapter reports whether name is an offered adapter
func (c *Catalog) HasAdapter(name string) bool {
	return containsString(c.Adapters, name)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
