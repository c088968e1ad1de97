package models

import (
	"encoding/json"
	"fmt"
)

// NodeSchema is one entry of the renderer's node registry
type NodeSchema struct {
	Input       NodeInputSchema `json:"input"`
	DisplayName string          `json:"display_name,omitempty"`
	Category    string          `json:"category,omitempty"`
}

// NodeInputSchema lists a node class's declared inputs. Field specs are
// kept raw; enum fields carry their allowed values as the first element
// of the spec array.
type NodeInputSchema struct {
	Required map[string]json.RawMessage `json:"required"`
	Optional map[string]json.RawMessage `json:"optional,omitempty"`
}

// EnumValues extracts the allowed values of a required enum field.
// Returns an error when the field is missing or not enum-shaped.
func (s *NodeSchema) EnumValues(field string) ([]string, error) {
	raw, ok := s.Input.Required[field]
	if !ok {
		return nil, fmt.Errorf("field %q not declared", field)
	}
	var spec []json.RawMessage
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("field %q has a non-array spec: %w", field, err)
	}
	if len(spec) == 0 {
		return nil, fmt.Errorf("field %q has an empty spec", field)
	}
	var values []string
	if err := json.Unmarshal(spec[0], &values); err != nil {
		return nil, fmt.Errorf("field %q is not an enum: %w", field, err)
	}
	return values, nil
}

// HistoryEntry is the renderer's record of one submitted prompt
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// NodeOutput holds the images an output node produced
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// ImageRef locates one image on the renderer's filesystem
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryStatus mirrors the renderer's execution status block
type HistoryStatus struct {
	StatusStr string `json:"status_str,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// HasOutputs reports whether any output node produced images
func (h *HistoryEntry) HasOutputs() bool {
	for _, out := range h.Outputs {
		if len(out.Images) > 0 {
			return true
		}
	}
	return false
}

// UploadedImage is the renderer's reply to an image upload. The stored
// name wins over the submitted filename.
type UploadedImage struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
