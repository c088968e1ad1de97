package models

import (
	"sort"
	"strconv"
)

// Graph is a renderer workflow in API form: node id -> node. Node ids
// are decimal strings in the wire format.
type Graph map[string]*GraphNode

// GraphNode is one node of a workflow graph. Inputs hold either literal
// values or edges; an edge is a two-element array of [source node id,
// output port index].
type GraphNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// NodeRef builds an edge value pointing at port of node id
func NodeRef(id string, port int) []any {
	return []any{id, float64(port)}
}

// AsNodeRef interprets v as an edge, returning the source node id and
// port. JSON decoding yields []any{string, float64} for edges.
func AsNodeRef(v any) (string, int, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return "", 0, false
	}
	id, ok := arr[0].(string)
	if !ok {
		return "", 0, false
	}
	switch port := arr[1].(type) {
	case float64:
		return id, int(port), true
	case int:
		return id, port, true
	default:
		return "", 0, false
	}
}

// SortedNodeIDs returns the graph's node ids in canonical order
func (g Graph) SortedNodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	return SortNodeIDs(ids)
}

// SortNodeIDs orders node ids numerically where possible, then
// lexically. Output collection relies on this order being stable
// across runs.
func SortNodeIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		if aerr == nil {
			return true
		}
		if berr == nil {
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}
