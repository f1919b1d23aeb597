// ABOUTME: Converts registry descriptors into normalized tool descriptors
// ABOUTME: Merges parameter descriptions into schemas and attaches extension metadata

package tool

import (
	"maps"

	"github.com/2389/toolbridge/internal/registry"
)

// MetadataSource supplies side-table metadata keyed by implementation reference.
type MetadataSource interface {
	Extension(impl string) (*registry.Extension, bool)
	OutputSchema(impl string) (any, bool)
}

// Normalizer builds Tools from descriptors.
type Normalizer struct {
	meta MetadataSource
}

// NewNormalizer creates a Normalizer reading metadata from meta.
func NewNormalizer(meta MetadataSource) *Normalizer {
	return &Normalizer{meta: meta}
}

// Normalize converts desc into a Tool. The descriptor is not modified.
func (n *Normalizer) Normalize(desc registry.Descriptor) Tool {
	t := Tool{
		Name:        desc.ID,
		Description: desc.Usage,
		InputSchema: buildInputSchema(desc.Params),
	}

	if n.meta == nil {
		return t
	}
	if out, ok := n.meta.OutputSchema(desc.Impl); ok && out != nil {
		t.OutputSchema = out
	}
	if ext, ok := n.meta.Extension(desc.Impl); ok && ext != nil {
		t.Title = ext.Title
		if ext.Annotations != nil {
			t.Annotations = deepCopyMap(ext.Annotations)
		}
	}
	return t
}

func buildInputSchema(params []registry.Param) InputSchema {
	schema := InputSchema{Properties: make([]Property, 0, len(params))}
	for _, p := range params {
		prop := deepCopyMap(p.Spec.Schema)
		if prop == nil {
			prop = map[string]any{}
		}
		if p.Spec.Description != "" {
			prop["description"] = p.Spec.Description
		}
		schema.Properties = append(schema.Properties, Property{Name: p.Name, Schema: prop})
		if p.Spec.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
