// ABOUTME: Procedure descriptor, parameter and extension metadata types for the registry.
// ABOUTME: Extension metadata is validated once at load time so readers never see bad shapes.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAnnotationsNotMap indicates extension annotations were given as a list.
var ErrAnnotationsNotMap = errors.New("annotations must be a map")

// ErrInvalidAuthLevel indicates annotations.auth.level is not a known level.
var ErrInvalidAuthLevel = errors.New("invalid auth level")

// Known values for annotations.auth.level.
var validAuthLevels = map[string]struct{}{
	"none":     {},
	"optional": {},
	"required": {},
}

// ParameterSpec declares a single procedure parameter.
type ParameterSpec struct {
	Schema      map[string]any
	Description string
	Required    bool
}

// Param is a named parameter. Descriptors keep params as a slice so
// declaration order survives into generated schemas.
type Param struct {
	Name string
	Spec ParameterSpec
}

// Descriptor describes a registered procedure. It is read-only once registered.
type Descriptor struct {
	ID     string   // dotted, globally unique, e.g. "examples.articles.list"
	Usage  string   // human readable description
	Params []Param  // in declaration order
	Access []string // permission tokens, all of which must be held
	Impl   string   // implementation reference for side-table lookups
}

// Param returns the named parameter spec.
func (d Descriptor) Param(name string) (ParameterSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p.Spec, true
		}
	}
	return ParameterSpec{}, false
}

// Extension marks a procedure as exposed through the tool surface.
type Extension struct {
	Title       string
	Annotations map[string]any
}

// NewExtension validates raw annotations and builds an Extension.
// annotations may be nil, a map, or JSON bytes decoding to an object.
func NewExtension(title string, annotations any) (*Extension, error) {
	ann, err := toAnnotationMap(annotations)
	if err != nil {
		return nil, err
	}
	if err := validateAuthAnnotation(ann); err != nil {
		return nil, err
	}
	return &Extension{Title: title, Annotations: ann}, nil
}

// MustExtension is NewExtension for static declarations; it panics on error.
func MustExtension(title string, annotations any) *Extension {
	ext, err := NewExtension(title, annotations)
	if err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
	return ext
}

func toAnnotationMap(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return a, nil
	case []any, []string, []map[string]any:
		return nil, ErrAnnotationsNotMap
	case json.RawMessage:
		return decodeAnnotations(a)
	case []byte:
		return decodeAnnotations(a)
	default:
		return nil, fmt.Errorf("%w: got %T", ErrAnnotationsNotMap, v)
	}
}

func decodeAnnotations(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding annotations: %w", err)
	}
	return toAnnotationMap(raw)
}

func validateAuthAnnotation(ann map[string]any) error {
	raw, ok := ann["auth"]
	if !ok {
		return nil
	}
	authMap, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: annotations.auth", ErrAnnotationsNotMap)
	}
	level, ok := authMap["level"]
	if !ok {
		return nil
	}
	s, ok := level.(string)
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidAuthLevel, level)
	}
	if _, known := validAuthLevels[s]; !known {
		return fmt.Errorf("%w: %q", ErrInvalidAuthLevel, s)
	}
	return nil
}
