// ABOUTME: Tool descriptor types returned by list and describe
// ABOUTME: InputSchema marshals its properties in parameter declaration order

package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tool is the normalized, client-facing view of a procedure.
type Tool struct {
	Name         string         `json:"name"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description"`
	InputSchema  InputSchema    `json:"inputSchema"`
	OutputSchema any            `json:"outputSchema,omitempty"`
	Annotations  map[string]any `json:"annotations,omitempty"`
}

// Property is one entry of an input schema.
type Property struct {
	Name   string
	Schema map[string]any
}

// InputSchema is always an object schema.
type InputSchema struct {
	Properties []Property
	Required   []string
}

// MarshalJSON writes {"type":"object","properties":{...},"required":[...]}
// with properties in declaration order and required omitted when empty.
func (s InputSchema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, p := range s.Properties {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		schema := p.Schema
		if schema == nil {
			schema = map[string]any{}
		}
		val, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshaling property %q: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	if len(s.Required) > 0 {
		req, err := json.Marshal(s.Required)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"required":`)
		buf.Write(req)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object schema, keeping property order as written.
func (s *InputSchema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Required = raw.Required
	s.Properties = nil
	if len(raw.Properties) == 0 || string(raw.Properties) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Properties))
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected property key %v", tok)
		}
		var schema map[string]any
		if err := dec.Decode(&schema); err != nil {
			return fmt.Errorf("decoding property %q: %w", name, err)
		}
		s.Properties = append(s.Properties, Property{Name: name, Schema: schema})
	}
	return nil
}
