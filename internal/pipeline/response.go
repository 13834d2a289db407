package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/duncanmillerza/hadada-intake/constants"
)

// FieldValue is one field entry of the response payload. Value carries the
// normalized form when validation passed and the raw reading otherwise;
// NormalizedValue is null on validation failure so clients can tell "raw
// passed through" from "normalized". Which engine produced the reading is
// kept for the audit trail but not exposed to clients.
type FieldValue struct {
	Name            string           `json:"-"`
	Value           string           `json:"value"`
	RawValue        string           `json:"raw_value"`
	NormalizedValue *string          `json:"normalized_value"`
	Confidence      float64          `json:"confidence"`
	Valid           bool             `json:"valid"`
	Source          constants.Source `json:"-"`
}

// Data is the "data" object of a response: one member per template field in
// declaration order, with overall_confidence and warnings as sibling keys.
// Template loading rejects fields named after the reserved siblings, so the
// keys cannot collide.
type Data struct {
	Fields            []FieldValue
	OverallConfidence float64
	Warnings          []string
}

func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	member := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(vb)
		return nil
	}
	for _, f := range d.Fields {
		if err := member(f.Name, f); err != nil {
			return nil, err
		}
	}
	if err := member("overall_confidence", d.OverallConfidence); err != nil {
		return nil, err
	}
	warnings := d.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	if err := member("warnings", warnings); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Response is the payload returned for a completed extraction run.
// Validation failures surface as warnings, not as success=false; only a
// pipeline error (bad image, unknown template) prevents a response.
type Response struct {
	Success         bool   `json:"success"`
	Data            Data   `json:"data"`
	TemplateVersion string `json:"template_version"`

	remoteUsed bool
}

// Field returns the named entry from the data object.
func (r *Response) Field(name string) (FieldValue, bool) {
	for _, f := range r.Data.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldValue{}, false
}

// RemoteUsed reports whether fallback guesses participated in the merge.
func (r *Response) RemoteUsed() bool {
	return r.remoteUsed
}
