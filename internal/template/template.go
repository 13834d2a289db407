package template

import (
	"fmt"

	"github.com/duncanmillerza/hadada-intake/constants"
)

// Reserved field names share the response "data" object with per-field
// entries, so templates may not claim them.
var reservedFieldNames = map[string]struct{}{
	"overall_confidence": {},
	"warnings":           {},
}

// BoundingBox locates a field on the canonical page, in template pixel space.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FieldSpec describes one extractable field of an intake form revision.
type FieldSpec struct {
	Name           string                  `json:"name"`
	Label          string                  `json:"label"`
	Type           constants.FieldType     `json:"type"`
	Box            BoundingBox             `json:"box"`
	Whitelist      string                  `json:"whitelist,omitempty"`
	Validation     constants.ValidatorName `json:"validation,omitempty"`
	DateFormatHint string                  `json:"date_format_hint,omitempty"`
	MinLength      int                     `json:"min_length,omitempty"`
	MaxLength      int                     `json:"max_length,omitempty"`
}

// Validator resolves the effective validator: the explicit override when
// present, otherwise the default implied by the field type.
func (f FieldSpec) Validator() constants.ValidatorName {
	if f.Validation != "" {
		return f.Validation
	}
	return constants.DefaultValidatorForType(f.Type)
}

// Layout resolves the recognition layout mode for the field.
func (f FieldSpec) Layout() constants.LayoutMode {
	return constants.LayoutForType(f.Type)
}

// FormTemplate is a versioned field-layout definition. Immutable after load.
type FormTemplate struct {
	Version           string      `json:"version"`
	Description       string      `json:"description,omitempty"`
	PageWidth         int         `json:"page_width"`
	PageHeight        int         `json:"page_height"`
	DPI               int         `json:"dpi"`
	FallbackThreshold float64     `json:"fallback_threshold,omitempty"`
	Fields            []FieldSpec `json:"fields"`
}

// FieldNames returns the field names in declaration order.
func (t *FormTemplate) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Field looks up a FieldSpec by name.
func (t *FormTemplate) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// validate enforces the structural invariants: version and page dimensions
// present, at least one field, unique non-reserved names, known types and
// validators, and every bounding box fully inside [0,pageWidth)x[0,pageHeight).
func (t *FormTemplate) validate() error {
	if t.Version == "" {
		return fmt.Errorf("missing version")
	}
	if t.PageWidth <= 0 || t.PageHeight <= 0 {
		return fmt.Errorf("page dimensions must be positive, got %dx%d", t.PageWidth, t.PageHeight)
	}
	if t.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", t.DPI)
	}
	if t.FallbackThreshold < 0 || t.FallbackThreshold > 100 {
		return fmt.Errorf("fallback_threshold %.1f outside 0..100", t.FallbackThreshold)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("template declares no fields")
	}

	seen := make(map[string]struct{}, len(t.Fields))
	for i, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d: missing name", i)
		}
		if _, reserved := reservedFieldNames[f.Name]; reserved {
			return fmt.Errorf("field %q: name is reserved", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field %q: duplicate name", f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Label == "" {
			return fmt.Errorf("field %q: missing label", f.Name)
		}
		if _, ok := constants.KnownFieldTypes[f.Type]; !ok {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if f.Validation != "" {
			if _, ok := constants.KnownValidators[f.Validation]; !ok {
				return fmt.Errorf("field %q: unknown validator %q", f.Name, f.Validation)
			}
		}
		if err := t.validateBox(f); err != nil {
			return err
		}
		if f.MinLength < 0 || f.MaxLength < 0 || (f.MaxLength > 0 && f.MinLength > f.MaxLength) {
			return fmt.Errorf("field %q: invalid length bounds %d..%d", f.Name, f.MinLength, f.MaxLength)
		}
	}
	return nil
}

func (t *FormTemplate) validateBox(f FieldSpec) error {
	b := f.Box
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("field %q: bounding box must have positive size, got %dx%d", f.Name, b.Width, b.Height)
	}
	if b.X < 0 || b.Y < 0 || b.X+b.Width > t.PageWidth || b.Y+b.Height > t.PageHeight {
		return fmt.Errorf("field %q: bounding box (%d,%d %dx%d) outside page %dx%d",
			f.Name, b.X, b.Y, b.Width, b.Height, t.PageWidth, t.PageHeight)
	}
	return nil
}
