package constants

// FieldType classifies a template field and implies its default validator
// and recognition layout mode.
type FieldType string

// Stable values (templates store these exact strings).
const (
	FieldText         FieldType = "text"
	FieldNumeric      FieldType = "numeric"
	FieldAlphanumeric FieldType = "alphanumeric"
	FieldDate         FieldType = "date"
	FieldEmail        FieldType = "email"
	FieldPhone        FieldType = "phone"
)

// KnownFieldTypes enumerates every accepted FieldType.
var KnownFieldTypes = map[FieldType]struct{}{
	FieldText:         {},
	FieldNumeric:      {},
	FieldAlphanumeric: {},
	FieldDate:         {},
	FieldEmail:        {},
	FieldPhone:        {},
}

// ValidatorName selects a named validation rule, overriding the default
// implied by the field type.
type ValidatorName string

const (
	ValidatorText         ValidatorName = "text"
	ValidatorNumeric      ValidatorName = "numeric"
	ValidatorMemberNumber ValidatorName = "member_number"
	ValidatorDate         ValidatorName = "date"
	ValidatorEmail        ValidatorName = "email"
	ValidatorPhone        ValidatorName = "phone"
	ValidatorNationalID   ValidatorName = "national_id"
)

// KnownValidators enumerates every accepted ValidatorName.
var KnownValidators = map[ValidatorName]struct{}{
	ValidatorText:         {},
	ValidatorNumeric:      {},
	ValidatorMemberNumber: {},
	ValidatorDate:         {},
	ValidatorEmail:        {},
	ValidatorPhone:        {},
	ValidatorNationalID:   {},
}

// DefaultValidatorForType maps a field type to the validator applied when
// the template names none.
func DefaultValidatorForType(t FieldType) ValidatorName {
	switch t {
	case FieldNumeric:
		return ValidatorNumeric
	case FieldAlphanumeric:
		return ValidatorMemberNumber
	case FieldDate:
		return ValidatorDate
	case FieldEmail:
		return ValidatorEmail
	case FieldPhone:
		return ValidatorPhone
	default:
		return ValidatorText
	}
}

// LayoutMode is the recognition layout hint handed to the OCR engine.
type LayoutMode string

const (
	// LayoutSingleLine suits short structured fields: IDs, dates, phone numbers.
	LayoutSingleLine LayoutMode = "single_line"
	// LayoutBlock suits free text that may wrap, like names and addresses.
	LayoutBlock LayoutMode = "block"
)

// LayoutForType picks the layout mode for a field type. Free text gets block
// mode; everything structured is read as a single line.
func LayoutForType(t FieldType) LayoutMode {
	if t == FieldText {
		return LayoutBlock
	}
	return LayoutSingleLine
}

// Source records which engine produced the retained value for a field.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)
