package domain

import dErrors "clearfund/pkg/domain-errors"

// PurposeCategory is the declared use an obligation's funds are locked to.
// Invariant: the value must be one of the supported categories.
//
// Usage: construct via ParsePurposeCategory at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type PurposeCategory string

// Supported purpose categories.
const (
	PurposeMedical         PurposeCategory = "medical"
	PurposeEducation       PurposeCategory = "education"
	PurposeSports          PurposeCategory = "sports"
	PurposeExtracurricular PurposeCategory = "extracurricular"
	PurposeDevice          PurposeCategory = "device"
	PurposeCamp            PurposeCategory = "camp"
	PurposeClothing        PurposeCategory = "clothing"
	PurposeTransportation  PurposeCategory = "transportation"
	PurposeChildcare       PurposeCategory = "childcare"
	PurposeChildSupport    PurposeCategory = "child_support"
	PurposeOther           PurposeCategory = "other"
)

// validPurposeCategories is the single source of truth for valid categories.
var validPurposeCategories = map[PurposeCategory]bool{
	PurposeMedical:         true,
	PurposeEducation:       true,
	PurposeSports:          true,
	PurposeExtracurricular: true,
	PurposeDevice:          true,
	PurposeCamp:            true,
	PurposeClothing:        true,
	PurposeTransportation:  true,
	PurposeChildcare:       true,
	PurposeChildSupport:    true,
	PurposeOther:           true,
}

// ParsePurposeCategory constructs a PurposeCategory from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParsePurposeCategory(s string) (PurposeCategory, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "purpose category cannot be empty")
	}
	c := PurposeCategory(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid purpose category")
	}
	return c, nil
}

// IsValid checks if the category is one of the supported enum values.
func (c PurposeCategory) IsValid() bool {
	return validPurposeCategories[c]
}

// String returns the string representation of the category.
func (c PurposeCategory) String() string {
	return string(c)
}
