package models

import (
	"unicode"

	"github.com/pkg/errors"
)

// Field length limits
const (
	MaxIDLength          = 128
	MaxNameLength        = 256
	MaxRegionLength      = 128
	MaxDescriptionLength = 4096
)

// ValidateStringField checks for max length and control characters
func ValidateStringField(s string, maxLength int) bool {
	if len(s) > maxLength {
		return false
	}

	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}

	return true
}

func requireField(name, value string, maxLength int) error {
	if value == "" {
		return errors.Wrapf(ErrInvalidInput, "%s is required", name)
	}

	return optionalField(name, value, maxLength)
}

func optionalField(name, value string, maxLength int) error {
	if !ValidateStringField(value, maxLength) {
		return errors.Wrapf(ErrInvalidInput, "%s is too long or contains control characters", name)
	}

	return nil
}
