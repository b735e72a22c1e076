package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	EvaluationID ID
	WindowID     ID
)

// String conversions for domain IDs
func (id EvaluationID) String() string { return ID(id).String() }
func (id WindowID) String() string     { return ID(id).String() }

// ParseEvaluationID parses a string into EvaluationID
func ParseEvaluationID(s string) (EvaluationID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("evaluation ID cannot be empty")
	}
	return EvaluationID(s), nil
}

// ParseWindowID parses a string into WindowID
func ParseWindowID(s string) (WindowID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("window ID cannot be empty")
	}
	return WindowID(s), nil
}
