// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 run IDs. v7 embeds the start time, so run IDs in
// logs, events and published summaries sort in the order runs began.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a fresh run ID.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}
