// Package uuid generates queue item ids.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
)

// Generator creates time-ordered UUID v7 strings, so ids sort by submission.
type Generator struct {
	prefix string
}

var _ crawler.IDGenerator = (*Generator)(nil)

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewWithPrefix creates a Generator whose ids start with prefix.
func NewWithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
