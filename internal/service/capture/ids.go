package capture

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues capture identifiers. Safe for concurrent use.
type Generator struct {
	issued atomic.Uint64
	newID  func() string
}

// NewGenerator returns a Generator backed by random (v4) UUIDs.
func NewGenerator() *Generator {
	return &Generator{newID: uuid.NewString}
}

// Next returns a fresh identifier.
func (g *Generator) Next() string {
	g.issued.Add(1)
	return g.newID()
}

// Issued returns how many identifiers have been handed out.
func (g *Generator) Issued() uint64 {
	return g.issued.Load()
}
