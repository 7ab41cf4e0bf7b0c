package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// EntityKind represents the kind of code entity extracted from source
type EntityKind string

const (
	KindFunction  EntityKind = "function"
	KindMethod    EntityKind = "method"
	KindStruct    EntityKind = "struct"
	KindInterface EntityKind = "interface"
	KindType      EntityKind = "type"
)

// Entity represents a single indexed code entity (function, method, or type
// declaration) together with its embedding vector and call relationships.
type Entity struct {
	// Identification
	ID   string
	Name string
	Kind EntityKind

	// Content
	Code    string
	Summary string

	// Location
	FilePath  string
	LineStart int
	LineEnd   int
	Language  string

	// Visibility
	Exported bool

	// Relationships. Calls lists the names this entity references in
	// first-appearance order without duplicates. CalledBy is recomputed
	// from Calls across the whole store by the graph engine.
	Calls    []string
	CalledBy []string

	// Embedding
	Vector []float32
}

// EntityID derives the stable identifier for an entity. The same
// (filePath, name, lineStart) triple always produces the same ID, which
// makes repeated indexing runs idempotent.
func EntityID(filePath, name string, lineStart int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", filePath, name, lineStart)))
	return hex.EncodeToString(sum[:])[:32]
}

// Normalize fills derived and defaulted fields in place: a missing ID is
// computed from the location triple, and nil relationship slices become
// empty slices so they serialize as [] rather than null.
func (e *Entity) Normalize() {
	if e.ID == "" {
		e.ID = EntityID(e.FilePath, e.Name, e.LineStart)
	}
	if e.Calls == nil {
		e.Calls = []string{}
	}
	if e.CalledBy == nil {
		e.CalledBy = []string{}
	}
	if e.Language == "" {
		e.Language = "go"
	}
}

// ValidateKind checks if the entity kind is valid
func (e *Entity) ValidateKind() error {
	switch e.Kind {
	case KindFunction, KindMethod, KindStruct, KindInterface, KindType:
		return nil
	default:
		return errors.New("invalid entity kind")
	}
}

// Validate performs comprehensive validation of the entity
func (e *Entity) Validate() error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.FilePath == "" {
		return errors.New("file path is required")
	}
	if err := e.ValidateKind(); err != nil {
		return err
	}
	if e.LineStart <= 0 || e.LineEnd <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}
	if e.LineStart > e.LineEnd {
		return errors.New("invalid position: start line must be before or equal to end line")
	}
	return nil
}
