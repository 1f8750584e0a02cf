package model

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/shared/errors"
)

// CollectionSpec identifies one collection to mirror from source to target.
// Specs are loaded once at startup and never mutated by the engine.
type CollectionSpec struct {
	SourceDB   string `json:"source_db"`
	TargetDB   string `json:"target_db"`
	Collection string `json:"collection"`
	// Filter optionally restricts which source documents are mirrored.
	Filter bson.M `json:"filter,omitempty"`
}

// ID returns the key under which checkpoints and progress are tracked.
func (s CollectionSpec) ID() string {
	return s.Collection
}

// Validate checks the spec has the required fields.
func (s CollectionSpec) Validate() error {
	if s.SourceDB == "" || s.TargetDB == "" || s.Collection == "" {
		return errors.ErrInvalidSpec
	}
	return nil
}
