package model

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// IndexSpec describes one secondary index to replicate from source to target.
// The default _id index is never carried; every collection has it already.
type IndexSpec struct {
	Name   string `json:"name"`
	Keys   bson.D `json:"keys"`
	Unique bool   `json:"unique,omitempty"`
	Sparse bool   `json:"sparse,omitempty"`
}

// KeySignature renders the key pattern in a comparable form, used by the
// Verifier to match source and target indexes by shape rather than name.
func (s IndexSpec) KeySignature() string {
	parts := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		parts = append(parts, fmt.Sprintf("%s:%v", k.Key, k.Value))
	}
	return strings.Join(parts, ",")
}
