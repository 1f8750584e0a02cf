package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UpdatedAtField is the modification-timestamp field polling mode keys on.
const UpdatedAtField = "updatedAt"

// ExtractID returns the _id of a document, or nil when absent.
func ExtractID(doc bson.M) interface{} {
	if doc == nil {
		return nil
	}
	return doc["_id"]
}

// FormatDocumentID renders a document id in the canonical string form used
// for checkpoints and verification reports. ObjectIDs render as 24-char hex,
// which preserves their ordering under lexicographic comparison.
func FormatDocumentID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ParseDocumentID reverses FormatDocumentID: a 24-char hex string becomes an
// ObjectID, anything else is kept as a plain string.
func ParseDocumentID(s string) interface{} {
	if s == "" {
		return nil
	}
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return s
}

// DocumentTimestamp extracts the document's modification timestamp when it
// carries one. Drivers and upstream writers disagree on representation, so
// time.Time, bson DateTime and RFC 3339 strings are all accepted.
func DocumentTimestamp(doc bson.M) (time.Time, bool) {
	raw, ok := doc[UpdatedAtField]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
