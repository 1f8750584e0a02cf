package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ChangeOperation is the kind of source change carried by a ChangeEvent.
type ChangeOperation string

const (
	OperationInsert  ChangeOperation = "insert"
	OperationUpdate  ChangeOperation = "update"
	OperationReplace ChangeOperation = "replace"
	OperationDelete  ChangeOperation = "delete"
)

// IsUpsert reports whether the operation carries a full document to write.
func (op ChangeOperation) IsUpsert() bool {
	return op == OperationInsert || op == OperationUpdate || op == OperationReplace
}

// ChangeEvent is one detected source change. Delivery is at-least-once, so
// applying the same event twice must leave the target unchanged.
type ChangeEvent struct {
	CollectionID    string
	Operation       ChangeOperation
	DocumentID      interface{}
	FullDocument    bson.M // nil for deletes
	SourceTimestamp time.Time
	ResumeToken     []byte // position of this event in the feed, when streaming
}
