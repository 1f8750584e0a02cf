// Package mongodb implements the engine's source and target ports on the
// official MongoDB driver.
package mongodb

import (
	stderrors "errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"mongomirror/internal/shared/errors"
)

// classify maps driver errors onto the engine's error taxonomy so retry
// decisions stay uniform across copier, applier and capture.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errors.NewTransientError(message).WithCause(err)
	}

	var writeErr mongo.WriteException
	if stderrors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			// 121 DocumentValidationFailure, 2 BadValue: the target rejects
			// the document shape; retrying cannot help.
			if we.Code == 121 || we.Code == 2 {
				return errors.NewValidationError(message).WithCause(err)
			}
		}
	}

	var bulkErr mongo.BulkWriteException
	if stderrors.As(err, &bulkErr) {
		for _, we := range bulkErr.WriteErrors {
			if we.Code == 121 || we.Code == 2 {
				return errors.NewValidationError(message).WithCause(err)
			}
		}
	}

	return errors.NewTransientError(message).WithCause(err)
}

// isIndexExists reports whether index creation failed only because an
// equivalent index is already present.
func isIndexExists(err error) bool {
	var cmdErr mongo.CommandError
	if stderrors.As(err, &cmdErr) {
		// 85 IndexOptionsConflict, 86 IndexKeySpecsConflict, 68 IndexAlreadyExists
		if cmdErr.Code == 85 || cmdErr.Code == 86 || cmdErr.Code == 68 {
			return true
		}
	}
	return strings.Contains(err.Error(), "already exists")
}

// withFilter merges a spec's optional filter into a query filter.
func withFilter(base bson.M, extra bson.M) bson.M {
	if len(extra) == 0 {
		return base
	}
	if len(base) == 0 {
		return extra
	}
	return bson.M{"$and": []bson.M{base, extra}}
}
