package utils

import (
	"context"
	"errors"

	"mongomirror/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrCollectionNotFound = errors.New("collection not found in context")
	ErrRunIDNotFound      = errors.New("runID not found in context")
	ErrModeNotFound       = errors.New("mode not found in context")
)

// WithCollection stores the collection id in the context.
func WithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, contextkeys.CollectionKey, collection)
}

// GetCollectionFromContext retrieves the collection id from the context.
func GetCollectionFromContext(ctx context.Context) (string, error) {
	val, ok := ctx.Value(contextkeys.CollectionKey).(string)
	if !ok || val == "" {
		return "", ErrCollectionNotFound
	}
	return val, nil
}

// WithRunID stores the migration run id in the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextkeys.RunIDKey, runID)
}

// GetRunIDFromContext retrieves the migration run id from the context.
func GetRunIDFromContext(ctx context.Context) (string, error) {
	val, ok := ctx.Value(contextkeys.RunIDKey).(string)
	if !ok || val == "" {
		return "", ErrRunIDNotFound
	}
	return val, nil
}

// WithMode stores the operational mode in the context.
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, contextkeys.ModeKey, mode)
}

// GetModeFromContext retrieves the operational mode from the context.
func GetModeFromContext(ctx context.Context) (string, error) {
	val, ok := ctx.Value(contextkeys.ModeKey).(string)
	if !ok || val == "" {
		return "", ErrModeNotFound
	}
	return val, nil
}

// WithComponent stores the component name in the context.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}

// WithOperation stores the operation name in the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, contextkeys.OperationKey, operation)
}
