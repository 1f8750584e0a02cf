package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/logger"
)

// changeStream adapts a driver change stream to the engine's ChangeStream
// port, yielding events in the feed's delivery order.
type changeStream struct {
	stream *mongo.ChangeStream
	spec   model.CollectionSpec
	logger logger.Logger
}

func newChangeStream(stream *mongo.ChangeStream, spec model.CollectionSpec, log logger.Logger) *changeStream {
	return &changeStream{stream: stream, spec: spec, logger: log}
}

// streamEvent is the wire shape of a change stream document.
type streamEvent struct {
	OperationType string              `bson:"operationType"`
	FullDocument  bson.M              `bson:"fullDocument"`
	DocumentKey   bson.M              `bson:"documentKey"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
}

// Next blocks until the next event or cancellation. A dropped feed surfaces
// as a CaptureDisconnectError so the worker re-initializes with backoff.
func (s *changeStream) Next(ctx context.Context) (*model.ChangeEvent, error) {
	if !s.stream.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.stream.Err()
		if err == nil {
			err = errors.ErrStreamNotSupported
		}
		return nil, errors.NewCaptureDisconnectError("change stream terminated").
			WithCollection(s.spec.ID()).WithCause(err)
	}

	var raw streamEvent
	if err := s.stream.Decode(&raw); err != nil {
		return nil, errors.NewCaptureDisconnectError("failed to decode change event").
			WithCollection(s.spec.ID()).WithCause(err)
	}

	event := &model.ChangeEvent{
		CollectionID:    s.spec.ID(),
		Operation:       model.ChangeOperation(raw.OperationType),
		DocumentID:      raw.DocumentKey["_id"],
		FullDocument:    raw.FullDocument,
		SourceTimestamp: time.Unix(int64(raw.ClusterTime.T), 0).UTC(),
		ResumeToken:     s.ResumeToken(),
	}

	// An update event without a fullDocument means the document was deleted
	// between the update and the lookup; the delete event follows.
	if event.Operation.IsUpsert() && event.FullDocument == nil {
		s.logger.WithFields(map[string]interface{}{"collection": s.spec.ID()}).
			Warnf("Missing fullDocument in %s event for %v, skipping", raw.OperationType, event.DocumentID)
		return s.Next(ctx)
	}

	return event, nil
}

// ResumeToken returns the feed position after the last delivered event.
func (s *changeStream) ResumeToken() []byte {
	return []byte(s.stream.ResumeToken())
}

// Close releases the underlying driver stream.
func (s *changeStream) Close(ctx context.Context) error {
	return s.stream.Close(ctx)
}
