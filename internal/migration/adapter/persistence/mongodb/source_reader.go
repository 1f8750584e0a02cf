package mongodb

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/domain/repository"
	"mongomirror/internal/shared/database"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/logger"
)

// SourceReader reads batches, changed documents, index definitions and change
// streams from the source cluster.
type SourceReader struct {
	conns  *database.Connections
	logger logger.Logger
}

// NewSourceReader returns a SourceReader over the supplied connections.
func NewSourceReader(conns *database.Connections, log logger.Logger) *SourceReader {
	return &SourceReader{conns: conns, logger: log.WithComponent("source_reader")}
}

func (r *SourceReader) collection(spec model.CollectionSpec) *mongo.Collection {
	return r.conns.SourceDatabase(spec.SourceDB).Collection(spec.Collection)
}

// Count returns the number of source documents matching the spec's filter.
func (r *SourceReader) Count(ctx context.Context, spec model.CollectionSpec) (int64, error) {
	n, err := r.collection(spec).CountDocuments(ctx, withFilter(bson.M{}, spec.Filter))
	if err != nil {
		return 0, classify(err, "failed to count source documents")
	}
	return n, nil
}

// NextBatch returns up to limit documents ordered by _id, strictly after
// afterID.
func (r *SourceReader) NextBatch(ctx context.Context, spec model.CollectionSpec, afterID string, limit int) ([]bson.M, error) {
	filter := bson.M{}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": model.ParseDocumentID(afterID)}
	}
	return r.find(ctx, spec, filter, bson.D{{Key: "_id", Value: 1}}, limit)
}

// ChangedSince returns up to limit documents modified strictly after since,
// ordered by (modification timestamp, _id). afterID breaks ties at exactly
// since so paging never skips documents sharing one timestamp.
func (r *SourceReader) ChangedSince(ctx context.Context, spec model.CollectionSpec, since time.Time, afterID string, limit int) ([]bson.M, error) {
	filter := bson.M{}
	switch {
	case since.IsZero():
	case afterID == "":
		filter[model.UpdatedAtField] = bson.M{"$gt": since}
	default:
		filter["$or"] = bson.A{
			bson.M{model.UpdatedAtField: bson.M{"$gt": since}},
			bson.M{model.UpdatedAtField: since, "_id": bson.M{"$gt": model.ParseDocumentID(afterID)}},
		}
	}
	sort := bson.D{{Key: model.UpdatedAtField, Value: 1}, {Key: "_id", Value: 1}}
	return r.find(ctx, spec, filter, sort, limit)
}

func (r *SourceReader) find(ctx context.Context, spec model.CollectionSpec, filter bson.M, sort bson.D, limit int) ([]bson.M, error) {
	opts := options.Find().SetSort(sort).SetLimit(int64(limit))
	cur, err := r.collection(spec).Find(ctx, withFilter(filter, spec.Filter), opts)
	if err != nil {
		return nil, classify(err, "failed to fetch source batch")
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err, "failed to decode source batch")
	}
	return docs, nil
}

// FindByID returns one source document, or nil when absent.
func (r *SourceReader) FindByID(ctx context.Context, spec model.CollectionSpec, id interface{}) (bson.M, error) {
	var doc bson.M
	err := r.collection(spec).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "failed to fetch source document")
	}
	return doc, nil
}

// FindByIDs returns the subset of requested source documents that exist,
// keyed by canonical id string.
func (r *SourceReader) FindByIDs(ctx context.Context, spec model.CollectionSpec, ids []interface{}) (map[string]bson.M, error) {
	return findByIDs(ctx, r.collection(spec), ids)
}

// SampleIDs returns up to limit source document ids.
func (r *SourceReader) SampleIDs(ctx context.Context, spec model.CollectionSpec, limit int) ([]interface{}, error) {
	return sampleIDs(ctx, r.collection(spec), withFilter(bson.M{}, spec.Filter), limit)
}

// ListIndexes returns the collection's secondary indexes; the default _id
// index is skipped.
func (r *SourceReader) ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error) {
	return listIndexes(ctx, r.collection(spec))
}

// Watch subscribes to the collection's change stream, resuming from the
// stored token when non-nil. A source that cannot stream (standalone server,
// no oplog) surfaces errors.ErrStreamNotSupported so the caller can fall back
// to polling.
func (r *SourceReader) Watch(ctx context.Context, spec model.CollectionSpec, resumeToken []byte) (repository.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeToken) > 0 {
		opts = opts.SetResumeAfter(bson.Raw(resumeToken))
	}

	stream, err := r.collection(spec).Watch(ctx, pipeline, opts)
	if err != nil {
		var cmdErr mongo.CommandError
		// 40573: $changeStream only supported on replica sets
		if stderrors.As(err, &cmdErr) && (cmdErr.Code == 40573 || cmdErr.Code == 72) {
			return nil, errors.ErrStreamNotSupported
		}
		if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
			return nil, errors.NewCaptureDisconnectError("failed to open change stream").
				WithCollection(spec.ID()).WithCause(err)
		}
		return nil, errors.ErrStreamNotSupported
	}

	return newChangeStream(stream, spec, r.logger), nil
}

// sampleIDs and findByIDs are shared with the target side.

func sampleIDs(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int) ([]interface{}, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(err, "failed to sample document ids")
	}
	defer cur.Close(ctx)

	var ids []interface{}
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, classify(err, "failed to decode sampled id")
		}
		ids = append(ids, doc["_id"])
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err, "failed to iterate sampled ids")
	}
	return ids, nil
}

func findByIDs(ctx context.Context, coll *mongo.Collection, ids []interface{}) (map[string]bson.M, error) {
	if len(ids) == 0 {
		return map[string]bson.M{}, nil
	}
	cur, err := coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, classify(err, "failed to fetch documents by id")
	}
	defer cur.Close(ctx)

	found := make(map[string]bson.M, len(ids))
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, classify(err, "failed to decode document")
		}
		found[model.FormatDocumentID(doc["_id"])] = doc
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err, "failed to iterate documents")
	}
	return found, nil
}

func listIndexes(ctx context.Context, coll *mongo.Collection) ([]model.IndexSpec, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, classify(err, "failed to list indexes")
	}
	defer cur.Close(ctx)

	var specs []model.IndexSpec
	for cur.Next(ctx) {
		var idx struct {
			Name   string `bson:"name"`
			Key    bson.D `bson:"key"`
			Unique bool   `bson:"unique"`
			Sparse bool   `bson:"sparse"`
		}
		if err := cur.Decode(&idx); err != nil {
			return nil, classify(err, "failed to decode index definition")
		}
		if idx.Name == "_id_" {
			continue
		}
		specs = append(specs, model.IndexSpec{
			Name:   idx.Name,
			Keys:   idx.Key,
			Unique: idx.Unique,
			Sparse: idx.Sparse,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err, "failed to iterate indexes")
	}
	return specs, nil
}
