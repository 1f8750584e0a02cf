package mongodb

import (
	"context"
	stderrors "errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/database"
	"mongomirror/internal/shared/logger"
)

// TargetWriter applies idempotent writes and index definitions to the target
// cluster. Every upsert keys on _id, so replaying a write is a no-op.
type TargetWriter struct {
	conns  *database.Connections
	logger logger.Logger
}

// NewTargetWriter returns a TargetWriter over the supplied connections.
func NewTargetWriter(conns *database.Connections, log logger.Logger) *TargetWriter {
	return &TargetWriter{conns: conns, logger: log.WithComponent("target_writer")}
}

func (w *TargetWriter) collection(spec model.CollectionSpec) *mongo.Collection {
	return w.conns.TargetDatabase(spec.TargetDB).Collection(spec.Collection)
}

// Count returns the number of target documents.
func (w *TargetWriter) Count(ctx context.Context, spec model.CollectionSpec) (int64, error) {
	n, err := w.collection(spec).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, classify(err, "failed to count target documents")
	}
	return n, nil
}

// NextBatch returns up to limit target documents ordered by _id, strictly
// after afterID.
func (w *TargetWriter) NextBatch(ctx context.Context, spec model.CollectionSpec, afterID string, limit int) ([]bson.M, error) {
	filter := bson.M{}
	if afterID != "" {
		filter["_id"] = bson.M{"$gt": model.ParseDocumentID(afterID)}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cur, err := w.collection(spec).Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(err, "failed to fetch target batch")
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err, "failed to decode target batch")
	}
	return docs, nil
}

// FindByID returns one target document, or nil when absent.
func (w *TargetWriter) FindByID(ctx context.Context, spec model.CollectionSpec, id interface{}) (bson.M, error) {
	var doc bson.M
	err := w.collection(spec).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "failed to fetch target document")
	}
	return doc, nil
}

// FindByIDs returns the subset of requested target documents that exist,
// keyed by canonical id string.
func (w *TargetWriter) FindByIDs(ctx context.Context, spec model.CollectionSpec, ids []interface{}) (map[string]bson.M, error) {
	return findByIDs(ctx, w.collection(spec), ids)
}

// SampleIDs returns up to limit target document ids.
func (w *TargetWriter) SampleIDs(ctx context.Context, spec model.CollectionSpec, limit int) ([]interface{}, error) {
	return sampleIDs(ctx, w.collection(spec), bson.M{}, limit)
}

// Upsert replaces the document with the same _id, inserting when absent.
func (w *TargetWriter) Upsert(ctx context.Context, spec model.CollectionSpec, doc bson.M) error {
	id := model.ExtractID(doc)
	_, err := w.collection(spec).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return classify(err, "failed to upsert document")
	}
	return nil
}

// BulkUpsert applies a batch of upserts in one unordered bulk write.
func (w *TargetWriter) BulkUpsert(ctx context.Context, spec model.CollectionSpec, docs []bson.M) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": model.ExtractID(doc)}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	_, err := w.collection(spec).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return classify(err, "failed to bulk upsert batch")
	}
	return nil
}

// Delete removes the document by id. Deleting an absent document succeeds.
func (w *TargetWriter) Delete(ctx context.Context, spec model.CollectionSpec, id interface{}) error {
	_, err := w.collection(spec).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify(err, "failed to delete document")
	}
	return nil
}

// BulkDelete removes a batch of documents in one unordered bulk write.
func (w *TargetWriter) BulkDelete(ctx context.Context, spec model.CollectionSpec, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
	}
	_, err := w.collection(spec).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return classify(err, "failed to bulk delete batch")
	}
	return nil
}

// EnsureIndexes creates the given indexes on target, treating "already
// exists" as success.
func (w *TargetWriter) EnsureIndexes(ctx context.Context, spec model.CollectionSpec, indexes []model.IndexSpec) error {
	for _, idx := range indexes {
		idxOpts := options.Index().SetName(idx.Name)
		if idx.Unique {
			idxOpts = idxOpts.SetUnique(true)
		}
		if idx.Sparse {
			idxOpts = idxOpts.SetSparse(true)
		}

		_, err := w.collection(spec).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    idx.Keys,
			Options: idxOpts,
		})
		if err != nil {
			if isIndexExists(err) {
				continue
			}
			w.logger.WithFields(map[string]interface{}{
				"collection": spec.ID(),
				"index":      idx.Name,
			}).Warnf("Could not create index: %v", err)
		}
	}
	return nil
}

// ListIndexes returns the target collection's secondary indexes.
func (w *TargetWriter) ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error) {
	return listIndexes(ctx, w.collection(spec))
}
