package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/domain/repository"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/logger"
	"mongomirror/internal/shared/utils"
)

// Verifier compares source and target after a copy and reports discrepancies.
// It never writes; reconciliation is driven by the capture and update paths.
type Verifier struct {
	source     repository.SourceReader
	target     repository.TargetWriter
	retry      RetryPolicy
	batchSize  int
	sampleSize int
	logger     logger.Logger
}

// NewVerifier wires a verifier. sampleSize bounds the sampled mode and the
// extra-document probe.
func NewVerifier(source repository.SourceReader, target repository.TargetWriter, retry RetryPolicy, batchSize, sampleSize int, log logger.Logger) *Verifier {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &Verifier{
		source:     source,
		target:     target,
		retry:      retry,
		batchSize:  batchSize,
		sampleSize: sampleSize,
		logger:     log.WithComponent("verifier"),
	}
}

// Compare runs one verification pass and returns a fresh result. Sampled mode
// fingerprints a bounded sample of source documents; exhaustive mode walks
// both collections completely.
func (v *Verifier) Compare(ctx context.Context, spec model.CollectionSpec, mode model.VerificationMode) (model.VerificationResult, error) {
	result := model.VerificationResult{
		RunID:        uuid.NewString(),
		CollectionID: spec.ID(),
		VerifiedAt:   time.Now().UTC(),
	}
	ctx = utils.WithRunID(utils.WithCollection(ctx, spec.ID()), result.RunID)
	log := v.logger.WithContext(ctx)

	var err error
	if result.SourceCount, err = v.count(ctx, v.source, spec); err != nil {
		result.Status = model.VerificationFailed
		return result, err
	}
	if result.TargetCount, err = v.count(ctx, v.target, spec); err != nil {
		result.Status = model.VerificationFailed
		return result, err
	}

	if result.IndexesMatch, err = v.compareIndexes(ctx, spec); err != nil {
		log.Warnf("Index comparison failed, reporting indexes as unverified: %v", err)
		result.IndexesMatch = false
	}

	switch mode {
	case model.VerifyExhaustive:
		err = v.compareExhaustive(ctx, spec, &result)
	default:
		err = v.compareSampled(ctx, spec, &result)
	}
	if err != nil {
		result.Status = model.VerificationFailed
		return result, err
	}

	result.Status = model.VerificationOK
	if result.SourceCount != result.TargetCount ||
		len(result.MismatchedIDs) > 0 || len(result.MissingIDs) > 0 || len(result.ExtraIDs) > 0 ||
		!result.IndexesMatch {
		result.Status = model.VerificationMismatch
	}

	log.Infof("Verification %s: source=%d target=%d checked=%d mismatched=%d missing=%d extra=%d indexes_match=%t",
		result.Status, result.SourceCount, result.TargetCount, result.CheckedDocs,
		len(result.MismatchedIDs), len(result.MissingIDs), len(result.ExtraIDs), result.IndexesMatch)
	return result, nil
}

// SampleDeletions probes up to bound target documents and returns the ids of
// those that no longer exist on source. Used by the capture polling path to
// detect deletions without a full scan.
func (v *Verifier) SampleDeletions(ctx context.Context, spec model.CollectionSpec, bound int) ([]interface{}, error) {
	var ids []interface{}
	err := v.retry.Do(ctx, func() error {
		var sampleErr error
		ids, sampleErr = v.target.SampleIDs(ctx, spec, bound)
		return sampleErr
	})
	if err != nil {
		return nil, errors.WrapError(err, "failed to sample target ids").WithCollection(spec.ID())
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var existing map[string]bson.M
	err = v.retry.Do(ctx, func() error {
		var findErr error
		existing, findErr = v.source.FindByIDs(ctx, spec, ids)
		return findErr
	})
	if err != nil {
		return nil, errors.WrapError(err, "failed to probe source for sampled ids").WithCollection(spec.ID())
	}

	var deleted []interface{}
	for _, id := range ids {
		if _, ok := existing[model.FormatDocumentID(id)]; !ok {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (v *Verifier) count(ctx context.Context, reader repository.CollectionReader, spec model.CollectionSpec) (int64, error) {
	var n int64
	err := v.retry.Do(ctx, func() error {
		var countErr error
		n, countErr = reader.Count(ctx, spec)
		return countErr
	})
	if err != nil {
		return 0, errors.WrapError(err, "failed to count documents").WithCollection(spec.ID())
	}
	return n, nil
}

// compareIndexes reports whether every source secondary index has a target
// index with the same key pattern. Extra target indexes are tolerated.
func (v *Verifier) compareIndexes(ctx context.Context, spec model.CollectionSpec) (bool, error) {
	sourceIdx, err := v.source.ListIndexes(ctx, spec)
	if err != nil {
		return false, err
	}
	targetIdx, err := v.target.ListIndexes(ctx, spec)
	if err != nil {
		return false, err
	}

	have := make(map[string]bool, len(targetIdx))
	for _, idx := range targetIdx {
		have[idx.KeySignature()] = true
	}
	for _, idx := range sourceIdx {
		if !have[idx.KeySignature()] {
			return false, nil
		}
	}
	return true, nil
}

func (v *Verifier) compareSampled(ctx context.Context, spec model.CollectionSpec, result *model.VerificationResult) error {
	ids, err := v.source.SampleIDs(ctx, spec, v.sampleSize)
	if err != nil {
		return errors.WrapError(err, "failed to sample source ids").WithCollection(spec.ID())
	}
	if len(ids) > 0 {
		if err := v.compareByIDs(ctx, spec, ids, result); err != nil {
			return err
		}
	}

	// A larger target implies documents deleted on source but still present
	// on target; probe a sample of them.
	if result.TargetCount > result.SourceCount {
		extra, err := v.SampleDeletions(ctx, spec, v.sampleSize)
		if err != nil {
			return err
		}
		for _, id := range extra {
			result.ExtraIDs = append(result.ExtraIDs, model.FormatDocumentID(id))
		}
	}
	return nil
}

func (v *Verifier) compareExhaustive(ctx context.Context, spec model.CollectionSpec, result *model.VerificationResult) error {
	// Walk the source and check every document against the target.
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch []bson.M
		err := v.retry.Do(ctx, func() error {
			var readErr error
			batch, readErr = v.source.NextBatch(ctx, spec, afterID, v.batchSize)
			return readErr
		})
		if err != nil {
			return errors.WrapError(err, "failed to read source batch").WithCollection(spec.ID())
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]interface{}, 0, len(batch))
		for _, doc := range batch {
			ids = append(ids, model.ExtractID(doc))
		}
		targetDocs, err := v.target.FindByIDs(ctx, spec, ids)
		if err != nil {
			return errors.WrapError(err, "failed to read target documents").WithCollection(spec.ID())
		}
		for _, doc := range batch {
			key := model.FormatDocumentID(model.ExtractID(doc))
			tgt, ok := targetDocs[key]
			switch {
			case !ok:
				result.MissingIDs = append(result.MissingIDs, key)
			case !model.FingerprintsEqual(doc, tgt):
				result.MismatchedIDs = append(result.MismatchedIDs, key)
			}
			result.CheckedDocs++
		}
		afterID = model.FormatDocumentID(model.ExtractID(batch[len(batch)-1]))
	}

	// Walk the target to find documents the source no longer has.
	afterID = ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch []bson.M
		err := v.retry.Do(ctx, func() error {
			var readErr error
			batch, readErr = v.target.NextBatch(ctx, spec, afterID, v.batchSize)
			return readErr
		})
		if err != nil {
			return errors.WrapError(err, "failed to read target batch").WithCollection(spec.ID())
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]interface{}, 0, len(batch))
		for _, doc := range batch {
			ids = append(ids, model.ExtractID(doc))
		}
		sourceDocs, err := v.source.FindByIDs(ctx, spec, ids)
		if err != nil {
			return errors.WrapError(err, "failed to probe source documents").WithCollection(spec.ID())
		}
		for _, id := range ids {
			key := model.FormatDocumentID(id)
			if _, ok := sourceDocs[key]; !ok {
				result.ExtraIDs = append(result.ExtraIDs, key)
			}
		}
		afterID = model.FormatDocumentID(model.ExtractID(batch[len(batch)-1]))
	}

	return nil
}

// compareByIDs fingerprints the given documents on both sides.
func (v *Verifier) compareByIDs(ctx context.Context, spec model.CollectionSpec, ids []interface{}, result *model.VerificationResult) error {
	sourceDocs, err := v.source.FindByIDs(ctx, spec, ids)
	if err != nil {
		return errors.WrapError(err, "failed to read sampled source documents").WithCollection(spec.ID())
	}
	targetDocs, err := v.target.FindByIDs(ctx, spec, ids)
	if err != nil {
		return errors.WrapError(err, "failed to read sampled target documents").WithCollection(spec.ID())
	}

	for key, src := range sourceDocs {
		tgt, ok := targetDocs[key]
		switch {
		case !ok:
			result.MissingIDs = append(result.MissingIDs, key)
		case !model.FingerprintsEqual(src, tgt):
			result.MismatchedIDs = append(result.MismatchedIDs, key)
		}
		result.CheckedDocs++
	}
	return nil
}
