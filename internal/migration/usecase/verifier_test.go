package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/logger"
)

func newTestVerifier(source *fakeSource, target *fakeTarget, sampleSize int) *Verifier {
	return NewVerifier(source, target, fastRetry(), 100, sampleSize, logger.NewLogger())
}

// mirror copies every source document into the target.
func mirror(source *fakeSource, target *fakeTarget) {
	source.mu.Lock()
	defer source.mu.Unlock()
	for _, doc := range source.docs {
		target.put(doc)
	}
}

func TestVerifierReportsCleanMirror(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 50)
	mirror(source, target)

	verifier := newTestVerifier(source, target, 20)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifyExhaustive)

	require.NoError(t, err)
	assert.Equal(t, model.VerificationOK, result.Status)
	assert.Equal(t, int64(50), result.SourceCount)
	assert.Equal(t, int64(50), result.TargetCount)
	assert.Equal(t, 50, result.CheckedDocs)
	assert.Empty(t, result.MismatchedIDs)
	assert.Empty(t, result.MissingIDs)
	assert.Empty(t, result.ExtraIDs)
	assert.True(t, result.IndexesMatch)
	assert.NotEmpty(t, result.RunID)
}

func TestVerifierDetectsDriftedMirror(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 1000)
	mirror(source, target)

	// Drift the target: 5 documents stale, 3 missing.
	for i := 0; i < 5; i++ {
		target.put(testDoc(fmt.Sprintf("p%04d", i*100), 99, time.Now()))
	}
	for i := 0; i < 3; i++ {
		target.remove(fmt.Sprintf("p%04d", 500+i))
	}

	verifier := newTestVerifier(source, target, 20)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifyExhaustive)

	require.NoError(t, err)
	assert.Equal(t, model.VerificationMismatch, result.Status)
	assert.Equal(t, int64(1000), result.SourceCount)
	assert.Equal(t, int64(997), result.TargetCount)
	assert.Len(t, result.MismatchedIDs, 5)
	assert.Len(t, result.MissingIDs, 3)
	assert.Empty(t, result.ExtraIDs)
	assert.Equal(t, 1000, result.CheckedDocs)
}

func TestVerifierDetectsExtraTargetDocuments(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 10)
	mirror(source, target)
	target.put(testDoc("zzz-orphan", 1, time.Time{}))

	verifier := newTestVerifier(source, target, 20)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifyExhaustive)

	require.NoError(t, err)
	assert.Equal(t, model.VerificationMismatch, result.Status)
	assert.Equal(t, []string{"zzz-orphan"}, result.ExtraIDs)
}

func TestVerifierSampledModeBoundsWork(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 200)
	mirror(source, target)

	verifier := newTestVerifier(source, target, 25)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifySampled)

	require.NoError(t, err)
	assert.Equal(t, model.VerificationOK, result.Status)
	assert.Equal(t, 25, result.CheckedDocs)
}

func TestVerifierFlagsMissingTargetIndex(t *testing.T) {
	source := newFakeSource()
	source.indexes = []model.IndexSpec{
		{Name: "sku_1", Keys: bson.D{{Key: "sku", Value: int32(1)}}},
	}
	target := newFakeTarget()
	seedSource(source, 5)
	mirror(source, target)

	verifier := newTestVerifier(source, target, 10)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifyExhaustive)

	require.NoError(t, err)
	assert.False(t, result.IndexesMatch)
	assert.Equal(t, model.VerificationMismatch, result.Status)
}

func TestVerifierMatchesIndexesByKeyPattern(t *testing.T) {
	source := newFakeSource()
	source.indexes = []model.IndexSpec{
		{Name: "sku_1", Keys: bson.D{{Key: "sku", Value: int32(1)}}},
	}
	target := newFakeTarget()
	// Same key pattern under a different name still matches.
	target.indexes = []model.IndexSpec{
		{Name: "idx_sku", Keys: bson.D{{Key: "sku", Value: int32(1)}}},
	}
	seedSource(source, 5)
	mirror(source, target)

	verifier := newTestVerifier(source, target, 10)
	result, err := verifier.Compare(context.Background(), testSpec(), model.VerifyExhaustive)

	require.NoError(t, err)
	assert.True(t, result.IndexesMatch)
}

func TestSampleDeletionsFindsRemovedDocuments(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 10)
	mirror(source, target)

	// Delete 4 documents from the source only.
	for i := 0; i < 4; i++ {
		source.remove(fmt.Sprintf("p%04d", i))
	}

	verifier := newTestVerifier(source, target, 10)
	deleted, err := verifier.SampleDeletions(context.Background(), testSpec(), 100)

	require.NoError(t, err)
	require.Len(t, deleted, 4)
	for _, id := range deleted {
		assert.Contains(t, []string{"p0000", "p0001", "p0002", "p0003"}, model.FormatDocumentID(id))
	}
}

func TestSampleDeletionsEmptyWhenInSync(t *testing.T) {
	source := newFakeSource()
	target := newFakeTarget()
	seedSource(source, 10)
	mirror(source, target)

	verifier := newTestVerifier(source, target, 10)
	deleted, err := verifier.SampleDeletions(context.Background(), testSpec(), 100)

	require.NoError(t, err)
	assert.Empty(t, deleted)
}
