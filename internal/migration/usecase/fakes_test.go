package usecase

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/migration/domain/repository"
	"mongomirror/internal/shared/errors"
)

// memStore is an in-memory document store keyed by canonical id string,
// shared by the source and target fakes.
type memStore struct {
	mu   sync.Mutex
	docs map[string]bson.M
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]bson.M)}
}

func (s *memStore) put(doc bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[model.FormatDocumentID(model.ExtractID(doc))] = doc
}

func (s *memStore) remove(id interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, model.FormatDocumentID(id))
}

func (s *memStore) sortedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *memStore) Count(ctx context.Context, spec model.CollectionSpec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.docs)), nil
}

func (s *memStore) NextBatch(ctx context.Context, spec model.CollectionSpec, afterID string, limit int) ([]bson.M, error) {
	var batch []bson.M
	for _, id := range s.sortedIDs() {
		if id <= afterID {
			continue
		}
		s.mu.Lock()
		batch = append(batch, s.docs[id])
		s.mu.Unlock()
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (s *memStore) FindByID(ctx context.Context, spec model.CollectionSpec, id interface{}) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[model.FormatDocumentID(id)], nil
}

func (s *memStore) FindByIDs(ctx context.Context, spec model.CollectionSpec, ids []interface{}) (map[string]bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]bson.M)
	for _, id := range ids {
		key := model.FormatDocumentID(id)
		if doc, ok := s.docs[key]; ok {
			found[key] = doc
		}
	}
	return found, nil
}

func (s *memStore) SampleIDs(ctx context.Context, spec model.CollectionSpec, limit int) ([]interface{}, error) {
	var ids []interface{}
	for _, id := range s.sortedIDs() {
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// fakeSource implements repository.SourceReader in memory.
type fakeSource struct {
	*memStore
	indexes  []model.IndexSpec
	stream   *fakeStream
	watchErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{memStore: newMemStore(), watchErr: errors.ErrStreamNotSupported}
}

func (s *fakeSource) ChangedSince(ctx context.Context, spec model.CollectionSpec, since time.Time, afterID string, limit int) ([]bson.M, error) {
	type stamped struct {
		doc bson.M
		id  string
		ts  time.Time
	}
	var changed []stamped
	s.mu.Lock()
	for id, doc := range s.docs {
		ts, ok := model.DocumentTimestamp(doc)
		if !ok {
			continue
		}
		if ts.After(since) || (afterID != "" && ts.Equal(since) && id > afterID) {
			changed = append(changed, stamped{doc: doc, id: id, ts: ts})
		}
	}
	s.mu.Unlock()
	sort.Slice(changed, func(i, j int) bool {
		if changed[i].ts.Equal(changed[j].ts) {
			return changed[i].id < changed[j].id
		}
		return changed[i].ts.Before(changed[j].ts)
	})

	docs := make([]bson.M, 0, len(changed))
	for _, c := range changed {
		docs = append(docs, c.doc)
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

func (s *fakeSource) ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error) {
	return s.indexes, nil
}

func (s *fakeSource) Watch(ctx context.Context, spec model.CollectionSpec, resumeToken []byte) (repository.ChangeStream, error) {
	if s.stream != nil {
		s.stream.resumedFrom = resumeToken
		return s.stream, nil
	}
	if s.watchErr != nil {
		return nil, errors.NewCaptureDisconnectError("watch unavailable").WithCause(s.watchErr)
	}
	return nil, errors.NewInternalError("no stream configured")
}

// fakeTarget implements repository.TargetWriter in memory with failure
// injection: ids in rejectIDs fail with a validation error, and
// transientRemaining injects that many transient failures before writes
// succeed again.
type fakeTarget struct {
	*memStore
	indexes            []model.IndexSpec
	ensured            [][]model.IndexSpec
	rejectIDs          map[string]bool
	transientRemaining int
	bulkUpserts        int
	upserts            int
	deletes            int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{memStore: newMemStore(), rejectIDs: make(map[string]bool)}
}

func (t *fakeTarget) injectTransient() error {
	if t.transientRemaining > 0 {
		t.transientRemaining--
		return errors.NewTransientError("injected transient failure")
	}
	return nil
}

func (t *fakeTarget) Upsert(ctx context.Context, spec model.CollectionSpec, doc bson.M) error {
	t.upserts++
	if err := t.injectTransient(); err != nil {
		return err
	}
	if t.rejectIDs[model.FormatDocumentID(model.ExtractID(doc))] {
		return errors.NewValidationError("document rejected")
	}
	t.put(doc)
	return nil
}

func (t *fakeTarget) BulkUpsert(ctx context.Context, spec model.CollectionSpec, docs []bson.M) error {
	t.bulkUpserts++
	if err := t.injectTransient(); err != nil {
		return err
	}
	for _, doc := range docs {
		if t.rejectIDs[model.FormatDocumentID(model.ExtractID(doc))] {
			return errors.NewValidationError("batch contains rejected document")
		}
	}
	for _, doc := range docs {
		t.put(doc)
	}
	return nil
}

func (t *fakeTarget) Delete(ctx context.Context, spec model.CollectionSpec, id interface{}) error {
	t.deletes++
	if err := t.injectTransient(); err != nil {
		return err
	}
	t.remove(id)
	return nil
}

func (t *fakeTarget) BulkDelete(ctx context.Context, spec model.CollectionSpec, ids []interface{}) error {
	if err := t.injectTransient(); err != nil {
		return err
	}
	for _, id := range ids {
		t.remove(id)
	}
	return nil
}

func (t *fakeTarget) EnsureIndexes(ctx context.Context, spec model.CollectionSpec, indexes []model.IndexSpec) error {
	t.ensured = append(t.ensured, indexes)
	t.indexes = append(t.indexes, indexes...)
	return nil
}

func (t *fakeTarget) ListIndexes(ctx context.Context, spec model.CollectionSpec) ([]model.IndexSpec, error) {
	return t.indexes, nil
}

// fakeStream replays a scripted sequence of events, then blocks until
// cancellation or, when disconnect is set, fails with a disconnect error.
type fakeStream struct {
	mu          sync.Mutex
	events      []model.ChangeEvent
	idx         int
	disconnect  bool
	closed      bool
	resumedFrom []byte
}

func (s *fakeStream) Next(ctx context.Context) (*model.ChangeEvent, error) {
	s.mu.Lock()
	if s.idx < len(s.events) {
		event := s.events[s.idx]
		s.idx++
		event.ResumeToken = []byte(strconv.Itoa(s.idx))
		s.mu.Unlock()
		return &event, nil
	}
	disconnect := s.disconnect
	s.mu.Unlock()

	if disconnect {
		return nil, errors.NewCaptureDisconnectError("stream dropped")
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeStream) ResumeToken() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(strconv.Itoa(s.idx))
}

func (s *fakeStream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memCheckpoints implements repository.CheckpointStore in memory.
type memCheckpoints struct {
	mu      sync.Mutex
	records map[string]model.Checkpoint
	commits int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{records: make(map[string]model.Checkpoint)}
}

func (c *memCheckpoints) Get(collectionID string) (model.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[collectionID], nil
}

func (c *memCheckpoints) Commit(collectionID string, checkpoint model.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[collectionID] = checkpoint
	c.commits++
	return nil
}

func (c *memCheckpoints) Reset(collectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, collectionID)
	return nil
}

// memSink implements repository.FailedDocumentSink in memory.
type memSink struct {
	mu      sync.Mutex
	records []string
}

func (s *memSink) Record(collectionID string, documentID interface{}, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, model.FormatDocumentID(documentID))
	return nil
}

func (s *memSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.records...)
}

// Helpers shared by the usecase tests.

func testSpec() model.CollectionSpec {
	return model.CollectionSpec{SourceDB: "src", TargetDB: "dst", Collection: "products"}
}

func testDoc(id string, version int, ts time.Time) bson.M {
	doc := bson.M{"_id": id, "version": version}
	if !ts.IsZero() {
		doc[model.UpdatedAtField] = ts
	}
	return doc
}

func fastRetry() RetryPolicy {
	return NewRetryPolicy(3, time.Millisecond, 2, 10*time.Millisecond)
}
