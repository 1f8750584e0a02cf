// Package sink records permanently failed writes as append-only JSON lines,
// one log per collection, for manual recovery.
package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/logger"
)

// FailedDocEntry is one permanently failed write.
type FailedDocEntry struct {
	DocumentID string    `json:"document_id"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// FileSink implements repository.FailedDocumentSink on the local filesystem.
type FileSink struct {
	dir    string
	mu     sync.Mutex
	logger logger.Logger
}

// NewFileSink creates the log directory if needed and returns the sink.
func NewFileSink(dir string, log logger.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileSink{dir: dir, logger: log.WithComponent("failed_doc_sink")}, nil
}

// Record appends one entry to the collection's failed-document log. Sink
// failures are logged but never propagate; a broken sink must not stop the
// stream.
func (s *FileSink) Record(collectionID string, documentID interface{}, cause error) error {
	entry := FailedDocEntry{
		DocumentID: model.FormatDocumentID(documentID),
		Error:      cause.Error(),
		Timestamp:  time.Now().UTC(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Errorf("Failed to encode failed-document entry for %s: %v", collectionID, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, collectionID+"_failed_docs.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Errorf("Failed to open failed-document log for %s: %v", collectionID, err)
		return nil
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Errorf("Failed to append failed-document entry for %s: %v", collectionID, err)
	}
	return nil
}
