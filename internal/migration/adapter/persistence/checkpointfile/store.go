// Package checkpointfile persists per-collection checkpoints as JSON files
// with write-then-swap commits, so a crash mid-write can never leave a
// partially written record behind.
package checkpointfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/errors"
	"mongomirror/internal/shared/logger"
)

// Store implements repository.CheckpointStore on the local filesystem, one
// file per collection id under dir.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger logger.Logger
}

// NewStore creates the checkpoint directory if needed and returns the store.
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewCheckpointError("failed to create checkpoint directory").WithCause(err)
	}
	return &Store{dir: dir, logger: log.WithComponent("checkpoint_store")}, nil
}

// Get returns the stored checkpoint for a collection. A missing or corrupt
// file degrades to a zero-value checkpoint: the caller re-scans from the
// start instead of aborting.
func (s *Store) Get(collectionID string) (model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(collectionID))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Checkpoint{CollectionID: collectionID}, nil
		}
		s.logger.WithFields(map[string]interface{}{"collection": collectionID}).
			Errorf("Failed to read checkpoint, starting fresh: %v", err)
		return model.Checkpoint{CollectionID: collectionID}, nil
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.WithFields(map[string]interface{}{"collection": collectionID}).
			Errorf("Corrupted checkpoint file, starting fresh: %v", err)
		return model.Checkpoint{CollectionID: collectionID}, nil
	}
	cp.CollectionID = collectionID
	return cp, nil
}

// Commit atomically persists the checkpoint. Commits that would move a cursor
// backwards are rejected; reset is the only sanctioned way to go back.
func (s *Store) Commit(collectionID string, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.read(collectionID)
	if err == nil && checkpoint.Regresses(prev) {
		return errors.NewCheckpointError("checkpoint commit would regress cursor").
			WithCollection(collectionID)
	}

	checkpoint.CollectionID = collectionID
	checkpoint.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return errors.NewCheckpointError("failed to encode checkpoint").
			WithCollection(collectionID).WithCause(err)
	}

	path := s.path(collectionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewCheckpointError("failed to write checkpoint").
			WithCollection(collectionID).WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewCheckpointError("failed to swap checkpoint into place").
			WithCollection(collectionID).WithCause(err)
	}
	return nil
}

// Reset clears the record; the next Get returns a zero-value checkpoint.
func (s *Store) Reset(collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(collectionID)); err != nil && !os.IsNotExist(err) {
		return errors.NewCheckpointError("failed to reset checkpoint").
			WithCollection(collectionID).WithCause(err)
	}
	return nil
}

// read loads a checkpoint without the degrade-to-zero behavior of Get; used
// internally for the regression guard.
func (s *Store) read(collectionID string) (model.Checkpoint, error) {
	data, err := os.ReadFile(s.path(collectionID))
	if err != nil {
		return model.Checkpoint{}, err
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

func (s *Store) path(collectionID string) string {
	return filepath.Join(s.dir, collectionID+".json")
}
