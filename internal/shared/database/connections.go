package database

import (
	"context"
	"sync"
	"time"

	"mongomirror/internal/shared/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connections holds the already-established source and target MongoDB clients.
// The engine never provisions connections itself; it receives handles from the
// caller and hands out database references keyed by name.
type Connections struct {
	source *mongo.Client
	target *mongo.Client

	mu        sync.RWMutex
	sourceDBs map[string]*mongo.Database
	targetDBs map[string]*mongo.Database

	logger logger.Logger
}

// NewConnections wraps the supplied source and target clients.
func NewConnections(source, target *mongo.Client, log logger.Logger) *Connections {
	return &Connections{
		source:    source,
		target:    target,
		sourceDBs: make(map[string]*mongo.Database),
		targetDBs: make(map[string]*mongo.Database),
		logger:    log,
	}
}

// Validate pings both clients before any mode runs.
func (c *Connections) Validate(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	c.logger.Info("Validating source database connection...")
	if err := c.source.Ping(pingCtx, readpref.Primary()); err != nil {
		return err
	}

	c.logger.Info("Validating target database connection...")
	if err := c.target.Ping(pingCtx, readpref.Primary()); err != nil {
		return err
	}

	c.logger.Info("Database connections validated successfully")
	return nil
}

// SourceDatabase returns a cached handle to a source database.
func (c *Connections) SourceDatabase(name string) *mongo.Database {
	c.mu.RLock()
	db, ok := c.sourceDBs[name]
	c.mu.RUnlock()
	if ok {
		return db
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok = c.sourceDBs[name]; ok {
		return db
	}
	db = c.source.Database(name)
	c.sourceDBs[name] = db
	return db
}

// TargetDatabase returns a cached handle to a target database.
func (c *Connections) TargetDatabase(name string) *mongo.Database {
	c.mu.RLock()
	db, ok := c.targetDBs[name]
	c.mu.RUnlock()
	if ok {
		return db
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok = c.targetDBs[name]; ok {
		return db
	}
	db = c.target.Database(name)
	c.targetDBs[name] = db
	return db
}

// Close disconnects both clients.
func (c *Connections) Close(ctx context.Context) error {
	var firstErr error
	if err := c.source.Disconnect(ctx); err != nil {
		firstErr = err
	}
	if err := c.target.Disconnect(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
