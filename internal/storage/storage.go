// Package storage persists run history across swarm invocations.
package storage

import (
	"context"

	"github.com/refactorswarm/swarm/internal/storage/sqlite"
	"github.com/refactorswarm/swarm/internal/types"
)

// Storage is the run-history backend.
type Storage interface {
	// RecordRun stores a finished run and its per-file results.
	RecordRun(ctx context.Context, run *types.RunSummary) error
	// GetRun returns one run with its file results.
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)
	// RecentRuns returns the newest runs first, without file results.
	RecentRuns(ctx context.Context, limit int) ([]*types.RunSummary, error)
	GetFileResults(ctx context.Context, runID string) ([]types.FileResult, error)

	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".swarm/history.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".swarm/history.db",
	}
}

// NewStorage opens the SQLite history backend.
func NewStorage(cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultConfig().Path
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
