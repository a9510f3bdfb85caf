// Package filestore keeps the positions and stats snapshots as JSON files.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

type Store struct {
	positionsPath string
	statsPath     string

	mu      sync.Mutex
	lastSeq uint64
}

var _ interfaces.StateStore = (*Store)(nil)

func New(positionsPath, statsPath string) *Store {
	return &Store{positionsPath: positionsPath, statsPath: statsPath}
}

func (s *Store) LoadPositions(context.Context) ([]types.Position, error) {
	var ps []types.Position
	if err := readJSON(s.positionsPath, &ps); err != nil {
		return nil, fmt.Errorf("filestore: load positions: %w", err)
	}
	return ps, nil
}

// SavePositions replaces the snapshot. A snapshot older than the last one
// written by this process is dropped.
func (s *Store) SavePositions(_ context.Context, seq uint64, ps []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq {
		return nil
	}
	if ps == nil {
		ps = []types.Position{}
	}
	if err := writeJSON(s.positionsPath, ps); err != nil {
		return fmt.Errorf("filestore: save positions: %w", err)
	}
	s.lastSeq = seq
	return nil
}

func (s *Store) LoadStats(context.Context) (types.Stats, error) {
	var st types.Stats
	if err := readJSON(s.statsPath, &st); err != nil {
		return types.Stats{}, fmt.Errorf("filestore: load stats: %w", err)
	}
	return st, nil
}

func (s *Store) SaveStats(_ context.Context, st types.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.statsPath, st); err != nil {
		return fmt.Errorf("filestore: save stats: %w", err)
	}
	return nil
}

// readJSON leaves v untouched when the file does not exist or is empty.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || len(b) == 0 {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// writeJSON writes through a temp file and rename so a crash never leaves a
// half-written snapshot.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
