package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"wechat_sync/internal/domain"
)

// ProgressStore keeps the sync cursor in a JSON file.
type ProgressStore struct {
	path string
}

func NewProgressStore(path string) *ProgressStore {
	return &ProgressStore{path: path}
}

// Load returns a fresh cursor when the file does not exist yet. A file that
// exists but cannot be decoded is an error.
func (s *ProgressStore) Load(_ context.Context) (*domain.Progress, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		p := domain.FreshProgress()
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}

	var p domain.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode progress file: %w", err)
	}
	if p.LastSyncedIndex < -1 || p.TotalProcessed < 0 {
		return nil, fmt.Errorf("invalid progress %d/%d", p.LastSyncedIndex, p.TotalProcessed)
	}
	return &p, nil
}

// Save replaces the file atomically.
func (s *ProgressStore) Save(_ context.Context, p *domain.Progress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".progress-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close progress: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}
