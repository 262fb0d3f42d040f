package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	"Calibra/pkg/util"
)

// FileStateStore keeps the lifecycle snapshot in a single JSON file,
// replaced atomically on every save.
type FileStateStore struct {
	path string
}

func NewFileStateStore(path string) *FileStateStore { return &FileStateStore{path: path} }

func (s *FileStateStore) Load(_ context.Context) (*models.LifecycleSnapshot, error) {
	var snap models.LifecycleSnapshot
	ok, err := readJSON(s.path, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *FileStateStore) Save(_ context.Context, snap *models.LifecycleSnapshot) error {
	return writeJSON(s.path, snap)
}

// FileStatusStore keeps the retrain status file.
type FileStatusStore struct {
	path string
}

func NewFileStatusStore(path string) *FileStatusStore { return &FileStatusStore{path: path} }

func (s *FileStatusStore) Load(_ context.Context) (*models.RetrainStatus, error) {
	var st models.RetrainStatus
	if _, err := readJSON(s.path, &st); err != nil {
		return &models.RetrainStatus{}, err
	}
	return &st, nil
}

func (s *FileStatusStore) Save(_ context.Context, st *models.RetrainStatus) error {
	return writeJSON(s.path, st)
}

func readJSON(path string, v interface{}) (bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return util.WriteFileAtomicRetry(path, b, 0o644)
}

var (
	_ domrepo.StateStore  = (*FileStateStore)(nil)
	_ domrepo.StatusStore = (*FileStatusStore)(nil)
)
