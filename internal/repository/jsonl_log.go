package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"Calibra/internal/domain/models"
	domrepo "Calibra/internal/domain/repository"
	applogger "Calibra/pkg/logger"
)

// jsonlFile appends one JSON document per line. Lines that fail to decode
// on read are skipped and counted, never fatal.
type jsonlFile struct {
	mu   sync.Mutex
	path string
	sync bool
	l    *applogger.Logger
}

func newJSONLFile(path string, syncWrites bool, l *applogger.Logger) *jsonlFile {
	if l == nil {
		l = applogger.NewNop()
	}
	return &jsonlFile{path: path, sync: syncWrites, l: l}
}

func (f *jsonlFile) append(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	b = append(b, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	if _, err := fh.Write(b); err != nil {
		_ = fh.Close()
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if f.sync {
		if err := fh.Sync(); err != nil {
			_ = fh.Close()
			return fmt.Errorf("sync %s: %w", f.path, err)
		}
	}
	return fh.Close()
}

// scan calls fn for each non-empty line. A missing file reads as empty.
func (f *jsonlFile) scan(ctx context.Context, fn func(line []byte) error) (skipped int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.path, err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if fn(line) != nil {
			skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("read %s: %w", f.path, err)
	}
	return skipped, nil
}

// FileOutcomeLog is the JSONL outcome log.
type FileOutcomeLog struct {
	f *jsonlFile
}

func NewFileOutcomeLog(path string, syncWrites bool, l *applogger.Logger) *FileOutcomeLog {
	return &FileOutcomeLog{f: newJSONLFile(path, syncWrites, l)}
}

func (r *FileOutcomeLog) Path() string { return r.f.path }

func (r *FileOutcomeLog) Append(_ context.Context, o *models.Outcome) error {
	return r.f.append(o)
}

func (r *FileOutcomeLog) ReadAll(ctx context.Context) ([]models.Outcome, error) {
	var out []models.Outcome
	skipped, err := r.f.scan(ctx, func(line []byte) error {
		var o models.Outcome
		if err := json.Unmarshal(line, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	if skipped > 0 {
		r.f.l.Warn("skipped malformed outcome lines", applogger.String("path", r.f.path), applogger.Int("count", skipped))
	}
	return out, err
}

// FileDecisionLog is the JSONL lifecycle decision log.
type FileDecisionLog struct {
	f *jsonlFile
}

func NewFileDecisionLog(path string, syncWrites bool, l *applogger.Logger) *FileDecisionLog {
	return &FileDecisionLog{f: newJSONLFile(path, syncWrites, l)}
}

func (r *FileDecisionLog) Append(_ context.Context, d *models.LifecycleDecision) error {
	return r.f.append(d)
}

func (r *FileDecisionLog) ReadAll(ctx context.Context) ([]models.LifecycleDecision, error) {
	var out []models.LifecycleDecision
	skipped, err := r.f.scan(ctx, func(line []byte) error {
		var d models.LifecycleDecision
		if err := json.Unmarshal(line, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if skipped > 0 {
		r.f.l.Warn("skipped malformed decision lines", applogger.String("path", r.f.path), applogger.Int("count", skipped))
	}
	return out, err
}

var (
	_ domrepo.OutcomeLog  = (*FileOutcomeLog)(nil)
	_ domrepo.DecisionLog = (*FileDecisionLog)(nil)
)
