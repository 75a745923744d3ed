package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is the buffer file name used under the temp dir when no
// path is configured.
const DefaultFileName = "agx-plan.json"

// Submission outcomes recorded in the sidecar.
const (
	OutcomeAccepted = "accepted"
	OutcomeUnknown  = "unknown"
)

// Metadata describes the most recent submission of the buffer. It is written
// to a sidecar file next to the buffer.
type Metadata struct {
	JobID       string `json:"job_id"`
	PlanID      string `json:"plan_id,omitempty"`
	SubmittedAt string `json:"submitted_at"`
	Outcome     string `json:"outcome,omitempty"`
}

// Storage is the on-disk plan buffer. Every read-modify-write runs under an
// exclusive lock on "<path>.lock" so concurrent agx processes serialize.
type Storage struct {
	path string
}

// DefaultPath returns $TMPDIR/agx-plan.json.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// NewStorage returns a Storage for path. An empty path selects DefaultPath.
func NewStorage(path string) *Storage {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	return &Storage{path: path}
}

// Path returns the buffer file path.
func (s *Storage) Path() string { return s.path }

// MetadataPath returns the sidecar path: the buffer path with ".meta" added
// to its extension (agx-plan.json -> agx-plan.json.meta).
func (s *Storage) MetadataPath() string {
	return s.path + ".meta"
}

func (s *Storage) lockPath() string { return s.path + ".lock" }

// Load reads the buffer. A missing or blank file is an empty plan.
func (s *Storage) Load() (Plan, error) {
	var out Plan
	err := s.withLock(func() error {
		p, err := s.load()
		out = p
		return err
	})
	return out, err
}

// Save replaces the buffer with p.
func (s *Storage) Save(p Plan) error {
	return s.withLock(func() error { return s.save(p) })
}

// Reset writes an empty plan.
func (s *Storage) Reset() error {
	return s.Save(Plan{Steps: []Step{}})
}

// Update loads the buffer, applies fn and saves the result, all under the
// buffer lock. Nothing is written when fn returns an error.
func (s *Storage) Update(fn func(Plan) (Plan, error)) (Plan, error) {
	var out Plan
	err := s.withLock(func() error {
		cur, err := s.load()
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := s.save(next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// Append adds p to the end of the buffer and returns the number of steps
// added and the new total.
func (s *Storage) Append(p Plan) (added, total int, err error) {
	next, err := s.Update(func(cur Plan) (Plan, error) {
		return cur.Append(p), nil
	})
	if err != nil {
		return 0, 0, err
	}
	return p.Len(), next.Len(), nil
}

// SaveSubmission writes the submission sidecar.
func (s *Storage) SaveSubmission(m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: marshal submission metadata: %w", err)
	}
	if err := writeAtomic(s.MetadataPath(), data); err != nil {
		return fmt.Errorf("plan: write submission metadata %s: %w", s.MetadataPath(), err)
	}
	return nil
}

// LoadSubmission reads the submission sidecar. It returns os.ErrNotExist
// (wrapped) when the buffer has never been submitted.
func (s *Storage) LoadSubmission() (Metadata, error) {
	data, err := os.ReadFile(s.MetadataPath())
	if err != nil {
		return Metadata{}, fmt.Errorf("plan: read submission metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("plan: parse submission metadata %s: %w", s.MetadataPath(), err)
	}
	return m, nil
}

func (s *Storage) withLock(fn func() error) error {
	if err := ensureDir(s.path); err != nil {
		return err
	}
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *Storage) load() (Plan, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Plan{Steps: []Step{}}, nil
	}
	if err != nil {
		return Plan{}, fmt.Errorf("plan: read buffer %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Plan{Steps: []Step{}}, nil
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("plan: parse buffer %s: %w", s.path, err)
	}
	return p, nil
}

func (s *Storage) save(p Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: marshal buffer: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("plan: write buffer %s: %w", s.path, err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("plan: create directory %s: %w", dir, err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it over path, so readers never observe a half-written buffer.
func writeAtomic(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
