// Package ledger is the local LevelDB history of submissions and planning
// cycles. It lets an operator reconcile unknown-outcome submissions and lets
// the planner recall pipelines that were accepted before.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key scheme, "|" separated:
//
//	s|<ts>|<job_id>   → Submission JSON
//	j|<job_id>        → s-key (lookup by job id)
//	p|<ts>|<id>       → Planning JSON
//	q|<id>            → p-key (planning not yet part of a submitted plan)
//
// <ts> is fixed-width UTC so lexical order is chronological.
const (
	prefixSubmission = "s|"
	prefixJob        = "j|"
	prefixPlanning   = "p|"
	prefixPending    = "q|"

	tsLayout = "20060102T150405.000000000Z"
)

// Outcomes recorded for a submission.
const (
	OutcomeAccepted = "accepted"
	OutcomeUnknown  = "unknown"
)

var (
	ErrBusy     = errors.New("ledger busy: another agx process holds it")
	ErrNotFound = errors.New("ledger: not found")
)

// Submission is one envelope sent to AGQ.
type Submission struct {
	JobID       string    `json:"job_id"`
	PlanID      string    `json:"plan_id"`
	Description string    `json:"plan_description,omitempty"`
	Commands    []string  `json:"commands"`
	Outcome     string    `json:"outcome"`
	Addr        string    `json:"addr"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Planning is one instruction turned into steps by the planner.
type Planning struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Commands    []string  `json:"commands"`
	Strategy    string    `json:"strategy"`
	Submitted   bool      `json:"submitted"`
	At          time.Time `json:"at"`
}

// Store is single-writer: LevelDB holds a file lock for as long as it is open.
type Store struct {
	db  *leveldb.DB
	now func() time.Time
}

// Open opens (or creates) the ledger at dir.
//
// Expectations:
//   - Creates missing parent directories
//   - Returns ErrBusy when another process has the ledger open
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("ledger: open %s: %w", dir, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSubmission stores sub, stamping SubmittedAt when it is zero.
func (s *Store) RecordSubmission(sub Submission) error {
	if sub.JobID == "" {
		return errors.New("ledger: submission without job id")
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	key := prefixSubmission + stamp(sub.SubmittedAt) + "|" + safeKeyPart(sub.JobID)

	batch := new(leveldb.Batch)
	batch.Put([]byte(key), data)
	batch.Put([]byte(prefixJob+sub.JobID), []byte(key))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("ledger: write submission: %w", err)
	}
	log.Debug().Str("job_id", sub.JobID).Str("outcome", sub.Outcome).Msg("[ledger] submission recorded")
	return nil
}

// Submissions returns up to limit submissions, newest first. limit <= 0
// means all.
func (s *Store) Submissions(limit int) ([]Submission, error) {
	var out []Submission
	err := s.scanNewest(prefixSubmission, limit, func(v []byte) error {
		var sub Submission
		if err := json.Unmarshal(v, &sub); err != nil {
			return err
		}
		out = append(out, sub)
		return nil
	})
	return out, err
}

// Submission looks a submission up by job id.
func (s *Store) Submission(jobID string) (Submission, error) {
	key, err := s.db.Get([]byte(prefixJob+jobID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("ledger: %w", err)
	}
	data, err := s.db.Get(key, nil)
	if err != nil {
		return Submission{}, fmt.Errorf("ledger: %w", err)
	}
	var sub Submission
	return sub, json.Unmarshal(data, &sub)
}

// RecordPlanning stores a planning cycle as pending until MarkSubmitted.
func (s *Store) RecordPlanning(p Planning) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.At.IsZero() {
		p.At = s.now()
	}
	p.Submitted = false
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	key := prefixPlanning + stamp(p.At) + "|" + p.ID

	batch := new(leveldb.Batch)
	batch.Put([]byte(key), data)
	batch.Put([]byte(prefixPending+p.ID), []byte(key))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("ledger: write planning: %w", err)
	}
	return nil
}

// MarkSubmitted flags every pending planning cycle as submitted and returns
// how many were updated.
func (s *Store) MarkSubmitted() (int, error) {
	return s.settlePending(true)
}

// DiscardPending drops the pending marks without flagging the cycles, used
// when the buffer is cleared.
func (s *Store) DiscardPending() (int, error) {
	return s.settlePending(false)
}

func (s *Store) settlePending(submitted bool) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixPending)), nil)
	batch := new(leveldb.Batch)
	n := 0
	for iter.Next() {
		pending := append([]byte(nil), iter.Key()...)
		batch.Delete(pending)
		n++
		if !submitted {
			continue
		}
		pkey := append([]byte(nil), iter.Value()...)
		data, err := s.db.Get(pkey, nil)
		if err != nil {
			continue
		}
		var p Planning
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		p.Submitted = true
		if updated, err := json.Marshal(p); err == nil {
			batch.Put(pkey, updated)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("ledger: settle pending: %w", err)
	}
	return n, nil
}

// Plannings returns up to limit planning cycles, newest first.
func (s *Store) Plannings(limit int) ([]Planning, error) {
	var out []Planning
	err := s.scanNewest(prefixPlanning, limit, func(v []byte) error {
		var p Planning
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *Store) scanNewest(prefix string, limit int, fn func([]byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	n := 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if limit > 0 && n >= limit {
			break
		}
		if err := fn(iter.Value()); err != nil {
			log.Warn().Str("key", string(iter.Key())).Err(err).Msg("[ledger] skipping unreadable record")
			continue
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func stamp(t time.Time) string { return t.UTC().Format(tsLayout) }

// safeKeyPart replaces "|" with "_" so keys split unambiguously.
func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
