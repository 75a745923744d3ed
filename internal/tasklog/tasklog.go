// Package tasklog is the structured event log of an agx session.
//
// Every CLI invocation (or REPL session) appends JSONL events to one shared
// file: planner calls with full prompts, parse outcomes, buffer changes,
// validation verdicts, submissions and ops queries. The file is the raw
// material for auditing what the model produced and what was sent to AGQ.
//
// All Session methods are nil-safe so callers never check before logging.
package tasklog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventKind labels a single structured event.
type EventKind string

const (
	KindSessionBegin EventKind = "session_begin"
	KindSessionEnd   EventKind = "session_end"
	KindLLMCall      EventKind = "llm_call"
	KindParse        EventKind = "parse"
	KindPlanChange   EventKind = "plan_change"
	KindValidation   EventKind = "validation"
	KindSubmit       EventKind = "submit"
	KindQuery        EventKind = "query"
)

// Event is one JSONL line. Fields are omitempty so each event only carries
// the data relevant to its kind.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`
	Session   string    `json:"session"`

	// session_begin / session_end
	Command   string `json:"command,omitempty"`
	Status    string `json:"status,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Stats     *Stats `json:"stats,omitempty"`

	// llm_call
	SystemPrompt     string `json:"system_prompt,omitempty"`
	UserPrompt       string `json:"user_prompt,omitempty"`
	Response         string `json:"response,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`

	// parse
	Strategy string `json:"strategy,omitempty"`
	Steps    int    `json:"steps,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`

	// plan_change
	Action string `json:"action,omitempty"` // "append" | "remove" | "clear"
	Added  int    `json:"added,omitempty"`
	Total  *int   `json:"total,omitempty"` // pointer: zero must be serialised

	// validation
	OK   *bool  `json:"ok,omitempty"`
	Rule string `json:"rule,omitempty"`

	// submit / query
	JobID   string `json:"job_id,omitempty"`
	PlanID  string `json:"plan_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Op      string `json:"op,omitempty"`
	Items   int    `json:"items,omitempty"`

	Error string `json:"error,omitempty"`
}

// Stats aggregates the cost of one session.
type Stats struct {
	LLMCalls         int   `json:"llm_calls"`
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	LLMElapsedMs     int64 `json:"llm_elapsed_ms"`
	Submissions      int   `json:"submissions"`
}

// Session is a handle for writing events for one agx invocation.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *Session)
//   - Concurrent writes are safe (mutex-protected)
//   - TotalTokens returns the running sum of prompt+completion tokens
type Session struct {
	id      string
	started time.Time
	mu      sync.Mutex
	f       *os.File
	stats   Stats
}

// Open appends a session_begin event to the log at path and returns the
// handle. The directory is created if absent.
func Open(path, command string) (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tasklog: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tasklog: %w", err)
	}
	s := &Session{id: uuid.New().String(), started: time.Now(), f: f}
	s.write(Event{Kind: KindSessionBegin, Command: command})
	return s, nil
}

// ID returns the session id stamped on every event.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Close writes session_end with status and stats, then closes the file.
// Safe to call more than once.
func (s *Session) Close(status string) {
	if s == nil {
		return
	}
	stats := s.Stats()
	s.write(Event{
		Kind:      KindSessionEnd,
		Status:    status,
		ElapsedMs: time.Since(s.started).Milliseconds(),
		Stats:     &stats,
	})
	s.mu.Lock()
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	s.mu.Unlock()
}

// LLMCall records one planner round trip with full prompts and response.
func (s *Session) LLMCall(systemPrompt, userPrompt, response string, promptToks, completionToks int, elapsedMs int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.stats.LLMCalls++
	s.stats.PromptTokens += promptToks
	s.stats.CompletionTokens += completionToks
	s.stats.LLMElapsedMs += elapsedMs
	s.mu.Unlock()
	s.write(Event{
		Kind:             KindLLMCall,
		SystemPrompt:     systemPrompt,
		UserPrompt:       userPrompt,
		Response:         response,
		PromptTokens:     promptToks,
		CompletionTokens: completionToks,
		ElapsedMs:        elapsedMs,
	})
}

// Parse records a parser outcome. errText is empty on success.
func (s *Session) Parse(strategy string, steps int, excerpt, errText string) {
	if s == nil {
		return
	}
	s.write(Event{Kind: KindParse, Strategy: strategy, Steps: steps, Excerpt: excerpt, Error: errText})
}

// PlanChange records a buffer mutation.
func (s *Session) PlanChange(action string, added, total int) {
	if s == nil {
		return
	}
	t := total
	s.write(Event{Kind: KindPlanChange, Action: action, Added: added, Total: &t})
}

// Validation records an envelope validation verdict. rule is empty when ok.
func (s *Session) Validation(ok bool, rule string) {
	if s == nil {
		return
	}
	v := ok
	s.write(Event{Kind: KindValidation, OK: &v, Rule: rule})
}

// Submit records a PLAN.SUBMIT or ACTION.SUBMIT attempt.
func (s *Session) Submit(op, jobID, planID, outcome, errText string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.stats.Submissions++
	s.mu.Unlock()
	s.write(Event{Kind: KindSubmit, Op: op, JobID: jobID, PlanID: planID, Outcome: outcome, Error: errText})
}

// Query records a read-only ops call.
func (s *Session) Query(op string, items int, errText string) {
	if s == nil {
		return
	}
	s.write(Event{Kind: KindQuery, Op: op, Items: items, Error: errText})
}

// Stats returns a snapshot of the session's accumulated costs.
func (s *Session) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// TotalTokens returns the prompt+completion tokens used so far.
func (s *Session) TotalTokens() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.PromptTokens + s.stats.CompletionTokens
}

// write appends one JSON line. Adds timestamp and session id.
func (s *Session) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.Session = s.id
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("[tasklog] marshal event")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	if _, err = fmt.Fprintf(s.f, "%s\n", data); err != nil {
		log.Error().Err(err).Msg("[tasklog] write event")
	}
}
