// Package input summarizes the data piped to agx on STDIN so the planner
// knows what it is working with.
package input

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// MaxBytes bounds how much STDIN is read for a summary.
const MaxBytes = 64 << 20

// Summary describes the piped input without carrying it to the model.
type Summary struct {
	Bytes     int  `json:"bytes"`
	Lines     int  `json:"lines"`
	Empty     bool `json:"is_empty"`
	Binary    bool `json:"is_probably_binary"`
	Truncated bool `json:"truncated,omitempty"`
}

// EmptySummary is the summary used when STDIN is a terminal.
func EmptySummary() Summary { return Summary{Empty: true} }

// Summarize counts bytes and lines of data. Lines is the newline count plus
// one for any non-empty input. A NUL byte marks binary input.
//
// Expectations:
//   - Empty data is Empty with zero lines
//   - "a\nb" is two lines
//   - Any NUL byte sets Binary
func Summarize(data []byte) Summary {
	if len(data) == 0 {
		return EmptySummary()
	}
	return Summary{
		Bytes:  len(data),
		Lines:  bytes.Count(data, []byte{'\n'}) + 1,
		Binary: bytes.IndexByte(data, 0) >= 0,
	}
}

// Read summarizes up to MaxBytes from r.
func Read(r io.Reader) (Summary, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return Summary{}, fmt.Errorf("input: read: %w", err)
	}
	truncated := len(data) > MaxBytes
	if truncated {
		data = data[:MaxBytes]
	}
	s := Summarize(data)
	s.Truncated = truncated
	return s, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// FromReader summarizes r, or returns EmptySummary when r is a terminal so
// an interactive run never blocks waiting for EOF.
func FromReader(r io.Reader) (Summary, error) {
	if f, ok := r.(*os.File); ok && IsTerminal(f) {
		return EmptySummary(), nil
	}
	return Read(r)
}

// Describe renders the summary for the planner prompt.
func (s Summary) Describe() string {
	return fmt.Sprintf("bytes: %d, lines: %d, is_empty: %t, is_probably_binary: %t", s.Bytes, s.Lines, s.Empty, s.Binary)
}
