// Package planner turns a natural-language instruction into plan steps by
// prompting a chat backend and running its reply through the plan parser.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haricheung/agx/internal/input"
	"github.com/haricheung/agx/internal/llm"
	"github.com/haricheung/agx/internal/plan"
	"github.com/haricheung/agx/internal/registry"
)

// MaxInstructionBytes bounds one instruction.
const MaxInstructionBytes = 8 << 10

const maxMemoryEntries = 10

var (
	ErrEmptyInstruction   = errors.New("planner: empty instruction")
	ErrInstructionTooLong = fmt.Errorf("planner: instruction longer than %d bytes", MaxInstructionBytes)
)

const systemPrompt = `You are the AGX Planner. Turn the user's instruction into the shortest pipeline of text tools that does it.

Rules:
- Use ONLY the tools listed under "Available tools". The "cmd" value is the tool id.
- Steps run in order; each step reads the previous step's output unless "input_from_step" names an earlier step (1-based).
- "uniq" only removes ADJACENT duplicates, so put "sort" before it.
- "args" is a list of strings, one per argv entry. Use [] when there are none.
- Add "timeout_secs" only when the user asks for a time limit.

Respond with a single JSON object only, no markdown, no commentary, in exactly this shape:
{"plan": [{"cmd": "tool-id", "args": []}]}`

// Backend is the chat collaborator. *llm.Client satisfies it.
type Backend interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Example is one earlier planning cycle, used to steer the model toward
// pipelines that were already accepted for similar instructions.
type Example struct {
	Instruction string
	Commands    []string
	Accepted    bool
	At          time.Time
}

// Request is everything the planner needs for one instruction.
type Request struct {
	Instruction string
	Input       input.Summary
	Existing    plan.Plan // steps already in the buffer
	History     []Example
}

// Output is the result of one planning cycle.
type Output struct {
	System   string
	User     string
	Raw      string        // model reply after think-block stripping
	Plan     plan.Plan     // parsed and normalized
	Strategy plan.Strategy // parser strategy that succeeded
	Unknown  []string      // commands not in the registry
	Usage    llm.Usage
	Elapsed  time.Duration
}

type Planner struct {
	backend  Backend
	registry *registry.Registry
}

func New(backend Backend, reg *registry.Registry) *Planner {
	if reg == nil {
		reg = registry.Default()
	}
	return &Planner{backend: backend, registry: reg}
}

// CheckInstruction rejects blank and oversized instructions.
func CheckInstruction(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyInstruction
	}
	if len(s) > MaxInstructionBytes {
		return ErrInstructionTooLong
	}
	return nil
}

// Plan asks the backend for a plan and parses the reply.
//
// Expectations:
//   - Rejects empty or oversized instructions without calling the backend
//   - Returns the raw reply alongside a *plan.ParseError when nothing parses
//   - The returned plan is normalized (sort inserted before a lone uniq)
//   - Commands outside the registry are reported in Unknown, not rejected
func (p *Planner) Plan(ctx context.Context, req Request) (Output, error) {
	if err := CheckInstruction(req.Instruction); err != nil {
		return Output{}, err
	}
	user := p.userPrompt(req)

	start := time.Now()
	raw, usage, err := p.backend.Chat(ctx, systemPrompt, user)
	if err != nil {
		return Output{System: systemPrompt, User: user}, fmt.Errorf("planner: %w", err)
	}
	out := Output{System: systemPrompt, User: user, Raw: llm.StripThinkBlocks(raw), Usage: usage, Elapsed: time.Since(start)}

	parsed, strategy, err := plan.ParseWithStrategy(out.Raw)
	if err != nil {
		log.Warn().Int("bytes", len(out.Raw)).Msg("[planner] reply did not parse")
		return out, fmt.Errorf("planner: %w", err)
	}
	out.Plan = plan.Normalize(parsed)
	out.Strategy = strategy
	out.Unknown = p.registry.Unknown(out.Plan.Commands())
	if len(out.Unknown) > 0 {
		log.Warn().Strs("commands", out.Unknown).Msg("[planner] plan uses unregistered tools")
	}
	log.Debug().Str("strategy", string(strategy)).Int("steps", out.Plan.Len()).
		Bool("normalized", out.Plan.Len() != parsed.Len()).Msg("[planner] parsed")
	return out, nil
}

func (p *Planner) userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User instruction:\n%s\n\n", strings.TrimSpace(req.Instruction))
	fmt.Fprintf(&b, "Input description:\n%s\n\n", req.Input.Describe())
	fmt.Fprintf(&b, "Available tools:\n%s\n", p.registry.DescribeForPlanner())
	if req.Existing.Len() > 0 {
		fmt.Fprintf(&b, "\nThe plan already has %d step(s): %s. Your steps are appended after them.\n",
			req.Existing.Len(), strings.Join(req.Existing.Commands(), " | "))
	}
	if hints := calibrate(req.History, req.Instruction); hints != "" {
		log.Debug().Int("history", len(req.History)).Msg("[planner] calibration: injecting prior pipelines")
		fmt.Fprintf(&b, "\n--- PRIOR PIPELINES ---\n%s--- END PRIOR PIPELINES ---\n", hints)
	}
	return b.String()
}

// calibrate sorts history newest first, caps it at maxMemoryEntries, keeps
// entries sharing a keyword with instruction, and renders accepted ones as
// SHOULD PREFER lines. Returns "" when nothing is relevant.
func calibrate(history []Example, instruction string) string {
	if len(history) == 0 {
		return ""
	}
	sorted := make([]Example, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.After(sorted[j].At) })
	if len(sorted) > maxMemoryEntries {
		sorted = sorted[:maxMemoryEntries]
	}

	keywords := tokenize(instruction)
	var lines []string
	for _, e := range sorted {
		if !e.Accepted || len(e.Commands) == 0 {
			continue
		}
		hay := strings.ToLower(e.Instruction)
		for _, kw := range keywords {
			if strings.Contains(hay, kw) {
				lines = append(lines, fmt.Sprintf("  - %q -> %s", clip(e.Instruction, 120), strings.Join(e.Commands, " | ")))
				break
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "SHOULD PREFER (pipelines accepted for similar instructions):\n" + strings.Join(lines, "\n") + "\n"
}

// tokenize splits s into lowercase keywords of length >= 3.
func tokenize(s string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, `.,;:!?"'()`)
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	return words
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
