// Package registry is the static table of text tools a plan may use.
package registry

import (
	"fmt"
	"strings"
)

// Tool describes one command the planner may emit.
type Tool struct {
	ID          string
	Command     string
	Description string
	Patterns    []string // instruction phrases that suggest this tool
	OKExitCodes []int
}

var tools = []Tool{
	{ID: "sort", Command: "sort", Description: "Sort lines of text.", Patterns: []string{"sort", "order", "alphabetize", "sort lines"}, OKExitCodes: []int{0}},
	{ID: "uniq", Command: "uniq", Description: "Remove duplicate lines.", Patterns: []string{"dedupe", "unique", "remove duplicates"}, OKExitCodes: []int{0}},
	{ID: "grep", Command: "grep", Description: "Filter lines that match a pattern.", Patterns: []string{"search", "filter", "match", "grep"}, OKExitCodes: []int{0, 1}},
	{ID: "cut", Command: "cut", Description: "Extract fields or columns from lines.", Patterns: []string{"columns", "fields", "delimiter", "extract columns"}, OKExitCodes: []int{0}},
	{ID: "tr", Command: "tr", Description: "Translate or delete characters in text.", Patterns: []string{"translate", "replace characters", "lowercase", "uppercase"}, OKExitCodes: []int{0}},
}

// Registry looks tools up by id.
type Registry struct {
	tools []Tool
	byID  map[string]int
}

// Default returns the built-in registry.
func Default() *Registry {
	return New(tools)
}

// New builds a registry over ts. Later duplicates of an id are ignored.
func New(ts []Tool) *Registry {
	r := &Registry{byID: make(map[string]int, len(ts))}
	for _, t := range ts {
		if _, dup := r.byID[t.ID]; dup {
			continue
		}
		r.byID[t.ID] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

func (r *Registry) Find(id string) (Tool, bool) {
	i, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Unknown returns the commands not present in the registry, in order, once each.
func (r *Registry) Unknown(commands []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range commands {
		if _, ok := r.Find(c); ok || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// DescribeForPlanner renders one "- id: description (command: cmd)" line per tool.
func (r *Registry) DescribeForPlanner() string {
	var b strings.Builder
	for i, t := range r.tools {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s (command: %s)", t.ID, strings.TrimSuffix(t.Description, "."), t.Command)
	}
	return b.String()
}
