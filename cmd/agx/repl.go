package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/app"
	"github.com/haricheung/agx/internal/input"
)

type replOp int

const (
	replAdd replOp = iota + 1
	replPreview
	replRemove
	replClear
	replValidate
	replSubmit
	replPlanList
	replPlanGet
	replAction
	replJobs
	replWorkers
	replStats
	replHistory
	replHelp
	replQuit
)

// replCommand is one parsed REPL line.
type replCommand struct {
	op   replOp
	text string // instruction, plan id
	n    int    // step number
	json string // action input
}

var replAliases = map[string]replOp{
	"add": replAdd, "a": replAdd,
	"preview": replPreview, "show": replPreview, "list": replPreview, "p": replPreview,
	"remove": replRemove, "delete": replRemove, "rm": replRemove, "r": replRemove,
	"clear": replClear, "reset": replClear, "new": replClear, "c": replClear,
	"validate": replValidate, "v": replValidate,
	"submit": replSubmit, "s": replSubmit,
	"jobs": replJobs, "j": replJobs,
	"workers": replWorkers, "w": replWorkers,
	"stats": replStats, "queue": replStats,
	"history": replHistory,
	"help": replHelp, "?": replHelp, "h": replHelp,
	"quit": replQuit, "exit": replQuit, "q": replQuit,
}

// parseREPL parses one REPL line. An empty line yields op 0 and no error.
//
// Expectations:
//   - Command words are case-insensitive and aliases resolve
//   - add requires a non-empty instruction
//   - remove requires a step number >= 1
//   - "plan list" and "plan get <id>" reach the server plan store
//   - "action <plan-id> [json]" carries an optional single input
//   - "history <job-id>" looks up one local submission
func parseREPL(line string) (replCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return replCommand{}, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	word = strings.ToLower(word)

	switch word {
	case "plan":
		sub, arg, _ := strings.Cut(rest, " ")
		switch sub {
		case "list":
			return replCommand{op: replPlanList}, nil
		case "get":
			if id := strings.TrimSpace(arg); id != "" {
				return replCommand{op: replPlanGet, text: id}, nil
			}
			return replCommand{}, errors.New("plan get requires a plan id")
		default:
			return replCommand{}, fmt.Errorf("unknown plan subcommand %q; use: plan list, plan get <id>", sub)
		}
	case "action":
		id, js, _ := strings.Cut(rest, " ")
		if id == "" {
			return replCommand{}, errors.New("action requires a plan id")
		}
		return replCommand{op: replAction, text: id, json: strings.TrimSpace(js)}, nil
	}

	op, ok := replAliases[word]
	if !ok {
		return replCommand{}, fmt.Errorf("unknown command: %s. Type 'help' for available commands", word)
	}
	switch op {
	case replAdd:
		if rest == "" {
			return replCommand{}, errors.New("add requires a non-empty instruction")
		}
		return replCommand{op: op, text: rest}, nil
	case replHistory:
		return replCommand{op: op, text: rest}, nil
	case replRemove:
		if rest == "" {
			return replCommand{}, errors.New("remove requires a step number")
		}
		n, err := parseStep(rest)
		if err != nil {
			return replCommand{}, err
		}
		return replCommand{op: op, n: n}, nil
	}
	return replCommand{op: op}, nil
}

const replHelpText = `commands:
  add <instruction>     ask the planner and append steps   (a)
  preview               show the plan buffer               (show, list, p)
  remove <n>            remove step n                      (rm, delete, r)
  clear                 start a new, empty plan            (reset, new, c)
  validate              check the envelope rules           (v)
  submit                submit the plan to AGQ             (s)
  plan list | plan get <id>
  action <plan-id> [json]
  jobs | workers | stats
  history [job-id]      local submission history, or one job
  help | quit`

func (c *cli) repl(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agx> ",
		HistoryFile:     filepath.Join(c.cfg.DataDir, "repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    replCompleter(),
	})
	if err != nil {
		return fmt.Errorf("repl: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(c.stdout, "agx: plan buffer %s (type 'help' for commands)\n", c.app.BufferPath())
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("repl: %w", err)
		}
		cmd, err := parseREPL(line)
		if err != nil {
			c.printer().Error(err)
			continue
		}
		if cmd.op == replQuit {
			return nil
		}
		if err := c.dispatch(ctx, cmd); err != nil {
			c.printer().Error(err)
		}
	}
}

func (c *cli) dispatch(ctx context.Context, cmd replCommand) error {
	switch cmd.op {
	case 0:
		return nil
	case replAdd:
		// STDIN is the terminal here, so the planner sees no input data.
		return c.addWith(ctx, cmd.text, input.EmptySummary())
	case replPreview:
		return c.preview()
	case replRemove:
		return c.remove(cmd.n)
	case replClear:
		if err := c.app.NewPlan(); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "plan cleared")
		return nil
	case replValidate:
		return c.validate()
	case replSubmit:
		return c.submit(ctx)
	case replPlanList:
		return c.remotePlans(ctx)
	case replPlanGet:
		return c.remotePlan(ctx, cmd.text)
	case replAction:
		inputs, err := app.ActionInputs(cmd.json, "")
		if err != nil {
			return err
		}
		return c.action(ctx, cmd.text, inputs)
	case replJobs:
		return c.ops(ctx, agq.OpsJobs)
	case replWorkers:
		return c.ops(ctx, agq.OpsWorkers)
	case replStats:
		return c.ops(ctx, agq.OpsStats)
	case replHistory:
		if cmd.text != "" {
			return c.submission(cmd.text)
		}
		return c.history(20)
	case replHelp:
		fmt.Fprintln(c.stdout, replHelpText)
		return nil
	}
	return nil
}

func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("add"),
		readline.PcItem("preview"),
		readline.PcItem("remove"),
		readline.PcItem("clear"),
		readline.PcItem("validate"),
		readline.PcItem("submit"),
		readline.PcItem("plan", readline.PcItem("list"), readline.PcItem("get")),
		readline.PcItem("action"),
		readline.PcItem("jobs"),
		readline.PcItem("workers"),
		readline.PcItem("stats"),
		readline.PcItem("history"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}
