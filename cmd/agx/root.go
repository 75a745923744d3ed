package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haricheung/agx/internal/app"
	"github.com/haricheung/agx/internal/config"
	"github.com/haricheung/agx/internal/input"
	"github.com/haricheung/agx/internal/logging"
	"github.com/haricheung/agx/internal/ui"
)

// cli carries per-invocation state shared by every command.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	jsonOut bool
	debug   bool

	cfg config.Config
	app *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "agx",
		Short: "Plan text pipelines with an LLM and submit them to AGQ",
		Long: `agx asks a language model to turn an instruction into a pipeline of text
tools, keeps the result in a local plan buffer, and submits it to an AGQ
queue as a validated job envelope. Run without arguments for the REPL.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.CommandPath())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.repl(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "log debug output to stderr")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print machine-readable JSON")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	root.AddCommand(newPlanCmd(c), newActionCmd(c), newJobsCmd(c), newWorkersCmd(c), newQueueCmd(c))
	return root
}

// group builds a parent command that only hosts subcommands.
func group(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func (c *cli) setup(command string) error {
	logging.ConfigureRuntime(c.debug)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	a, err := app.Open(cfg, command)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printer() *ui.Printer {
	return ui.New(c.stdout, colorFor(c.stdout))
}

func colorFor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && input.IsTerminal(f)
}

func (c *cli) reportError(err error, code int) {
	if c.jsonOut {
		enc := json.NewEncoder(c.stderr)
		_ = enc.Encode(map[string]any{"status": "error", "error": err.Error(), "exit_code": code})
		return
	}
	ui.New(c.stderr, colorFor(c.stderr)).Error(err)
	if _, ok := err.(usageError); ok {
		fmt.Fprintln(c.stderr, "run 'agx --help' for usage")
	}
}
