package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/agx/internal/input"
	"github.com/haricheung/agx/internal/ledger"
	"github.com/haricheung/agx/internal/ui"
)

func newPlanCmd(c *cli) *cobra.Command {
	cmd := group("plan", "Build, inspect and submit the local plan buffer")

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start a new, empty plan",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := c.app.NewPlan(); err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(map[string]any{"status": "ok", "plan_path": c.app.BufferPath(), "plan_steps": 0})
			}
			fmt.Fprintf(c.stdout, "new plan at %s\n", c.app.BufferPath())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <instruction>",
		Short: "Ask the planner for steps and append them (STDIN is summarized for context)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.add(cmd.Context(), strings.Join(args, " "))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Show the plan buffer",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.preview()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <n>",
		Short: "Remove step n (1-based) from the plan buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := parseStep(args[0])
			if err != nil {
				return err
			}
			return c.remove(n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the buffer against the job envelope rules without submitting",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.validate()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "submit",
		Short: "Submit the plan buffer to AGQ as a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.submit(cmd.Context())
		},
	})

	var limit int
	history := &cobra.Command{
		Use:   "history [job-id]",
		Short: "List local submission history, newest first, or show one job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 1 {
				return c.submission(args[0])
			}
			return c.history(limit)
		},
	}
	history.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries (0 for all)")
	cmd.AddCommand(history)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List plans stored on the AGQ server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.remotePlans(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <plan-id>",
		Short: "Fetch one plan stored on the AGQ server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.remotePlan(cmd.Context(), args[0])
		},
	})
	return cmd
}

func parseStep(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, usageErrorf("invalid step number: %s", s)
	}
	if n < 1 {
		return 0, usageErrorf("step numbers start at 1")
	}
	return n, nil
}

func (c *cli) add(ctx context.Context, instruction string) error {
	summary, err := input.FromReader(c.stdin)
	if err != nil {
		return err
	}
	return c.addWith(ctx, instruction, summary)
}

func (c *cli) addWith(ctx context.Context, instruction string, summary input.Summary) error {
	var spin *ui.Spinner
	if !c.jsonOut && colorFor(c.stderr) {
		spin = ui.StartSpinner(c.stderr, fmt.Sprintf("planning with %s...", c.app.Model()))
	}
	res, err := c.app.Add(ctx, instruction, summary)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{
			"status":       "ok",
			"added_tasks":  res.Added,
			"total_tasks":  res.Total,
			"strategy":     res.Strategy,
			"unknown_cmds": res.Unknown,
			"plan_path":    c.app.BufferPath(),
		})
	}
	c.printer().Appended(res.Added, res.Total, res.Strategy, res.Unknown)
	return nil
}

func (c *cli) preview() error {
	p, err := c.app.Preview()
	if err != nil {
		return err
	}
	meta, metaErr := c.app.LastSubmission()
	hasMeta := metaErr == nil
	if metaErr != nil && !errors.Is(metaErr, os.ErrNotExist) {
		return metaErr
	}
	if c.jsonOut {
		out := map[string]any{"status": "ok", "plan": p}
		if hasMeta {
			out["last_submission"] = meta
		}
		return c.printJSON(out)
	}
	c.printer().Plan(p)
	if hasMeta {
		fmt.Fprintf(c.stdout, "\nlast submitted: job %s (%s) at %s\n", meta.JobID, meta.Outcome, meta.SubmittedAt)
	}
	return nil
}

func (c *cli) remove(n int) error {
	p, err := c.app.Remove(n)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "removed": n, "total_tasks": p.Len()})
	}
	fmt.Fprintf(c.stdout, "removed step %d, plan now has %d\n", n, p.Len())
	return nil
}

func (c *cli) validate() error {
	env, err := c.app.Validate()
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "valid": true, "steps": len(env.Steps), "max_steps": c.cfg.MaxSteps})
	}
	fmt.Fprintf(c.stdout, "plan is valid: %d step(s)\n", len(env.Steps))
	return nil
}

func (c *cli) submit(ctx context.Context) error {
	res, err := c.app.Submit(ctx)
	if res.Outcome == "" {
		return err
	}
	if c.jsonOut {
		status := "ok"
		if res.Outcome != ledger.OutcomeAccepted {
			status = res.Outcome
		}
		if perr := c.printJSON(map[string]any{
			"status":       status,
			"job_id":       res.JobID,
			"plan_id":      res.PlanID,
			"task_count":   res.Steps,
			"outcome":      res.Outcome,
			"submitted_at": res.SubmittedAt,
		}); perr != nil && err == nil {
			return perr
		}
	} else {
		c.printer().Submitted(res.JobID, res.PlanID, res.Outcome)
	}
	return err
}

func (c *cli) history(limit int) error {
	subs, err := c.app.History(limit)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "submissions": subs})
	}
	c.printer().History(subs)
	return nil
}

func (c *cli) submission(jobID string) error {
	sub, err := c.app.Submission(jobID)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "submission": sub})
	}
	c.printer().History([]ledger.Submission{sub})
	if sub.Error != "" {
		fmt.Fprintf(c.stdout, "\nerror: %s\n", sub.Error)
	}
	return nil
}

func (c *cli) remotePlans(ctx context.Context) error {
	list, err := c.app.Plans(ctx)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "plans": list})
	}
	c.printer().Plans(list)
	return nil
}

func (c *cli) remotePlan(ctx context.Context, id string) error {
	p, err := c.app.RemotePlan(ctx, id)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{"status": "ok", "plan_id": id, "plan": p})
	}
	c.printer().Plan(p)
	return nil
}

