package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/haricheung/agx/internal/agq"
	"github.com/haricheung/agx/internal/app"
)

func newActionCmd(c *cli) *cobra.Command {
	cmd := group("action", "Run a stored plan against input data")

	var planID, inline, file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Instantiate a stored plan once per input (ACTION.SUBMIT)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if planID == "" {
				return usageErrorf("--plan-id is required")
			}
			inputs, err := app.ActionInputs(inline, file)
			if err != nil {
				return usageError{err}
			}
			return c.action(cmd.Context(), planID, inputs)
		},
	}
	submit.Flags().StringVar(&planID, "plan-id", "", "id of the stored plan (required)")
	submit.Flags().StringVar(&inline, "input", "", "one JSON input value")
	submit.Flags().StringVar(&file, "inputs-file", "", "path to a JSON array of inputs")
	cmd.AddCommand(submit)
	return cmd
}

func newJobsCmd(c *cli) *cobra.Command {
	cmd := group("jobs", "Inspect jobs on the AGQ server")
	cmd.AddCommand(opsCmd(c, "list", "List jobs (JOBS.LIST)", agq.OpsJobs))
	return cmd
}

func newWorkersCmd(c *cli) *cobra.Command {
	cmd := group("workers", "Inspect AGQ workers")
	cmd.AddCommand(opsCmd(c, "list", "List workers (WORKERS.LIST)", agq.OpsWorkers))
	return cmd
}

func newQueueCmd(c *cli) *cobra.Command {
	cmd := group("queue", "Inspect the AGQ queue")
	cmd.AddCommand(opsCmd(c, "stats", "Show queue statistics (QUEUE.STATS)", agq.OpsStats))
	return cmd
}

func opsCmd(c *cli, use, short string, kind agq.OpsKind) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ops(cmd.Context(), kind)
		},
	}
}

func (c *cli) ops(ctx context.Context, kind agq.OpsKind) error {
	resp, err := c.app.Ops(ctx, kind)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(resp)
	}
	c.printer().Ops(resp)
	return nil
}

func (c *cli) action(ctx context.Context, planID string, inputs []json.RawMessage) error {
	res, err := c.app.SubmitAction(ctx, planID, inputs)
	if err != nil {
		return err
	}
	if c.jsonOut {
		return c.printJSON(map[string]any{
			"status":           "ok",
			"action_id":        res.ActionID,
			"plan_id":          res.PlanID,
			"plan_description": res.PlanDescription,
			"jobs_created":     res.JobsCreated,
			"job_ids":          res.JobIDs,
		})
	}
	c.printer().Action(res)
	return nil
}
