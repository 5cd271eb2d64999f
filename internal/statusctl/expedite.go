package statusctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/apptrail-sh/statusbar/internal/buildinfo"
	"github.com/apptrail-sh/statusbar/internal/healthcheck"
	"github.com/apptrail-sh/statusbar/internal/hooks/controlplane"
	"github.com/apptrail-sh/statusbar/internal/model"
)

func newExpediteCmd(opts *options) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "expedite <deployment/ID|release/ID>",
		Short: "Run a health check for a deployment or release now",
		Example: `  statusctl expedite deployment/01H8XK --workspace prod
  statusctl expedite release/01H8XM --no-wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := model.ParseTargetRef(args[0])
			if err != nil {
				return err
			}
			if opts.controlPlaneURL == "" {
				return errors.New("--controlplane-url is required")
			}
			client := controlplane.NewClient(opts.controlPlaneURL, "", buildinfo.AgentVersion())
			return runExpedite(cmd, opts, client, target, !noWait)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the job is scheduled instead of waiting for it")
	return cmd
}

func runExpedite(cmd *cobra.Command, opts *options, client healthcheck.Client, target model.TargetRef, wait bool) error {
	out := cmd.OutOrStdout()
	results := make(chan model.HealthCheckResult, 1)

	expediter := healthcheck.NewExpediter(client, healthcheck.WithResults(results))
	defer expediter.Close()

	if opts.out == TextO {
		unsubscribe := expediter.Subscribe(func(running bool) {
			if running {
				fmt.Fprintf(out, "Health check job %s running for %s\n", expediter.JobID(), target)
			}
		})
		defer unsubscribe()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	if err := expediter.Expedite(ctx, target, opts.workspace); err != nil {
		return err
	}

	if !wait && expediter.Running() {
		return printScheduled(cmd, opts, target, expediter.JobID())
	}

	waitErr := expediter.Wait(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("gave up waiting for health check job %s: %w", expediter.JobID(), ctx.Err())
	}

	// The result is published right after the watch ends.
	select {
	case result := <-results:
		if err := printResult(cmd, opts, result); err != nil {
			return err
		}
		return waitErr
	case <-ctx.Done():
		return fmt.Errorf("health check finished without a result: %w", ctx.Err())
	}
}

func printScheduled(cmd *cobra.Command, opts *options, target model.TargetRef, jobID string) error {
	if opts.out == JsonO {
		return writeJSON(cmd, model.ExpediteResponse{JobID: jobID})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Health check for %s scheduled as job %s\n", target, jobID)
	return nil
}

func printResult(cmd *cobra.Command, opts *options, result model.HealthCheckResult) error {
	switch opts.out {
	case JsonO:
		return writeJSON(cmd, result)
	case TableO:
		printResultTable(cmd, result)
		return nil
	}

	out := cmd.OutOrStdout()
	switch result.Outcome {
	case model.HealthCheckNoJob:
		fmt.Fprintf(out, "No health check job was scheduled for %s\n", result.Target)
	case model.HealthCheckDone:
		fmt.Fprintf(out, "Health check job %s for %s finished in %s\n",
			result.JobID, result.Target, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	default:
		fmt.Fprintf(out, "Health check job %s for %s ended: %s %s\n", result.JobID, result.Target, result.Outcome, result.Error)
	}
	return nil
}

func printResultTable(cmd *cobra.Command, result model.HealthCheckResult) {
	outcome := color.New(color.FgGreen).SprintFunc()
	if result.Outcome != model.HealthCheckDone && result.Outcome != model.HealthCheckNoJob {
		outcome = color.New(color.FgRed).SprintFunc()
	}

	tbl := table.New("", "").WithWriter(cmd.OutOrStdout())
	tbl.AddRow("Target", result.Target.String())
	tbl.AddRow("Workspace", result.Workspace)
	tbl.AddRow("Job", result.JobID)
	tbl.AddRow("Outcome", outcome(string(result.Outcome)))
	tbl.AddRow("Started", timeago.English.Format(result.StartedAt))
	tbl.AddRow("Duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	if result.Error != "" {
		tbl.AddRow("Error", result.Error)
	}
	tbl.Print()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "\t")
	return enc.Encode(v)
}
