// Package statusctl implements the statusctl command line: expediting
// health checks against the control plane and reading image references
// out of status reports.
package statusctl

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apptrail-sh/statusbar/internal/model"
)

type Output string

const (
	TextO  Output = "text"
	JsonO  Output = "json"
	TableO Output = "table"
)

func (o *Output) String() string {
	if *o == "" {
		return string(TextO)
	}
	return string(*o)
}

func (o *Output) Set(v string) error {
	switch v {
	case "text", "json", "table":
		*o = Output(v)
		return nil
	default:
		return errors.New(`must be one of "text", "json" or "table"`)
	}
}

func (o *Output) Type() string {
	return "string"
}

// options are the persistent flags shared by every subcommand
type options struct {
	controlPlaneURL string
	workspace       string
	timeout         time.Duration
	out             Output
}

// NewRootCmd builds the statusctl command tree
func NewRootCmd() *cobra.Command {
	opts := &options{out: TextO}

	root := &cobra.Command{
		Use:           "statusctl",
		Short:         "Expedite health checks and inspect status reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.controlPlaneURL, "controlplane-url", "u", os.Getenv("CONTROLPLANE_URL"),
		"Base URL of the control plane")
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", model.DefaultWorkspace, "Workspace of the target")
	root.PersistentFlags().DurationVarP(&opts.timeout, "timeout", "t", 5*time.Minute, "How long to wait for a health check job")
	root.PersistentFlags().VarP(&opts.out, "output", "o", "Output format. Must be one of [text, json, table]")

	root.AddCommand(newExpediteCmd(opts), newImageCmd(opts))
	return root
}

// Execute runs statusctl
func Execute() {
	cobra.CheckErr(NewRootCmd().Execute())
}
