package statusctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/apptrail-sh/statusbar/internal/imageref"
	"github.com/apptrail-sh/statusbar/internal/model"
)

type imageOutput struct {
	Image    string `json:"image"`
	Tag      string `json:"tag,omitempty"`
	Registry string `json:"registry,omitempty"`
	Label    string `json:"label"`
}

func newImageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "image [status-report.json]",
		Short: "Print the container image of a status report",
		Long:  "Reads a status report as JSON from the given file, or stdin when omitted or '-', and prints its container image and tag.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open status report: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runImage(cmd, opts, in)
		},
	}
}

func runImage(cmd *cobra.Command, opts *options, in io.Reader) error {
	var report model.StatusReport
	if err := json.NewDecoder(in).Decode(&report); err != nil {
		return fmt.Errorf("failed to decode status report: %w", err)
	}

	ref, found := imageref.FromReport(cmd.Context(), &report)

	result := imageOutput{Label: ref.Label()}
	if found {
		result.Image, result.Tag, result.Registry = ref.Image, ref.Tag, imageref.Registry(ref)
	}

	switch opts.out {
	case JsonO:
		return writeJSON(cmd, result)
	case TableO:
		headerFmt := color.New().SprintfFunc()
		tbl := table.New("TARGET", "IMAGE", "TAG", "REGISTRY").WithWriter(cmd.OutOrStdout())
		tbl.WithHeaderFormatter(headerFmt)
		image := result.Image
		if !found {
			image = model.ImagePlaceholder
		}
		tbl.AddRow(report.Target.String(), image, result.Tag, result.Registry)
		tbl.Print()
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Label)
	return nil
}
