package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vk/scopegrid/internal/app"
	"github.com/vk/scopegrid/internal/hcl"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate LAYOUT_PATH...",
		Short: "Build the session a layout describes and print it without acquiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := layoutPaths(cmd, args)
			if err != nil {
				return err
			}
			settings, err := root.settings(cmd)
			if err != nil {
				return err
			}
			// Validation never archives or broadcasts.
			settings.History.Archive = ""
			settings.Render.URL = ""
			settings.Health.Port = 0

			a, err := app.NewApp(io.Discard, &app.Config{LayoutPaths: paths, Settings: settings}, hcl.NewLoader())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			state := a.Session().Snapshot()
			printGroups(out, state.Groups)
			printNodes(out, state.Nodes)
			fmt.Fprintf(out, "Layout OK: %d instruments, %d filters, %d trigger groups.\n",
				len(a.Layout().Instruments), len(a.Layout().Filters), len(state.Groups))
			return nil
		},
	}
}
