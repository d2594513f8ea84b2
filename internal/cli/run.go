package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/scopegrid/internal/app"
	"github.com/vk/scopegrid/internal/config"
	"github.com/vk/scopegrid/internal/hcl"
)

type runOptions struct {
	workers         int
	healthPort      int
	arm             string
	all             bool
	duration        time.Duration
	maxAcquisitions int
	renderURL       string
	archive         string
	historyDepth    int
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run LAYOUT_PATH...",
		Short: "Run an acquisition session from .hcl layout files or directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := layoutPaths(cmd, args)
			if err != nil {
				return err
			}
			settings, err := root.settings(cmd)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, settings); err != nil {
				return err
			}

			a, err := app.NewApp(cmd.OutOrStdout(), &app.Config{LayoutPaths: paths, Settings: settings}, hcl.NewLoader())
			if err != nil {
				return err
			}
			sum, runErr := a.Run(cmd.Context())
			if sum != nil {
				printSummary(cmd.OutOrStdout(), sum)
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 0, "Concurrent filter computes. 0 is one per CPU.")
	f.IntVar(&opts.healthPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	f.StringVar(&opts.arm, "arm", "", "Trigger kind to arm with: 'normal', 'single', 'forced', 'freerun' or 'none'.")
	f.BoolVar(&opts.all, "all", false, "Arm every trigger group, not only the default ones.")
	f.DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long. 0 runs until interrupted.")
	f.IntVarP(&opts.maxAcquisitions, "max-acquisitions", "n", 0, "Stop after this many acquisitions. 0 is unlimited.")
	f.StringVar(&opts.renderURL, "render-url", "", "socket.io server to broadcast frames to.")
	f.StringVar(&opts.archive, "archive", "", "Directory of the on-disk history archive.")
	f.IntVar(&opts.historyDepth, "history-depth", 0, "Unpinned acquisitions kept in memory.")
	return cmd
}

// apply copies the flags the user set onto settings.
func (o *runOptions) apply(cmd *cobra.Command, s *config.Settings) error {
	f := cmd.Flags()
	if f.Changed("workers") {
		s.Executor.Workers = o.workers
	}
	if f.Changed("healthcheck-port") {
		s.Health.Port = o.healthPort
	}
	if f.Changed("arm") {
		s.Run.Arm = strings.ToLower(o.arm)
	}
	if f.Changed("all") {
		s.Run.All = o.all
	}
	if f.Changed("duration") {
		s.Run.Duration = o.duration
	}
	if f.Changed("max-acquisitions") {
		s.Run.MaxAcquisitions = o.maxAcquisitions
	}
	if f.Changed("render-url") {
		s.Render.URL = o.renderURL
	}
	if f.Changed("archive") {
		s.History.Archive = o.archive
	}
	if f.Changed("history-depth") {
		s.History.Depth = o.historyDepth
	}
	if err := s.Validate(); err != nil {
		return usageError(err)
	}
	return nil
}
