package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/scopegrid/internal/history"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		archivePath string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List acquisitions recorded in a history archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := root.settings(cmd)
			if err != nil {
				return err
			}
			path := settings.History.Archive
			if cmd.Flags().Changed("archive") {
				path = archivePath
			}
			if path == "" {
				return usageError(errors.New("no archive configured: pass --archive or set history.archive"))
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("history archive: %w", err)
			}

			archive, err := history.OpenArchive(history.ArchiveConfig{Path: path})
			if err != nil {
				return fmt.Errorf("failed to open history archive: %w", err)
			}
			defer archive.Close()

			records, err := archive.List(limit)
			if err != nil {
				return err
			}
			printArchive(cmd.OutOrStdout(), path, records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&archivePath, "archive", "a", "", "Directory of the history archive.")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Newest records to list. 0 lists all.")
	return cmd
}
