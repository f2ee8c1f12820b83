package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/fragstore"
	"github.com/tunnelmesh/fragcheck/internal/verify"
)

// parseSince accepts an RFC 3339 time or a duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 time or duration", s)
	}
	if d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: negative duration", s)
	}
	return now.Add(-d), nil
}

func newMoveCmd(a *app) *cobra.Command {
	var since, dest string

	cmd := &cobra.Command{
		Use:   "move <root>",
		Short: "Copy a fragment tree to its saved location",
		Long: `Copy every file under root modified after --since to the saved tree,
preserving relative paths and modification times. The destination defaults
to root followed by the configured saved suffix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			if dest == "" {
				dest = verify.NewComparator(verify.Options{SavedSuffix: a.cfg.Verify.SavedSuffix}).SavedRoot(args[0])
			}
			n, err := fragstore.MoveTree(cmd.Context(), args[0], dest, t)
			if err != nil {
				return err
			}
			log.Info().Int("files", n).Str("dest", dest).Msg("Tree moved")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "moved %d file(s) to %s\n", n, dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only copy files modified after this RFC 3339 time or duration ago")
	cmd.Flags().StringVar(&dest, "dest", "", "destination tree (default: root + saved suffix)")

	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "backup <root> <stream-file>",
		Short: "Write a compressed backup stream of a fragment tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			f, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("create backup stream: %w", err)
			}
			n, err := fragstore.BackupTree(cmd.Context(), args[0], f, t)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				_ = os.Remove(args[1])
				return err
			}
			log.Info().Int("files", n).Str("stream", args[1]).Msg("Backup written")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backed up %d file(s) to %s\n", n, args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "only include files modified after this RFC 3339 time or duration ago")

	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <stream-file> <dest>",
		Short: "Extract a backup stream into a tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open backup stream: %w", err)
			}
			defer func() { _ = f.Close() }()

			n, err := fragstore.RestoreTree(cmd.Context(), f, args[1])
			if err != nil {
				return err
			}
			log.Info().Int("files", n).Str("dest", args[1]).Msg("Backup restored")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %d file(s) to %s\n", n, args[1])
			return nil
		},
	}
}
