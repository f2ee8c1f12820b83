package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/verify"
	"github.com/tunnelmesh/fragcheck/pkg/bytesize"
)

func newVerifyCmd(a *app) *cobra.Command {
	var (
		savedSuffix string
		blockSize   bytesize.Size
		checksums   bool
	)

	cmd := &cobra.Command{
		Use:   "verify <live-root>",
		Short: "Compare a live fragment tree with its saved copy",
		Long: `Walk the live tree and compare every fragment file with the file at the same
relative path under the saved tree. Every pair is checked twice: footers are
decoded and compared field by field, then the contents are compared byte by
byte. The walk never stops early; the command fails at the end if any pair
failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := verify.Options{
				SavedSuffix:      a.cfg.Verify.SavedSuffix,
				ExcludedSuffixes: a.cfg.Verify.ExcludedSuffixes,
				BlockSize:        int(a.cfg.Verify.BlockSize.Bytes()),
				VerifyChecksums:  a.cfg.Verify.VerifyChecksums || checksums,
				Codec:            a.codec(),
				Logger:           log.Logger,
				Metrics:          verify.NewMetrics(a.registry),
			}
			if savedSuffix != "" {
				opts.SavedSuffix = savedSuffix
			}
			if blockSize > 0 {
				opts.BlockSize = int(blockSize.Bytes())
			}

			res, err := verify.NewComparator(opts).CompareTrees(cmd.Context(), args[0])
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				if metricsErr := a.writeMetrics(); metricsErr != nil {
					log.Warn().Err(metricsErr).Msg("Failed to write metrics")
				}
				var mismatch *verify.TreeMismatchError
				if errors.As(err, &mismatch) {
					return fmt.Errorf("%w: %d failure(s)", verify.ErrTreeMismatch, mismatch.Failures)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&savedSuffix, "saved-suffix", "", "suffix naming the saved tree (overrides config)")
	cmd.Flags().Var(&blockSize, "block-size", "content comparison block size, e.g. 64KB (overrides config)")
	cmd.Flags().BoolVar(&checksums, "verify-checksums", false, "also check each footer's stored checksum")

	return cmd
}

func printResult(w io.Writer, res *verify.Result) {
	for _, f := range res.Findings {
		_, _ = fmt.Fprintln(w, f.String())
	}
	status := "PASS"
	if res.Failures() > 0 {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(w, "%s: %s vs %s: %d compared, %d skipped, %d failure(s)\n",
		status, res.LiveRoot, res.SavedRoot, res.Compared, res.Skipped, res.Failures())
}
