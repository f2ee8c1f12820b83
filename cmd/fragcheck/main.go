// Command fragcheck verifies fragment trees against their saved copies and
// drives a local fragment store to produce them.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/config"
	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/fragstore"
	"github.com/tunnelmesh/fragcheck/internal/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// app holds state shared by every subcommand of one invocation.
type app struct {
	cfgFile     string
	logLevel    string
	metricsFile string
	footerLen   int

	cfg      *config.Config
	registry *prometheus.Registry
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "fragcheck",
		Short: "Fragment footer codec, store and tree verifier",
		Long: `fragcheck checks that every fragment file of a live store tree is identical
to its counterpart in the saved tree (<root>-moved by default), comparing the
decoded footers field by field and the file contents byte by byte.

Examples:
  # Populate a store, move it, then verify the copy
  fragcheck fill /srv/store --count 20 --size 256KB
  fragcheck move /srv/store
  fragcheck verify /srv/store

  # Inspect a single fragment
  fragcheck footer /srv/store/disks/3/close/<oid>_0.frag`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.writeMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().IntVar(&a.footerLen, "footer-len", 0, "footer length in bytes (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newFooterCmd(a))
	rootCmd.AddCommand(newDiffCmd(a))
	rootCmd.AddCommand(newFillCmd(a))
	rootCmd.AddCommand(newMoveCmd(a))
	rootCmd.AddCommand(newBackupCmd(a))
	rootCmd.AddCommand(newRestoreCmd(a))
	rootCmd.AddCommand(newObjectCmd(a))

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "fragcheck %s\n", Version)
			_, _ = fmt.Fprintf(w, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// setup loads configuration, applies flag overrides and configures logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.footerLen != 0 {
		cfg.FooterLen = a.footerLen
	}
	if a.metricsFile != "" {
		cfg.MetricsFile = a.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.registry = metrics.NewRegistry(Version)
	setupLogging(cfg.LogLevel)
	return nil
}

func setupLogging(logLevel string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func (a *app) writeMetrics() error {
	if a.cfg == nil || a.cfg.MetricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	log.Debug().Str("path", a.cfg.MetricsFile).Msg("Metrics written")
	return nil
}

func (a *app) codec() *fragment.Codec {
	return fragment.NewCodec(a.cfg.FooterLen)
}

func (a *app) openStore(root string) (*fragstore.Store, error) {
	return fragstore.Open(fragstore.Options{
		Root:  root,
		Disks: a.cfg.Store.Disks,
		Reliability: fragment.Reliability{
			DataFragments:   int32(a.cfg.Store.DataFragments),
			ParityFragments: int32(a.cfg.Store.ParityFragments),
		},
		MaxObjectSize: a.cfg.Store.MaxObjectSize.Bytes(),
		LayoutMapID:   int32(a.cfg.Store.LayoutMapID),
		FooterLen:     a.cfg.FooterLen,
		Logger:        log.Logger,
		Metrics:       metrics.NewStoreMetrics(a.registry),
	})
}
