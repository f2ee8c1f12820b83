package main

import (
	"crypto/rand"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/fragstore"
	"github.com/tunnelmesh/fragcheck/pkg/bytesize"
)

func newFillCmd(a *app) *cobra.Command {
	var (
		count int
		size  = bytesize.Size(64 * bytesize.KB)
	)

	cmd := &cobra.Command{
		Use:   "fill <root>",
		Short: "Store random objects to populate a fragment tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be >= 1")
			}
			s, err := a.openStore(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			buf := make([]byte, size.Bytes())
			for i := 0; i < count; i++ {
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("generate object data: %w", err)
				}
				id, err := s.Store(cmd.Context(), buf, fragstore.StoreOptions{
					Metadata: []byte(fmt.Sprintf("fill %d/%d", i+1, count)),
				})
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			log.Info().Int("count", count).Str("size", size.String()).Str("root", args[0]).Msg("Store filled")
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of objects to store")
	cmd.Flags().Var(&size, "size", "size of each object, e.g. 256KB")

	return cmd
}
