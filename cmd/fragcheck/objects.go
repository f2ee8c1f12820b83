package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/fragstore"
)

func newObjectCmd(a *app) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "object",
		Short: "Store, retrieve and delete objects in a fragment store",
	}
	cmd.PersistentFlags().StringVarP(&root, "root", "r", "", "store root directory (required)")
	_ = cmd.MarkPersistentFlagRequired("root")

	// withStore opens the store for the duration of fn.
	var withStore storeRunner = func(fn func(cmd *cobra.Command, s *fragstore.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(root)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			return fn(cmd, s, args)
		}
	}

	cmd.AddCommand(newObjectPutCmd(withStore))
	cmd.AddCommand(newObjectGetCmd(withStore))
	cmd.AddCommand(newObjectRefCmd(withStore))
	cmd.AddCommand(newObjectDeleteCmd(withStore))
	cmd.AddCommand(newObjectHoldCmd(withStore))
	cmd.AddCommand(newObjectListCmd(withStore))

	return cmd
}

type storeRunner func(fn func(cmd *cobra.Command, s *fragstore.Store, args []string) error) func(*cobra.Command, []string) error

func newObjectPutCmd(withStore storeRunner) *cobra.Command {
	var metadata string
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Store a file (or stdin) and print the new object id",
		Args:  cobra.MaximumNArgs(1),
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read object data: %w", err)
			}

			opts := fragstore.StoreOptions{Metadata: []byte(metadata)}
			if expires > 0 {
				opts.Expiration = time.Now().Add(expires)
			}
			id, err := s.Store(cmd.Context(), data, opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&metadata, "metadata", "m", "", "metadata stored in the object's footer")
	cmd.Flags().DurationVar(&expires, "expires", 0, "expire the object after this duration")

	return cmd
}

func newObjectGetCmd(withStore storeRunner) *cobra.Command {
	var metadataOnly bool

	cmd := &cobra.Command{
		Use:   "get <object-id>",
		Short: "Reconstruct an object and write it to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			id, err := fragment.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			var data []byte
			if metadataOnly {
				data, err = s.RetrieveMetadata(cmd.Context(), id)
			} else {
				data, err = s.Retrieve(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}

	cmd.Flags().BoolVar(&metadataOnly, "metadata", false, "print the footer metadata instead of the content")

	return cmd
}

func newObjectRefCmd(withStore storeRunner) *cobra.Command {
	var metadata string

	cmd := &cobra.Command{
		Use:   "ref <object-id>",
		Short: "Add a reference to an object's data and print the new object id",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			id, err := fragment.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			ref, err := s.AddReference(cmd.Context(), id, []byte(metadata))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&metadata, "metadata", "m", "", "metadata stored in the new reference's footer")

	return cmd
}

func newObjectDeleteCmd(withStore storeRunner) *cobra.Command {
	var shred bool

	cmd := &cobra.Command{
		Use:   "delete <object-id>",
		Short: "Delete a reference; the data goes with the last one",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			id, err := fragment.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			return s.Delete(cmd.Context(), id, shred)
		}),
	}

	cmd.Flags().BoolVar(&shred, "shred", false, "overwrite the data payload when the last reference goes")

	return cmd
}

func newObjectHoldCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "hold <object-id> [tag]",
		Short: "Add a legal hold tag, or list the tags when none is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			id, err := fragment.ParseObjectID(args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				return s.AddLegalHold(cmd.Context(), id, args[1])
			}
			tags, err := s.LegalHolds(id)
			if err != nil {
				return err
			}
			for _, tag := range tags {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		}),
	}
}

func newObjectListCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalogued objects",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, s *fragstore.Store, args []string) error {
			recs, err := s.Objects()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tSIZE\tREFS\tLINK\tSTATE")
			for _, r := range recs {
				state := "live"
				if r.IsDeleted() {
					state = "deleted"
				}
				link := r.Link
				if link == "" {
					link = "-"
				}
				refs := "-"
				if r.Type == fragment.TypeData {
					refs = fmt.Sprintf("%d/%d", r.RefCount, r.MaxRefCount)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.Type, r.Size, refs, link, state)
			}
			return w.Flush()
		}),
	}
}
