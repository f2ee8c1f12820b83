package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/verify"
)

func newFooterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "footer <fragment-file>",
		Short: "Decode and print the footer of a fragment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, raw, err := a.codec().ReadFooterFile(args[0])
			if err != nil {
				return err
			}
			printFooter(cmd.OutOrStdout(), f, fragment.VerifyChecksum(raw))
			return nil
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <file-a> <file-b>",
		Short: "Compare the footers and contents of two fragment files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := verify.NewComparator(verify.Options{
				BlockSize:       int(a.cfg.Verify.BlockSize.Bytes()),
				VerifyChecksums: a.cfg.Verify.VerifyChecksums,
				Codec:           a.codec(),
				Logger:          log.Logger,
			})
			found := c.ComparePair(args[0], args[1])
			w := cmd.OutOrStdout()
			for _, f := range found {
				_, _ = fmt.Fprintln(w, f.String())
			}
			if len(found) > 0 {
				return fmt.Errorf("%d finding(s)", len(found))
			}
			_, _ = fmt.Fprintln(w, "identical")
			return nil
		},
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", ms, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano))
}

func printFooter(out io.Writer, f *fragment.Footer, checksumOK bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(name string, format string, args ...interface{}) {
		_, _ = fmt.Fprintf(w, "%s\t"+format+"\n", append([]interface{}{name}, args...)...)
	}

	link := "-"
	if !f.LinkID.IsNull() {
		link = f.LinkID.String()
	}
	deleted := "[]"
	if f.DeletedRefs != nil {
		deleted = f.DeletedRefs.String()
	}

	row("marker", "0x%02x", f.Marker)
	row("version", "%d", f.Version)
	row("fragment number", "%d", f.FragmentNumber)
	row("object id", "%s (%s)", f.ObjectID, f.ObjectID.Type)
	row("link id", "%s", link)
	row("size", "%d", f.Size)
	row("reliability", "%s", f.Reliability)
	row("content hash", "%s", hex.EncodeToString(f.ContentHash[:]))
	row("creation time", "%s", formatMillis(f.CreationTime))
	row("receive time", "%s", formatMillis(f.ReceiveTime))
	row("expiration time", "%s", formatMillis(f.ExpirationTime))
	row("close time", "%s", formatMillis(f.CloseTime))
	row("delete time", "%s", formatMillis(f.DeleteTime))
	row("shred", "%t", f.Shred)
	row("metadata", "%q", f.Metadata)
	row("checksum algorithm", "%d", f.ChecksumAlgorithm)
	row("preceding checksums", "%d", f.PrecedingChecksums)
	row("fragment size", "%d", f.FragmentSize)
	row("chunk size", "%d", f.ChunkSize)
	row("reference count", "%d", f.RefCount)
	row("max reference count", "%d", f.MaxRefCount)
	row("deleted references", "%s", deleted)
	row("footer checksum", "%08x (valid: %t)", f.Checksum, checksumOK)

	_ = w.Flush()
}
