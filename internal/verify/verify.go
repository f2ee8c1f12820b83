// Package verify walks a live fragment tree and checks every fragment file
// against its counterpart in the saved tree, by footer and by content.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/logging/findings"
)

// DefaultSavedSuffix names the saved tree relative to the live root.
const DefaultSavedSuffix = "-moved"

// DefaultExcludedSuffixes are skipped when Options.ExcludedSuffixes is nil:
// backup stream output and legal-hold footer extensions.
var DefaultExcludedSuffixes = []string{".bkst", ".fef"}

// Kind classifies a finding.
type Kind string

// Finding kinds.
const (
	KindFooterMismatch     Kind = "footer_mismatch"
	KindContentMismatch    Kind = "content_mismatch"
	KindMissingCounterpart Kind = "missing_counterpart"
	KindShortRead          Kind = "short_read"
	KindCorruptFooter      Kind = "corrupt_footer"
	KindIOError            Kind = "io_error"
	KindChecksumMismatch   Kind = "checksum_mismatch"
)

var allKinds = []Kind{
	KindFooterMismatch,
	KindContentMismatch,
	KindMissingCounterpart,
	KindShortRead,
	KindCorruptFooter,
	KindIOError,
	KindChecksumMismatch,
}

// Finding is one failed check on a live/saved pair.
type Finding struct {
	Kind        Kind
	Path        string // live file
	Counterpart string // saved file
	Detail      string
	Diffs       []string // per-field differences for footer mismatches
}

func (f Finding) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s <=> %s", f.Kind, f.Path, f.Counterpart)
	if f.Detail != "" {
		fmt.Fprintf(&b, ": %s", f.Detail)
	}
	for _, d := range f.Diffs {
		fmt.Fprintf(&b, "\n    %s", d)
	}
	return b.String()
}

// Result is the outcome of a tree comparison.
type Result struct {
	LiveRoot  string
	SavedRoot string
	Compared  int
	Skipped   int
	Findings  []Finding
}

// Failures returns the failure count. Every finding counts once.
func (r *Result) Failures() int {
	return len(r.Findings)
}

// Log renders the aggregated diff log, one finding per entry.
func (r *Result) Log() string {
	lines := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		lines = append(lines, f.String())
	}
	return strings.Join(lines, "\n")
}

// HasKind reports whether any finding has kind k.
func (r *Result) HasKind(k Kind) bool {
	for _, f := range r.Findings {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Options configures a Comparator.
type Options struct {
	SavedSuffix      string
	ExcludedSuffixes []string // nil selects DefaultExcludedSuffixes; empty excludes nothing
	BlockSize        int
	VerifyChecksums  bool
	Codec            *fragment.Codec
	Logger           zerolog.Logger
	Metrics          *Metrics // optional
}

// Comparator compares a live tree with its saved counterpart.
type Comparator struct {
	savedSuffix string
	excluded    []string
	blockSize   int
	checksums   bool
	codec       *fragment.Codec
	logger      zerolog.Logger
	findings    *findings.Logger
	metrics     *Metrics

	walkDir func(root string, fn fs.WalkDirFunc) error
}

// NewComparator creates a Comparator, applying defaults for empty options.
func NewComparator(opts Options) *Comparator {
	if opts.SavedSuffix == "" {
		opts.SavedSuffix = DefaultSavedSuffix
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = fragment.DefaultBlockSize
	}
	if opts.Codec == nil {
		opts.Codec = fragment.NewCodec(0)
	}
	if opts.ExcludedSuffixes == nil {
		opts.ExcludedSuffixes = append([]string(nil), DefaultExcludedSuffixes...)
	}
	logger := opts.Logger.With().Str("component", "verify").Logger()
	return &Comparator{
		savedSuffix: opts.SavedSuffix,
		excluded:    opts.ExcludedSuffixes,
		blockSize:   opts.BlockSize,
		checksums:   opts.VerifyChecksums,
		codec:       opts.Codec,
		logger:      logger,
		findings:    findings.NewLogger(logger),
		metrics:     opts.Metrics,
		walkDir:     filepath.WalkDir,
	}
}

// SavedRoot returns the saved tree root for liveRoot.
func (c *Comparator) SavedRoot(liveRoot string) string {
	return filepath.Clean(liveRoot) + c.savedSuffix
}

// CompareTrees walks liveRoot and compares every regular, non-excluded file
// with the file at the same relative path under SavedRoot(liveRoot).
//
// Pair failures are recorded and the walk continues. The returned error is
// a *TreeMismatchError when any pair failed, or a walk error (missing live
// root, unreadable directory, cancelled context). The Result is returned in
// both the success and mismatch cases.
func (c *Comparator) CompareTrees(ctx context.Context, liveRoot string) (*Result, error) {
	liveRoot = filepath.Clean(liveRoot)
	info, err := os.Stat(liveRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootNotFound, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, liveRoot)
	}

	res := &Result{LiveRoot: liveRoot, SavedRoot: c.SavedRoot(liveRoot)}
	start := time.Now()

	c.logger.Info().Str("live_root", res.LiveRoot).Str("saved_root", res.SavedRoot).Msg("Comparing trees")

	walkErr := c.walkDir(liveRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == liveRoot {
				return fmt.Errorf("walk %s: %w", path, err)
			}
			// Unreadable entries below the root are findings; the walk goes on.
			counterpart := ""
			if rel, relErr := filepath.Rel(liveRoot, path); relErr == nil {
				counterpart = filepath.Join(res.SavedRoot, rel)
			}
			c.addFinding(res, Finding{Kind: KindIOError, Path: path, Counterpart: counterpart, Detail: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			c.skip(res, path, "not_regular")
			return nil
		}
		if c.isExcluded(path) {
			c.skip(res, path, "excluded_suffix")
			return nil
		}

		rel, err := filepath.Rel(liveRoot, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}
		c.comparePair(res, path, filepath.Join(res.SavedRoot, rel))
		return nil
	})

	c.metrics.recordWalk(time.Since(start).Seconds(), res.Failures())
	if walkErr != nil {
		return res, walkErr
	}

	c.findings.LogSummary(res.LiveRoot, res.SavedRoot, res.Compared, res.Skipped, res.Failures())
	if res.Failures() > 0 {
		return res, &TreeMismatchError{Root: liveRoot, Failures: res.Failures(), Log: res.Log()}
	}
	return res, nil
}

// ComparePair runs the footer and content checks on one pair of files.
func (c *Comparator) ComparePair(live, saved string) []Finding {
	res := &Result{}
	c.comparePair(res, live, saved)
	return res.Findings
}

func (c *Comparator) comparePair(res *Result, live, saved string) {
	res.Compared++
	before := len(res.Findings)
	record := func(kind Kind, detail string, diffs []string) {
		c.addFinding(res, Finding{Kind: kind, Path: live, Counterpart: saved, Detail: detail, Diffs: diffs})
	}

	info, err := os.Lstat(saved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		record(KindMissingCounterpart, "no saved file", nil)
		return
	case err != nil:
		record(KindIOError, err.Error(), nil)
		return
	case !info.Mode().IsRegular():
		record(KindMissingCounterpart, "saved path is not a regular file", nil)
		return
	}

	c.compareFooters(live, saved, record)

	report, err := fragment.CompareFileContents(live, saved, c.blockSize)
	if err != nil {
		record(KindIOError, err.Error(), nil)
	} else if !report.Equal {
		record(KindContentMismatch, report.String(), nil)
	}
	if err == nil {
		c.metrics.recordPair(report.LengthA)
	}

	if len(res.Findings) == before {
		c.findings.LogPairOK(live, saved)
	}
}

// compareFooters reads both footers. A footer that cannot be read fails
// only the footer check for the pair.
func (c *Comparator) compareFooters(live, saved string, record func(Kind, string, []string)) {
	a, rawA, errA := c.codec.ReadFooterFile(live)
	b, rawB, errB := c.codec.ReadFooterFile(saved)
	if errA != nil {
		record(footerErrorKind(errA), "live: "+errA.Error(), nil)
	}
	if errB != nil {
		record(footerErrorKind(errB), "saved: "+errB.Error(), nil)
	}
	if errA != nil || errB != nil {
		return
	}

	if report := fragment.CompareFooters(a, b); !report.Equal {
		record(KindFooterMismatch, fmt.Sprintf("%d field(s) differ", len(report.Diffs)), report.Diffs)
	}

	if !c.checksums {
		return
	}
	if a.ChecksumAlgorithm == fragment.ChecksumCRC32 && !fragment.VerifyChecksum(rawA) {
		record(KindChecksumMismatch, "live footer checksum does not match", nil)
	}
	if b.ChecksumAlgorithm == fragment.ChecksumCRC32 && !fragment.VerifyChecksum(rawB) {
		record(KindChecksumMismatch, "saved footer checksum does not match", nil)
	}
}

func footerErrorKind(err error) Kind {
	switch {
	case errors.Is(err, fragment.ErrShortRead):
		return KindShortRead
	case errors.Is(err, fragment.ErrCorruptFooter):
		return KindCorruptFooter
	default:
		return KindIOError
	}
}

func (c *Comparator) isExcluded(path string) bool {
	for _, s := range c.excluded {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func (c *Comparator) addFinding(res *Result, f Finding) {
	res.Findings = append(res.Findings, f)
	c.metrics.recordFinding(f.Kind)
	c.findings.LogFinding(string(f.Kind), f.Path, f.Counterpart, f.Detail, f.Diffs)
}

func (c *Comparator) skip(res *Result, path, reason string) {
	res.Skipped++
	c.metrics.recordSkip()
	c.findings.LogSkipped(path, reason)
}
