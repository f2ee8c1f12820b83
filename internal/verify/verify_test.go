package verify

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/testutil"
)

// fixture is a live tree and its saved copy under one temp directory.
type fixture struct {
	live  string
	saved string
}

func newFixture(t *testing.T, rootName string) *fixture {
	t.Helper()
	base := t.TempDir()
	fx := &fixture{
		live:  filepath.Join(base, rootName),
		saved: filepath.Join(base, rootName+DefaultSavedSuffix),
	}
	require.NoError(t, os.MkdirAll(fx.live, 0755))
	require.NoError(t, os.MkdirAll(fx.saved, 0755))
	return fx
}

// addPair writes the same fragment under both roots.
func (fx *fixture) addPair(t *testing.T, rel string, seed uint64) ([]byte, *fragment.Footer) {
	t.Helper()
	payload := testutil.RandomBytes(seed, 2000+int(seed))
	f := testutil.SampleFooter(t, int32(seed%7), payload)
	testutil.WriteFragment(t, filepath.Join(fx.live, rel), payload, f)
	testutil.WriteFragment(t, filepath.Join(fx.saved, rel), payload, f)
	return payload, f
}

func (fx *fixture) populate(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rel := filepath.Join("disks", string(rune('0'+i%3)), "close", "frag"+string(rune('a'+i))+".frag")
		fx.addPair(t, rel, uint64(i+1))
	}
}

func newTestComparator(opts Options) *Comparator {
	opts.ExcludedSuffixes = append(opts.ExcludedSuffixes, ".bkst", ".fef")
	opts.BlockSize = 512
	return NewComparator(opts)
}

func kinds(fs []Finding) []Kind {
	out := make([]Kind, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Kind)
	}
	return out
}

func TestCompareTrees_WholeTreePass(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 6)

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Compared)
	assert.Zero(t, res.Failures())
	assert.Equal(t, fx.saved, res.SavedRoot)
	assert.Empty(t, res.Log())
}

func TestCompareTrees_MissingCounterpart(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 4)

	payload := testutil.RandomBytes(99, 500)
	missing := filepath.Join(fx.live, "disks", "7", "close", "abc.frag")
	testutil.WriteFragment(t, missing, payload, testutil.SampleFooter(t, 0, payload))

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTreeMismatch))

	var mismatch *TreeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1, mismatch.Failures)
	assert.Contains(t, mismatch.Log, missing)

	assert.Equal(t, 5, res.Compared, "walk continues past the missing counterpart")
	require.Len(t, res.Findings, 1)
	assert.Equal(t, KindMissingCounterpart, res.Findings[0].Kind)
	assert.Equal(t, missing, res.Findings[0].Path)
	assert.Equal(t, filepath.Join(fx.saved, "disks", "7", "close", "abc.frag"), res.Findings[0].Counterpart)
}

func TestCompareTrees_SavedRootMissing(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 3)
	require.NoError(t, os.RemoveAll(fx.saved))

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, []Kind{KindMissingCounterpart, KindMissingCounterpart, KindMissingCounterpart}, kinds(res.Findings))
}

func TestCompareTrees_SingleFieldDifference(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 2)

	rel := filepath.Join("disks", "1", "close", "ref.frag")
	payload, f := fx.addPair(t, rel, 42)
	f.RefCount = 3
	require.NoError(t, f.Seal())
	testutil.WriteFragment(t, filepath.Join(fx.live, rel), payload, f)

	g := *f
	g.RefCount = 5
	require.NoError(t, g.Seal())
	testutil.WriteFragment(t, filepath.Join(fx.saved, rel), payload, &g)

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, []Kind{KindFooterMismatch, KindContentMismatch}, kinds(res.Findings))

	diffs := res.Findings[0].Diffs
	assert.Contains(t, diffs, "reference count: 3 / 5")
	assert.Len(t, diffs, 2, "reference count and the resealed footer checksum")

	// Low byte of the big-endian reference count.
	refOffset := int64(len(payload) + 282 + 3)
	assert.Equal(t, "first difference at offset "+strconv.FormatInt(refOffset, 10), res.Findings[1].Detail)
}

func TestCompareTrees_TruncatedCounterpart(t *testing.T) {
	fx := newFixture(t, "data")
	rel := filepath.Join("disks", "0", "close", "short.frag")
	fx.addPair(t, rel, 3)
	testutil.WriteFile(t, filepath.Join(fx.saved, rel), make([]byte, 100))

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, []Kind{KindShortRead, KindContentMismatch}, kinds(res.Findings))
	assert.True(t, strings.HasPrefix(res.Findings[0].Detail, "saved: "))
	assert.True(t, strings.HasPrefix(res.Findings[1].Detail, "length: "))
}

func TestCompareTrees_CorruptFooter(t *testing.T) {
	fx := newFixture(t, "data")
	rel := filepath.Join("disks", "0", "close", "corrupt.frag")
	payload, _ := fx.addPair(t, rel, 5)

	path := filepath.Join(fx.live, rel)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(payload)+142] = 9 // shred flag
	require.NoError(t, os.WriteFile(path, data, 0644))

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, []Kind{KindCorruptFooter, KindContentMismatch}, kinds(res.Findings))
	assert.True(t, strings.HasPrefix(res.Findings[0].Detail, "live: "))
}

func TestCompareTrees_ExcludedAndNonRegular(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 2)

	// No counterparts for any of these.
	testutil.WriteFile(t, filepath.Join(fx.live, "disks", "0", "close", "x.frag.fef"), []byte("hold"))
	testutil.WriteFile(t, filepath.Join(fx.live, "backup.bkst"), []byte("stream"))
	require.NoError(t, os.Symlink(filepath.Join(fx.live, "backup.bkst"), filepath.Join(fx.live, "link")))

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Compared)
	assert.Equal(t, 3, res.Skipped)
}

func TestCompareTrees_RootNameRecursInPath(t *testing.T) {
	fx := newFixture(t, "d")
	fx.addPair(t, filepath.Join("d", "dd", "d.frag"), 1)
	fx.addPair(t, filepath.Join("disks", "d-moved", "close", "d.frag"), 2)

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Compared)
}

func TestCompareTrees_CustomSuffixAndTrailingSlash(t *testing.T) {
	base := t.TempDir()
	live := filepath.Join(base, "store")
	saved := filepath.Join(base, "store.saved")
	payload := testutil.RandomBytes(8, 700)
	f := testutil.SampleFooter(t, 1, payload)
	testutil.WriteFragment(t, filepath.Join(live, "a.frag"), payload, f)
	testutil.WriteFragment(t, filepath.Join(saved, "a.frag"), payload, f)

	res, err := newTestComparator(Options{SavedSuffix: ".saved"}).CompareTrees(context.Background(), live+string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, saved, res.SavedRoot)
	assert.Equal(t, 1, res.Compared)
}

func TestCompareTrees_RootErrors(t *testing.T) {
	c := newTestComparator(Options{})

	_, err := c.CompareTrees(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrRootNotFound)

	file := testutil.WriteFile(t, filepath.Join(t.TempDir(), "file"), []byte("x"))
	_, err = c.CompareTrees(context.Background(), file)
	assert.ErrorIs(t, err, ErrRootNotFound)
	assert.NotErrorIs(t, err, ErrTreeMismatch)
}

func TestCompareTrees_Cancelled(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestComparator(Options{}).CompareTrees(ctx, fx.live)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompareTrees_VerifyChecksums(t *testing.T) {
	fx := newFixture(t, "data")
	rel := "stale.frag"
	payload := testutil.RandomBytes(11, 300)
	f := testutil.SampleFooter(t, 0, payload)
	f.Checksum ^= 0xffff // same stale checksum in both copies
	testutil.WriteFragment(t, filepath.Join(fx.live, rel), payload, f)
	testutil.WriteFragment(t, filepath.Join(fx.saved, rel), payload, f)

	_, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.NoError(t, err, "checksums are not verified by default")

	res, err := newTestComparator(Options{VerifyChecksums: true}).CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, []Kind{KindChecksumMismatch, KindChecksumMismatch}, kinds(res.Findings))
}

func TestCompareTrees_LogsFindings(t *testing.T) {
	fx := newFixture(t, "data")
	payload := testutil.RandomBytes(1, 100)
	testutil.WriteFragment(t, filepath.Join(fx.live, "only.frag"), payload, testutil.SampleFooter(t, 0, payload))

	var buf bytes.Buffer
	c := newTestComparator(Options{Logger: zerolog.New(&buf)})
	_, err := c.CompareTrees(context.Background(), fx.live)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"kind":"missing_counterpart"`)
	assert.Contains(t, out, `"event_type":"summary"`)
	assert.Contains(t, out, `"component":"verify"`)
}

func TestComparePair(t *testing.T) {
	dir := t.TempDir()
	payload := testutil.RandomBytes(4, 1000)
	f := testutil.SampleFooter(t, 2, payload)
	a := testutil.WriteFragment(t, filepath.Join(dir, "a.frag"), payload, f)
	b := testutil.WriteFragment(t, filepath.Join(dir, "b.frag"), payload, f)

	c := newTestComparator(Options{})
	assert.Empty(t, c.ComparePair(a, b))

	found := c.ComparePair(a, filepath.Join(dir, "c.frag"))
	assert.Equal(t, []Kind{KindMissingCounterpart}, kinds(found))
}

func TestTreeMismatchError(t *testing.T) {
	err := &TreeMismatchError{Root: "/data", Failures: 2, Log: "line one\nline two"}
	assert.True(t, errors.Is(err, ErrTreeMismatch))
	assert.Contains(t, err.Error(), "2 failure(s) under /data")
	assert.Contains(t, err.Error(), "line two")
}

func TestFindingString(t *testing.T) {
	f := Finding{
		Kind:        KindFooterMismatch,
		Path:        "/data/a",
		Counterpart: "/data-moved/a",
		Detail:      "1 field(s) differ",
		Diffs:       []string{"size: 1 / 2"},
	}
	assert.Equal(t, "footer_mismatch: /data/a <=> /data-moved/a: 1 field(s) differ\n    size: 1 / 2", f.String())
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	fx := newFixture(t, "data")
	fx.populate(t, 3)
	testutil.WriteFile(t, filepath.Join(fx.live, "orphan.frag"), make([]byte, 10))
	testutil.WriteFile(t, filepath.Join(fx.live, "skip.fef"), []byte("x"))

	_, err := newTestComparator(Options{Metrics: metrics}).CompareTrees(context.Background(), fx.live)
	require.Error(t, err)

	assert.Equal(t, float64(3), counterValue(metrics.PairsCompared))
	assert.Equal(t, float64(1), counterValue(metrics.FilesSkipped))
	assert.Equal(t, float64(1), counterValue(metrics.Findings.WithLabelValues(string(KindMissingCounterpart))))
	assert.Equal(t, float64(0), counterValue(metrics.Findings.WithLabelValues(string(KindFooterMismatch))))
	assert.Greater(t, counterValue(metrics.BytesCompared), float64(0))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "fragcheck_verify_walk_duration_seconds")
	assert.Contains(t, names, "fragcheck_verify_last_failures")
}

// failReadDir makes the walk report err for dir, as filepath.WalkDir does when
// ReadDir fails after the directory itself was visited.
func failReadDir(dir string, readErr error) func(string, fs.WalkDirFunc) error {
	return func(root string, fn fs.WalkDirFunc) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if path == dir && err == nil {
				if r := fn(path, d, nil); r != nil {
					return r
				}
				return fn(path, d, readErr)
			}
			return fn(path, d, err)
		})
	}
}

func TestCompareTrees_UnreadableSubdirectory(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 6)

	c := newTestComparator(Options{})
	bad := filepath.Join(fx.live, "disks", "1")
	c.walkDir = failReadDir(bad, fs.ErrPermission)

	res, err := c.CompareTrees(context.Background(), fx.live)
	require.ErrorIs(t, err, ErrTreeMismatch)

	var mismatch *TreeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1, mismatch.Failures)

	// disks/1 holds two of the six pairs; the rest are still compared.
	assert.Equal(t, 4, res.Compared)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, KindIOError, res.Findings[0].Kind)
	assert.Equal(t, bad, res.Findings[0].Path)
	assert.Equal(t, filepath.Join(fx.saved, "disks", "1"), res.Findings[0].Counterpart)
}

func TestCompareTrees_UnreadableRoot(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 2)

	c := newTestComparator(Options{})
	c.walkDir = failReadDir(fx.live, fs.ErrPermission)

	_, err := c.CompareTrees(context.Background(), fx.live)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.NotErrorIs(t, err, ErrTreeMismatch)
}

func TestCompareTrees_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	fx := newFixture(t, "data")
	fx.populate(t, 6)

	locked := filepath.Join(fx.live, "disks", "2")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	res, err := newTestComparator(Options{}).CompareTrees(context.Background(), fx.live)
	require.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, 4, res.Compared)
	assert.True(t, res.HasKind(KindIOError))
}

func TestNewComparator_DefaultExclusions(t *testing.T) {
	fx := newFixture(t, "data")
	fx.populate(t, 1)
	testutil.WriteFile(t, filepath.Join(fx.live, "disks", "0", "close", "x.frag.fef"), []byte("hold"))
	testutil.WriteFile(t, filepath.Join(fx.live, "backup.bkst"), []byte("stream"))

	res, err := NewComparator(Options{Logger: zerolog.Nop()}).CompareTrees(context.Background(), fx.live)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Compared)
	assert.Equal(t, 2, res.Skipped)

	res, err = NewComparator(Options{ExcludedSuffixes: []string{}, Logger: zerolog.Nop()}).CompareTrees(context.Background(), fx.live)
	require.ErrorIs(t, err, ErrTreeMismatch)
	assert.Equal(t, 3, res.Compared)
	assert.True(t, res.HasKind(KindMissingCounterpart))
}
