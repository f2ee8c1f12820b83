package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func fragments(t *testing.T, root string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(root, "disks", "*", "close", "*.frag"))
	require.NoError(t, err)
	return files
}

func TestFillMoveVerify(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	metrics := filepath.Join(t.TempDir(), "fragcheck.prom")

	out, err := run(t, "", "fill", root, "--count", "3", "--size", "4KB")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 3)
	// Two objects of 5+2 fragments per stored object.
	assert.Len(t, fragments(t, root), 3*2*7)

	out, err = run(t, "", "move", root)
	require.NoError(t, err)
	assert.Contains(t, out, "moved 42 file(s)")

	out, err = run(t, "", "--metrics-file", metrics, "verify", root)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "42 compared")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "fragcheck_verify_pairs_compared_total 42")

	// Corrupt one saved fragment's payload.
	saved := fragments(t, root+"-moved")
	require.NotEmpty(t, saved)
	data, err := os.ReadFile(saved[0])
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(saved[0], data, 0644))

	out, err = run(t, "", "--metrics-file", metrics, "verify", root)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "content_mismatch")
	assert.Contains(t, out, "1 failure(s)")

	prom, err = os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `fragcheck_verify_findings_total{kind="content_mismatch"} 1`)
}

func TestVerify_MissingRoot(t *testing.T) {
	_, err := run(t, "", "verify", filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestFooterAndDiff(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	_, err := run(t, "", "fill", root, "--count", "1", "--size", "1KB")
	require.NoError(t, err)

	files := fragments(t, root)
	require.Len(t, files, 14)

	out, err := run(t, "", "footer", files[0])
	require.NoError(t, err)
	assert.Contains(t, out, "reliability")
	assert.Contains(t, out, "5+2")
	assert.Contains(t, out, "(valid: true)")

	out, err = run(t, "", "diff", files[0], files[0])
	require.NoError(t, err)
	assert.Contains(t, out, "identical")

	out, err = run(t, "", "diff", files[0], files[1])
	require.Error(t, err)
	assert.Contains(t, out, "footer_mismatch")
}

func TestObjectCommands(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	out, err := run(t, "hello fragments", "object", "--root", root, "put", "--metadata", "greeting")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, "", "object", "--root", root, "get", id)
	require.NoError(t, err)
	assert.Equal(t, "hello fragments", out)

	out, err = run(t, "", "object", "--root", root, "get", "--metadata", id)
	require.NoError(t, err)
	assert.Equal(t, "greeting", out)

	out, err = run(t, "", "object", "--root", root, "ref", id)
	require.NoError(t, err)
	ref := strings.TrimSpace(out)
	assert.NotEqual(t, id, ref)

	_, err = run(t, "", "object", "--root", root, "hold", id, "case-1")
	require.NoError(t, err)
	out, err = run(t, "", "object", "--root", root, "hold", id)
	require.NoError(t, err)
	assert.Equal(t, "case-1\n", out)

	out, err = run(t, "", "object", "--root", root, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, id)

	_, err = run(t, "", "object", "--root", root, "delete", id)
	assert.Error(t, err, "held objects cannot be deleted")

	_, err = run(t, "", "object", "--root", root, "delete", "--shred", ref)
	require.NoError(t, err)
	out, err = run(t, "", "object", "--root", root, "get", id)
	require.NoError(t, err, "data survives while a reference remains")
	assert.Equal(t, "hello fragments", out)

	out, err = run(t, "", "object", "--root", root, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "deleted")

	_, err = run(t, "", "object", "--root", root, "get", "not-an-id")
	assert.Error(t, err)
}

func TestBackupRestoreVerify(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	stream := filepath.Join(t.TempDir(), "store.bkst")

	_, err := run(t, "", "fill", root, "--count", "2", "--size", "2KB")
	require.NoError(t, err)

	out, err := run(t, "", "backup", root, stream)
	require.NoError(t, err)
	assert.Contains(t, out, "backed up 28 file(s)")

	out, err = run(t, "", "restore", stream, root+"-moved")
	require.NoError(t, err)
	assert.Contains(t, out, "restored 28 file(s)")

	out, err = run(t, "", "verify", root)
	require.NoError(t, err)
	assert.Contains(t, out, "28 compared")
}

func TestInvalidConfigFlag(t *testing.T) {
	_, err := run(t, "", "--footer-len", "-1", "verify", t.TempDir())
	assert.Error(t, err)

	root := filepath.Join(t.TempDir(), "store")
	require.NotPanics(t, func() {
		_, err = run(t, "", "--footer-len", "100", "fill", root, "--count", "1")
	})
	assert.ErrorContains(t, err, "footer_len")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "empty", input: "", want: time.Time{}},
		{name: "rfc3339", input: "2024-04-30T08:00:00Z", want: time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)},
		{name: "duration", input: "90m", want: now.Add(-90 * time.Minute)},
		{name: "negative duration", input: "-1h", wantErr: true},
		{name: "garbage", input: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.input, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fragcheck dev")
}

func TestFill_WritesStoreMetrics(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	metrics := filepath.Join(t.TempDir(), "fill.prom")

	_, err := run(t, "", "--metrics-file", metrics, "fill", root, "--count", "2", "--size", "1KB")
	require.NoError(t, err)

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `fragcheck_store_operations_total{operation="store",result="ok"} 2`)
	assert.Contains(t, string(prom), "fragcheck_store_bytes_stored_total 2048")
	assert.Contains(t, string(prom), `fragcheck_build_info{version="dev"} 1`)
}
