package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBlockSize is the read size used when comparing file contents.
const DefaultBlockSize = 64 * 1024

// ContentReport is the outcome of a byte-for-byte comparison of two files.
type ContentReport struct {
	Equal          bool
	LengthMismatch bool
	LengthA        int64
	LengthB        int64
	// FirstDiffOffset is the absolute offset of the first differing byte.
	// Only meaningful when Equal is false and LengthMismatch is false.
	FirstDiffOffset int64
}

func (r ContentReport) String() string {
	switch {
	case r.Equal:
		return "contents equal"
	case r.LengthMismatch:
		return fmt.Sprintf("length: %d / %d", r.LengthA, r.LengthB)
	default:
		return fmt.Sprintf("first difference at offset %d", r.FirstDiffOffset)
	}
}

// CompareFileContents compares two files block by block. Lengths are compared
// first; different lengths are reported without reading any content.
// blockSize <= 0 selects DefaultBlockSize.
func CompareFileContents(pathA, pathB string, blockSize int) (ContentReport, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	fa, err := os.Open(pathA)
	if err != nil {
		return ContentReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() { _ = fa.Close() }()

	fb, err := os.Open(pathB)
	if err != nil {
		return ContentReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() { _ = fb.Close() }()

	infoA, err := fa.Stat()
	if err != nil {
		return ContentReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	infoB, err := fb.Stat()
	if err != nil {
		return ContentReport{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	report := ContentReport{LengthA: infoA.Size(), LengthB: infoB.Size()}
	if report.LengthA != report.LengthB {
		report.LengthMismatch = true
		return report, nil
	}

	bufA := make([]byte, blockSize)
	bufB := make([]byte, blockSize)
	var pos int64
	for {
		na, errA := readBlock(fa, bufA)
		if errA != nil {
			return ContentReport{}, fmt.Errorf("%w: read %s: %v", ErrIO, pathA, errA)
		}
		nb, errB := readBlock(fb, bufB)
		if errB != nil {
			return ContentReport{}, fmt.Errorf("%w: read %s: %v", ErrIO, pathB, errB)
		}

		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			report.FirstDiffOffset = pos + firstDiff(bufA[:na], bufB[:nb])
			return report, nil
		}
		if na == 0 {
			report.Equal = true
			return report, nil
		}
		pos += int64(na)
	}
}

// readBlock fills buf as far as the file allows. A short or empty block at
// end of file is not an error.
func readBlock(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

// firstDiff returns the index of the first byte where a and b differ,
// or the shorter length if one is a prefix of the other.
func firstDiff(a, b []byte) int64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int64(i)
		}
	}
	return int64(n)
}
