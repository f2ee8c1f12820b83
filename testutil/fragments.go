package testutil

import (
	"crypto/sha1"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/tunnelmesh/fragcheck/internal/fragment"
)

// SampleFooter returns a sealed data-fragment footer for payload.
func SampleFooter(t *testing.T, fragmentNumber int32, payload []byte) *fragment.Footer {
	t.Helper()
	f := &fragment.Footer{
		Marker:            fragment.FormatMarker,
		Version:           fragment.FooterVersion,
		FragmentNumber:    fragmentNumber,
		ObjectID:          fragment.NewObjectID(fragment.TypeData, 1),
		Size:              int64(len(payload)),
		Reliability:       fragment.Reliability{DataFragments: 5, ParityFragments: 2},
		ContentHash:       sha1.Sum(payload),
		CreationTime:      1700000000000,
		ReceiveTime:       1700000000001,
		CloseTime:         1700000000002,
		Metadata:          []byte("system.test=1"),
		ChecksumAlgorithm: fragment.ChecksumCRC32,
		FragmentSize:      int32(len(payload)),
		ChunkSize:         64 << 20,
		RefCount:          1,
		MaxRefCount:       1,
		DeletedRefs:       bitset.New(fragment.DeletedRefBits),
	}
	if err := f.Seal(); err != nil {
		t.Fatalf("failed to seal footer: %v", err)
	}
	return f
}

// WriteFragment writes payload followed by the encoded footer to path.
func WriteFragment(t *testing.T, path string, payload []byte, f *fragment.Footer) string {
	t.Helper()
	raw, err := fragment.Encode(f)
	if err != nil {
		t.Fatalf("failed to encode footer: %v", err)
	}
	data := make([]byte, 0, len(payload)+len(raw))
	data = append(data, payload...)
	data = append(data, raw...)
	return WriteFile(t, path, data)
}
