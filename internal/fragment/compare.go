package fragment

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Report is the outcome of comparing two footers.
type Report struct {
	Equal bool
	// Diffs holds one "field: a / b" entry per differing field, in layout order.
	Diffs []string
}

// CompareFooters compares every field of a and b except the format marker.
// It never stops at the first difference.
func CompareFooters(a, b *Footer) Report {
	var diffs []string
	check := func(field string, equal bool, va, vb interface{}) {
		if !equal {
			diffs = append(diffs, fmt.Sprintf("%s: %v / %v", field, va, vb))
		}
	}

	check("version", a.Version == b.Version, a.Version, b.Version)
	check("fragment number", a.FragmentNumber == b.FragmentNumber, a.FragmentNumber, b.FragmentNumber)
	check("object id", a.ObjectID == b.ObjectID, a.ObjectID, b.ObjectID)
	check("link id", a.LinkID == b.LinkID, a.LinkID, b.LinkID)
	check("size", a.Size == b.Size, a.Size, b.Size)
	check("reliability", a.Reliability == b.Reliability, a.Reliability, b.Reliability)
	check("content hash", a.ContentHash == b.ContentHash,
		hex.EncodeToString(a.ContentHash[:]), hex.EncodeToString(b.ContentHash[:]))
	check("creation time", a.CreationTime == b.CreationTime, a.CreationTime, b.CreationTime)
	check("receive time", a.ReceiveTime == b.ReceiveTime, a.ReceiveTime, b.ReceiveTime)
	check("expiration time", a.ExpirationTime == b.ExpirationTime, a.ExpirationTime, b.ExpirationTime)
	check("close time", a.CloseTime == b.CloseTime, a.CloseTime, b.CloseTime)
	check("delete time", a.DeleteTime == b.DeleteTime, a.DeleteTime, b.DeleteTime)
	check("shred", a.Shred == b.Shred, a.Shred, b.Shred)
	check("metadata", bytes.Equal(a.Metadata, b.Metadata),
		hex.EncodeToString(a.Metadata), hex.EncodeToString(b.Metadata))
	check("checksum algorithm", a.ChecksumAlgorithm == b.ChecksumAlgorithm, a.ChecksumAlgorithm, b.ChecksumAlgorithm)
	check("preceding checksums", a.PrecedingChecksums == b.PrecedingChecksums, a.PrecedingChecksums, b.PrecedingChecksums)
	check("fragment size", a.FragmentSize == b.FragmentSize, a.FragmentSize, b.FragmentSize)
	check("chunk size", a.ChunkSize == b.ChunkSize, a.ChunkSize, b.ChunkSize)
	check("reference count", a.RefCount == b.RefCount, a.RefCount, b.RefCount)
	check("max reference count", a.MaxRefCount == b.MaxRefCount, a.MaxRefCount, b.MaxRefCount)
	refsA, refsB := a.deletedRefs(), b.deletedRefs()
	check("deleted references", refsA.Equal(refsB), refsA.String(), refsB.String())
	check("footer checksum", a.Checksum == b.Checksum,
		fmt.Sprintf("%08x", a.Checksum), fmt.Sprintf("%08x", b.Checksum))

	return Report{Equal: len(diffs) == 0, Diffs: diffs}
}
