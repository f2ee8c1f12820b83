// Package fragment implements the binary footer stored at the end of every
// fragment file, and the comparisons used to verify fragment copies.
//
// Footer layout (big-endian, LayoutSize bytes, decoded strictly in order):
//
//	[1 marker][1 version][4 fragment number][30 object id][30 link id]
//	[8 size][8 reliability][20 sha1][8 creation][8 receive][8 expiration]
//	[8 close][8 delete][1 shred][2+125 metadata][2 checksum algorithm]
//	[2 preceding checksums][4 fragment size][4 chunk size][4 ref count]
//	[4 max ref count][2+80 deleted refs][4 footer checksum]
package fragment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/bits-and-blooms/bitset"
)

// Layout constants.
const (
	// HashSize is the width of the SHA-1 content hash.
	HashSize = 20
	// MetadataCapacity is the largest metadata snapshot a footer holds.
	MetadataCapacity = 125
	// DeletedRefBits is the fixed length of the deleted-reference bitset.
	DeletedRefBits = 640
	// LayoutSize is the number of bytes the field layout occupies.
	LayoutSize = 376
	// checksumOffset is where the footer checksum starts; it covers every byte before it.
	checksumOffset = LayoutSize - 4

	// DefaultFooterLen is the footer length of the deployed format.
	DefaultFooterLen = LayoutSize
)

// Values written by the store for new fragments.
const (
	FormatMarker  uint8 = 0xFE
	FooterVersion uint8 = 1
	ChecksumNone  int16 = 0
	ChecksumCRC32 int16 = 1
)

// Footer is the trailing metadata block of a fragment file.
type Footer struct {
	Marker         uint8
	Version        uint8
	FragmentNumber int32
	ObjectID       ObjectID
	LinkID         ObjectID
	Size           int64
	Reliability    Reliability
	ContentHash    [HashSize]byte

	// Times are epoch milliseconds.
	CreationTime   int64
	ReceiveTime    int64
	ExpirationTime int64
	CloseTime      int64
	DeleteTime     int64

	Shred              bool
	Metadata           []byte
	ChecksumAlgorithm  int16
	PrecedingChecksums int16
	FragmentSize       int32
	ChunkSize          int32
	RefCount           int32
	MaxRefCount        int32
	DeletedRefs        *bitset.BitSet
	Checksum           uint32
}

// IsDeleted reports whether the fragment carries a deletion marker.
func (f *Footer) IsDeleted() bool {
	return f.DeleteTime != 0
}

// deletedRefs returns the bitset, treating nil as the empty set.
func (f *Footer) deletedRefs() *bitset.BitSet {
	if f.DeletedRefs == nil {
		return bitset.New(DeletedRefBits)
	}
	return f.DeletedRefs
}

// Encode returns the LayoutSize-byte encoding of f. The checksum field is
// written as stored; call Seal first to refresh it.
func Encode(f *Footer) ([]byte, error) {
	if len(f.Metadata) > MetadataCapacity {
		return nil, fmt.Errorf("%w: metadata is %d bytes, capacity %d", ErrInvalidFooter, len(f.Metadata), MetadataCapacity)
	}
	if f.DeletedRefs != nil {
		if last, ok := lastSet(f.DeletedRefs); ok && last >= DeletedRefBits {
			return nil, fmt.Errorf("%w: deleted reference %d out of range", ErrInvalidFooter, last)
		}
	}

	e := newEncoder(LayoutSize)
	e.putUint8(f.Marker)
	e.putUint8(f.Version)
	e.putUint32(uint32(f.FragmentNumber))
	f.ObjectID.encode(e)
	f.LinkID.encode(e)
	e.putInt64(f.Size)
	f.Reliability.encode(e)
	e.putBytes(f.ContentHash[:])
	e.putInt64(f.CreationTime)
	e.putInt64(f.ReceiveTime)
	e.putInt64(f.ExpirationTime)
	e.putInt64(f.CloseTime)
	e.putInt64(f.DeleteTime)
	e.putBool(f.Shred)
	e.putUint16(uint16(len(f.Metadata)))
	e.putPadded(f.Metadata, MetadataCapacity)
	e.putUint16(uint16(f.ChecksumAlgorithm))
	e.putUint16(uint16(f.PrecedingChecksums))
	e.putUint32(uint32(f.FragmentSize))
	e.putUint32(uint32(f.ChunkSize))
	e.putUint32(uint32(f.RefCount))
	e.putUint32(uint32(f.MaxRefCount))
	e.putBitSet(f.DeletedRefs, DeletedRefBits)
	e.putUint32(f.Checksum)

	if len(e.buf) != LayoutSize {
		return nil, fmt.Errorf("%w: encoded %d bytes, layout is %d", ErrInvalidFooter, len(e.buf), LayoutSize)
	}
	return e.buf, nil
}

// Decode parses a footer from the start of buf. Any field failure aborts the
// whole decode with ErrCorruptFooter.
func Decode(buf []byte) (*Footer, error) {
	d := newDecoder(buf)
	f := &Footer{}

	f.Marker = d.readUint8()
	f.Version = d.readUint8()
	f.FragmentNumber = d.readInt32()
	f.ObjectID = decodeObjectID(d)
	f.LinkID = decodeObjectID(d)
	f.Size = d.readInt64()
	f.Reliability = decodeReliability(d)
	copy(f.ContentHash[:], d.take(HashSize))
	f.CreationTime = d.readInt64()
	f.ReceiveTime = d.readInt64()
	f.ExpirationTime = d.readInt64()
	f.CloseTime = d.readInt64()
	f.DeleteTime = d.readInt64()
	f.Shred = d.readBool("shred")

	metaLen := int(d.readUint16())
	if d.err == nil && metaLen > MetadataCapacity {
		d.fail("metadata: length %d exceeds capacity %d", metaLen, MetadataCapacity)
	}
	if metaLen > 0 {
		f.Metadata = d.readBytes(metaLen)
	}
	d.take(MetadataCapacity - metaLen)

	f.ChecksumAlgorithm = d.readInt16()
	f.PrecedingChecksums = d.readInt16()
	f.FragmentSize = d.readInt32()
	f.ChunkSize = d.readInt32()
	f.RefCount = d.readInt32()
	f.MaxRefCount = d.readInt32()
	f.DeletedRefs = d.readBitSet(DeletedRefBits)
	f.Checksum = d.readUint32()

	if d.err != nil {
		return nil, d.err
	}
	return f, nil
}

// Seal recomputes the footer checksum over the encoded fields.
func (f *Footer) Seal() error {
	raw, err := Encode(f)
	if err != nil {
		return err
	}
	f.Checksum = crc32.ChecksumIEEE(raw[:checksumOffset])
	return nil
}

// VerifyChecksum reports whether the checksum stored in raw matches the
// bytes it covers.
func VerifyChecksum(raw []byte) bool {
	if len(raw) < LayoutSize {
		return false
	}
	return crc32.ChecksumIEEE(raw[:checksumOffset]) == binary.BigEndian.Uint32(raw[checksumOffset:LayoutSize])
}

func lastSet(bs *bitset.BitSet) (uint, bool) {
	var last uint
	found := false
	for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
		last, found = i, true
	}
	return last, found
}

// Codec reads footers of a configured length from the end of fragment files.
type Codec struct {
	footerLen int
}

// NewCodec returns a codec for footers of footerLen bytes.
// footerLen <= 0 selects DefaultFooterLen.
func NewCodec(footerLen int) *Codec {
	if footerLen <= 0 {
		footerLen = DefaultFooterLen
	}
	return &Codec{footerLen: footerLen}
}

// FooterLen returns the configured footer length.
func (c *Codec) FooterLen() int {
	return c.footerLen
}

// ReadRaw reads the last FooterLen bytes of a file of the given size.
func (c *Codec) ReadRaw(r io.ReaderAt, size int64) ([]byte, error) {
	if size < int64(c.footerLen) {
		return nil, fmt.Errorf("%w: file is %d bytes, footer is %d", ErrShortRead, size, c.footerLen)
	}
	raw := make([]byte, c.footerLen)
	n, err := r.ReadAt(raw, size-int64(c.footerLen))
	if n < c.footerLen {
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: read footer: %v", ErrIO, err)
		}
		return nil, fmt.Errorf("%w: read %d of %d footer bytes", ErrShortRead, n, c.footerLen)
	}
	return raw, nil
}

// ReadFooter reads and decodes the footer of a file of the given size.
func (c *Codec) ReadFooter(r io.ReaderAt, size int64) (*Footer, error) {
	raw, err := c.ReadRaw(r, size)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// ReadFooterFile opens path and returns its decoded footer and the raw bytes
// it was decoded from.
func (c *Codec) ReadFooterFile(path string) (*Footer, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	raw, err := c.ReadRaw(f, info.Size())
	if err != nil {
		return nil, nil, err
	}
	footer, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return footer, raw, nil
}

// RewriteFooter decodes the footer of path, applies fn, reseals it and
// writes it back in place. The payload before the footer is untouched.
func (c *Codec) RewriteFooter(path string, fn func(*Footer) error) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	footer, err := c.ReadFooter(f, info.Size())
	if err != nil {
		return err
	}
	if err := fn(footer); err != nil {
		return err
	}
	if err := footer.Seal(); err != nil {
		return err
	}
	raw, err := Encode(footer)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(raw, info.Size()-int64(c.footerLen)); err != nil {
		return fmt.Errorf("%w: write footer: %v", ErrIO, err)
	}
	return nil
}
