// Package fragstore is a local erasure-coded object store that writes the
// fragment file format checked by the verifier. Objects are split into k data
// and m parity fragments spread over a set of disk directories; every fragment
// ends with a sealed footer; a bbolt catalog maps object ids to fragments.
//
// Stored content is addressed through metadata objects. Store returns the id
// of a metadata object linked to a new data object; AddReference links further
// metadata objects to the same data. The data object's footers track the
// reference count and a deleted-reference bitset, updated in place.
package fragstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
	"github.com/tunnelmesh/fragcheck/internal/logging/findings"
	"github.com/tunnelmesh/fragcheck/internal/metrics"
)

// Defaults for Options fields left zero.
const (
	DefaultDisks         = 8
	DefaultMaxObjectSize = 64 << 20
	CatalogSuffix        = ".catalog"
)

// Options configures a Store.
type Options struct {
	Root          string
	CatalogPath   string // default: Root + CatalogSuffix, outside the fragment tree
	Disks         int
	Reliability   fragment.Reliability
	MaxObjectSize int64
	LayoutMapID   int32
	FooterLen     int
	Logger        zerolog.Logger
	Metrics       *metrics.StoreMetrics // optional
	Now           func() time.Time // clock for footer times; default time.Now
}

// StoreOptions are per-object parameters for Store.
type StoreOptions struct {
	Metadata   []byte    // snapshot kept in the metadata object's footer, truncated to capacity
	Expiration time.Time // zero means no expiration
}

// Store is an open fragment store.
type Store struct {
	layout        Layout
	catalog       *catalog
	codec         *fragment.Codec
	reliability   fragment.Reliability
	maxObjectSize int64
	layoutMapID   int32
	now           func() time.Time
	logger        zerolog.Logger
	events        *findings.Logger
	metrics       *metrics.StoreMetrics

	// mu serializes footer read-modify-write cycles.
	mu sync.Mutex
}

// Open opens or creates a store at opts.Root.
func Open(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if opts.Disks == 0 {
		opts.Disks = DefaultDisks
	}
	if opts.Reliability == (fragment.Reliability{}) {
		opts.Reliability = fragment.Reliability{DataFragments: 5, ParityFragments: 2}
	}
	if err := opts.Reliability.Validate(); err != nil {
		return nil, err
	}
	if opts.FooterLen > 0 && opts.FooterLen < fragment.LayoutSize {
		return nil, fmt.Errorf("footer length %d is shorter than the %d-byte layout", opts.FooterLen, fragment.LayoutSize)
	}
	if opts.MaxObjectSize <= 0 {
		opts.MaxObjectSize = DefaultMaxObjectSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	root := filepath.Clean(opts.Root)
	if opts.CatalogPath == "" {
		opts.CatalogPath = root + CatalogSuffix
	}

	if err := os.MkdirAll(filepath.Join(root, disksDir), 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	cat, err := openCatalog(opts.CatalogPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("component", "fragstore").Logger()
	return &Store{
		layout:        NewLayout(root, opts.Disks),
		catalog:       cat,
		codec:         fragment.NewCodec(opts.FooterLen),
		reliability:   opts.Reliability,
		maxObjectSize: opts.MaxObjectSize,
		layoutMapID:   opts.LayoutMapID,
		now:           opts.Now,
		logger:        logger,
		events:        findings.NewLogger(logger),
		metrics:       opts.Metrics,
	}, nil
}

// logOp records a completed store operation in the event log and metrics.
func (s *Store) logOp(operation, objectID, result, details string) {
	s.events.LogStoreOp(operation, objectID, result, details)
	s.metrics.RecordOperation(operation, result)
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.catalog.close()
}

// Root returns the store root.
func (s *Store) Root() string {
	return s.layout.Root()
}

// Layout returns the fragment layout of the store.
func (s *Store) Layout() Layout {
	return s.layout
}

// Store writes data as a new data object plus a metadata object referencing
// it, and returns the metadata object id.
func (s *Store) Store(ctx context.Context, data []byte, opts StoreOptions) (fragment.ObjectID, error) {
	if int64(len(data)) > s.maxObjectSize {
		return fragment.ObjectID{}, fmt.Errorf("%w: %d bytes, limit %d", ErrObjectTooLarge, len(data), s.maxObjectSize)
	}
	if err := ctx.Err(); err != nil {
		return fragment.ObjectID{}, err
	}

	dataID := fragment.NewObjectID(fragment.TypeData, s.layoutMapID)
	dataRec, err := s.writeObject(dataID, fragment.ObjectID{}, data, nil, opts.Expiration, 1)
	if err != nil {
		s.logOp("store", dataID.String(), "error", err.Error())
		return fragment.ObjectID{}, err
	}
	dataRec.RefCount, dataRec.MaxRefCount = 1, 1

	metaID := fragment.NewObjectID(fragment.TypeMetadata, s.layoutMapID)
	metaRec, err := s.writeObject(metaID, dataID, opts.Metadata, opts.Metadata, opts.Expiration, 0)
	if err != nil {
		s.logOp("store", metaID.String(), "error", err.Error())
		return fragment.ObjectID{}, err
	}
	metaRec.RefIndex = 0

	if err := s.catalog.put(dataRec, metaRec); err != nil {
		return fragment.ObjectID{}, fmt.Errorf("catalog object: %w", err)
	}

	s.logOp("store", metaID.String(), "ok", fmt.Sprintf("data=%s size=%d", dataID, len(data)))
	s.metrics.RecordStored(len(data))
	return metaID, nil
}

// writeObject erasure-codes content and writes one sealed fragment file per shard.
func (s *Store) writeObject(id, link fragment.ObjectID, content, metadata []byte, expiration time.Time, refs int32) (*Record, error) {
	k, m := int(s.reliability.DataFragments), int(s.reliability.ParityFragments)
	shards, err := encodeShards(content, k, m)
	if err != nil {
		return nil, err
	}

	if len(metadata) > fragment.MetadataCapacity {
		metadata = metadata[:fragment.MetadataCapacity]
	}
	now := s.now().UnixMilli()
	var expires int64
	if !expiration.IsZero() {
		expires = expiration.UnixMilli()
	}

	rec := &Record{
		ID:          id.String(),
		Type:        id.Type,
		Size:        int64(len(content)),
		Reliability: s.reliability,
		Created:     now,
	}
	if !link.IsNull() {
		rec.Link = link.String()
	}

	for i, shard := range shards {
		f := &fragment.Footer{
			Marker:            fragment.FormatMarker,
			Version:           fragment.FooterVersion,
			FragmentNumber:    int32(i),
			ObjectID:          id,
			LinkID:            link,
			Size:              int64(len(content)),
			Reliability:       s.reliability,
			ContentHash:       sha1.Sum(content),
			CreationTime:      now,
			ReceiveTime:       now,
			ExpirationTime:    expires,
			CloseTime:         now,
			Metadata:          metadata,
			ChecksumAlgorithm: fragment.ChecksumCRC32,
			FragmentSize:      int32(len(shard)),
			ChunkSize:         int32(s.maxObjectSize),
			RefCount:          refs,
			MaxRefCount:       refs,
			DeletedRefs:       bitset.New(fragment.DeletedRefBits),
		}
		if err := f.Seal(); err != nil {
			return nil, err
		}

		rel := s.layout.RelPath(id, i)
		if err := s.writeFragment(s.layout.Path(rel), shard, f); err != nil {
			return nil, err
		}
		rec.Fragments = append(rec.Fragments, rel)
	}
	return rec, nil
}

// writeFragment writes payload and footer atomically via a temp file.
func (s *Store) writeFragment(path string, payload []byte, f *fragment.Footer) error {
	raw, err := fragment.Encode(f)
	if err != nil {
		return err
	}
	// Footers longer than the layout are zero padded.
	pad := make([]byte, s.codec.FooterLen()-len(raw))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create fragment dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frag-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	for _, b := range [][]byte{payload, raw, pad} {
		if _, err := tmp.Write(b); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write fragment: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename fragment: %w", err)
	}
	s.metrics.RecordFragment()
	return nil
}

// Object returns the catalog record of id.
func (s *Store) Object(id fragment.ObjectID) (*Record, error) {
	return s.catalog.get(id.String())
}

// Objects returns every catalog record.
func (s *Store) Objects() ([]*Record, error) {
	return s.catalog.list()
}

// Retrieve returns the content referenced by a metadata object, or the
// content of a data object.
func (s *Store) Retrieve(ctx context.Context, id fragment.ObjectID) ([]byte, error) {
	rec, err := s.catalog.get(id.String())
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	if rec.Type == fragment.TypeMetadata {
		if rec, err = s.catalog.get(rec.Link); err != nil {
			return nil, err
		}
		if rec.IsDeleted() {
			return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, rec.ID)
		}
	}
	return s.readObject(ctx, rec)
}

// RetrieveMetadata returns the metadata stored with a metadata object.
func (s *Store) RetrieveMetadata(ctx context.Context, id fragment.ObjectID) ([]byte, error) {
	rec, err := s.catalog.get(id.String())
	if err != nil {
		return nil, err
	}
	if rec.Type != fragment.TypeMetadata {
		return nil, fmt.Errorf("%w: %s", ErrNotMetadataObject, id)
	}
	if rec.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	return s.readObject(ctx, rec)
}

// readObject reconstructs an object from any k readable fragments and
// checks the result against the footer content hash.
func (s *Store) readObject(ctx context.Context, rec *Record) ([]byte, error) {
	k, m := int(rec.Reliability.DataFragments), int(rec.Reliability.ParityFragments)
	shards := make([][]byte, k+m)
	var hash [fragment.HashSize]byte
	haveHash := false

	for i, rel := range rec.Fragments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, f, err := s.readFragment(s.layout.Path(rel))
		if err != nil {
			s.logger.Debug().Err(err).Str("fragment", rel).Msg("Fragment unreadable")
			continue
		}
		if f.ObjectID.String() != rec.ID || int(f.FragmentNumber) != i || int(f.FragmentSize) != len(payload) {
			s.logger.Debug().Str("fragment", rel).Msg("Fragment footer does not match catalog")
			continue
		}
		shards[i] = payload
		if !haveHash {
			hash, haveHash = f.ContentHash, true
		}
	}

	data, err := decodeShards(shards, k, m, rec.Size)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", rec.ID, err)
	}
	if sha1.Sum(data) != hash {
		return nil, fmt.Errorf("%w: object %s", ErrHashMismatch, rec.ID)
	}
	return data, nil
}

func (s *Store) readFragment(path string) ([]byte, *fragment.Footer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	footerLen := s.codec.FooterLen()
	f, err := s.codec.ReadFooter(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, err
	}
	return data[:len(data)-footerLen], f, nil
}

// AddReference creates a metadata object linked to the data behind id, which
// may be a metadata or a data object, and returns the new object's id.
func (s *Store) AddReference(ctx context.Context, id fragment.ObjectID, metadata []byte) (fragment.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataRec, err := s.dataRecord(id)
	if err != nil {
		return fragment.ObjectID{}, err
	}
	if dataRec.MaxRefCount >= fragment.DeletedRefBits {
		return fragment.ObjectID{}, fmt.Errorf("%w: %s has %d", ErrTooManyReferences, dataRec.ID, dataRec.MaxRefCount)
	}
	if err := ctx.Err(); err != nil {
		return fragment.ObjectID{}, err
	}

	dataID, err := fragment.ParseObjectID(dataRec.ID)
	if err != nil {
		return fragment.ObjectID{}, err
	}
	metaID := fragment.NewObjectID(fragment.TypeMetadata, dataID.LayoutMapID)
	metaRec, err := s.writeObject(metaID, dataID, metadata, metadata, time.Time{}, 0)
	if err != nil {
		return fragment.ObjectID{}, err
	}
	metaRec.RefIndex = int(dataRec.MaxRefCount)

	err = s.rewriteFragments(dataRec, func(f *fragment.Footer) error {
		f.RefCount++
		f.MaxRefCount++
		return nil
	})
	if err != nil {
		return fragment.ObjectID{}, err
	}
	dataRec.RefCount++
	dataRec.MaxRefCount++

	if err := s.catalog.put(dataRec, metaRec); err != nil {
		return fragment.ObjectID{}, fmt.Errorf("catalog object: %w", err)
	}

	s.logOp("add_reference", metaID.String(), "ok", fmt.Sprintf("data=%s refs=%d", dataRec.ID, dataRec.RefCount))
	return metaID, nil
}

// dataRecord resolves id to its live data object record.
func (s *Store) dataRecord(id fragment.ObjectID) (*Record, error) {
	rec, err := s.catalog.get(id.String())
	if err != nil {
		return nil, err
	}
	if rec.Type == fragment.TypeMetadata {
		if rec, err = s.catalog.get(rec.Link); err != nil {
			return nil, err
		}
	}
	if rec.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrObjectDeleted, rec.ID)
	}
	return rec, nil
}

// Delete deletes a metadata object without legal holds. Its reference slot is marked in the data
// object's footers; the last reference deletes the data object too, zeroing
// its payload when shred is set.
func (s *Store) Delete(ctx context.Context, id fragment.ObjectID, shred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.delete(ctx, id, shred)
	if err != nil {
		s.logOp("delete", id.String(), "error", err.Error())
		return err
	}
	s.logOp("delete", id.String(), "ok", fmt.Sprintf("shred=%t", shred))
	return nil
}

func (s *Store) delete(ctx context.Context, id fragment.ObjectID, shred bool) error {
	metaRec, err := s.catalog.get(id.String())
	if err != nil {
		return err
	}
	if metaRec.Type != fragment.TypeMetadata {
		return fmt.Errorf("%w: %s", ErrNotMetadataObject, id)
	}
	if metaRec.IsDeleted() {
		return fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	if len(metaRec.Holds) > 0 {
		return fmt.Errorf("%w: %s", ErrLegalHold, id)
	}
	dataRec, err := s.catalog.get(metaRec.Link)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now().UnixMilli()
	err = s.rewriteFragments(metaRec, func(f *fragment.Footer) error {
		f.DeleteTime = now
		return nil
	})
	if err != nil {
		return err
	}
	// Catalog the metadata deletion before the data object is rewritten.
	metaRec.Deleted = now
	if err := s.catalog.put(metaRec); err != nil {
		return fmt.Errorf("catalog object: %w", err)
	}

	lastRef := dataRec.RefCount <= 1
	err = s.rewriteFragments(dataRec, func(f *fragment.Footer) error {
		f.DeletedRefs.Set(uint(metaRec.RefIndex))
		if f.RefCount > 0 {
			f.RefCount--
		}
		if lastRef {
			f.DeleteTime = now
			f.Shred = shred
		}
		return nil
	})
	if err != nil {
		return err
	}
	if dataRec.RefCount > 0 {
		dataRec.RefCount--
	}

	if lastRef {
		dataRec.Deleted = now
		if shred {
			for _, rel := range dataRec.Fragments {
				if err := s.shredPayload(s.layout.Path(rel)); err != nil {
					return err
				}
			}
		}
	}

	if err := s.catalog.put(dataRec); err != nil {
		return fmt.Errorf("catalog object: %w", err)
	}
	return nil
}

// rewriteFragments applies fn to every fragment footer of rec.
// Unreadable fragments are logged and skipped.
func (s *Store) rewriteFragments(rec *Record, fn func(*fragment.Footer) error) error {
	rewritten := 0
	for _, rel := range rec.Fragments {
		err := s.codec.RewriteFooter(s.layout.Path(rel), fn)
		if err != nil {
			if errors.Is(err, fragment.ErrIO) || errors.Is(err, fragment.ErrShortRead) || errors.Is(err, fragment.ErrCorruptFooter) {
				s.logger.Warn().Err(err).Str("fragment", rel).Msg("Skipping unreadable fragment")
				continue
			}
			return fmt.Errorf("rewrite %s: %w", rel, err)
		}
		rewritten++
	}
	if rewritten < int(rec.Reliability.DataFragments) {
		return fmt.Errorf("%w: rewrote %d of %d fragments of %s", ErrInsufficientFragments, rewritten, len(rec.Fragments), rec.ID)
	}
	return nil
}

// shredPayload overwrites the payload of a fragment with zeros, leaving the footer.
func (s *Store) shredPayload(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open for shred: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat for shred: %w", err)
	}
	n := info.Size() - int64(s.codec.FooterLen())
	if n <= 0 {
		return nil
	}
	if _, err := f.WriteAt(make([]byte, n), 0); err != nil {
		return fmt.Errorf("shred payload: %w", err)
	}
	return f.Sync()
}
