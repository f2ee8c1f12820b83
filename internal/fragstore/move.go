package fragstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// backupMagic starts every backup stream, before compression.
var backupMagic = []byte("FCBK\x01")

// Move copies every file of the store tree modified after since into dest,
// preserving relative paths and modification times. It returns the number
// of files copied. since is the time of the previous move; the zero time
// copies everything.
func (s *Store) Move(ctx context.Context, dest string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := MoveTree(ctx, s.layout.Root(), dest, since)
	if err != nil {
		s.logOp("move", "", "error", err.Error())
		return n, err
	}
	s.logOp("move", "", "ok", fmt.Sprintf("dest=%s files=%d", dest, n))
	return n, nil
}

// Backup writes a compressed backup stream of the store tree to w,
// including files modified after since.
func (s *Store) Backup(ctx context.Context, w io.Writer, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := BackupTree(ctx, s.layout.Root(), w, since)
	if err != nil {
		s.logOp("backup", "", "error", err.Error())
		return n, err
	}
	s.logOp("backup", "", "ok", fmt.Sprintf("files=%d", n))
	return n, nil
}

// walkTree calls fn for each regular file under root modified after since.
// In-flight temp files and backup streams are skipped.
func walkTree(ctx context.Context, root string, since time.Time, fn func(rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, backupSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().After(since) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}

// MoveTree copies files of src modified after since into dst.
func MoveTree(ctx context.Context, src, dst string, since time.Time) (int, error) {
	src, dst = filepath.Clean(src), filepath.Clean(dst)
	if src == dst {
		return 0, fmt.Errorf("move destination is the source tree")
	}

	copied := 0
	err := walkTree(ctx, src, since, func(rel string, info fs.FileInfo) error {
		in, err := os.Open(filepath.Join(src, rel))
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		if err := writeFileAtomic(filepath.Join(dst, rel), in, info.Mode().Perm(), info.ModTime()); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		copied++
		return nil
	})
	return copied, err
}

// BackupTree writes files of root modified after since to w as a zstd
// stream of [u16 path length][path][i64 mtime ns][u64 size][content]
// records ending with a zero path length.
func BackupTree(ctx context.Context, root string, w io.Writer, since time.Time) (int, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("create zstd encoder: %w", err)
	}
	bw := bufio.NewWriter(enc)

	if _, err := bw.Write(backupMagic); err != nil {
		_ = enc.Close()
		return 0, err
	}

	written := 0
	root = filepath.Clean(root)
	err = walkTree(ctx, root, since, func(rel string, info fs.FileInfo) error {
		name := filepath.ToSlash(rel)
		if len(name) > 0xffff {
			return fmt.Errorf("path too long: %s", rel)
		}
		f, err := os.Open(filepath.Join(root, rel))
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		hdr := binary.BigEndian.AppendUint16(nil, uint16(len(name)))
		hdr = append(hdr, name...)
		hdr = binary.BigEndian.AppendUint64(hdr, uint64(info.ModTime().UnixNano()))
		hdr = binary.BigEndian.AppendUint64(hdr, uint64(info.Size()))
		if _, err := bw.Write(hdr); err != nil {
			return err
		}
		if n, err := io.CopyN(bw, f, info.Size()); err != nil {
			return fmt.Errorf("backup %s: copied %d of %d bytes: %w", rel, n, info.Size(), err)
		}
		written++
		return nil
	})
	if err != nil {
		_ = enc.Close()
		return written, err
	}

	if _, err := bw.Write([]byte{0, 0}); err != nil {
		_ = enc.Close()
		return written, err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return written, err
	}
	if err := enc.Close(); err != nil {
		return written, fmt.Errorf("close zstd encoder: %w", err)
	}
	return written, nil
}

// RestoreTree extracts a backup stream into dst and returns the number of
// files written. Paths escaping dst are rejected.
func RestoreTree(ctx context.Context, r io.Reader, dst string) (int, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	magic := make([]byte, len(backupMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != string(backupMagic) {
		return 0, fmt.Errorf("%w: bad header", ErrInvalidBackup)
	}

	restored := 0
	for {
		if err := ctx.Err(); err != nil {
			return restored, err
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return restored, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
		}
		nameLen := int(binary.BigEndian.Uint16(lenBuf[:]))
		if nameLen == 0 {
			return restored, nil
		}

		hdr := make([]byte, nameLen+16)
		if _, err := io.ReadFull(br, hdr); err != nil {
			return restored, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
		}
		name := filepath.FromSlash(string(hdr[:nameLen]))
		if !filepath.IsLocal(name) {
			return restored, fmt.Errorf("%w: unsafe path %q", ErrInvalidBackup, name)
		}
		mtime := time.Unix(0, int64(binary.BigEndian.Uint64(hdr[nameLen:])))
		size := int64(binary.BigEndian.Uint64(hdr[nameLen+8:]))

		body := io.LimitReader(br, size)
		if err := writeFileAtomic(filepath.Join(dst, name), body, 0644, mtime); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return restored, fmt.Errorf("%w: truncated %s", ErrInvalidBackup, name)
			}
			return restored, fmt.Errorf("restore %s: %w", name, err)
		}
		restored++
	}
}

// copyExact copies r to w, failing with io.ErrUnexpectedEOF when a
// LimitedReader ends before its limit.
func copyExact(w io.Writer, r io.Reader) error {
	lr, ok := r.(*io.LimitedReader)
	if !ok {
		_, err := io.Copy(w, r)
		return err
	}
	want := lr.N
	n, err := io.Copy(w, lr)
	if err != nil {
		return err
	}
	if n != want {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// writeFileAtomic writes r to path through a temp file and sets its mtime.
func writeFileAtomic(path string, r io.Reader, perm fs.FileMode, mtime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".move-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := copyExact(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
