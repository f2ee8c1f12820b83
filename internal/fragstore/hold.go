package fragstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"slices"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
)

// MaxHoldTagLen is the longest legal-hold tag accepted.
const MaxHoldTagLen = 255

// AddLegalHold attaches tag to a metadata object. Each fragment gets a
// footer extension file (<fragment>.fef) holding its tags as
// length-prefixed records; the fragment itself is not modified.
func (s *Store) AddLegalHold(ctx context.Context, id fragment.ObjectID, tag string) error {
	if tag == "" || len(tag) > MaxHoldTagLen {
		return fmt.Errorf("legal hold tag must be 1 to %d bytes", MaxHoldTagLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.catalog.get(id.String())
	if err != nil {
		return err
	}
	if rec.Type != fragment.TypeMetadata {
		return fmt.Errorf("%w: %s", ErrNotMetadataObject, id)
	}
	if rec.IsDeleted() {
		return fmt.Errorf("%w: %s", ErrObjectDeleted, id)
	}
	if slices.Contains(rec.Holds, tag) {
		return nil
	}

	entry := binary.BigEndian.AppendUint16(nil, uint16(len(tag)))
	entry = append(entry, tag...)
	for _, rel := range rec.Fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendFile(s.layout.HoldPath(rel), entry); err != nil {
			return fmt.Errorf("write legal hold for %s: %w", rel, err)
		}
	}

	rec.Holds = append(rec.Holds, tag)
	if err := s.catalog.put(rec); err != nil {
		return fmt.Errorf("catalog object: %w", err)
	}
	s.logOp("add_legal_hold", rec.ID, "ok", tag)
	return nil
}

// LegalHolds returns the tags attached to id.
func (s *Store) LegalHolds(id fragment.ObjectID) ([]string, error) {
	rec, err := s.catalog.get(id.String())
	if err != nil {
		return nil, err
	}
	return rec.Holds, nil
}

// ReadHoldFile parses a footer extension file.
func ReadHoldFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tags []string
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("truncated hold record in %s", path)
		}
		n := int(binary.BigEndian.Uint16(data))
		if len(data) < 2+n {
			return nil, fmt.Errorf("truncated hold record in %s", path)
		}
		tags = append(tags, string(data[2:2+n]))
		data = data[2+n:]
	}
	return tags, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
