package fragstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
)

var objectsBucket = []byte("objects")

// Record is the catalog entry of one object.
type Record struct {
	ID          string               `json:"id"`
	Type        fragment.ObjectType  `json:"type"`
	Link        string               `json:"link,omitempty"`      // data object of a metadata object
	RefIndex    int                  `json:"ref_index"`           // slot in the data object's deleted-reference bitset
	Size        int64                `json:"size"`                // content size in bytes
	Reliability fragment.Reliability `json:"reliability"`
	Fragments   []string             `json:"fragments"` // paths relative to the store root, by fragment number
	RefCount    int32                `json:"ref_count,omitempty"`
	MaxRefCount int32                `json:"max_ref_count,omitempty"`
	Holds       []string             `json:"holds,omitempty"`
	Created     int64                `json:"created"`
	Deleted     int64                `json:"deleted,omitempty"`
}

// IsDeleted reports whether the object carries a delete time.
func (r *Record) IsDeleted() bool { return r.Deleted != 0 }

// catalog stores object records in bbolt, JSON-encoded, keyed by object id.
type catalog struct {
	db *bolt.DB
}

func openCatalog(path string) (*catalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog bucket: %w", err)
	}

	return &catalog{db: db}, nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

func (c *catalog) put(recs ...*Record) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(objectsBucket)
		for _, rec := range recs {
			encoded, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(rec.ID), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *catalog) get(id string) (*Record, error) {
	var rec Record

	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(objectsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (c *catalog) list() ([]*Record, error) {
	var recs []*Record

	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}
