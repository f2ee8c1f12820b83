package fragstore

import (
	"fmt"
	"hash/crc32"
	"path/filepath"

	"github.com/tunnelmesh/fragcheck/internal/fragment"
)

// Fragment files live at <root>/disks/<disk>/close/<object id>_<fragment>.frag.
const (
	disksDir        = "disks"
	closeDir        = "close"
	fragmentSuffix  = ".frag"
	legalHoldSuffix = ".fef"
	backupSuffix    = ".bkst"
)

// Layout maps fragments to disks under a store root.
type Layout struct {
	root  string
	disks int
}

// NewLayout returns the layout of a store root spread over disks.
func NewLayout(root string, disks int) Layout {
	if disks < 1 {
		disks = 1
	}
	return Layout{root: filepath.Clean(root), disks: disks}
}

// Root returns the store root.
func (l Layout) Root() string { return l.root }

// Disk returns the disk holding fragment frag of id.
func (l Layout) Disk(id fragment.ObjectID, frag int) int {
	h := crc32.ChecksumIEEE(id.UID[:])
	return int((uint64(h) + uint64(frag)) % uint64(l.disks))
}

// RelPath returns the path of a fragment relative to the store root.
func (l Layout) RelPath(id fragment.ObjectID, frag int) string {
	name := fmt.Sprintf("%s_%d%s", id.String(), frag, fragmentSuffix)
	return filepath.Join(disksDir, fmt.Sprint(l.Disk(id, frag)), closeDir, name)
}

// Path returns the absolute path of a fragment.
func (l Layout) Path(rel string) string {
	return filepath.Join(l.root, rel)
}

// HoldPath returns the footer extension file of a fragment.
func (l Layout) HoldPath(rel string) string {
	return l.Path(rel) + legalHoldSuffix
}
