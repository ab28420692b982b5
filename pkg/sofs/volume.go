// Package sofs implements the on-disk layer of SOFS11: a UNIX-style
// file system hosted inside a single backing file treated as an array
// of fixed-size blocks. See layout.go for the on-disk constants, and
// the per-concern files (cache.go, superblock.go, consist.go,
// inode.go, ialloc.go, dalloc.go, fmap.go, dir.go, mkfs.go) for the
// four ascending layers described by the operation surface below.
package sofs

import (
	"time"

	"github.com/pkg/errors"
)

// nowFunc is the clock the package reads timestamps from. Tests
// replace it to get deterministic Atime/Mtime assertions without
// sleeping.
var nowFunc = func() int64 { return time.Now().Unix() }

// RepairHook lets a caller wire an offline consistency pass into the
// mount path without pkg/sofs importing it directly (pkg/sofsck reads
// pkg/sofs types, so the reverse import would cycle). cmd/mount wires
// this to sofsck.Check before calling Mount.
var RepairHook func(devPath string) error

// Volume is the mounted, top-level handle exposing the full operation
// surface of §6 to a host adaptor (FUSE binding or CLI tool). It owns
// the cache and the live superblock for the duration of the mount.
type Volume struct {
	cache *Cache
	sb    *Superblock
	path  string
}

// Mount opens devPath, validates the superblock, and — if the volume
// was not cleanly unmounted — invokes RepairHook (when wired) before
// proceeding, mirroring §4.2's "if not [PROPERLY_UNMOUNTED], invoke
// fsck semantics".
func Mount(devPath string) (*Volume, error) {
	cache, err := OpenDevice(devPath)
	if err != nil {
		return nil, err
	}

	sb, err := LoadSuperblock(cache)
	if err != nil {
		cache.Close()
		return nil, err
	}

	if sb.mountState() != ProperlyUnmounted {
		if RepairHook == nil {
			cache.Close()
			return nil, errors.Wrap(ErrInvalidSuperblock, "volume not cleanly unmounted; fsck required before mount")
		}
		// RepairHook opens devPath itself, so the flock held by cache
		// must be released first or the repair's own open would fail.
		if err := cache.Close(); err != nil {
			return nil, err
		}
		if err := RepairHook(devPath); err != nil {
			return nil, errors.Wrap(err, "repairing volume before mount")
		}
		cache, err = OpenDevice(devPath)
		if err != nil {
			return nil, err
		}
		sb, err = LoadSuperblock(cache)
		if err != nil {
			cache.Close()
			return nil, err
		}
	}

	if err := sb.MarkMounting(); err != nil {
		cache.Close()
		return nil, err
	}

	return &Volume{cache: cache, sb: sb, path: devPath}, nil
}

// Unmount marks the volume cleanly unmounted and releases the backing
// file. Any error leaves the volume's on-disk mstat unchanged so the
// next mount attempt sees NOT_PROPERLY_UNMOUNTED and repairs.
func (v *Volume) Unmount() error {
	if err := v.sb.MarkCleanUnmount(); err != nil {
		return err
	}
	return v.cache.Close()
}

// OpenRaw opens devPath for direct, unvalidated inspection: it skips
// the dirty-mount RepairHook dance and never flips mstat to mounting.
// pkg/sofsck uses this so it can examine a volume that is, by
// definition, not known to be consistent yet.
func OpenRaw(devPath string) (*Volume, error) {
	cache, err := OpenDevice(devPath)
	if err != nil {
		return nil, err
	}
	sb, err := LoadSuperblock(cache)
	if err != nil {
		cache.Close()
		return nil, err
	}
	return &Volume{cache: cache, sb: sb, path: devPath}, nil
}

// CloseRaw releases a volume opened with OpenRaw without touching
// mstat. Callers that finish a clean check call MarkCleanUnmount
// themselves first if they want to clear the dirty flag.
func (v *Volume) CloseRaw() error {
	return v.cache.Close()
}

// Path returns the backing-file path this volume was mounted from.
func (v *Volume) Path() string {
	return v.path
}

// Superblock exposes the live superblock for read-only inspection
// (sofsutil, fsck-adjacent tooling). Mutating it directly bypasses C2
// and is only safe for callers that immediately call Store themselves.
func (v *Volume) Superblock() *Superblock {
	return v.sb
}
