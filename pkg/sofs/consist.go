package sofs

// This file holds the pure, side-effect-free consistency predicates of
// C3 (§4.3): "invoked at the entry of every mutating operation and by
// fsck", shared by the allocators, Layer-2/3/4, and pkg/sofsck. They
// take already-loaded structures and never touch the cache themselves;
// callers load first and pass the result in. Each predicate returns a
// distinct error kind so a caller — and fsck — can report a specific
// diagnostic.
//
// CheckSuperblock, CheckRefList, CheckClusterHeader and
// CheckDirectoryContents are exported (and take plain field values
// rather than this package's internal structs) specifically so
// pkg/sofsck can call the very same predicates the mutating operations
// below run, instead of re-deriving equivalent arithmetic of its own.

// checkSuperblock validates the header-level invariants of §3: the
// ntotal/itable/dzone arithmetic and the magic/version pair already
// checked once at LoadSuperblock time, re-exposed here so fsck can run
// the same predicate without a fresh Load.
func checkSuperblock(sb *superblockDisk) error {
	if sb.Magic != Signature || sb.Version != Version {
		return ErrInvalidSuperblock.withf("bad magic/version")
	}
	if sb.Itotal != uint32(InodesPerBlock)*sb.ItableSize {
		return ErrInvalidSuperblock.withf("itotal != itable_size*IPB")
	}
	if sb.Ntotal != uint32(TotalBlocks(int64(sb.ItableSize), int64(sb.DzoneTotal))) {
		return ErrInvalidSuperblock.withf("ntotal arithmetic mismatch")
	}
	if sb.ItableStart != 1 {
		return ErrInvalidSuperblock.withf("itable_start must be 1")
	}
	return nil
}

// checkInUseInode validates an in-use inode: type bit set to a legal
// file type, refcount/size/clucount plausible, reference fields in
// range.
func checkInUseInode(ino *Inode) error {
	if ino.Status != StatusInUse {
		return ErrInconsistentInodeInUse.withf("inode %d not marked in-use", ino.Num)
	}
	switch ino.Mode.Type {
	case TypeRegular, TypeSymlink:
		if ino.Refcount < 1 {
			return ErrInconsistentInodeInUse.withf("inode %d refcount<1", ino.Num)
		}
	case TypeDirectory:
		if ino.Refcount < 2 {
			return ErrInconsistentInodeInUse.withf("inode %d directory refcount<2", ino.Num)
		}
	default:
		return ErrInconsistentInodeInUse.withf("inode %d illegal type %v", ino.Num, ino.Mode.Type)
	}
	if ino.Clucount > uint32(MaxFileClusters) {
		return ErrInconsistentInodeInUse.withf("inode %d clucount out of range", ino.Num)
	}
	for _, d := range ino.Direct {
		if d != NullCluster && int64(d) >= MaxFileClusters {
			return ErrInconsistentRefList.withf("inode %d direct ref out of range", ino.Num)
		}
	}
	return nil
}

// checkFreeCleanInode validates a free-clean inode by its decoded
// status alone: decodeInode reports StatusFreeClean only when every
// reference field is NullCluster and refcount/size/clucount are zero.
// The prev/next free-list fields are not range-checked.
func checkFreeCleanInode(ino *Inode) error {
	if ino.Status != StatusFreeClean {
		return ErrInconsistentFreeCleanInode.withf("inode %d not free-clean", ino.Num)
	}
	return nil
}

// checkFreeDirtyInode validates a free-dirty inode by its decoded
// status alone; the stale reference fields may hold garbage until
// C4.clean runs, and the prev/next free-list fields are not
// range-checked.
func checkFreeDirtyInode(ino *Inode) error {
	if ino.Status != StatusFreeDirty {
		return ErrInconsistentFreeDirtyInode.withf("inode %d not free-dirty", ino.Num)
	}
	return nil
}

// checkRefList validates that every non-null entry of a flat reference
// array is within the data zone.
func checkRefList(refs []uint32, dzoneTotal uint32) error {
	for _, r := range refs {
		if r != NullCluster && r >= dzoneTotal {
			return ErrInconsistentRefList.withf("reference %d out of range (dzone_total=%d)", r, dzoneTotal)
		}
	}
	return nil
}

// clusterState names the state a cluster header asserts about itself.
type clusterState int

const (
	clusterAllocated clusterState = iota
	clusterFreeClean
	clusterFreeDirty
)

type clusterHeader struct {
	Prev uint32
	Next uint32
	Stat uint32
}

// checkClusterHeader validates a cluster header against the state the
// caller expects it to be in.
func checkClusterHeader(h clusterHeader, expect clusterState) error {
	switch expect {
	case clusterAllocated:
		if h.Prev != NullCluster || h.Next != NullCluster {
			return ErrInconsistentClusterHeader.withf("allocated cluster carries free-list linkage")
		}
		if h.Stat == NullInode {
			return ErrInconsistentClusterHeader.withf("allocated cluster has no owning inode stamp")
		}
	case clusterFreeClean:
		if h.Prev != NullCluster || h.Next != NullCluster || h.Stat != NullInode {
			return ErrInconsistentClusterHeader.withf("free-clean cluster header not fully null")
		}
	case clusterFreeDirty:
		// prev/next carry free-list linkage; stat retains the stale
		// owner stamp until cleaned. Nothing further to assert.
	}
	return nil
}

// checkDirectoryContents validates the structural invariants of a
// directory inode's size and its first two entries.
func checkDirectoryContents(size uint64, first, second dirEntry, selfIno, parentIno uint32) error {
	if size%uint64(EntriesPerCluster*DirEntrySize) != 0 {
		return ErrInconsistentDirContents.withf("directory size %d not a multiple of cluster entry span", size)
	}
	if first.Name() != "." || first.Inode != selfIno {
		return ErrInconsistentDirContents.withf("entry 0 is not '.' pointing to self")
	}
	if second.Name() != ".." || second.Inode != parentIno {
		return ErrInconsistentDirContents.withf("entry 1 is not '..' pointing to parent")
	}
	return nil
}

// checkEntry runs checkSuperblock against the volume's live superblock,
// the one check cheap enough to run at the entry of every mutating
// operation across the allocators, L2, L3 and L4 (§4.3).
func (v *Volume) checkEntry() error {
	return checkSuperblock(&v.sb.superblockDisk)
}

// ClusterState is the exported name for clusterState, so a caller
// outside this package can name the expectation CheckClusterHeader
// takes without reaching into an internal type.
type ClusterState = clusterState

// Exported aliases of the clusterState values above, for
// CheckClusterHeader callers outside this package.
const (
	ClusterAllocated = clusterAllocated
	ClusterFreeClean = clusterFreeClean
	ClusterFreeDirty = clusterFreeDirty
)

// CheckSuperblock re-validates sb's header-level arithmetic (§3) — the
// same predicate AllocateInode, AllocateDataCluster and their peers run
// at their own entry — so pkg/sofsck can share it instead of
// re-deriving equivalent checks of its own.
func CheckSuperblock(sb *Superblock) error {
	return checkSuperblock(&sb.superblockDisk)
}

// CheckRefList is the exported form of checkRefList.
func CheckRefList(refs []uint32, dzoneTotal uint32) error {
	return checkRefList(refs, dzoneTotal)
}

// CheckClusterHeader is the exported form of checkClusterHeader. It
// takes a cluster header's raw prev/next/stat fields, the same shape
// InspectClusterHeader already returns to inspection callers, rather
// than this package's internal clusterHeader struct.
func CheckClusterHeader(prev, next, stat uint32, expect ClusterState) error {
	return checkClusterHeader(clusterHeader{Prev: prev, Next: next, Stat: stat}, expect)
}

// CheckDirectoryContents is the exported form of checkDirectoryContents.
// It takes the first two entries' raw name/inode pairs rather than
// this package's internal dirEntry struct.
func CheckDirectoryContents(size uint64, firstName string, firstInode uint32, secondName string, secondInode uint32, selfIno, parentIno uint32) error {
	return checkDirectoryContents(size, newDirEntry(firstName, firstInode), newDirEntry(secondName, secondInode), selfIno, parentIno)
}
