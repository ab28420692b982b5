package sofs

import "time"

// C4: the inode allocator. Inodes are taken from and returned to a
// double-linked free list rooted in the superblock's Ihead/Itail
// fields, the list nodes stored in-place inside the free inodes
// themselves rather than as in-memory pointers (§9).

// AllocateInode pops the head of the inode free list, cleaning it
// first if it was left dirty by a prior Free, and initialises it as a
// fresh in-use inode owned by uid/gid.
func (v *Volume) AllocateInode(t FileType, perms Perm, uid, gid uint32) (uint32, error) {
	if err := v.checkEntry(); err != nil {
		return 0, err
	}
	if v.sb.Ifree == 0 {
		return 0, ErrNoSpaceInodes
	}

	n := v.sb.Ihead
	popped, err := v.readInodeUnchecked(n)
	if err != nil {
		return 0, err
	}

	if popped.Status == StatusFreeDirty {
		if err := v.cleanInode(popped); err != nil {
			return 0, err
		}
	}

	v.sb.Ihead = popped.Next
	if v.sb.Ihead == NullInode {
		v.sb.Itail = NullInode
	} else {
		next, err := v.readInodeUnchecked(v.sb.Ihead)
		if err != nil {
			return 0, err
		}
		next.Prev = NullInode
		if err := v.writeInodeUnchecked(next); err != nil {
			return 0, err
		}
	}

	now := time.Unix(nowFunc(), 0).UTC()
	popped.Status = StatusInUse
	popped.Mode = Mode{Type: t, Perms: perms}
	popped.Owner = uid
	popped.Group = gid
	popped.Refcount = 0
	popped.Size = 0
	popped.Clucount = 0
	popped.Atime = now
	popped.Mtime = now
	for i := range popped.Direct {
		popped.Direct[i] = NullCluster
	}
	popped.I1 = NullCluster
	popped.I2 = NullCluster

	if err := v.writeInodeUnchecked(popped); err != nil {
		return 0, err
	}

	v.sb.Ifree--
	if err := v.sb.Store(); err != nil {
		return 0, err
	}
	return n, nil
}

// FreeInode parks n at the tail of the free list as free-dirty; its
// stale reference fields are cleaned lazily the next time it is
// popped by AllocateInode.
func (v *Volume) FreeInode(n uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	if n == 0 || n >= v.sb.Itotal {
		return ErrInvalidInode.withf("inode %d invalid for free", n)
	}

	ino, err := v.readInodeUnchecked(n)
	if err != nil {
		return err
	}
	if ino.Status != StatusInUse {
		return ErrNotAllocated.withf("inode %d already free", n)
	}
	if ino.Refcount != 0 {
		return ErrRefsOutstanding.withf("inode %d refcount=%d", n, ino.Refcount)
	}

	ino.Status = StatusFreeDirty
	ino.Mode = Mode{Type: TypeFree}
	ino.Prev = v.sb.Itail
	ino.Next = NullInode

	if v.sb.Itail == NullInode {
		v.sb.Ihead = n
	} else {
		tail, err := v.readInodeUnchecked(v.sb.Itail)
		if err != nil {
			return err
		}
		tail.Next = n
		if err := v.writeInodeUnchecked(tail); err != nil {
			return err
		}
	}
	v.sb.Itail = n

	if err := v.writeInodeUnchecked(ino); err != nil {
		return err
	}
	v.sb.Ifree++
	return v.sb.Store()
}

// cleanInode finishes reclaiming a free-dirty inode's stale reference
// tree: direct references and cascading reference clusters release
// via HandleRange(OpClean) (the terminal clusters were already
// released by the OpFree pass FreeInode's caller ran before this slot
// reached the free list), then the inode's own remaining fields are
// zeroed. Fails INVALID_INODE on inode 0.
func (v *Volume) cleanInode(ino *Inode) error {
	if ino.Num == RootInode {
		return ErrInvalidInode.withf("root inode may never be cleaned")
	}
	if err := v.HandleRange(ino, 0, OpClean); err != nil {
		return err
	}
	ino.Refcount = 0
	ino.Size = 0
	ino.Clucount = 0
	ino.I1 = NullCluster
	ino.I2 = NullCluster
	for i := range ino.Direct {
		ino.Direct[i] = NullCluster
	}
	return v.writeInodeUnchecked(ino)
}
