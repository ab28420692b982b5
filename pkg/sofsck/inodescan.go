package sofsck

import "github.com/sofs11/sofs11/pkg/sofs"

// phase2InodeTable walks every inode slot, classifying it in-use or
// free, and separately walks the free list from ihead to confirm its
// linkage matches what the table scan found.
func (c *checker) phase2InodeTable() error {
	sb := c.v.Superblock()
	seenFree := make(map[uint32]bool, sb.Ifree)

	for n := uint32(0); n < sb.Itotal; n++ {
		ino, err := c.v.InspectInode(n)
		if err != nil {
			return c.r.fail(2, "inode %d: %v", n, err)
		}

		switch ino.Status {
		case sofs.StatusInUse:
			if err := c.checkInUse(ino); err != nil {
				return err
			}
			c.r.InodesInUse++
		case sofs.StatusFreeClean, sofs.StatusFreeDirty:
			seenFree[n] = true
			c.r.InodesFree++
		}
	}

	if err := c.walkInodeFreeList(seenFree); err != nil {
		return err
	}

	c.r.info(2, "inode table scan: %d in use, %d free", c.r.InodesInUse, c.r.InodesFree)
	return nil
}

func (c *checker) checkInUse(ino *sofs.Inode) error {
	switch ino.Mode.Type {
	case sofs.TypeRegular, sofs.TypeSymlink:
		if ino.Refcount < 1 {
			return c.r.fail(2, "inode %d: in-use %s with refcount<1", ino.Num, ino.Mode.Type)
		}
	case sofs.TypeDirectory:
		if ino.Refcount < 2 {
			return c.r.fail(2, "inode %d: directory with refcount<2", ino.Num)
		}
	default:
		return c.r.fail(2, "inode %d: illegal file type on an in-use inode", ino.Num)
	}
	if int64(ino.Clucount) > sofs.MaxFileClusters {
		return c.r.fail(2, "inode %d: clucount %d exceeds MAX_FILE_CLUSTERS", ino.Num, ino.Clucount)
	}
	return nil
}

// walkInodeFreeList traverses ihead..itail bounding the walk by ifree
// steps to detect a cycle, then checks that everything the table scan
// classified as free was actually reached, and vice versa.
func (c *checker) walkInodeFreeList(seenFree map[uint32]bool) error {
	sb := c.v.Superblock()

	if sb.Ifree == 0 {
		if sb.Ihead != sofs.NullInode || sb.Itail != sofs.NullInode {
			return c.r.fail(2, "ifree==0 but ihead/itail are not NULL_INODE")
		}
		return nil
	}

	visited := make(map[uint32]bool, sb.Ifree)
	prev := sofs.NullInode
	cur := sb.Ihead
	var steps uint32

	for cur != sofs.NullInode {
		if steps > sb.Ifree {
			return c.r.fail(2, "inode free list loop detected after %d steps (ifree=%d)", steps, sb.Ifree)
		}
		if visited[cur] {
			return c.r.fail(2, "inode free list revisits %d", cur)
		}
		visited[cur] = true

		ino, err := c.v.InspectInode(cur)
		if err != nil {
			return c.r.fail(2, "inode %d: %v", cur, err)
		}
		if ino.Prev != prev {
			return c.r.fail(2, "inode %d: prev=%d does not match predecessor %d", cur, ino.Prev, prev)
		}

		prev = cur
		cur = ino.Next
		steps++
	}

	if prev != sb.Itail {
		return c.r.fail(2, "inode free list tail %d does not match itail %d", prev, sb.Itail)
	}
	if uint32(len(visited)) != sb.Ifree {
		return c.r.fail(2, "inode free list length %d does not match ifree %d", len(visited), sb.Ifree)
	}
	for n := range seenFree {
		if !visited[n] {
			return c.r.fail(2, "inode %d classified free but absent from the free list", n)
		}
	}

	return nil
}
