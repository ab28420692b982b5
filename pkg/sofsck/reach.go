package sofsck

import "github.com/sofs11/sofs11/pkg/sofs"

// dirFrame is one stack entry of the iterative directory DFS: the
// inode being visited and the inode its own ".." is expected to name.
type dirFrame struct {
	ino    uint32
	parent uint32
}

// phase6Reachability performs a stack-based DFS from the root inode,
// confirming every visited directory's "." points to itself and ".."
// to the stacked parent, and that the directory's claimed clusters
// (from phase5's table) actually hold readable entries. A directory
// revisited during the walk is reported as a loop rather than
// re-descended into.
func (c *checker) phase6Reachability(owner map[uint32]uint32) error {
	visited := make(map[uint32]bool)
	stack := []dirFrame{{ino: sofs.RootInode, parent: sofs.RootInode}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[top.ino] {
			c.r.warn(6, "directory %d revisited during reachability walk (loop)", top.ino)
			continue
		}
		visited[top.ino] = true

		ino, err := c.v.InspectInode(top.ino)
		if err != nil {
			return c.r.fail(6, "directory %d: %v", top.ino, err)
		}
		if ino.Status != sofs.StatusInUse || ino.Mode.Type != sofs.TypeDirectory {
			return c.r.fail(6, "directory %d is not an in-use directory inode", top.ino)
		}

		if err := c.checkDirClusterOwnership(ino, owner); err != nil {
			return err
		}

		entries, err := c.readDirEntries(ino)
		if err != nil {
			return c.r.fail(6, "directory %d: %v", top.ino, err)
		}
		if len(entries) < 2 {
			return c.r.fail(6, "directory %d has fewer than 2 entries", top.ino)
		}
		if err := sofs.CheckDirectoryContents(ino.Size, entries[0].Name, entries[0].Inode, entries[1].Name, entries[1].Inode, top.ino, top.parent); err != nil {
			return c.r.fail(6, "directory %d: %v", top.ino, err)
		}

		c.r.DirectoriesSeen++

		for _, e := range entries[2:] {
			if e.Inode == sofs.NullInode {
				continue
			}
			child, err := c.v.InspectInode(e.Inode)
			if err != nil {
				return c.r.fail(6, "directory %d entry %q: %v", top.ino, e.Name, err)
			}
			if child.Status != sofs.StatusInUse {
				return c.r.fail(6, "directory %d entry %q refers to inode %d which is not in use", top.ino, e.Name, child.Num)
			}
			if child.Mode.Type == sofs.TypeDirectory {
				stack = append(stack, dirFrame{ino: e.Inode, parent: top.ino})
			}
		}
	}

	if uint32(len(visited)) != c.dirInodeCount() {
		c.r.warn(6, "%d directory inodes exist but only %d were reached from the root", c.dirInodeCount(), len(visited))
	}

	c.r.info(6, "directory reachability: %d directories visited", c.r.DirectoriesSeen)
	return nil
}

// checkDirClusterOwnership confirms every direct-zone cluster backing
// a directory's current size is claimed by that same inode in
// phase5's cross-reference table, catching a directory whose size
// outruns the clusters it actually owns.
func (c *checker) checkDirClusterOwnership(ino *sofs.Inode, owner map[uint32]uint32) error {
	count := ino.Size / uint64(sofs.DirEntrySize)
	clusters := (count + uint64(sofs.EntriesPerCluster) - 1) / uint64(sofs.EntriesPerCluster)

	for idx := uint32(0); uint64(idx) < clusters; idx++ {
		phys, err := c.v.GetFileCluster(ino, idx)
		if err != nil {
			return c.r.fail(6, "directory %d: %v", ino.Num, err)
		}
		if phys == sofs.NullCluster {
			return c.r.fail(6, "directory %d: logical cluster %d within its reported size was never allocated", ino.Num, idx)
		}
		if owner[phys] != ino.Num {
			return c.r.fail(6, "directory %d: cluster %d not claimed by this inode in the cross-reference table", ino.Num, phys)
		}
	}
	return nil
}

// dirInodeCount counts in-use directory inodes across the table, used
// only to report unreachable directories as a warning.
func (c *checker) dirInodeCount() uint32 {
	sb := c.v.Superblock()
	var n uint32
	for i := uint32(0); i < sb.Itotal; i++ {
		ino, err := c.v.InspectInode(i)
		if err != nil {
			continue
		}
		if ino.Status == sofs.StatusInUse && ino.Mode.Type == sofs.TypeDirectory {
			n++
		}
	}
	return n
}

// readDirEntries reads every entry of a directory inode's payload via
// the normal file-cluster mapper, which tolerates sparse (never
// allocated) slots by returning zeroed content.
func (c *checker) readDirEntries(ino *sofs.Inode) ([]sofs.DirEntryView, error) {
	count := ino.Size / uint64(sofs.DirEntrySize)
	entries := make([]sofs.DirEntryView, 0, count)

	var idx uint32
	for uint64(idx)*uint64(sofs.EntriesPerCluster) < count {
		buf, err := c.v.ReadFileCluster(ino, idx)
		if err != nil {
			return nil, err
		}
		for off := 0; off < len(buf) && uint64(len(entries)) < count; off += sofs.DirEntrySize {
			entries = append(entries, sofs.DecodeDirEntryView(buf[off:off+sofs.DirEntrySize]))
		}
		idx++
	}
	return entries, nil
}
