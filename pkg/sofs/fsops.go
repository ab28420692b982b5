package sofs

// fsops.go composes the inode/cluster/directory layers into the
// path-addressed, byte-offset operation surface a host adaptor (the
// FUSE binding, the CLI tools) actually wants to call, rather than
// making every caller re-derive logical cluster indices and directory
// bookkeeping by hand.

// DirEntries lists the live entries of a directory inode, skipping
// removed/empty slots, for readdir-style callers.
func (v *Volume) DirEntries(dirIno *Inode) ([]DirEntryView, error) {
	if dirIno.Mode.Type != TypeDirectory {
		return nil, ErrNotDirectory
	}
	n := int64(dirIno.Size) / DirEntrySize
	out := make([]DirEntryView, 0, n)
	for idx := int64(0); idx < n; idx++ {
		e, err := v.readDirEntry(dirIno, idx)
		if err != nil {
			return nil, err
		}
		if e.empty() || e.dirty() {
			continue
		}
		out = append(out, DirEntryView{Inode: e.Inode, Name: e.Name()})
	}
	return out, nil
}

// CreateFile allocates a new regular-file inode and links it into
// dirIno under name.
func (v *Volume) CreateFile(dirIno *Inode, name string, perms Perm, uid, gid uint32) (*Inode, error) {
	return v.createEntry(dirIno, name, TypeRegular, perms, uid, gid)
}

// Mkdir allocates a new directory inode and links it into dirIno under
// name; AddDirEntry handles the "."/".." bootstrap.
func (v *Volume) Mkdir(dirIno *Inode, name string, perms Perm, uid, gid uint32) (*Inode, error) {
	return v.createEntry(dirIno, name, TypeDirectory, perms, uid, gid)
}

// Symlink allocates a new symlink inode holding target and links it
// into dirIno under name.
func (v *Volume) Symlink(dirIno *Inode, name, target string, uid, gid uint32) (*Inode, error) {
	ino, err := v.createEntry(dirIno, name, TypeSymlink, PermOwnerR|PermOwnerW|PermGroupR|PermOtherR, uid, gid)
	if err != nil {
		return nil, err
	}
	if err := v.WriteSymlinkTarget(ino, target); err != nil {
		v.FreeInode(ino.Num)
		return nil, err
	}
	if err := v.WriteInode(ino, StatusInUse); err != nil {
		return nil, err
	}
	return ino, nil
}

// ReadLink returns a symlink inode's target string.
func (v *Volume) ReadLink(ino *Inode) (string, error) {
	if ino.Mode.Type != TypeSymlink {
		return "", ErrInvalidInode.withf("inode %d is not a symlink", ino.Num)
	}
	return v.readSymlinkTarget(ino)
}

// createEntry is the shared allocate-inode-then-link step behind
// CreateFile/Mkdir/Symlink.
func (v *Volume) createEntry(dirIno *Inode, name string, t FileType, perms Perm, uid, gid uint32) (*Inode, error) {
	n, err := v.AllocateInode(t, perms, uid, gid)
	if err != nil {
		return nil, err
	}
	if err := v.AddDirEntry(dirIno, name, n, t, uid, gid); err != nil {
		v.FreeInode(n)
		return nil, err
	}
	return v.ReadInode(n, StatusInUse)
}

// Unlink removes a non-directory entry from dirIno.
func (v *Volume) Unlink(dirIno *Inode, name string, uid, gid uint32) error {
	entIno, _, _, err := v.LookupByName(dirIno, name, uid, gid)
	if err != nil {
		return err
	}
	ent, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return err
	}
	if ent.Mode.Type == TypeDirectory {
		return ErrIsDirectory
	}
	return v.RemoveDirEntry(dirIno, name, uid, gid)
}

// Rmdir removes an empty directory entry from dirIno.
func (v *Volume) Rmdir(dirIno *Inode, name string, uid, gid uint32) error {
	entIno, _, _, err := v.LookupByName(dirIno, name, uid, gid)
	if err != nil {
		return err
	}
	ent, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return err
	}
	if ent.Mode.Type != TypeDirectory {
		return ErrNotDirectory
	}
	return v.RemoveDirEntry(dirIno, name, uid, gid)
}

// ReadAt fills p with ino's content starting at byte offset off,
// returning the number of bytes actually within the file's current
// size (io.EOF semantics are the caller's to apply).
func (v *Volume) ReadAt(ino *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidInode.withf("negative offset")
	}
	if uint64(off) >= ino.Size {
		return 0, nil
	}
	remain := ino.Size - uint64(off)
	if uint64(len(p)) > remain {
		p = p[:remain]
	}

	total := 0
	for total < len(p) {
		abs := off + int64(total)
		logIdx := uint32(abs / int64(ClusterPayloadSize))
		within := int(abs % int64(ClusterPayloadSize))

		buf, err := v.ReadFileCluster(ino, logIdx)
		if err != nil {
			return total, err
		}
		n := copy(p[total:], buf[within:])
		total += n
	}
	return total, nil
}

// WriteAt writes p into ino's content starting at byte offset off,
// allocating clusters and growing Size as needed. Callers persist ino
// via WriteInode once done.
func (v *Volume) WriteAt(ino *Inode, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidInode.withf("negative offset")
	}

	total := 0
	size := ino.Size
	for total < len(p) {
		abs := off + int64(total)
		logIdx := uint32(abs / int64(ClusterPayloadSize))
		within := int(abs % int64(ClusterPayloadSize))

		buf, err := v.ReadFileCluster(ino, logIdx)
		if err != nil {
			return total, err
		}
		n := copy(buf[within:], p[total:])
		if err := v.WriteFileCluster(ino, logIdx, buf); err != nil {
			return total, err
		}
		total += n
	}
	if end := uint64(off) + uint64(total); end > size {
		size = end
	}
	ino.Size = size
	return total, nil
}

// Truncate shrinks or grows ino to size bytes, freeing any clusters
// wholly beyond the new size.
func (v *Volume) Truncate(ino *Inode, size uint64) error {
	if size >= ino.Size {
		ino.Size = size
		return nil
	}
	firstFreed := uint32((size + uint64(ClusterPayloadSize) - 1) / uint64(ClusterPayloadSize))
	if err := v.HandleFileClusters(ino, firstFreed, OpFree); err != nil {
		return err
	}
	ino.Size = size
	return nil
}
