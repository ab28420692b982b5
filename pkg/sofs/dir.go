package sofs

import (
	"bytes"
	"encoding/binary"
	"path"
	"strings"
)

// C8: directory operations. A directory inode's payload is a
// contiguous array of fixed-size entries; lookups, mutations and path
// resolution are all built on the per-entry read/write helpers below.

type dirEntry struct {
	Inode uint32
	name  [DirEntryNameLen]byte
}

// Name returns the nul-terminated base name, or "" for an empty/
// removed slot (name[0]==0).
func (e dirEntry) Name() string {
	n := bytes.IndexByte(e.name[:], 0)
	if n < 0 {
		n = len(e.name)
	}
	return string(e.name[:n])
}

func (e dirEntry) empty() bool {
	return e.Inode == NullInode && e.name[0] == 0
}

func (e dirEntry) dirty() bool {
	return e.name[0] == 0 && e.Inode != NullInode
}

func decodeDirEntry(buf []byte) dirEntry {
	var e dirEntry
	e.Inode = binary.LittleEndian.Uint32(buf[0:4])
	copy(e.name[:], buf[4:4+DirEntryNameLen])
	return e
}

func (e dirEntry) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Inode)
	copy(buf[4:4+DirEntryNameLen], e.name[:])
}

func newDirEntry(name string, ino uint32) dirEntry {
	var e dirEntry
	e.Inode = ino
	copy(e.name[:], name)
	return e
}

// DirEntryView is the read-only, exported shape of one directory
// entry, used by inspection tooling (fsck, sofsutil) that has no
// business mutating a live directory.
type DirEntryView struct {
	Inode uint32
	Name  string
}

// DecodeDirEntryView decodes one DirEntrySize-byte slice without
// requiring the caller to go through a mounted Volume's directory
// operations.
func DecodeDirEntryView(buf []byte) DirEntryView {
	e := decodeDirEntry(buf)
	return DirEntryView{Inode: e.Inode, Name: e.Name()}
}

func entryOffset(idx int64) (clusterIdx uint32, byteOff int) {
	clusterIdx = uint32(idx / int64(EntriesPerCluster))
	byteOff = ClusterHeaderSize + int(idx%int64(EntriesPerCluster))*DirEntrySize
	return
}

func (v *Volume) readDirEntry(dirIno *Inode, idx int64) (dirEntry, error) {
	clusterIdx, off := entryOffset(idx)
	phys, err := v.GetFileCluster(dirIno, clusterIdx)
	if err != nil {
		return dirEntry{}, err
	}
	if phys == NullCluster {
		return dirEntry{}, ErrInconsistentDirContents.withf("directory entry %d in unallocated cluster", idx)
	}
	buf, err := v.cache.Load(SlotDirectRefs, v.sb.clusterBlock(phys))
	if err != nil {
		return dirEntry{}, err
	}
	return decodeDirEntry(buf[off : off+DirEntrySize]), nil
}

func (v *Volume) writeDirEntry(dirIno *Inode, idx int64, e dirEntry) error {
	clusterIdx, off := entryOffset(idx)
	phys, err := v.GetFileCluster(dirIno, clusterIdx)
	if err != nil {
		return err
	}
	if phys == NullCluster {
		return ErrInconsistentDirContents.withf("directory entry %d in unallocated cluster", idx)
	}
	buf, err := v.cache.Load(SlotDirectRefs, v.sb.clusterBlock(phys))
	if err != nil {
		return err
	}
	e.encode(buf[off : off+DirEntrySize])
	v.cache.MarkDirty(SlotDirectRefs)
	return v.cache.Store(SlotDirectRefs)
}

// LookupByName scans dirIno's entries from index 0 upward for name,
// requiring execute permission on the directory first. On a match it
// returns the entry's inode and index, with freeIdx -1. On ErrNotFound,
// freeIdx is the slot Add should use: the first clean free slot, else
// the first dirty one, else one past the last entry.
func (v *Volume) LookupByName(dirIno *Inode, name string, uid, gid uint32) (entIno uint32, idx int64, freeIdx int64, err error) {
	if dirIno.Mode.Type != TypeDirectory {
		return 0, -1, 0, ErrNotDirectory
	}
	if !AccessCheck(dirIno, uid, gid, OpExec) {
		return 0, -1, 0, ErrAccessDeniedPathX
	}

	n := int64(dirIno.Size) / DirEntrySize
	firstClean := int64(-1)
	firstDirty := int64(-1)

	for i := int64(0); i < n; i++ {
		e, err := v.readDirEntry(dirIno, i)
		if err != nil {
			return 0, -1, 0, err
		}
		if e.Inode != NullInode && e.Name() == name {
			return e.Inode, i, -1, nil
		}
		if e.empty() && firstClean < 0 {
			firstClean = i
		}
		if e.dirty() && firstDirty < 0 {
			firstDirty = i
		}
	}

	free := firstClean
	if free < 0 {
		free = firstDirty
	}
	if free < 0 {
		free = n
	}
	return 0, -1, free, ErrNotFound
}

func splitLast(p string) (dir, base string) {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/", ""
	}
	dir, base = path.Split(p)
	if dir == "" {
		dir = "/"
	} else {
		dir = strings.TrimRight(dir, "/")
		if dir == "" {
			dir = "/"
		}
	}
	return dir, base
}

// ResolvePath resolves an absolute path to its parent and entry inode
// numbers, expanding at most one level of symlink per §4.8/§9.
func (v *Volume) ResolvePath(ePath string, uid, gid uint32) (parentIno, entryIno uint32, err error) {
	return v.resolvePath(ePath, uid, gid, 0)
}

func (v *Volume) resolvePath(ePath string, uid, gid uint32, symlinkDepth int) (uint32, uint32, error) {
	if !path.IsAbs(ePath) {
		return 0, 0, ErrNotAbsolutePath
	}

	dir, base := splitLast(ePath)
	if base == "" {
		return RootInode, RootInode, nil
	}
	if len(base) > MaxNameLength {
		return 0, 0, ErrNameTooLong
	}

	var parentIno uint32
	if dir == "/" {
		parentIno = RootInode
	} else {
		_, pIno, err := v.resolvePath(dir, uid, gid, symlinkDepth)
		if err != nil {
			return 0, 0, err
		}
		parentIno = pIno
	}

	parentInode, err := v.ReadInode(parentIno, StatusInUse)
	if err != nil {
		return 0, 0, err
	}
	if parentInode.Mode.Type != TypeDirectory {
		return 0, 0, ErrNotDirectory
	}

	entIno, _, _, err := v.LookupByName(parentInode, base, uid, gid)
	if err != nil {
		return 0, 0, err
	}

	entInode, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return 0, 0, err
	}

	if entInode.Mode.Type == TypeSymlink {
		if symlinkDepth >= 1 {
			return 0, 0, ErrSymlinkLoop
		}
		target, err := v.readSymlinkTarget(entInode)
		if err != nil {
			return 0, 0, err
		}
		normalized := normalizeSymlinkTarget(target, dir)
		return v.resolvePath(normalized, uid, gid, symlinkDepth+1)
	}

	return parentIno, entIno, nil
}

func normalizeSymlinkTarget(target, containingDir string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	return path.Clean(containingDir + "/" + target)
}

func (v *Volume) readSymlinkTarget(ino *Inode) (string, error) {
	buf, err := v.ReadFileCluster(ino, 0)
	if err != nil {
		return "", err
	}
	n := int(ino.Size)
	if n > len(buf) {
		n = len(buf)
	}
	return string(buf[:n]), nil
}

// WriteSymlinkTarget stores target as ino's sole payload cluster.
func (v *Volume) WriteSymlinkTarget(ino *Inode, target string) error {
	if err := v.WriteFileCluster(ino, 0, []byte(target)); err != nil {
		return err
	}
	ino.Size = uint64(len(target))
	return nil
}

// initDirCluster zero-initialises a freshly allocated directory
// cluster's entries to NULL_INODE with an empty name.
func (v *Volume) initDirCluster(dirIno *Inode, clusterIdx uint32) error {
	empty := newDirEntry("", NullInode)
	buf := make([]byte, ClusterPayloadSize)
	for i := 0; i < EntriesPerCluster; i++ {
		empty.encode(buf[i*DirEntrySize : (i+1)*DirEntrySize])
	}
	return v.WriteFileCluster(dirIno, clusterIdx, buf)
}

// linkName validates name against dirIno and returns the index its
// entry belongs at, growing dirIno by one cluster first if every
// existing slot is occupied. It neither writes the entry itself nor
// touches any refcount — AddDirEntry and AttachDirectory each finish
// the link their own way.
func (v *Volume) linkName(dirIno *Inode, name string, uid, gid uint32) (int64, error) {
	if strings.Contains(name, "/") {
		return 0, ErrNameContainsSep
	}
	if len(name) > MaxNameLength {
		return 0, ErrNameTooLong
	}
	if dirIno.Mode.Type != TypeDirectory {
		return 0, ErrNotDirectory
	}
	if !AccessCheck(dirIno, uid, gid, OpExec) {
		return 0, ErrAccessDeniedPathX
	}
	if !AccessCheck(dirIno, uid, gid, OpWrite) {
		return 0, ErrAccessDeniedTarget
	}

	_, _, freeIdx, err := v.LookupByName(dirIno, name, uid, gid)
	if err == nil {
		return 0, ErrAlreadyExists
	}
	if err != ErrNotFound {
		return 0, err
	}

	n := int64(dirIno.Size) / DirEntrySize
	if freeIdx >= n {
		clusterIdx := uint32(freeIdx / int64(EntriesPerCluster))
		if int64(clusterIdx+1)*int64(EntriesPerCluster) > MaxFileClusters*int64(EntriesPerCluster) {
			return 0, ErrDirTooLarge
		}
		if err := v.initDirCluster(dirIno, clusterIdx); err != nil {
			return 0, err
		}
		dirIno.Size = uint64(clusterIdx+1) * uint64(EntriesPerCluster*DirEntrySize)
	}

	return freeIdx, nil
}

// AddDirEntry inserts name -> entIno into dirIno, growing the
// directory by one cluster if no free slot exists within its current
// size. If entType is a directory, its own "."/".." cluster is
// initialised and its refcount is set to the baseline of 2 (self "."
// plus dirIno's new name entry), and dirIno's refcount is bumped for
// the new child's ".." pointing back at it; otherwise only entIno's
// refcount is bumped. Writes go payload cluster, then entry inode,
// then directory inode, in that order (§4.8, §5 ordering guarantee).
func (v *Volume) AddDirEntry(dirIno *Inode, name string, entIno uint32, entType FileType, uid, gid uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	freeIdx, err := v.linkName(dirIno, name, uid, gid)
	if err != nil {
		return err
	}

	entInode, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return err
	}

	if entType == TypeDirectory {
		if err := v.initDirCluster(entInode, 0); err != nil {
			return err
		}
		entInode.Size = uint64(EntriesPerCluster * DirEntrySize)
		if err := v.writeDirEntry(entInode, 0, newDirEntry(".", entIno)); err != nil {
			return err
		}
		if err := v.writeDirEntry(entInode, 1, newDirEntry("..", dirIno.Num)); err != nil {
			return err
		}
		entInode.Refcount = 2
		if dirIno.Refcount+1 == 0 {
			return ErrTooManyLinks
		}
		dirIno.Refcount++
	} else {
		if entInode.Refcount+1 == 0 {
			return ErrTooManyLinks
		}
		entInode.Refcount++
	}

	if err := v.writeDirEntry(dirIno, freeIdx, newDirEntry(name, entIno)); err != nil {
		return err
	}
	if err := v.WriteInode(entInode, StatusInUse); err != nil {
		return err
	}
	return v.WriteInode(dirIno, StatusInUse)
}

// RemoveDirEntry unlinks name from dirIno. If the entry's refcount
// reaches zero its file clusters are bulk-freed and the inode itself
// is freed (left dirty for lazy cleaning).
func (v *Volume) RemoveDirEntry(dirIno *Inode, name string, uid, gid uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	if dirIno.Mode.Type != TypeDirectory {
		return ErrNotDirectory
	}
	if !AccessCheck(dirIno, uid, gid, OpExec) {
		return ErrAccessDeniedPathX
	}
	if !AccessCheck(dirIno, uid, gid, OpWrite) {
		return ErrAccessDeniedTarget
	}

	entIno, idx, _, err := v.LookupByName(dirIno, name, uid, gid)
	if err != nil {
		return err
	}

	entInode, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return err
	}
	if entInode.Mode.Type == TypeDirectory {
		if err := v.CheckEmptiness(entInode); err != nil {
			return err
		}
	}

	e, err := v.readDirEntry(dirIno, idx)
	if err != nil {
		return err
	}
	e.name[0] = 0
	if err := v.writeDirEntry(dirIno, idx, e); err != nil {
		return err
	}

	if entInode.Mode.Type == TypeDirectory {
		entInode.Refcount -= 2
		dirIno.Refcount--
	} else {
		entInode.Refcount--
	}

	if entInode.Refcount == 0 {
		if err := v.HandleRange(entInode, 0, OpFree); err != nil {
			return err
		}
		if err := v.WriteInode(entInode, StatusInUse); err != nil {
			return err
		}
		if err := v.FreeInode(entInode.Num); err != nil {
			return err
		}
	} else {
		if err := v.WriteInode(entInode, StatusInUse); err != nil {
			return err
		}
	}

	return v.WriteInode(dirIno, StatusInUse)
}

// RenameDirEntry rewrites the name field of an existing entry in
// place; the referenced inode and its refcount are untouched.
func (v *Volume) RenameDirEntry(dirIno *Inode, oldName, newName string, uid, gid uint32) error {
	if len(newName) > MaxNameLength || strings.Contains(newName, "/") {
		return ErrNameTooLong
	}

	_, _, _, err := v.LookupByName(dirIno, newName, uid, gid)
	if err == nil {
		return ErrAlreadyExists
	}
	if err != ErrNotFound {
		return err
	}

	entIno, idx, _, err := v.LookupByName(dirIno, oldName, uid, gid)
	if err != nil {
		return err
	}

	return v.writeDirEntry(dirIno, idx, newDirEntry(newName, entIno))
}

// CheckEmptiness verifies dirIno contains only "." and ".." followed by
// entirely-vacated slots.
func (v *Volume) CheckEmptiness(dirIno *Inode) error {
	n := int64(dirIno.Size) / DirEntrySize
	if n >= 2 {
		first, err := v.readDirEntry(dirIno, 0)
		if err != nil {
			return err
		}
		second, err := v.readDirEntry(dirIno, 1)
		if err != nil {
			return err
		}
		if err := checkDirectoryContents(dirIno.Size, first, second, dirIno.Num, second.Inode); err != nil {
			return err
		}
	}
	for i := int64(2); i < n; i++ {
		e, err := v.readDirEntry(dirIno, i)
		if err != nil {
			return err
		}
		if e.name[0] != 0 {
			return ErrNotEmpty
		}
	}
	return nil
}

// AttachDirectory reparents sub, a fully-built directory, under base:
// it installs the base->sub edge at eName and repoints sub's ".." to
// base. Unlike AddDirEntry it never re-initialises sub's own cluster
// or resets its size/refcount — sub's contents are untouched. Only
// base's refcount moves, by exactly 1, for the new child ".." now
// pointing at it; sub's own refcount is unaffected since it still has
// exactly one parent edge, just relocated. Exactly the inverse of
// DetachDirEntry.
func (v *Volume) AttachDirectory(base *Inode, eName string, sub *Inode, uid, gid uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	freeIdx, err := v.linkName(base, eName, uid, gid)
	if err != nil {
		return err
	}

	if err := v.writeDirEntry(sub, 1, newDirEntry("..", base.Num)); err != nil {
		return err
	}

	if base.Refcount+1 == 0 {
		return ErrTooManyLinks
	}
	base.Refcount++

	if err := v.writeDirEntry(base, freeIdx, newDirEntry(eName, sub.Num)); err != nil {
		return err
	}
	return v.WriteInode(base, StatusInUse)
}

// DetachDirEntry removes the base->sub edge named eName, the inverse
// of AttachDirectory: it only clears base's name slot and decrements
// base's refcount by exactly 1, for the departing child's ".." that no
// longer points at it. It never calls CheckEmptiness (reparenting a
// non-empty directory is the whole point) and never touches the sub
// inode — its ".." is left to whichever AttachDirectory call is
// pairing with this Detach to repoint.
func (v *Volume) DetachDirEntry(base *Inode, eName string, uid, gid uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	if base.Mode.Type != TypeDirectory {
		return ErrNotDirectory
	}
	if !AccessCheck(base, uid, gid, OpExec) {
		return ErrAccessDeniedPathX
	}
	if !AccessCheck(base, uid, gid, OpWrite) {
		return ErrAccessDeniedTarget
	}

	_, idx, _, err := v.LookupByName(base, eName, uid, gid)
	if err != nil {
		return err
	}

	e, err := v.readDirEntry(base, idx)
	if err != nil {
		return err
	}
	e.name[0] = 0
	if err := v.writeDirEntry(base, idx, e); err != nil {
		return err
	}

	base.Refcount--
	return v.WriteInode(base, StatusInUse)
}
