// Package sofsmount adapts a mounted sofs11 volume to the jacobsa/fuse
// fuseutil.FileSystem interface, so a formatted backing file can be
// exposed at a host mountpoint with ordinary POSIX tools on top of it.
//
// Inode numbers are sofs11 inode numbers shifted by one, since FUSE
// reserves inode 1 for the mount root while sofs11's root inode is 0.
// Directory and file handles are simple in-memory tokens: every op
// reads straight through to the backing volume, there is no page
// cache or write-back buffering to coordinate.
package sofsmount

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/sofs11/sofs11/pkg/elog"
	"github.com/sofs11/sofs11/pkg/sofs"
)

// Config carries the tunables NewServer needs.
type Config struct {
	Volume *sofs.Volume
	Uid    uint32
	Gid    uint32
	Log    elog.Logger
}

// NewServer wraps a mounted volume in a fuse.Server ready for fuse.Mount.
func NewServer(cfg *Config) fuse.Server {
	fs := &fileSystem{
		v:        cfg.Volume,
		uid:      cfg.Uid,
		gid:      cfg.Gid,
		log:      cfg.Log,
		dirs:     make(map[fuseops.HandleID]*dirHandle),
		files:    make(map[fuseops.HandleID]struct{}),
		nextFile: 1,
	}
	return fuseutil.NewFileSystemServer(fs)
}

type dirHandle struct {
	entries []sofs.DirEntryView
}

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	v        *sofs.Volume
	uid, gid uint32
	log      elog.Logger

	dirs     map[fuseops.HandleID]*dirHandle
	files    map[fuseops.HandleID]struct{}
	nextDir  fuseops.HandleID
	nextFile fuseops.HandleID
}

func toFuseIno(n uint32) fuseops.InodeID { return fuseops.InodeID(n) + 1 }
func toSofsIno(id fuseops.InodeID) uint32 { return uint32(id - 1) }

// translate maps sofs11's closed error taxonomy onto the errno values
// the kernel expects back from a FUSE op.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == sofs.ErrNotFound:
		return syscall.ENOENT
	case err == sofs.ErrAlreadyExists:
		return syscall.EEXIST
	case err == sofs.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case err == sofs.ErrNotDirectory:
		return syscall.ENOTDIR
	case err == sofs.ErrIsDirectory:
		return syscall.EISDIR
	case err == sofs.ErrAccessDeniedPathX:
		return syscall.EACCES
	case err == sofs.ErrAccessDeniedTarget:
		return syscall.EPERM
	case err == sofs.ErrNoSpaceInodes, err == sofs.ErrNoSpaceClusters:
		return syscall.ENOSPC
	case err == sofs.ErrFileTooLarge, err == sofs.ErrDirTooLarge:
		return syscall.EFBIG
	case err == sofs.ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case err == sofs.ErrSymlinkLoop:
		return syscall.ELOOP
	case err == sofs.ErrTooManyLinks:
		return syscall.EMLINK
	default:
		return fuse.EIO
	}
}

func attrsFromInode(ino *sofs.Inode) fuseops.InodeAttributes {
	mode := os.FileMode(ino.Mode.Perms)
	switch ino.Mode.Type {
	case sofs.TypeDirectory:
		mode |= os.ModeDir
	case sofs.TypeSymlink:
		mode |= os.ModeSymlink
	}
	return fuseops.InodeAttributes{
		Size:  ino.Size,
		Nlink: ino.Refcount,
		Mode:  mode,
		Atime: ino.Atime,
		Mtime: ino.Mtime,
		Uid:   ino.Owner,
		Gid:   ino.Group,
	}
}

func (fs *fileSystem) lookupInode(id fuseops.InodeID) (*sofs.Inode, error) {
	return fs.v.ReadInode(toSofsIno(id), sofs.StatusInUse)
}

func (fs *fileSystem) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (fs *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}

	entIno, _, _, err := fs.v.LookupByName(parent, op.Name, fs.uid, fs.gid)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	ent, err := fs.v.ReadInode(entIno, sofs.StatusInUse)
	if err != nil {
		op.Respond(translate(err))
		return
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuseIno(entIno),
		Attributes: attrsFromInode(ent),
	}
	op.Respond(nil)
}

func (fs *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Attributes = attrsFromInode(ino)
	op.Respond(nil)
}

func (fs *fileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}

	if op.Size != nil {
		if err := fs.v.Truncate(ino, *op.Size); err != nil {
			op.Respond(translate(err))
			return
		}
	}
	if op.Atime != nil {
		ino.Atime = *op.Atime
	}
	if op.Mtime != nil {
		ino.Mtime = *op.Mtime
	}
	if op.Mode != nil {
		ino.Mode.Perms = sofs.Perm(op.Mode.Perm())
	}

	if err := fs.v.WriteInode(ino, sofs.StatusInUse); err != nil {
		op.Respond(translate(err))
		return
	}

	op.Attributes = attrsFromInode(ino)
	op.Respond(nil)
}

func (fs *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	op.Respond(nil)
}

func (fs *fileSystem) MkDir(op *fuseops.MkDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	child, err := fs.v.Mkdir(parent, op.Name, sofs.Perm(op.Mode.Perm()), fs.uid, fs.gid)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuseIno(child.Num),
		Attributes: attrsFromInode(child),
	}
	op.Respond(nil)
}

func (fs *fileSystem) CreateFile(op *fuseops.CreateFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	child, err := fs.v.CreateFile(parent, op.Name, sofs.Perm(op.Mode.Perm()), fs.uid, fs.gid)
	if err != nil {
		op.Respond(translate(err))
		return
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuseIno(child.Num),
		Attributes: attrsFromInode(child),
	}
	op.Handle = fs.nextFile
	fs.files[fs.nextFile] = struct{}{}
	fs.nextFile++
	op.Respond(nil)
}

func (fs *fileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	child, err := fs.v.Symlink(parent, op.Name, op.Target, fs.uid, fs.gid)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      toFuseIno(child.Num),
		Attributes: attrsFromInode(child),
	}
	op.Respond(nil)
}

func (fs *fileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	target, err := fs.v.ReadLink(ino)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Target = target
	op.Respond(nil)
}

func (fs *fileSystem) RmDir(op *fuseops.RmDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Respond(translate(fs.v.Rmdir(parent, op.Name, fs.uid, fs.gid)))
}

func (fs *fileSystem) Unlink(op *fuseops.UnlinkOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.lookupInode(op.Parent)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Respond(translate(fs.v.Unlink(parent, op.Name, fs.uid, fs.gid)))
}

func (fs *fileSystem) OpenDir(op *fuseops.OpenDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	entries, err := fs.v.DirEntries(ino)
	if err != nil {
		op.Respond(translate(err))
		return
	}

	fs.nextDir++
	h := fs.nextDir
	fs.dirs[h] = &dirHandle{entries: entries}
	op.Handle = h
	op.Respond(nil)
}

func (fs *fileSystem) ReadDir(op *fuseops.ReadDirOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.dirs[op.Handle]
	if !ok {
		op.Respond(syscall.EBADF)
		return
	}

	scratch := make([]byte, op.Size)
	var used int
	i := int(op.Offset)
	for i < len(h.entries) {
		e := h.entries[i]
		dt := fuseops.DT_File
		if n, lookupErr := fs.v.InspectInode(e.Inode); lookupErr == nil {
			switch n.Mode.Type {
			case sofs.TypeDirectory:
				dt = fuseops.DT_Directory
			case sofs.TypeSymlink:
				dt = fuseops.DT_Link
			}
		}
		n := fuseutil.WriteDirent(scratch[used:], fuseops.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  toFuseIno(e.Inode),
			Name:   e.Name,
			Type:   dt,
		})
		if n == 0 {
			break
		}
		used += n
		i++
	}
	op.Data = scratch[:used]
	op.Respond(nil)
}

func (fs *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirs, op.Handle)
	op.Respond(nil)
}

func (fs *fileSystem) OpenFile(op *fuseops.OpenFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.lookupInode(op.Inode); err != nil {
		op.Respond(translate(err))
		return
	}
	op.Handle = fs.nextFile
	fs.files[fs.nextFile] = struct{}{}
	fs.nextFile++
	op.Respond(nil)
}

func (fs *fileSystem) ReadFile(op *fuseops.ReadFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	buf := make([]byte, op.Size)
	n, err := fs.v.ReadAt(ino, buf, op.Offset)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	op.Data = buf[:n]
	op.Respond(nil)
}

func (fs *fileSystem) WriteFile(op *fuseops.WriteFileOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.lookupInode(op.Inode)
	if err != nil {
		op.Respond(translate(err))
		return
	}
	if _, err := fs.v.WriteAt(ino, op.Data, op.Offset); err != nil {
		op.Respond(translate(err))
		return
	}
	ino.Mtime = time.Now()
	op.Respond(translate(fs.v.WriteInode(ino, sofs.StatusInUse)))
}

func (fs *fileSystem) SyncFile(op *fuseops.SyncFileOp) {
	op.Respond(nil)
}

func (fs *fileSystem) FlushFile(op *fuseops.FlushFileOp) {
	op.Respond(nil)
}

func (fs *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, op.Handle)
	op.Respond(nil)
}
