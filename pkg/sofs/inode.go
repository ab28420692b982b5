package sofs

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// inodeDisk is the fixed 128-byte on-disk inode record (§3). The
// timestamp fields double as the free-list prev/next linkage whenever
// the inode is parked on the free list (§9's union-encoding note) —
// InUse/Prev/Next below are the typed view a caller actually wants;
// Atime/Mtime is the typed view when in use. Both read the same eight
// bytes.
type inodeDisk struct {
	Mode     uint16
	_        uint16
	Refcount uint32
	Owner    uint32
	Group    uint32
	Size     uint64
	Clucount uint32

	// Union: {Atime,Mtime} while in use, {Prev,Next} while free.
	TimeOrPrevA uint32
	TimeOrPrevB uint32

	Direct [NDirect]uint32
	I1     uint32
	I2     uint32

	_ [InodeSize - 84]byte // reserved, zeroed
}

// InodeStatus is the explicit state of an inode slot, distinguishing
// the three states §3 requires.
type InodeStatus int

const (
	StatusInUse InodeStatus = iota
	StatusFreeClean
	StatusFreeDirty
)

// Inode is the in-memory, typed view of one inode record.
type Inode struct {
	Num      uint32
	Mode     Mode
	Refcount uint32
	Owner    uint32
	Group    uint32
	Size     uint64
	Clucount uint32
	Atime    time.Time
	Mtime    time.Time
	Direct   [NDirect]uint32
	I1       uint32
	I2       uint32

	// Prev/Next are only meaningful when Status != StatusInUse.
	Prev uint32
	Next uint32

	Status InodeStatus
}

func decodeInode(num uint32, raw []byte) (*Inode, error) {
	var d inodeDisk
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &d); err != nil {
		return nil, errors.Wrap(err, "decoding inode")
	}

	m := modeFromRaw(d.Mode)
	ino := &Inode{
		Num:      num,
		Mode:     m,
		Refcount: d.Refcount,
		Owner:    d.Owner,
		Group:    d.Group,
		Size:     d.Size,
		Clucount: d.Clucount,
		Direct:   d.Direct,
		I1:       d.I1,
		I2:       d.I2,
	}

	if m.Type == TypeFree {
		ino.Prev = d.TimeOrPrevA
		ino.Next = d.TimeOrPrevB
		if ino.allZeroRefs() {
			ino.Status = StatusFreeClean
		} else {
			ino.Status = StatusFreeDirty
		}
	} else {
		ino.Status = StatusInUse
		ino.Atime = time.Unix(int64(d.TimeOrPrevA), 0).UTC()
		ino.Mtime = time.Unix(int64(d.TimeOrPrevB), 0).UTC()
	}
	return ino, nil
}

func (ino *Inode) allZeroRefs() bool {
	if ino.I1 != NullCluster || ino.I2 != NullCluster {
		return false
	}
	for _, d := range ino.Direct {
		if d != NullCluster {
			return false
		}
	}
	return ino.Refcount == 0 && ino.Size == 0 && ino.Clucount == 0
}

func (ino *Inode) encode() []byte {
	d := inodeDisk{
		Mode:     rawMode(ino.Mode),
		Refcount: ino.Refcount,
		Owner:    ino.Owner,
		Group:    ino.Group,
		Size:     ino.Size,
		Clucount: ino.Clucount,
		Direct:   ino.Direct,
		I1:       ino.I1,
		I2:       ino.I2,
	}
	if ino.Status == StatusInUse {
		d.TimeOrPrevA = uint32(ino.Atime.Unix())
		d.TimeOrPrevB = uint32(ino.Mtime.Unix())
	} else {
		d.TimeOrPrevA = ino.Prev
		d.TimeOrPrevB = ino.Next
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &d)
	return buf.Bytes()
}

// ReadInode loads inode n through the cache's inode-table slot and
// validates it against the expected status, per C6.read. On a status
// of "in use" the on-disk last-access stamp is updated and stored
// before returning, matching §4.6.
func (v *Volume) ReadInode(n uint32, expect InodeStatus) (*Inode, error) {
	if n >= v.sb.Itotal {
		return nil, ErrInvalidInode.withf("inode %d out of range", n)
	}

	block, slot := InodeLocation(n)
	buf, err := v.cache.Load(SlotInodeTable, v.sb.itableBlock(block))
	if err != nil {
		return nil, err
	}

	raw := buf[slot*InodeSize : (slot+1)*InodeSize]
	ino, err := decodeInode(n, raw)
	if err != nil {
		return nil, err
	}

	if err := v.checkInodeStatus(ino, expect); err != nil {
		return nil, err
	}

	if ino.Status == StatusInUse {
		ino.Atime = time.Unix(nowFunc(), 0).UTC()
		copy(raw, ino.encode())
		v.cache.MarkDirty(SlotInodeTable)
		if err := v.cache.Store(SlotInodeTable); err != nil {
			return nil, err
		}
	}
	return ino, nil
}

// WriteInode validates inode's status against expect, refuses illegal
// file types, stamps access/modification times on an in-use write, and
// stores through the cache.
func (v *Volume) WriteInode(ino *Inode, expect InodeStatus) error {
	if ino.Num >= v.sb.Itotal {
		return ErrInvalidInode.withf("inode %d out of range", ino.Num)
	}
	if err := v.checkInodeStatus(ino, expect); err != nil {
		return err
	}
	if ino.Status == StatusInUse {
		switch ino.Mode.Type {
		case TypeRegular, TypeDirectory, TypeSymlink:
		default:
			return ErrWrongModeClass.withf("illegal file type %v on write_inode", ino.Mode.Type)
		}
		now := time.Unix(nowFunc(), 0).UTC()
		ino.Atime = now
		ino.Mtime = now
	}

	block, slot := InodeLocation(ino.Num)
	buf, err := v.cache.Load(SlotInodeTable, v.sb.itableBlock(block))
	if err != nil {
		return err
	}
	copy(buf[slot*InodeSize:(slot+1)*InodeSize], ino.encode())
	v.cache.MarkDirty(SlotInodeTable)
	return v.cache.Store(SlotInodeTable)
}

// readInodeUnchecked and writeInodeUnchecked bypass the status
// predicate entirely. They exist for the free-list machinery (C4),
// which must read and relink inodes regardless of which free state
// they are currently in.
func (v *Volume) readInodeUnchecked(n uint32) (*Inode, error) {
	if n >= v.sb.Itotal {
		return nil, ErrInvalidInode.withf("inode %d out of range", n)
	}
	block, slot := InodeLocation(n)
	buf, err := v.cache.Load(SlotInodeTable, v.sb.itableBlock(block))
	if err != nil {
		return nil, err
	}
	return decodeInode(n, buf[slot*InodeSize:(slot+1)*InodeSize])
}

func (v *Volume) writeInodeUnchecked(ino *Inode) error {
	if ino.Num >= v.sb.Itotal {
		return ErrInvalidInode.withf("inode %d out of range", ino.Num)
	}
	block, slot := InodeLocation(ino.Num)
	buf, err := v.cache.Load(SlotInodeTable, v.sb.itableBlock(block))
	if err != nil {
		return err
	}
	copy(buf[slot*InodeSize:(slot+1)*InodeSize], ino.encode())
	v.cache.MarkDirty(SlotInodeTable)
	return v.cache.Store(SlotInodeTable)
}

func (v *Volume) checkInodeStatus(ino *Inode, expect InodeStatus) error {
	switch expect {
	case StatusInUse:
		return checkInUseInode(ino)
	case StatusFreeClean:
		return checkFreeCleanInode(ino)
	case StatusFreeDirty:
		return checkFreeDirtyInode(ino)
	default:
		return ErrInvalidStatus
	}
}

// AccessCheck implements C6's access_check: opMask is a nonempty subset
// of {OpRead, OpWrite, OpExec}. It returns pathComponent=true when a
// denial should be reported as EACCES (execute missing on a path
// component) versus false for a target R/W denial (EPERM) — callers
// set pathComponent themselves based on which kind of check they're
// performing; this only reports whether the bits were satisfied.
func AccessCheck(ino *Inode, uid, gid uint32, opMask AccessOp) bool {
	if uid == 0 {
		if opMask&OpExec == 0 {
			return true
		}
		full := ino.Mode.Perms
		return full&(PermOwnerX|PermGroupX|PermOtherX) != 0
	}

	owner := ino.Owner == uid
	group := !owner && ino.Group == gid
	granted := ino.Mode.triad(owner, group)
	return granted&opMask == opMask
}
