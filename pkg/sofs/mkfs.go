package sofs

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sofs11/sofs11/pkg/vio"
)

// FormatOptions carries the tunables Format accepts,
// mirroring the CLI surface's mkfs flags (§6).
type FormatOptions struct {
	VolumeName string
	InodeCount int64
	ZeroFill   bool
}

// Format builds a fresh volume on the backing file at devPath, which
// must already exist and be sized to a positive multiple of
// BlockSize. It writes the superblock, a zeroed inode table with inode
// 0 as the in-use root directory and the remainder threaded into a
// free list, an initial root-directory cluster with "."/"..", and
// every remaining cluster threaded into the general free list.
func Format(devPath string, opts FormatOptions) error {
	f, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "opening backing file for format")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat backing file")
	}
	if fi.Size()%BlockSize != 0 || fi.Size() == 0 {
		return ErrInvalidSuperblock.withf("backing file size must be a positive multiple of %d", BlockSize)
	}
	ntotal := fi.Size() / BlockSize

	itableSize := InodeTableSize(opts.InodeCount)
	itotal := itableSize * InodesPerBlock
	overhead := 1 + itableSize
	if ntotal <= overhead {
		return ErrInvalidSuperblock.withf("backing file too small for %d inodes", opts.InodeCount)
	}
	dzoneTotal := (ntotal - overhead) / BlocksPerCluster
	if dzoneTotal < 1 {
		return ErrInvalidSuperblock.withf("backing file leaves no room for a data zone")
	}
	ntotal = TotalBlocks(itableSize, dzoneTotal)

	sb := superblockDisk{
		Magic:        Signature,
		Version:      Version,
		Ntotal:       uint32(ntotal),
		Mstat:        uint16(ProperlyUnmounted),
		ItableStart:  1,
		ItableSize:   uint32(itableSize),
		Itotal:       uint32(itotal),
		DzoneStart:   uint32(overhead),
		DzoneTotal:   uint32(dzoneTotal),
		RetrievalIdx: uint32(DallocCacheCap),
	}
	setVolumeName(&sb.VolumeName, opts.VolumeName)
	id := uuid.New()
	copy(sb.UUID[:], id[:])

	if err := writeInodeTable(f, &sb); err != nil {
		return err
	}
	if err := writeRootCluster(f, overhead); err != nil {
		return err
	}
	if err := writeFreeClusterList(f, &sb, overhead, opts.ZeroFill); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &sb); err != nil {
		return errors.Wrap(err, "encoding superblock")
	}
	block := make([]byte, BlockSize)
	copy(block, buf.Bytes())
	if _, err := f.WriteAt(block, 0); err != nil {
		return errors.Wrap(err, "writing superblock")
	}

	return f.Sync()
}

// writeInodeTable writes inode 0 as the in-use root directory and the
// remaining inodes as a contiguous doubly-linked free list, updating
// sb's Ifree/Ihead/Itail accordingly.
func writeInodeTable(f *os.File, sb *superblockDisk) error {
	now := uint32(time.Now().Unix())

	root := inodeDisk{
		Mode:        rawMode(Mode{Type: TypeDirectory, Perms: 0777 & modePermMask}),
		Refcount:    2,
		Owner:       0,
		Group:       0,
		Size:        uint64(EntriesPerCluster * DirEntrySize),
		Clucount:    1,
		TimeOrPrevA: now,
		TimeOrPrevB: now,
	}
	for i := range root.Direct {
		root.Direct[i] = NullCluster
	}
	root.Direct[0] = RootCluster
	root.I1 = NullCluster
	root.I2 = NullCluster

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &root); err != nil {
		return errors.Wrap(err, "encoding root inode")
	}

	block := make([]byte, BlockSize)
	copy(block[0:InodeSize], buf.Bytes())

	free := inodeDisk{Mode: rawMode(Mode{Type: TypeFree})}
	for i := range free.Direct {
		free.Direct[i] = NullCluster
	}
	free.I1, free.I2 = NullCluster, NullCluster
	var freeBuf bytes.Buffer
	_ = binary.Write(&freeBuf, binary.LittleEndian, &free)
	template := freeBuf.Bytes()

	for s := 1; s < InodesPerBlock; s++ {
		copy(block[s*InodeSize:(s+1)*InodeSize], template)
	}

	for blockIdx := int64(0); blockIdx < int64(sb.ItableSize); blockIdx++ {
		out := block
		if blockIdx > 0 {
			out = make([]byte, BlockSize)
			for s := 0; s < InodesPerBlock; s++ {
				copy(out[s*InodeSize:(s+1)*InodeSize], template)
			}
		}
		if _, err := f.WriteAt(out, (1+blockIdx)*BlockSize); err != nil {
			return errors.Wrap(err, "writing inode table")
		}
	}

	itotal := int64(sb.Itotal)

	// Thread inodes 1..itotal-1 into a doubly-linked free list in
	// ascending order; relink with real prev/next now that every block
	// has been written once.
	sb.Ifree = uint32(itotal - 1)
	if itotal > 1 {
		sb.Ihead = 1
		sb.Itail = uint32(itotal - 1)
		for n := int64(1); n < itotal; n++ {
			fi := free
			if n > 1 {
				fi.TimeOrPrevA = uint32(n - 1)
			} else {
				fi.TimeOrPrevA = NullInode
			}
			if n < itotal-1 {
				fi.TimeOrPrevB = uint32(n + 1)
			} else {
				fi.TimeOrPrevB = NullInode
			}
			var out bytes.Buffer
			_ = binary.Write(&out, binary.LittleEndian, &fi)
			block, slot := InodeLocation(uint32(n))
			if _, err := f.WriteAt(out.Bytes(), (1+block)*BlockSize+int64(slot)*InodeSize); err != nil {
				return errors.Wrap(err, "linking free inode list")
			}
		}
	} else {
		sb.Ihead = NullInode
		sb.Itail = NullInode
	}

	return nil
}

// writeRootCluster writes logical data cluster 0 (physical block
// dzoneStart) with "."/".." pointing to inode 0 and the remaining
// entries empty.
func writeRootCluster(f *os.File, dzoneStart int64) error {
	buf := make([]byte, ClusterSize)
	encodeHeader(buf, clusterHeader{Prev: NullCluster, Next: NullCluster, Stat: RootInode})

	empty := newDirEntry("", NullInode)
	for i := 0; i < EntriesPerCluster; i++ {
		off := ClusterHeaderSize + i*DirEntrySize
		empty.encode(buf[off : off+DirEntrySize])
	}
	newDirEntry(".", RootInode).encode(buf[ClusterHeaderSize : ClusterHeaderSize+DirEntrySize])
	newDirEntry("..", RootInode).encode(buf[ClusterHeaderSize+DirEntrySize : ClusterHeaderSize+2*DirEntrySize])

	_, err := f.WriteAt(buf, dzoneStart*BlockSize)
	return errors.Wrap(err, "writing root directory cluster")
}

// writeFreeClusterList threads logical clusters [1, dzoneTotal) into
// the general free list, optionally zero-filling each payload, and
// sets sb's Dhead/Dtail/DzoneFree. The retrieval/insertion caches are
// left empty; the first allocate call replenishes from this list.
func writeFreeClusterList(f *os.File, sb *superblockDisk, dzoneStart int64, zeroFill bool) error {
	dzoneTotal := int64(sb.DzoneTotal)
	if dzoneTotal <= 1 {
		sb.Dhead, sb.Dtail, sb.DzoneFree = NullCluster, NullCluster, 0
		return nil
	}

	var payload io.Reader
	if zeroFill {
		payload = vio.Zeroes
	}

	for n := int64(1); n < dzoneTotal; n++ {
		buf := make([]byte, ClusterSize)
		var prev, next uint32
		if n > 1 {
			prev = uint32(n - 1)
		} else {
			prev = NullCluster
		}
		if n < dzoneTotal-1 {
			next = uint32(n + 1)
		} else {
			next = NullCluster
		}
		encodeHeader(buf, clusterHeader{Prev: prev, Next: next, Stat: NullInode})
		if payload != nil {
			io.ReadFull(payload, buf[ClusterHeaderSize:])
		}
		off := (dzoneStart + n*BlocksPerCluster) * BlockSize
		if _, err := f.WriteAt(buf, off); err != nil {
			return errors.Wrap(err, "writing free cluster list")
		}
	}

	sb.Dhead = 1
	sb.Dtail = uint32(dzoneTotal - 1)
	sb.DzoneFree = uint32(dzoneTotal - 1)
	return nil
}
