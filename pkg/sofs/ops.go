package sofs

// ops.go composes the lower layers into the named operation surface of
// §6 that a host adaptor (FUSE binding, CLI tool) drives directly.

// AllocateDataCluster allocates one data cluster owned by inode n.
func (v *Volume) AllocateDataCluster(n uint32) (uint32, error) {
	return v.allocateDataCluster(n)
}

// FreeDataCluster returns cluster c to the free store.
func (v *Volume) FreeDataCluster(c uint32) error {
	return v.freeDataCluster(c)
}

// CleanDataCluster zeroes a single dirty cluster's payload, verifying
// its stale owner stamp first.
func (v *Volume) CleanDataCluster(ownerStamp, logCluster uint32) error {
	return v.cleanByLogicalNumber(ownerStamp, logCluster)
}

// CleanInode finishes reclaiming a free-dirty inode popped by nothing
// in particular — exposed so fsck-adjacent tooling can force a clean
// pass outside the lazy AllocateInode path.
func (v *Volume) CleanInode(n uint32) error {
	ino, err := v.readInodeUnchecked(n)
	if err != nil {
		return err
	}
	if ino.Status != StatusFreeDirty {
		return ErrInvalidStatus.withf("inode %d is not free-dirty", n)
	}
	return v.cleanInode(ino)
}

// InspectInode reads inode n exactly as stored, bypassing the
// in-use/free-clean/free-dirty predicate check ReadInode enforces.
// Meant for read-only tooling (fsck, sofsutil) that must look at an
// inode before knowing what state it is supposed to be in.
func (v *Volume) InspectInode(n uint32) (*Inode, error) {
	return v.readInodeUnchecked(n)
}

// InspectClusterHeader returns the raw prev/next/stat header of
// logical data cluster logIdx without bringing the full cluster into
// either cache slot.
func (v *Volume) InspectClusterHeader(logIdx uint32) (prev, next, stat uint32, err error) {
	h, err := v.readClusterHeader(logIdx)
	if err != nil {
		return 0, 0, 0, err
	}
	return h.Prev, h.Next, h.Stat, nil
}

// InspectRefCluster returns the raw header and reference array of
// logical data cluster logIdx, interpreted as a reference cluster.
func (v *Volume) InspectRefCluster(logIdx uint32) (prev, next, stat uint32, refs [RefsPerCluster]uint32, err error) {
	rc, err := v.readRefCluster(SlotIndirectRefs, logIdx)
	if err != nil {
		return 0, 0, 0, refs, err
	}
	return rc.Header.Prev, rc.Header.Next, rc.Header.Stat, rc.Refs, nil
}

// HandleFileCluster applies op to the single logical index i of ino.
func (v *Volume) HandleFileCluster(ino *Inode, i uint32, op RangeOp) error {
	return v.handleFileCluster(ino, i, op)
}

// HandleFileClusters applies op across [startIdx, MAX_FILE_CLUSTERS).
func (v *Volume) HandleFileClusters(ino *Inode, startIdx uint32, op RangeOp) error {
	return v.HandleRange(ino, startIdx, op)
}

// ReadFileCluster returns the ClusterPayloadSize bytes of file content
// at logical index logIdx. An unallocated (sparse) slot reads as
// zeroes rather than failing.
func (v *Volume) ReadFileCluster(ino *Inode, logIdx uint32) ([]byte, error) {
	phys, err := v.GetFileCluster(ino, logIdx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, ClusterPayloadSize)
	if phys == NullCluster {
		return out, nil
	}
	buf, err := v.cache.Load(SlotDirectRefs, v.sb.clusterBlock(phys))
	if err != nil {
		return nil, err
	}
	copy(out, buf[ClusterHeaderSize:])
	return out, nil
}

// WriteFileCluster writes payload (truncated or zero-padded to
// ClusterPayloadSize) at logical index logIdx, allocating the slot if
// writing past the file's current end, and grows ino.Size to cover it.
// Callers persist ino themselves via WriteInode once done.
func (v *Volume) WriteFileCluster(ino *Inode, logIdx uint32, payload []byte) error {
	phys, err := v.GetFileCluster(ino, logIdx)
	if err != nil {
		return err
	}
	if phys == NullCluster {
		phys, err = v.AllocFileCluster(ino, logIdx)
		if err != nil {
			return err
		}
	}

	buf, err := v.cache.Load(SlotDirectRefs, v.sb.clusterBlock(phys))
	if err != nil {
		return err
	}
	n := copy(buf[ClusterHeaderSize:], payload)
	for i := ClusterHeaderSize + n; i < len(buf); i++ {
		buf[i] = 0
	}
	v.cache.MarkDirty(SlotDirectRefs)
	if err := v.cache.Store(SlotDirectRefs); err != nil {
		return err
	}

	need := (uint64(logIdx) + 1) * uint64(ClusterPayloadSize)
	if need > ino.Size {
		ino.Size = need
	}
	return nil
}
