package sofs

// C7: the file-cluster mapper. Maps a file's logical cluster index to
// a physical cluster through a direct / single-indirect / double-
// indirect reference tree (§3, §4.7). Every intermediate reference
// cluster is itself allocated to the owning inode and counted in its
// Clucount, exactly like the teacher's ext-family direct/indirect
// pointer arithmetic, generalised here from a write-once compiler into
// a live allocate/free mapper.

// RangeOp selects the bulk behaviour of HandleRange and the single-
// index mutators that back it.
type RangeOp int

const (
	// OpFree releases the terminal cluster via the data allocator and
	// nulls the specific reference to it, but does not cascade into
	// freeing an enclosing reference cluster that becomes empty.
	OpFree RangeOp = iota
	// OpFreeClean behaves like OpFree and additionally cascades:
	// an enclosing reference cluster left all-null is itself freed
	// and unlinked, up through i1/i2.
	OpFreeClean
	// OpClean behaves like OpFreeClean but does not release the
	// terminal cluster — used when the terminal was already released
	// by an earlier OpFree pass and only the reference-tree cascade
	// (i1/i2 reclamation) remains to be finished, lazily, before an
	// inode is reused (§9's resolved clucount double-decrement note:
	// each freed cluster, direct or intermediate, is decremented
	// exactly once across the whole OpFree+OpClean sequence).
	OpClean
)

type zoneKind int

const (
	zoneDirect zoneKind = iota
	zoneSingle
	zoneDouble
)

func classify(i uint32) (zoneKind, uint32, uint32) {
	switch {
	case i < NDirect:
		return zoneDirect, i, 0
	case i < NDirect+RefsPerCluster:
		return zoneSingle, i - NDirect, 0
	default:
		base := i - NDirect - RefsPerCluster
		return zoneDouble, base / RefsPerCluster, base % RefsPerCluster
	}
}

// GetFileCluster returns the physical-logical cluster reference at
// index i, or NullCluster if that slot was never allocated.
func (v *Volume) GetFileCluster(ino *Inode, i uint32) (uint32, error) {
	if int64(i) >= MaxFileClusters {
		return 0, ErrInvalidCluster.withf("logical index %d exceeds MAX_FILE_CLUSTERS", i)
	}

	kind, a, b := classify(i)
	switch kind {
	case zoneDirect:
		return ino.Direct[a], nil
	case zoneSingle:
		if ino.I1 == NullCluster {
			return NullCluster, nil
		}
		rc, err := v.readRefCluster(SlotIndirectRefs, ino.I1)
		if err != nil {
			return 0, err
		}
		return rc.Refs[a], nil
	default:
		if ino.I2 == NullCluster {
			return NullCluster, nil
		}
		outer, err := v.readRefCluster(SlotIndirectRefs, ino.I2)
		if err != nil {
			return 0, err
		}
		if outer.Refs[a] == NullCluster {
			return NullCluster, nil
		}
		inner, err := v.readRefCluster(SlotIndirectRefs, outer.Refs[a])
		if err != nil {
			return 0, err
		}
		return inner.Refs[b], nil
	}
}

// AllocFileCluster materialises every intermediate reference cluster
// needed to reach logical index i plus a fresh terminal cluster, and
// fails ALREADY_ALLOCATED if the slot is already filled.
func (v *Volume) AllocFileCluster(ino *Inode, i uint32) (uint32, error) {
	if err := v.checkEntry(); err != nil {
		return 0, err
	}
	if int64(i) >= MaxFileClusters {
		return 0, ErrFileTooLarge.withf("logical index %d exceeds MAX_FILE_CLUSTERS", i)
	}
	if err := checkRefList(ino.Direct[:], v.sb.DzoneTotal); err != nil {
		return 0, err
	}

	kind, a, b := classify(i)
	switch kind {
	case zoneDirect:
		if ino.Direct[a] != NullCluster {
			return 0, ErrAlreadyAlloc
		}
		c, err := v.allocateDataCluster(ino.Num)
		if err != nil {
			return 0, err
		}
		ino.Direct[a] = c
		ino.Clucount++
		return c, nil

	case zoneSingle:
		if ino.I1 == NullCluster {
			c, err := v.allocateDataCluster(ino.Num)
			if err != nil {
				return 0, err
			}
			ino.I1 = c
			ino.Clucount++
			if err := v.initRefCluster(ino.Num, c); err != nil {
				return 0, err
			}
		}
		rc, err := v.readRefCluster(SlotIndirectRefs, ino.I1)
		if err != nil {
			return 0, err
		}
		if rc.Refs[a] != NullCluster {
			return 0, ErrAlreadyAlloc
		}
		term, err := v.allocateDataCluster(ino.Num)
		if err != nil {
			return 0, err
		}
		rc.Refs[a] = term
		if err := v.storeRefCluster(SlotIndirectRefs, rc); err != nil {
			return 0, err
		}
		ino.Clucount++
		return term, nil

	default:
		if ino.I2 == NullCluster {
			c, err := v.allocateDataCluster(ino.Num)
			if err != nil {
				return 0, err
			}
			ino.I2 = c
			ino.Clucount++
			if err := v.initRefCluster(ino.Num, c); err != nil {
				return 0, err
			}
		}
		outer, err := v.readRefCluster(SlotIndirectRefs, ino.I2)
		if err != nil {
			return 0, err
		}
		if outer.Refs[a] == NullCluster {
			oc, err := v.allocateDataCluster(ino.Num)
			if err != nil {
				return 0, err
			}
			outer.Refs[a] = oc
			if err := v.storeRefCluster(SlotIndirectRefs, outer); err != nil {
				return 0, err
			}
			ino.Clucount++
			if err := v.initRefCluster(ino.Num, oc); err != nil {
				return 0, err
			}
		}
		inner, err := v.readRefCluster(SlotIndirectRefs, outer.Refs[a])
		if err != nil {
			return 0, err
		}
		if inner.Refs[b] != NullCluster {
			return 0, ErrAlreadyAlloc
		}
		term, err := v.allocateDataCluster(ino.Num)
		if err != nil {
			return 0, err
		}
		inner.Refs[b] = term
		if err := v.storeRefCluster(SlotIndirectRefs, inner); err != nil {
			return 0, err
		}
		ino.Clucount++
		return term, nil
	}
}

// initRefCluster zero-fills a freshly allocated reference cluster's
// payload (all entries NullCluster) and stamps it owned by owner.
func (v *Volume) initRefCluster(owner uint32, logIdx uint32) error {
	rc := refCluster{Header: clusterHeader{Prev: NullCluster, Next: NullCluster, Stat: owner}}
	for i := range rc.Refs {
		rc.Refs[i] = NullCluster
	}
	if _, err := v.cache.Load(SlotIndirectRefs, v.sb.clusterBlock(logIdx)); err != nil {
		return err
	}
	return v.storeRefCluster(SlotIndirectRefs, rc)
}

// handleFileCluster mutates index i of ino according to op, freeing
// and/or nulling and cascading as OpFree/OpFreeClean/OpClean require.
// It is the single-index primitive HandleRange iterates with.
func (v *Volume) handleFileCluster(ino *Inode, i uint32, op RangeOp) error {
	kind, a, b := classify(i)

	switch kind {
	case zoneDirect:
		c := ino.Direct[a]
		if c == NullCluster {
			return nil
		}
		if op != OpClean {
			if err := v.freeDataCluster(c); err != nil {
				return err
			}
		}
		ino.Direct[a] = NullCluster
		ino.Clucount--
		return nil

	case zoneSingle:
		if ino.I1 == NullCluster {
			return nil
		}
		rc, err := v.readRefCluster(SlotIndirectRefs, ino.I1)
		if err != nil {
			return err
		}
		c := rc.Refs[a]
		if c == NullCluster {
			return nil
		}
		if op != OpClean {
			if err := v.freeDataCluster(c); err != nil {
				return err
			}
		}
		rc.Refs[a] = NullCluster
		ino.Clucount--
		if err := v.storeRefCluster(SlotIndirectRefs, rc); err != nil {
			return err
		}

		if op == OpFreeClean || op == OpClean {
			if refClusterEmpty(rc) {
				if err := v.freeDataCluster(ino.I1); err != nil {
					return err
				}
				ino.I1 = NullCluster
				ino.Clucount--
			}
		}
		return nil

	default:
		if ino.I2 == NullCluster {
			return nil
		}
		outer, err := v.readRefCluster(SlotIndirectRefs, ino.I2)
		if err != nil {
			return err
		}
		outerRef := outer.Refs[a]
		if outerRef == NullCluster {
			return nil
		}
		inner, err := v.readRefCluster(SlotIndirectRefs, outerRef)
		if err != nil {
			return err
		}
		c := inner.Refs[b]
		if c == NullCluster {
			return nil
		}
		if op != OpClean {
			if err := v.freeDataCluster(c); err != nil {
				return err
			}
		}
		inner.Refs[b] = NullCluster
		ino.Clucount--
		if err := v.storeRefCluster(SlotIndirectRefs, inner); err != nil {
			return err
		}

		if op == OpFreeClean || op == OpClean {
			if refClusterEmpty(inner) {
				if err := v.freeDataCluster(outerRef); err != nil {
					return err
				}
				outer.Refs[a] = NullCluster
				ino.Clucount--
				if _, err := v.cache.Load(SlotIndirectRefs, v.sb.clusterBlock(ino.I2)); err != nil {
					return err
				}
				if err := v.storeRefCluster(SlotIndirectRefs, outer); err != nil {
					return err
				}
				if refClusterEmpty(outer) {
					if err := v.freeDataCluster(ino.I2); err != nil {
						return err
					}
					ino.I2 = NullCluster
					ino.Clucount--
				}
			}
		}
		return nil
	}
}

func refClusterEmpty(rc refCluster) bool {
	for _, r := range rc.Refs {
		if r != NullCluster {
			return false
		}
	}
	return true
}

// HandleRange iterates logical indices from MAX_FILE_CLUSTERS-1 down
// to startIdx — double-indirect zone first, then single-indirect, then
// direct — skipping null slots, so an enclosing reference cluster's
// cascading cleanup happens exactly once (§4.7).
func (v *Volume) HandleRange(ino *Inode, startIdx uint32, op RangeOp) error {
	for i := uint32(MaxFileClusters) - 1; i >= startIdx; i-- {
		if err := v.handleFileCluster(ino, i, op); err != nil {
			return err
		}
		if i == 0 {
			break
		}
	}
	return nil
}

// cleanByLogicalNumber is invoked by the data allocator when it
// retrieves a cluster from the retrieval cache and finds it still
// dirty: it zeroes the payload and clears the owner stamp so the
// cluster is structurally free-clean before being handed to a new
// owner.
func (v *Volume) cleanByLogicalNumber(ownerStamp uint32, logCluster uint32) error {
	buf, err := v.cache.Load(SlotDirectRefs, v.sb.clusterBlock(logCluster))
	if err != nil {
		return err
	}
	h := decodeHeader(buf)
	if h.Stat != ownerStamp {
		return ErrWrongInodeStamp.withf("cluster %d stamped %d, expected %d", logCluster, h.Stat, ownerStamp)
	}
	zeroClusterPayload(buf)
	h.Stat = NullInode
	encodeHeader(buf, h)
	v.cache.MarkDirty(SlotDirectRefs)
	return v.cache.Store(SlotDirectRefs)
}
