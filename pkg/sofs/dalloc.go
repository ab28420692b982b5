package sofs

// C5: the data-cluster allocator. The free store is a three-tier
// structure — a bounded retrieval cache, a bounded insertion cache,
// and a doubly-linked general free list spanning the whole data zone
// — all rooted in the superblock (§4.5). Allocation and freeing are
// amortised to at most two on-disk touches per cluster across a
// balanced sequence of N allocates and N frees.

// allocateDataCluster pops one logical cluster reference for owner
// inode ino, replenishing the retrieval cache from the general free
// list first if it is empty.
func (v *Volume) allocateDataCluster(owner uint32) (uint32, error) {
	if err := v.checkEntry(); err != nil {
		return 0, err
	}
	if _, err := v.readInodeUnchecked(owner); err != nil {
		return 0, err
	}
	if v.sb.DzoneFree == 0 {
		return 0, ErrNoSpaceClusters
	}

	if v.sb.RetrievalIdx == uint32(DallocCacheCap) {
		if err := v.replenish(); err != nil {
			return 0, err
		}
	}

	logIdx := v.sb.RetrievalCache[v.sb.RetrievalIdx]
	v.sb.RetrievalIdx++

	h, err := v.readClusterHeader(logIdx)
	if err != nil {
		return 0, err
	}
	if h.Stat != NullInode {
		if err := v.cleanByLogicalNumber(h.Stat, logIdx); err != nil {
			return 0, err
		}
	}

	h = clusterHeader{Prev: NullCluster, Next: NullCluster, Stat: owner}
	if err := v.writeClusterHeader(logIdx, h); err != nil {
		return 0, err
	}

	v.sb.DzoneFree--
	return logIdx, v.sb.Store()
}

// freeDataCluster returns logIdx to the insertion cache, depleting it
// into the general free list first if it is full.
func (v *Volume) freeDataCluster(logIdx uint32) error {
	if err := v.checkEntry(); err != nil {
		return err
	}
	if logIdx == 0 || logIdx >= v.sb.DzoneTotal {
		return ErrInvalidCluster.withf("cluster %d out of range", logIdx)
	}

	h, err := v.readClusterHeader(logIdx)
	if err != nil {
		return err
	}
	if err := checkClusterHeader(h, clusterAllocated); err != nil {
		return ErrNotAllocated.withf("cluster %d is not currently allocated: %v", logIdx, err)
	}

	if v.sb.InsertionIdx == uint32(DallocCacheCap) {
		if err := v.deplete(); err != nil {
			return err
		}
	}

	h.Prev, h.Next = NullCluster, NullCluster
	if err := v.writeClusterHeader(logIdx, h); err != nil {
		return err
	}

	v.sb.InsertionCache[v.sb.InsertionIdx] = logIdx
	v.sb.InsertionIdx++
	v.sb.DzoneFree++
	return v.sb.Store()
}

// replenish moves up to DallocCacheCap references from the head of the
// general free list into the retrieval cache, filled from the tail end
// down: each entry is stored one index below the current RetrievalIdx
// before the index itself moves down to it, so the cache's valid range
// is always [RetrievalIdx, DallocCacheCap) and RetrievalIdx == CAP
// means empty — the opposite orientation from the insertion cache,
// which fills bottom-up from index 0. Both must keep their own
// direction verbatim for REPLENISH/DEPLETE to stay inverses of one
// another.
func (v *Volume) replenish() error {
	if v.sb.Dhead == NullCluster && v.sb.InsertionIdx > 0 {
		if err := v.deplete(); err != nil {
			return err
		}
	}

	for v.sb.RetrievalIdx > 0 && v.sb.Dhead != NullCluster {
		head := v.sb.Dhead
		h, err := v.readClusterHeader(head)
		if err != nil {
			return err
		}

		v.sb.Dhead = h.Next
		if v.sb.Dhead != NullCluster {
			nh, err := v.readClusterHeader(v.sb.Dhead)
			if err != nil {
				return err
			}
			nh.Prev = NullCluster
			if err := v.writeClusterHeader(v.sb.Dhead, nh); err != nil {
				return err
			}
		} else {
			v.sb.Dtail = NullCluster
		}

		// Detach from the list; Stat is preserved verbatim — a cluster
		// moved over from the general list may still be dirty, and
		// allocate() below is what notices and cleans it lazily.
		if err := v.writeClusterHeader(head, clusterHeader{Prev: NullCluster, Next: NullCluster, Stat: h.Stat}); err != nil {
			return err
		}

		v.sb.RetrievalIdx--
		v.sb.RetrievalCache[v.sb.RetrievalIdx] = head
	}
	return v.sb.Store()
}

// deplete flushes the entire insertion cache into the tail of the
// general free list. Idempotent on an empty cache.
func (v *Volume) deplete() error {
	for i := uint32(0); i < v.sb.InsertionIdx; i++ {
		entry := v.sb.InsertionCache[i]
		if v.sb.Dtail == NullCluster {
			v.sb.Dhead = entry
			if err := v.preserveStatAndWrite(entry, clusterHeader{Prev: NullCluster, Next: NullCluster}); err != nil {
				return err
			}
		} else {
			tail := v.sb.Dtail
			th, err := v.readClusterHeader(tail)
			if err != nil {
				return err
			}
			th.Next = entry
			if err := v.writeClusterHeader(tail, th); err != nil {
				return err
			}

			eh, err := v.readClusterHeader(entry)
			if err != nil {
				return err
			}
			eh.Prev = tail
			eh.Next = NullCluster
			if err := v.writeClusterHeader(entry, eh); err != nil {
				return err
			}
		}
		v.sb.Dtail = entry
	}
	v.sb.InsertionIdx = 0
	return v.sb.Store()
}

// preserveStatAndWrite writes prev/next but keeps whatever stat value
// is already on disk (the stale owning-inode stamp a dirty cluster
// retains until it is cleaned on reuse).
func (v *Volume) preserveStatAndWrite(logIdx uint32, h clusterHeader) error {
	old, err := v.readClusterHeader(logIdx)
	if err != nil {
		return err
	}
	h.Stat = old.Stat
	return v.writeClusterHeader(logIdx, h)
}
