package sofsck

import "github.com/sofs11/sofs11/pkg/sofs"

// phase4Caches inspects the retrieval and insertion caches embedded in
// the superblock. Both arrays hold logical cluster numbers whose
// header was already rewritten to prev=next=NULL_CLUSTER at the time
// they entered the cache (§4.5), which makes them indistinguishable
// from a genuinely allocated cluster by header shape alone; this phase
// reclassifies them from phase3's tentative classAllocated back to
// free and records them so phase5 does not expect any inode to
// reference them.
func (c *checker) phase4Caches() error {
	sb := c.v.Superblock()
	retrievalResident := uint32(sofs.DallocCacheCap) - sb.RetrievalIdx
	c.cacheResident = make(map[uint32]bool, retrievalResident+sb.InsertionIdx)

	dirty := 0
	for i := sb.RetrievalIdx; i < uint32(sofs.DallocCacheCap); i++ {
		n := sb.RetrievalCache[i]
		if err := c.admitCacheEntry(n, "retrieval"); err != nil {
			return err
		}
		_, _, stat, err := c.v.InspectClusterHeader(n)
		if err != nil {
			return c.r.fail(4, "retrieval cache entry %d: %v", n, err)
		}
		if stat != sofs.NullInode {
			dirty++
		}
	}

	for i := uint32(0); i < sb.InsertionIdx; i++ {
		n := sb.InsertionCache[i]
		if err := c.admitCacheEntry(n, "insertion"); err != nil {
			return err
		}
	}

	if dirty > 0 {
		c.r.info(4, "%d retrieval-cache entries are still dirty (lazily cleaned on next allocate)", dirty)
	}
	c.r.info(4, "cache integrity: %d retrieval, %d insertion entries resident", retrievalResident, sb.InsertionIdx)
	return nil
}

func (c *checker) admitCacheEntry(n uint32, which string) error {
	sb := c.v.Superblock()
	if n >= sb.DzoneTotal {
		return c.r.fail(4, "%s cache entry %d out of range (dzone_total=%d)", which, n, sb.DzoneTotal)
	}
	if c.cacheResident[n] {
		return c.r.fail(4, "cluster %d appears in both caches at once", n)
	}

	switch c.classes[n] {
	case classOnFreeList:
		return c.r.fail(4, "%s cache entry %d still carries general-free-list linkage", which, n)
	case classAllocated:
		// Dirty retrieval/insertion entry: header looks allocated
		// (prev=next=NULL) but it is logically free, reclassify.
		c.classes[n] = classOnFreeList
		c.r.ClustersInUse--
		c.r.ClustersFree++
	case classFreeClean:
		// Already cleaned and already counted as free by phase3.
	}

	c.cacheResident[n] = true
	return nil
}
