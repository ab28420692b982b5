package sofsck

import "github.com/sofs11/sofs11/pkg/sofs"

// clusterClass is fsck's own classification of a cluster header,
// independent of which inode (if any) claims it — phase 5 fills that
// in separately.
type clusterClass int

const (
	classAllocated clusterClass = iota
	classFreeClean
	classOnFreeList
)

// phase3DataZone classifies every data cluster by its header shape and
// walks the general free list from dhead, mirroring phase2's inode
// free-list walk.
func (c *checker) phase3DataZone() error {
	sb := c.v.Superblock()
	c.classes = make([]clusterClass, sb.DzoneTotal)
	onList := make(map[uint32]bool, sb.DzoneFree)

	for n := uint32(0); n < sb.DzoneTotal; n++ {
		prev, next, stat, err := c.v.InspectClusterHeader(n)
		if err != nil {
			return c.r.fail(3, "cluster %d: %v", n, err)
		}

		switch {
		case prev == sofs.NullCluster && next == sofs.NullCluster && stat == sofs.NullInode:
			if err := sofs.CheckClusterHeader(prev, next, stat, sofs.ClusterFreeClean); err != nil {
				return c.r.fail(3, "cluster %d: %v", n, err)
			}
			c.classes[n] = classFreeClean
			c.r.ClustersFree++
		case prev == sofs.NullCluster && next == sofs.NullCluster:
			if err := sofs.CheckClusterHeader(prev, next, stat, sofs.ClusterAllocated); err != nil {
				return c.r.fail(3, "cluster %d: %v", n, err)
			}
			c.classes[n] = classAllocated
			c.r.ClustersInUse++
		default:
			c.classes[n] = classOnFreeList
			onList[n] = true
			c.r.ClustersFree++
		}
	}

	if err := c.walkClusterFreeList(onList); err != nil {
		return err
	}

	c.r.info(3, "data zone scan: %d allocated, %d free", c.r.ClustersInUse, c.r.ClustersFree)
	return nil
}

func (c *checker) walkClusterFreeList(onList map[uint32]bool) error {
	sb := c.v.Superblock()

	if sb.Dhead == sofs.NullCluster {
		if sb.Dtail != sofs.NullCluster {
			return c.r.fail(3, "dhead is NULL_CLUSTER but dtail is not")
		}
		if len(onList) != 0 {
			return c.r.fail(3, "dhead is NULL_CLUSTER but %d clusters carry free-list linkage", len(onList))
		}
		return nil
	}

	visited := make(map[uint32]bool, len(onList))
	prev := sofs.NullCluster
	cur := sb.Dhead
	var steps uint32
	bound := sb.DzoneTotal

	for cur != sofs.NullCluster {
		if steps > bound {
			return c.r.fail(3, "cluster free list loop detected after %d steps", steps)
		}
		if visited[cur] {
			return c.r.fail(3, "cluster free list revisits %d", cur)
		}
		visited[cur] = true

		p, next, _, err := c.v.InspectClusterHeader(cur)
		if err != nil {
			return c.r.fail(3, "cluster %d: %v", cur, err)
		}
		if p != prev {
			return c.r.fail(3, "cluster %d: prev=%d does not match predecessor %d", cur, p, prev)
		}

		prev = cur
		cur = next
		steps++
	}

	if prev != sb.Dtail {
		return c.r.fail(3, "cluster free list tail %d does not match dtail %d", prev, sb.Dtail)
	}
	for n := range onList {
		if !visited[n] {
			return c.r.fail(3, "cluster %d carries free-list linkage but is unreachable from dhead", n)
		}
	}

	return nil
}
