package sofsck

import "github.com/sofs11/sofs11/pkg/sofs"

// phase5CrossReference walks every in-use inode's direct, single- and
// double-indirect references, marking each claimed cluster in a table
// shared across all inodes so a double-claim is caught as a hard
// error. It returns the finished table for phase6 to consult when
// confirming a directory's reported size matches its claimed clusters.
func (c *checker) phase5CrossReference() (map[uint32]uint32, error) {
	sb := c.v.Superblock()
	owner := make(map[uint32]uint32, sb.DzoneTotal)

	claim := func(n uint32, by uint32) error {
		if n == sofs.NullCluster {
			return nil
		}
		if n >= sb.DzoneTotal {
			return c.r.fail(5, "inode %d references out-of-range cluster %d", by, n)
		}
		if c.classes[n] != classAllocated {
			return c.r.fail(5, "inode %d references cluster %d which is not allocated", by, n)
		}
		if prior, ok := owner[n]; ok {
			return c.r.fail(5, "cluster %d double-referenced by inodes %d and %d", n, prior, by)
		}
		owner[n] = by
		return nil
	}

	claimRefCluster := func(logIdx uint32, by uint32) ([sofs.RefsPerCluster]uint32, error) {
		_, _, _, refs, err := c.v.InspectRefCluster(logIdx)
		if err != nil {
			return refs, c.r.fail(5, "inode %d: reading reference cluster %d: %v", by, logIdx, err)
		}
		if err := sofs.CheckRefList(refs[:], sb.DzoneTotal); err != nil {
			return refs, c.r.fail(5, "inode %d: reference cluster %d: %v", by, logIdx, err)
		}
		return refs, nil
	}

	for n := uint32(0); n < sb.Itotal; n++ {
		ino, err := c.v.InspectInode(n)
		if err != nil {
			return nil, c.r.fail(5, "inode %d: %v", n, err)
		}
		if ino.Status != sofs.StatusInUse {
			continue
		}

		for _, d := range ino.Direct {
			if err := claim(d, n); err != nil {
				return nil, err
			}
		}

		if ino.I1 != sofs.NullCluster {
			if err := claim(ino.I1, n); err != nil {
				return nil, err
			}
			refs, err := claimRefCluster(ino.I1, n)
			if err != nil {
				return nil, err
			}
			for _, r := range refs {
				if err := claim(r, n); err != nil {
					return nil, err
				}
			}
		}

		if ino.I2 != sofs.NullCluster {
			if err := claim(ino.I2, n); err != nil {
				return nil, err
			}
			outer, err := claimRefCluster(ino.I2, n)
			if err != nil {
				return nil, err
			}
			for _, mid := range outer {
				if mid == sofs.NullCluster {
					continue
				}
				if err := claim(mid, n); err != nil {
					return nil, err
				}
				inner, err := claimRefCluster(mid, n)
				if err != nil {
					return nil, err
				}
				for _, r := range inner {
					if err := claim(r, n); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for n := uint32(0); n < sb.DzoneTotal; n++ {
		if c.classes[n] == classAllocated {
			if _, ok := owner[n]; !ok {
				c.r.warn(5, "cluster %d is marked allocated but no inode claims it", n)
			}
		}
	}

	c.r.info(5, "cross-reference: %d clusters claimed by %d in-use inodes", len(owner), c.r.InodesInUse)
	return owner, nil
}
