package sofsck

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sofs11/sofs11/pkg/sofs"
)

// Options configures a Check run, mirroring the `fsck -f dev [-l log]`
// CLI surface of §6.
type Options struct {
	LogFile string
	Quiet   bool
}

// checker carries the open volume and in-progress report through the
// six phases. Nothing here mutates the volume until the very end,
// where a clean pass clears the dirty-mount flag.
type checker struct {
	v   *sofs.Volume
	r   *Report
	opt Options

	// classes holds phase3's per-cluster classification, indexed by
	// logical cluster number; phase5 consults it while building the
	// cross-reference table.
	classes []clusterClass

	// cacheResident marks clusters phase4 found parked in the
	// retrieval or insertion cache: structurally indistinguishable
	// from an allocated cluster (prev=next=NULL_CLUSTER) by header
	// alone, but logically free and not expected to be referenced by
	// any inode.
	cacheResident map[uint32]bool
}

// Check runs the full offline consistency pass against the backing
// file at devPath and returns the accumulated report. A non-nil error
// means a hard failure aborted the pass early; the report up to that
// point is still returned for inspection. On a clean pass (no
// SeverityError findings) the volume's mstat is reset to
// PROPERLY_UNMOUNTED so a pending Mount can proceed — this is the
// "invoke fsck semantics" step §4.2 describes.
func Check(devPath string, opt Options) (*Report, error) {
	v, err := sofs.OpenRaw(devPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening volume for check")
	}

	c := &checker{v: v, r: &Report{}, opt: opt}

	err = c.run()

	if err != nil {
		v.CloseRaw()
		writeLogFile(opt.LogFile, c.r)
		return c.r, err
	}

	if c.r.HasErrors() {
		v.CloseRaw()
		writeLogFile(opt.LogFile, c.r)
		return c.r, fmt.Errorf("sofsck: volume failed consistency check")
	}

	if err := v.Superblock().MarkCleanUnmount(); err != nil {
		v.CloseRaw()
		return c.r, errors.Wrap(err, "clearing dirty-mount flag after clean check")
	}
	if err := v.CloseRaw(); err != nil {
		return c.r, err
	}

	writeLogFile(opt.LogFile, c.r)
	return c.r, nil
}

func (c *checker) run() error {
	if err := c.phase1Superblock(); err != nil {
		return err
	}
	if err := c.phase2InodeTable(); err != nil {
		return err
	}
	if err := c.phase3DataZone(); err != nil {
		return err
	}
	if err := c.phase4Caches(); err != nil {
		return err
	}
	refd, err := c.phase5CrossReference()
	if err != nil {
		return err
	}
	if err := c.phase6Reachability(refd); err != nil {
		return err
	}
	return nil
}

// phase1Superblock shares sofs.CheckSuperblock — the same predicate
// every mutating L1/L2/L3/L4 entry point runs on itself — rather than
// re-deriving the magic/version/itotal/ntotal arithmetic independently,
// then checks the layout fields that predicate doesn't cover: itable's
// size and the dzone bound.
func (c *checker) phase1Superblock() error {
	sb := c.v.Superblock()

	if err := sofs.CheckSuperblock(sb); err != nil {
		return c.r.fail(1, "superblock header: %v", err)
	}

	wantItableSize := sofs.InodeTableSize(int64(sb.Itotal))
	if int64(sb.ItableSize) != wantItableSize {
		return c.r.fail(1, "itable_size %d does not match ceil(itotal/IPB) %d", sb.ItableSize, wantItableSize)
	}
	if sb.DzoneStart != sb.ItableStart+sb.ItableSize {
		return c.r.fail(1, "dzone_start %d does not immediately follow the inode table", sb.DzoneStart)
	}

	c.r.info(1, "superblock header consistent: %d inodes, %d data clusters", sb.Itotal, sb.DzoneTotal)
	return nil
}
