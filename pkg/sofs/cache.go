package sofs

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SlotKind names one of the four distinguished in-memory slots the
// cache holds. Each slot is sized to what it is meant to carry; there
// is no general-purpose LRU pool, matching §4.1's "at most four
// distinguished slots" requirement.
type SlotKind int

const (
	SlotSuperblock SlotKind = iota
	SlotInodeTable
	SlotDirectRefs
	SlotIndirectRefs

	slotCount
)

// slot is one cache line: a physical block address, the raw bytes
// currently loaded there, and whether those bytes have been mutated
// since the last store.
type slot struct {
	size  int64
	phys  int64 // -1 means empty
	buf   []byte
	dirty bool
}

func newSlot(size int64) *slot {
	return &slot{size: size, phys: -1, buf: make([]byte, size)}
}

// Cache is the process's single source of truth for on-disk content.
// It does not eagerly flush: callers must call Store before relying on
// persistence across operations, and loading a new address into a slot
// silently discards any uncommitted mutation already in it.
type Cache struct {
	dev   *os.File
	slots [slotCount]*slot
}

// OpenDevice opens path for exclusive read+write access. The exclusive
// flock enforces the single-mount-per-volume non-goal at the OS level,
// not just by convention inside this process.
func OpenDevice(path string) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening backing file")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "locking backing file for exclusive mount")
	}

	c := &Cache{dev: f}
	c.slots[SlotSuperblock] = newSlot(BlockSize)
	c.slots[SlotInodeTable] = newSlot(BlockSize)
	c.slots[SlotDirectRefs] = newSlot(ClusterSize)
	c.slots[SlotIndirectRefs] = newSlot(ClusterSize)
	return c, nil
}

// Close releases the flock and the underlying file descriptor. It does
// not flush; callers must Store every dirty slot first.
func (c *Cache) Close() error {
	if c.dev == nil {
		return ErrDeviceNotOpen
	}
	unix.Flock(int(c.dev.Fd()), unix.LOCK_UN)
	err := c.dev.Close()
	c.dev = nil
	if err != nil {
		return errors.Wrap(err, "closing backing file")
	}
	return nil
}

// Load brings the block starting at physBlock into kind's slot,
// discarding whatever was there. It is a no-op re-read if the slot
// already addresses physBlock and is not dirty.
func (c *Cache) Load(kind SlotKind, physBlock int64) ([]byte, error) {
	if c.dev == nil {
		return nil, ErrDeviceNotOpen
	}
	s := c.slots[kind]
	if s.phys == physBlock && !s.dirty {
		return s.buf, nil
	}
	off := physBlock * BlockSize
	n, err := c.dev.ReadAt(s.buf, off)
	if err != nil || int64(n) != s.size {
		return nil, errors.Wrapf(ErrIO, "reading block %d: %v", physBlock, err)
	}
	s.phys = physBlock
	s.dirty = false
	return s.buf, nil
}

// Get returns the in-place buffer currently addressed by kind's slot
// without touching the backing file. Mutations to the returned slice
// are tracked as dirty only once the caller calls MarkDirty.
func (c *Cache) Get(kind SlotKind) []byte {
	return c.slots[kind].buf
}

// MarkDirty flags kind's slot as holding an uncommitted mutation.
func (c *Cache) MarkDirty(kind SlotKind) {
	c.slots[kind].dirty = true
}

// Store writes kind's slot back to its currently addressed physical
// block, clearing the dirty flag.
func (c *Cache) Store(kind SlotKind) error {
	if c.dev == nil {
		return ErrDeviceNotOpen
	}
	s := c.slots[kind]
	if s.phys < 0 {
		return nil
	}
	off := s.phys * BlockSize
	n, err := c.dev.WriteAt(s.buf, off)
	if err != nil || int64(n) != s.size {
		return errors.Wrapf(ErrIO, "writing block %d: %v", s.phys, err)
	}
	s.dirty = false
	return nil
}

// Sync flushes buffered writes through to the underlying storage.
func (c *Cache) Sync() error {
	if c.dev == nil {
		return ErrDeviceNotOpen
	}
	if err := c.dev.Sync(); err != nil {
		return errors.Wrap(err, "syncing backing file")
	}
	return nil
}

// ReadBlock and WriteBlock are used for content that does not fit one
// of the four distinguished slots (e.g. scanning arbitrary data
// clusters during fsck, or mkfs writing every block up front). They
// bypass the cache entirely — callers that need cache coherency with
// an active mount must go through Load/Store on the right slot kind.
func (c *Cache) ReadBlock(physBlock int64, buf []byte) error {
	if c.dev == nil {
		return ErrDeviceNotOpen
	}
	n, err := c.dev.ReadAt(buf, physBlock*BlockSize)
	if err != nil || n != len(buf) {
		return errors.Wrapf(ErrIO, "reading block %d: %v", physBlock, err)
	}
	return nil
}

func (c *Cache) WriteBlock(physBlock int64, buf []byte) error {
	if c.dev == nil {
		return ErrDeviceNotOpen
	}
	n, err := c.dev.WriteAt(buf, physBlock*BlockSize)
	if err != nil || n != len(buf) {
		return errors.Wrapf(ErrIO, "writing block %d: %v", physBlock, err)
	}
	return nil
}
