package sofs

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// superblockDisk is the bit-exact on-disk superblock layout (§3, §6):
// little-endian, block 0, padded to BlockSize. Field order matches the
// teacher's convention of one struct serialised in one binary.Write
// call.
type superblockDisk struct {
	Magic      uint32
	Version    uint32
	VolumeName [VolumeNameSize]byte
	UUID       [16]byte
	Ntotal     uint32
	Mstat      uint16
	_          uint16 // padding to keep the rest of the struct 4-byte aligned

	ItableStart uint32
	ItableSize  uint32
	Itotal      uint32
	Ifree       uint32
	Ihead       uint32
	Itail       uint32

	DzoneStart     uint32
	DzoneTotal     uint32
	DzoneFree      uint32
	RetrievalCache [DallocCacheCap]uint32
	RetrievalIdx   uint32
	InsertionCache [DallocCacheCap]uint32
	InsertionIdx   uint32
	Dhead          uint32
	Dtail          uint32
}

// Superblock is the typed accessor C2 exposes over the superblock cache
// slot. Its fields are the live, mutable state; Load/Store move them to
// and from the cache's byte slot.
type Superblock struct {
	superblockDisk
	cache *Cache
}

// VolumeUUID returns the volume identity assigned at format time.
func (sb *Superblock) VolumeUUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], sb.UUID[:])
	return u
}

// VolumeNameString returns the nul-terminated volume name as a string.
func (sb *Superblock) VolumeNameString() string {
	n := bytes.IndexByte(sb.VolumeName[:], 0)
	if n < 0 {
		n = len(sb.VolumeName)
	}
	return string(sb.VolumeName[:n])
}

func setVolumeName(dst *[VolumeNameSize]byte, name string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[:], name)
}

// LoadSuperblock reads block 0 through the cache's dedicated slot and
// validates its header. It does not itself run fsck on a dirty mount
// flag — that decision belongs to the caller (Volume.Mount), which can
// invoke pkg/sofsck before proceeding, per §4.2.
func LoadSuperblock(c *Cache) (*Superblock, error) {
	buf, err := c.Load(SlotSuperblock, 0)
	if err != nil {
		return nil, err
	}

	sb := &Superblock{cache: c}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &sb.superblockDisk); err != nil {
		return nil, errors.Wrap(err, "decoding superblock")
	}

	if err := checkSuperblock(&sb.superblockDisk); err != nil {
		return nil, err
	}

	return sb, nil
}

// Store serialises the superblock back into its cache slot and writes
// it through to the backing file.
func (sb *Superblock) Store() error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &sb.superblockDisk); err != nil {
		return errors.Wrap(err, "encoding superblock")
	}
	dst := sb.cache.Get(SlotSuperblock)
	copy(dst, buf.Bytes())
	sb.cache.MarkDirty(SlotSuperblock)
	return sb.cache.Store(SlotSuperblock)
}

// MarkMounting sets the dirty-mount flag; callers store it immediately
// so a crash mid-session is visible to the next mount attempt.
func (sb *Superblock) MarkMounting() error {
	sb.Mstat = uint16(NotProperlyUnmounted)
	return sb.Store()
}

// MarkCleanUnmount sets the clean-unmount flag and stores it. Callers
// release the cache (close the device) only after this succeeds.
func (sb *Superblock) MarkCleanUnmount() error {
	sb.Mstat = uint16(ProperlyUnmounted)
	return sb.Store()
}

func (sb *Superblock) mountState() MountState {
	return MountState(sb.Mstat)
}

// itableBlock converts a block index relative to the inode table into
// an absolute physical block number.
func (sb *Superblock) itableBlock(rel int64) int64 {
	return int64(sb.ItableStart) + rel
}

// clusterBlock converts a logical data-cluster index into its physical
// starting block number.
func (sb *Superblock) clusterBlock(logIdx uint32) int64 {
	return ClusterBlock(int64(sb.DzoneStart), logIdx)
}
