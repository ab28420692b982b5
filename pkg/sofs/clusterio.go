package sofs

import (
	"encoding/binary"
)

// This file holds the low-level byte-layout helpers shared by the
// data-cluster allocator (C5) and the file-cluster mapper (C7): header
// encode/decode and reference-array encode/decode over a whole
// cluster's worth of bytes.

func decodeHeader(buf []byte) clusterHeader {
	return clusterHeader{
		Prev: binary.LittleEndian.Uint32(buf[0:4]),
		Next: binary.LittleEndian.Uint32(buf[4:8]),
		Stat: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

func encodeHeader(buf []byte, h clusterHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Prev)
	binary.LittleEndian.PutUint32(buf[4:8], h.Next)
	binary.LittleEndian.PutUint32(buf[8:12], h.Stat)
}

// readClusterHeader reads just the 12-byte header of logical data
// cluster logIdx, bypassing the distinguished slots (used by the
// allocator to inspect a cluster it is not about to fully materialise).
func (v *Volume) readClusterHeader(logIdx uint32) (clusterHeader, error) {
	buf := make([]byte, ClusterHeaderSize)
	if err := v.cache.ReadBlock(v.sb.clusterBlock(logIdx), buf); err != nil {
		return clusterHeader{}, err
	}
	return decodeHeader(buf), nil
}

func (v *Volume) writeClusterHeader(logIdx uint32, h clusterHeader) error {
	buf := make([]byte, ClusterHeaderSize)
	encodeHeader(buf, h)
	return v.cache.WriteBlock(v.sb.clusterBlock(logIdx), buf)
}

// refCluster is the decoded view of a reference cluster: its header
// plus the flat array of RefsPerCluster logical-cluster references
// that follow it.
type refCluster struct {
	Header clusterHeader
	Refs   [RefsPerCluster]uint32
}

func decodeRefCluster(buf []byte) refCluster {
	var rc refCluster
	rc.Header = decodeHeader(buf)
	for i := 0; i < RefsPerCluster; i++ {
		off := ClusterHeaderSize + i*4
		rc.Refs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return rc
}

func (rc *refCluster) encode(buf []byte) {
	encodeHeader(buf, rc.Header)
	for i := 0; i < RefsPerCluster; i++ {
		off := ClusterHeaderSize + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], rc.Refs[i])
	}
}

// readRefCluster loads the reference cluster at logIdx into the given
// slot (SlotDirectRefs for terminal data, SlotIndirectRefs for any
// level of the indirect reference tree) and returns its decoded view.
func (v *Volume) readRefCluster(slot SlotKind, logIdx uint32) (refCluster, error) {
	buf, err := v.cache.Load(slot, v.sb.clusterBlock(logIdx))
	if err != nil {
		return refCluster{}, err
	}
	rc := decodeRefCluster(buf)
	if err := checkRefList(rc.Refs[:], v.sb.DzoneTotal); err != nil {
		return refCluster{}, err
	}
	return rc, nil
}

func (v *Volume) storeRefCluster(slot SlotKind, rc refCluster) error {
	buf := v.cache.Get(slot)
	rc.encode(buf)
	v.cache.MarkDirty(slot)
	return v.cache.Store(slot)
}

// zeroClusterPayload zero-fills a cluster's payload bytes (used when
// materialising a fresh reference cluster and when cleaning a
// reused dirty one), leaving the header untouched.
func zeroClusterPayload(buf []byte) {
	for i := ClusterHeaderSize; i < len(buf); i++ {
		buf[i] = 0
	}
}
