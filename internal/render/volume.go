package render

import (
	"encoding/binary"
	"math"
)

const (
	VolumeMinDB = -30
	VolumeMaxDB = 12
	// VolumeUnity is the Q14 fixed-point multiplier for 0 dB.
	VolumeUnity = 1 << 14
)

// VolumeTable maps 256 volume steps spread evenly over
// [VolumeMinDB, VolumeMaxDB) to Q14 gain multipliers.
type VolumeTable struct {
	scalar [256]int32
	zeroDB int
}

// NewVolumeTable builds the table. Index 0 is silence and the 0 dB index is
// exactly VolumeUnity.
func NewVolumeTable(mindb, maxdb int) *VolumeTable {
	t := &VolumeTable{}
	for i := range t.scalar {
		db := float64(mindb) + float64(maxdb-mindb)*float64(i)/256
		t.scalar[i] = int32(VolumeUnity * math.Pow(10, db/20))
	}
	z := -mindb * 256 / (maxdb - mindb)
	z = min(max(z, 0), 255)
	t.scalar[0] = 0
	t.scalar[z] = VolumeUnity
	t.zeroDB = z
	return t
}

// ZeroDB returns the index of unity gain.
func (t *VolumeTable) ZeroDB() int { return t.zeroDB }

// Multiplier returns the Q14 gain at index i, clamped to the table.
func (t *VolumeTable) Multiplier(i int) int32 {
	return t.scalar[min(max(i, 0), 255)]
}

// Index converts a volume offset from 0 dB into a table index.
func (t *VolumeTable) Index(offset int) int {
	return min(max(offset+t.zeroDB, 0), 255)
}

// applyVolume scales S16LE samples in place by a Q14 multiplier. Gains
// above unity saturate.
func applyVolume(buf []byte, multiplier int32) {
	switch {
	case multiplier > VolumeUnity:
		for i := 0; i+1 < len(buf); i += 2 {
			v := int32(int16(binary.LittleEndian.Uint16(buf[i:]))) * multiplier >> 14
			v = min(max(v, -0x7fff), 0x7fff)
			binary.LittleEndian.PutUint16(buf[i:], uint16(int16(v)))
		}
	case multiplier < VolumeUnity:
		for i := 0; i+1 < len(buf); i += 2 {
			v := int32(int16(binary.LittleEndian.Uint16(buf[i:]))) * multiplier >> 14
			binary.LittleEndian.PutUint16(buf[i:], uint16(int16(v)))
		}
	}
}
