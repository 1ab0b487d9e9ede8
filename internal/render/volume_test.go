package render

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeTableInvariants(t *testing.T) {
	vt := NewVolumeTable(VolumeMinDB, VolumeMaxDB)

	assert.Equal(t, int32(0), vt.Multiplier(0), "index 0 is silence")
	assert.Equal(t, 182, vt.ZeroDB())
	assert.Equal(t, int32(VolumeUnity), vt.Multiplier(vt.ZeroDB()), "zero dB is exact unity")

	for i := 1; i < 256; i++ {
		assert.GreaterOrEqual(t, vt.Multiplier(i), vt.Multiplier(i-1), "index %d", i)
	}
	assert.Greater(t, vt.Multiplier(255), int32(VolumeUnity))
}

func TestVolumeIndexClamp(t *testing.T) {
	vt := NewVolumeTable(VolumeMinDB, VolumeMaxDB)

	assert.Equal(t, vt.ZeroDB(), vt.Index(0))
	assert.Equal(t, 0, vt.Index(-1000))
	assert.Equal(t, 255, vt.Index(1000))
	assert.Equal(t, vt.ZeroDB()+10, vt.Index(10))
}

func samplesS16(vals ...int16) []byte {
	b := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint16(b, uint16(v))
	}
	return b
}

func readS16(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*2:]))
}

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name       string
		multiplier int32
		in         []int16
		want       []int16
	}{
		{"unity", VolumeUnity, []int16{100, -100, 32767}, []int16{100, -100, 32767}},
		{"half", VolumeUnity / 2, []int16{100, -100, 32766}, []int16{50, -50, 16383}},
		{"silence", 0, []int16{100, -100}, []int16{0, 0}},
		{"saturate", VolumeUnity * 2, []int16{20000, -20000, 10}, []int16{0x7fff, -0x7fff, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := samplesS16(tt.in...)
			applyVolume(buf, tt.multiplier)
			for i, w := range tt.want {
				assert.Equal(t, w, readS16(buf, i))
			}
		})
	}
}
