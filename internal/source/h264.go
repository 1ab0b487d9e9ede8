package source

import (
	"bytes"
	"fmt"
)

// H.264 NAL unit types the demuxers care about.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSPS   = 7
	nalPPS   = 8
)

// bitReader provides bit-level reads over an RBSP.
type bitReader struct {
	data    []byte
	bitPos  int
	bytePos int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint32, error) {
	if br.bytePos >= len(br.data) {
		return 0, fmt.Errorf("end of data")
	}
	bit := (br.data[br.bytePos] >> (7 - br.bitPos)) & 1
	br.bitPos++
	if br.bitPos == 8 {
		br.bitPos = 0
		br.bytePos++
	}
	return uint32(bit), nil
}

func (br *bitReader) readBits(n int) (uint32, error) {
	if n > 32 || n < 0 {
		return 0, fmt.Errorf("invalid bit count: %d", n)
	}
	if avail := (len(br.data)-br.bytePos)*8 - br.bitPos; avail < n {
		return 0, fmt.Errorf("not enough bits: need %d, have %d", n, avail)
	}
	var v uint32
	for i := 0; i < n; i++ {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | bit
	}
	return v, nil
}

// readUE reads an unsigned Exp-Golomb value.
func (br *bitReader) readUE() (uint32, error) {
	zeros := 0
	for {
		bit, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, fmt.Errorf("too many leading zeros in UE")
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

// readSE reads a signed Exp-Golomb value.
func (br *bitReader) readSE() (int32, error) {
	ue, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if ue%2 == 0 {
		return -int32(ue / 2), nil
	}
	return int32((ue + 1) / 2), nil
}

// unescapeRBSP strips emulation prevention bytes (00 00 03 0x, x <= 3).
func unescapeRBSP(data []byte) []byte {
	if len(data) < 3 {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i >= 2 && data[i-2] == 0 && data[i-1] == 0 && data[i] == 3 {
			if i+1 >= len(data) || data[i+1] <= 3 {
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// splitNALUs returns the NAL units of an Annex-B byte stream, start codes
// removed.
func splitNALUs(b []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(b); {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && b[end-1] == 0 {
					end--
				}
				nalus = append(nalus, b[start:end])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(b) {
		nalus = append(nalus, b[start:])
	}
	return nalus
}

// h264Keyframe reports whether an access unit carries an IDR slice.
func h264Keyframe(au []byte) bool {
	for _, n := range splitNALUs(au) {
		if len(n) > 0 && n[0]&0x1f == nalIDR {
			return true
		}
	}
	return false
}

// h264FindSPS returns the first SPS (header byte included) in an access unit.
func h264FindSPS(au []byte) []byte {
	for _, n := range splitNALUs(au) {
		if len(n) > 3 && n[0]&0x1f == nalSPS {
			return n
		}
	}
	return nil
}

// h264Size parses an SPS NAL unit (header byte included) and returns the
// cropped picture size.
func h264Size(sps []byte) (int, int, error) {
	if len(sps) < 4 {
		return 0, 0, fmt.Errorf("SPS too short")
	}
	br := newBitReader(unescapeRBSP(sps[1:]))

	profile, err := br.readBits(8)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read profile_idc: %w", err)
	}
	if _, err := br.readBits(16); err != nil { // constraint flags + level
		return 0, 0, err
	}
	if _, err := br.readUE(); err != nil { // seq_parameter_set_id
		return 0, 0, err
	}

	chroma := uint32(1)
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		if chroma, err = br.readUE(); err != nil {
			return 0, 0, fmt.Errorf("failed to read chroma_format_idc: %w", err)
		}
		if chroma == 3 {
			if _, err := br.readBit(); err != nil {
				return 0, 0, err
			}
		}
		if _, err := br.readUE(); err != nil { // bit_depth_luma_minus8
			return 0, 0, err
		}
		if _, err := br.readUE(); err != nil { // bit_depth_chroma_minus8
			return 0, 0, err
		}
		if _, err := br.readBit(); err != nil { // qpprime_y_zero_transform_bypass
			return 0, 0, err
		}
		present, err := br.readBit()
		if err != nil {
			return 0, 0, err
		}
		if present == 1 {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				flag, err := br.readBit()
				if err != nil {
					return 0, 0, err
				}
				if flag == 1 {
					if err := skipScalingList(br, i); err != nil {
						return 0, 0, fmt.Errorf("failed to skip scaling list: %w", err)
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil { // log2_max_frame_num_minus4
		return 0, 0, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pic_order_cnt_type: %w", err)
	}
	switch pocType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return 0, 0, err
		}
	case 1:
		if _, err := br.readBit(); err != nil {
			return 0, 0, err
		}
		if _, err := br.readSE(); err != nil {
			return 0, 0, err
		}
		if _, err := br.readSE(); err != nil {
			return 0, 0, err
		}
		n, err := br.readUE()
		if err != nil {
			return 0, 0, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := br.readSE(); err != nil {
				return 0, 0, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return 0, 0, err
	}
	if _, err := br.readBit(); err != nil { // gaps_in_frame_num_value_allowed
		return 0, 0, err
	}
	wmbs, err := br.readUE()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pic_width_in_mbs_minus1: %w", err)
	}
	hmaps, err := br.readUE()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pic_height_in_map_units_minus1: %w", err)
	}
	frameMbsOnly, err := br.readBit()
	if err != nil {
		return 0, 0, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBit(); err != nil {
			return 0, 0, err
		}
	}
	if _, err := br.readBit(); err != nil { // direct_8x8_inference
		return 0, 0, err
	}

	width := (wmbs + 1) * 16
	height := (2 - frameMbsOnly) * (hmaps + 1) * 16

	cropping, err := br.readBit()
	if err != nil {
		return 0, 0, err
	}
	if cropping == 1 {
		var crop [4]uint32
		for i := range crop {
			if crop[i], err = br.readUE(); err != nil {
				return 0, 0, fmt.Errorf("failed to read frame crop offset: %w", err)
			}
		}
		subW, subH := uint32(1), uint32(1)
		switch chroma {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		unitY := subH * (2 - frameMbsOnly)
		width -= (crop[0] + crop[1]) * subW
		height -= (crop[2] + crop[3]) * unitY
	}
	return int(width), int(height), nil
}

func skipScalingList(br *bitReader, index int) error {
	size := 16
	if index >= 6 {
		size = 64
	}
	last, next := int32(8), int32(8)
	for i := 0; i < size; i++ {
		if next != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

var annexBStartCode = []byte{0, 0, 0, 1}

// appendNALU appends nalu to an Annex-B buffer.
func appendNALU(dst, nalu []byte) []byte {
	if bytes.HasPrefix(nalu, annexBStartCode) {
		return append(dst, nalu...)
	}
	dst = append(dst, annexBStartCode...)
	return append(dst, nalu...)
}
