package mocks

import "math/bits"

// Annex B helpers for building test access units.
var startCode = []byte{0, 0, 0, 1}

// Baseline profile parameter sets (level 1.0, POC type 2, no VUI), small
// enough to build streams by hand.
var (
	SPS64x48 = []byte{0x67, 0x42, 0xc0, 0x0a, 0xda, 0x11, 0xe4}
	SPS32x32 = []byte{0x67, 0x42, 0xc0, 0x0a, 0xda, 0x25, 0x90}
	PPS      = []byte{0x68, 0xce, 0x38, 0x80}
)

// IDRUnit returns an access unit holding one IDR slice NAL unit with the given payload.
// Payload bytes should be non-zero so they survive start code scanning.
func IDRUnit(payload ...byte) []byte {
	return nalUnit(0x65, payload)
}

// SliceUnit returns an access unit holding one non-IDR slice NAL unit.
func SliceUnit(payload ...byte) []byte {
	return nalUnit(0x41, payload)
}

// IDRSliceUnit returns an IDR access unit whose slice starts at macroblock
// firstMB. Zero starts a new picture; anything else continues one.
// firstMB must be below 15.
func IDRSliceUnit(firstMB uint) []byte {
	return nalUnit(0x65, sliceHeader(firstMB))
}

// SliceUnitAt is IDRSliceUnit for a non-IDR slice.
func SliceUnitAt(firstMB uint) []byte {
	return nalUnit(0x41, sliceHeader(firstMB))
}

// sliceHeader encodes first_mb_in_slice as ue(v) in the first byte.
func sliceHeader(firstMB uint) []byte {
	n := firstMB + 1
	l := bits.Len(n)
	return []byte{byte(n << (9 - 2*l)), 0x80}
}

// ParameterSetUnit returns an access unit carrying SEI and AUD NAL units only,
// which never produces a picture.
func ParameterSetUnit() []byte {
	unit := nalUnit(0x06, []byte{0x05, 0x01, 0x80})
	return append(unit, nalUnit(0x09, []byte{0xf0})...)
}

// AnnexB joins complete NAL units (header byte included) with start codes.
func AnnexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

func nalUnit(header byte, payload []byte) []byte {
	unit := make([]byte, 0, len(startCode)+1+len(payload))
	unit = append(unit, startCode...)
	unit = append(unit, header)
	return append(unit, payload...)
}
