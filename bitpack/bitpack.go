// Package bitpack implements the vertical bit-packing kernels shared by the
// binarypacking, fastpfor and groupsimple codecs: for every SIMD width W and
// every bit width b in [0,32], pack W integers (one mini-block) into b
// W-bit vectors, and the inverse.
//
// Each lane is an independent 32-bit-wide streaming accumulator: the reader
// can think of a mini-block as an 32-row by lanes(W)-column matrix, packed
// one column at a time. This is a literal translation of the "fastpack" /
// "fastunpack" routines found throughout the FastPFOR/simdcomp C family,
// generalized over the lane count instead of being unrolled per width.
package bitpack

import (
	"encoding/binary"
	"fmt"

	"github.com/go-simdbp/simdbp"
)

// laneLength is the number of integers each lane accumulates, independent of
// W: a mini-block always has exactly 32 values per lane, so lanes(W)*32 ==
// MiniBlockLen(W) == W.
const laneLength = 32

const maxUint32 = ^uint32(0)

var bo = binary.LittleEndian

// MiniBlockLen returns the number of integers one mini-block holds at width
// w: exactly w.Lanes() * 32, which is numerically w itself.
func MiniBlockLen(w simdbp.Width) int {
	return int(w)
}

// PayloadBytes returns the number of bytes a mini-block packs to at bit
// width b: b vectors of w bits, i.e. b*w.Lanes() 32-bit words.
func PayloadBytes(w simdbp.Width, b int) int {
	if b <= 0 {
		return 0
	}
	return b * w.Lanes() * 4
}

// Pack bit-packs MiniBlockLen(w) integers from src into dst at width b. If
// withMask is false (the "without-mask" variant) the caller must guarantee
// every value already fits in b bits; violating that precondition silently
// corrupts the output, it is not checked. dst must be at least
// PayloadBytes(w, b) bytes. src shorter than MiniBlockLen(w) is treated as
// zero-padded.
func Pack(w simdbp.Width, b int, withMask bool, dst []byte, src []uint32) error {
	if b < 0 || b > 32 {
		return fmt.Errorf("bitpack: %w: bit width %d", simdbp.ErrUnsupportedWidth, b)
	}
	if b == 0 {
		return nil
	}
	lanes := w.Lanes()
	bytesPerLane := b * 4
	for lane := 0; lane < lanes; lane++ {
		out := dst[lane*bytesPerLane : (lane+1)*bytesPerLane]
		if withMask {
			packLaneWithMask(out, src, lane, lanes, b)
		} else {
			packLaneWithoutMask(out, src, lane, lanes, b)
		}
	}
	return nil
}

// Unpack reverses Pack, reconstructing count integers (count <=
// MiniBlockLen(w)) into dst from a src buffer of PayloadBytes(w, b) bytes.
// Unpacked values always lie in [0, 2^b).
func Unpack(w simdbp.Width, b int, count int, dst []uint32, src []byte) error {
	if b < 0 || b > 32 {
		return fmt.Errorf("bitpack: %w: bit width %d", simdbp.ErrUnsupportedWidth, b)
	}
	if b == 0 {
		for i := 0; i < count; i++ {
			dst[i] = 0
		}
		return nil
	}
	lanes := w.Lanes()
	bytesPerLane := b * 4
	for lane := 0; lane < lanes; lane++ {
		in := src[lane*bytesPerLane : (lane+1)*bytesPerLane]
		unpackLane(dst, in, lane, lanes, b, count)
	}
	return nil
}

func maskFor(b int) uint64 {
	if b >= 32 {
		return uint64(maxUint32)
	}
	return (uint64(1) << uint(b)) - 1
}

// packLaneWithMask streams the values belonging to one lane (lane,
// lane+lanes, lane+2*lanes, ...) through a 64-bit shift accumulator,
// truncating each value to b bits before OR-ing it in. Equivalent to:
//
//	for i := 0; i < 32; i++ {
//	    acc |= (v[i] & mask) << shift
//	    shift += b
//	    if shift >= 32 { emit(uint32(acc)); acc >>= 32; shift -= 32 }
//	}
func packLaneWithMask(out []byte, src []uint32, lane, lanes, b int) {
	mask := maskFor(b)
	var acc uint64
	var nbits int
	o := 0
	for i := 0; i < laneLength; i++ {
		idx := lane + i*lanes
		var v uint32
		if idx < len(src) {
			v = src[idx]
		}
		acc |= (uint64(v) & mask) << uint(nbits)
		nbits += b
		for nbits >= 32 {
			bo.PutUint32(out[o:], uint32(acc))
			o += 4
			acc >>= 32
			nbits -= 32
		}
	}
	if nbits > 0 {
		bo.PutUint32(out[o:], uint32(acc))
	}
}

// packLaneWithoutMask is packLaneWithMask without the truncating mask: it
// assumes every value already fits in b bits, matching the reference
// "fastpackwithoutmask" kernels used on the hot encode path once the block's
// chosen width has already been validated against the data.
func packLaneWithoutMask(out []byte, src []uint32, lane, lanes, b int) {
	var acc uint64
	var nbits int
	o := 0
	for i := 0; i < laneLength; i++ {
		idx := lane + i*lanes
		var v uint32
		if idx < len(src) {
			v = src[idx]
		}
		acc |= uint64(v) << uint(nbits)
		nbits += b
		for nbits >= 32 {
			bo.PutUint32(out[o:], uint32(acc))
			o += 4
			acc >>= 32
			nbits -= 32
		}
	}
	if nbits > 0 {
		bo.PutUint32(out[o:], uint32(acc))
	}
}

// unpackLane is the inverse of packLaneWithMask/packLaneWithoutMask: it
// always masks to b bits on the way out, since a packed stream never carries
// more than b significant bits per value regardless of which pack variant
// produced it.
func unpackLane(dst []uint32, in []byte, lane, lanes, b, count int) {
	mask := uint32(maskFor(b))
	var acc uint64
	var nbits int
	o := 0
	for i := 0; i < laneLength; i++ {
		for nbits < b {
			if o >= len(in) {
				nbits = b
				break
			}
			acc |= uint64(bo.Uint32(in[o:])) << uint(nbits)
			o += 4
			nbits += 32
		}
		v := uint32(acc) & mask
		acc >>= uint(b)
		nbits -= b
		idx := lane + i*lanes
		if idx < count {
			dst[idx] = v
		}
	}
}
