// Package binarypacking implements BinaryPacking(W): fixed-width packing of
// consecutive mini-blocks, each sized independently to the number of bits
// its own maximum value requires.
//
// A literal translation of SIMDBinaryPacking128 (and its 256/512-bit
// siblings) from the FastPFOR/simdcomp C++ library, generalized over lane
// count instead of being a separate hand-written type per width.
package binarypacking

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/go-simdbp/simdbp"
	"github.com/go-simdbp/simdbp/bitpack"
)

var bo = binary.LittleEndian

// CookiePadder is the alignment filler word written between the length
// prefix and the first block header, kept at the value used by the
// reference implementation (123456) for maximum fidelity to the streams it
// produces; a reimplementation is free to pick another constant (see the
// design notes), but there is no correctness reason to.
const CookiePadder = 0x0001E240 // 123456

// Codec implements BinaryPacking at a fixed SIMD width. It owns no scratch
// state, so a single instance is safe to share across goroutines as long as
// the caller-supplied buffers are not.
type Codec struct {
	w simdbp.Width
}

// New constructs a BinaryPacking codec for the given SIMD width.
func New(w simdbp.Width) (*Codec, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("binarypacking: %w: width %v", simdbp.ErrUnsupportedWidth, w)
	}
	return &Codec{w: w}, nil
}

// Name returns e.g. "BinaryPacking256".
func (c *Codec) Name() string {
	return fmt.Sprintf("BinaryPacking%d", int(c.w))
}

// MiniBlockLen returns the number of integers in one mini-block (== c.w).
func (c *Codec) MiniBlockLen() int {
	return bitpack.MiniBlockLen(c.w)
}

// MiniBlocksPerGroup returns how many mini-blocks share one header group:
// the reference HowManyMiniBlocks constant, c.w.Bytes() (= c.w/8).
func (c *Codec) MiniBlocksPerGroup() int {
	return c.w.Bytes()
}

// BlockSize is the length divisor encode/decode require: one mini-block.
// (The reference implementation's own checkifdivisibleby call validates
// against MiniBlockSize, not a full header group — a header group may be
// partial, handled explicitly by both encodeArray and this Encode.)
func (c *Codec) BlockSize() int {
	return c.MiniBlockLen()
}

func (c *Codec) headerWordsPerGroup() int {
	return c.MiniBlocksPerGroup() / 4
}

// cookieWords returns how many CookiePadder words must follow the length
// prefix to bring the word offset to a multiple of lanes(w).
func (c *Codec) cookieWords() int {
	lanes := c.w.Lanes()
	return (lanes - 1%lanes) % lanes
}

// Encode packs src (length must be a multiple of BlockSize()) into dst,
// returning the number of uint32 words written, or ErrNotEnoughStorage if
// dst is too small. The worst-case output (every mini-block at width 32) is
// lanes(w) words of length prefix and cookie padding, lanes(w) header words
// per group of MiniBlocksPerGroup() mini-blocks, and 32*lanes(w) (==
// MiniBlockLen()) payload words per mini-block: a little more than the
// input length.
func (c *Codec) Encode(dst []uint32, src []uint32) (used int, err error) {
	n := len(src)
	if n%c.BlockSize() != 0 {
		return 0, fmt.Errorf("binarypacking: %w: length %d not a multiple of %d", simdbp.ErrInvalidLength, n, c.BlockSize())
	}
	if err := simdbp.CheckAlignment(c.w, dst); err != nil {
		return 0, fmt.Errorf("binarypacking: %w", err)
	}

	pos := 0
	put := func(v uint32) error {
		if pos >= len(dst) {
			return fmt.Errorf("binarypacking: %w", simdbp.ErrNotEnoughStorage)
		}
		dst[pos] = v
		pos++
		return nil
	}

	if err := put(uint32(n)); err != nil {
		return 0, err
	}
	for i := 0; i < c.cookieWords(); i++ {
		if err := put(CookiePadder); err != nil {
			return 0, err
		}
	}

	miniLen := c.MiniBlockLen()
	perGroup := c.MiniBlocksPerGroup()
	widths := make([]int, perGroup)

	for base := 0; base < n; base += perGroup * miniLen {
		remaining := (n - base) / miniLen
		howmany := perGroup
		if remaining < perGroup {
			howmany = remaining
		}
		for i := range widths {
			widths[i] = 0
		}
		for i := 0; i < howmany; i++ {
			start := base + i*miniLen
			widths[i] = maxBits(src[start : start+miniLen])
		}
		for g := 0; g < perGroup; g += 4 {
			w32 := uint32(widths[g])<<24 | uint32(widths[g+1])<<16 | uint32(widths[g+2])<<8 | uint32(widths[g+3])
			if err := put(w32); err != nil {
				return 0, err
			}
		}
		for i := 0; i < howmany; i++ {
			b := widths[i]
			start := base + i*miniLen
			need := bitpack.PayloadBytes(c.w, b) / 4
			if pos+need > len(dst) {
				return 0, fmt.Errorf("binarypacking: %w", simdbp.ErrNotEnoughStorage)
			}
			packed := make([]byte, need*4)
			if err := bitpack.Pack(c.w, b, false, packed, src[start:start+miniLen]); err != nil {
				return 0, err
			}
			for k := 0; k < need; k++ {
				dst[pos+k] = bo.Uint32(packed[k*4:])
			}
			pos += need
		}
	}

	return pos, nil
}

// Decode reverses Encode. dst must be large enough to hold the decoded
// length recorded in src; consumed is the number of words read from src,
// produced the number of integers written to dst.
func (c *Codec) Decode(dst []uint32, src []uint32) (consumed, produced int, err error) {
	if len(src) < 1 {
		return 0, 0, fmt.Errorf("binarypacking: %w: empty stream", simdbp.ErrCorruptStream)
	}
	if err := simdbp.CheckAlignment(c.w, dst); err != nil {
		return 0, 0, fmt.Errorf("binarypacking: %w", err)
	}
	length := int(src[0])
	pos := 1
	for i := 0; i < c.cookieWords(); i++ {
		if pos >= len(src) {
			return 0, 0, fmt.Errorf("binarypacking: %w: truncated cookie padding", simdbp.ErrCorruptStream)
		}
		if src[pos] != CookiePadder {
			return 0, 0, fmt.Errorf("binarypacking: %w: bad cookie word", simdbp.ErrCorruptStream)
		}
		pos++
	}
	if length > len(dst) {
		return 0, 0, fmt.Errorf("binarypacking: %w: need %d, have %d", simdbp.ErrNotEnoughStorage, length, len(dst))
	}

	miniLen := c.MiniBlockLen()
	perGroup := c.MiniBlocksPerGroup()
	widths := make([]int, perGroup)

	produced = 0
	for produced < length {
		remaining := (length - produced) / miniLen
		howmany := perGroup
		if remaining < perGroup {
			howmany = remaining
		}
		for g := 0; g < perGroup; g += 4 {
			if pos >= len(src) {
				return 0, 0, fmt.Errorf("binarypacking: %w: truncated header", simdbp.ErrCorruptStream)
			}
			w32 := src[pos]
			pos++
			ws := [4]int{int(w32 >> 24 & 0xff), int(w32 >> 16 & 0xff), int(w32 >> 8 & 0xff), int(w32 & 0xff)}
			for k, wv := range ws {
				if wv > 32 {
					return 0, 0, fmt.Errorf("binarypacking: %w: bit width %d out of range", simdbp.ErrCorruptStream, wv)
				}
				widths[g+k] = wv
			}
		}
		for i := 0; i < howmany; i++ {
			b := widths[i]
			need := bitpack.PayloadBytes(c.w, b) / 4
			if pos+need > len(src) {
				return 0, 0, fmt.Errorf("binarypacking: %w: truncated payload", simdbp.ErrCorruptStream)
			}
			packed := make([]byte, need*4)
			for k := 0; k < need; k++ {
				bo.PutUint32(packed[k*4:], src[pos+k])
			}
			pos += need
			if err := bitpack.Unpack(c.w, b, miniLen, dst[produced:produced+miniLen], packed); err != nil {
				return 0, 0, err
			}
			produced += miniLen
		}
	}

	return pos, produced, nil
}

func maxBits(values []uint32) int {
	var maxv uint32
	for _, v := range values {
		if v > maxv {
			maxv = v
		}
	}
	return bits.Len32(maxv)
}
