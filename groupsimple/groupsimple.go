// Package groupsimple implements GroupSimple(W): a selector-driven packer
// that chooses, for each run of groups, the widest of ten fixed (n, b)
// modes whose next n group pseudo-maxima all fit in b bits, trading a
// per-run 4-bit selector for much denser packing on low-entropy data than a
// single global bit width would achieve.
//
// A "group" is lanes(W) = W/32 integers — one cross-lane column of a
// W-bit vector. This is a direct translation of SIMDGroupSimple256/512 from
// the FastPFOR/simdcomp C++ library, generalized over lane count.
package groupsimple

import (
	"encoding/binary"
	"fmt"

	"github.com/go-simdbp/simdbp"
)

var bo = binary.LittleEndian

// mode describes one of the ten fixed (n, b) selector modes: n groups
// packed at b bits per lane into exactly one W-bit vector.
type mode struct {
	n, b int
}

// modes are the ten fixed (n, b) pairs, in descending n / ascending b
// order; selector i indexes modes[i].
var modes = [10]mode{
	{32, 1}, {16, 2}, {10, 3}, {8, 4}, {6, 5}, {5, 6}, {4, 8}, {3, 10}, {2, 16}, {1, 32},
}

// rbWindow bounds how far ahead the ring-buffer strategy looks: the widest
// mode consumes 32 groups, so a 32-group window is always sufficient.
const rbWindow = 32

// Strategy selects one of GroupSimple's two encode algorithms. Both share
// the same decoder.
type Strategy int

const (
	// WoRingBuf computes every group's pseudo-max up front, then greedily
	// assigns selectors over the whole array before packing any data.
	WoRingBuf Strategy = iota
	// WRingBuf selects through a bounded rbWindow-group lookahead window
	// rather than the whole remaining group-max array. The group-max array
	// is still computed in full before selection, and data is packed only
	// after every selector is chosen, as with WoRingBuf; the passes are not
	// interleaved, and the selectors chosen are the same as WoRingBuf's.
	WRingBuf
)

func (s Strategy) String() string {
	if s == WRingBuf {
		return "wRingBuf"
	}
	return "woRingBuf"
}

// Codec implements GroupSimple at a fixed SIMD width and strategy.
// pessimisticGap only affects WRingBuf: when true, the selector area is
// sized for the worst case (one selector per group); when false, it is sized
// to the actual selector count, so the stream is as compact as WoRingBuf's.
type Codec struct {
	w              simdbp.Width
	strategy       Strategy
	pessimisticGap bool

	groupMax []uint32
}

// New constructs a GroupSimple codec. w must be Width256 or Width512.
func New(w simdbp.Width, strategy Strategy, pessimisticGap bool) (*Codec, error) {
	if w != simdbp.Width256 && w != simdbp.Width512 {
		return nil, fmt.Errorf("groupsimple: %w: width %v", simdbp.ErrUnsupportedWidth, w)
	}
	return &Codec{w: w, strategy: strategy, pessimisticGap: pessimisticGap}, nil
}

// Name returns e.g. "GroupSimple256".
func (c *Codec) Name() string {
	return fmt.Sprintf("GroupSimple%d", int(c.w))
}

// GroupLen returns the number of integers in one group: c.w.Lanes().
func (c *Codec) GroupLen() int {
	return c.w.Lanes()
}

// BlockSize is the length divisor Encode requires: one group.
func (c *Codec) BlockSize() int {
	return c.GroupLen()
}

// Encode compresses src into dst, returning the number of uint32 words
// written. len(src) must be a multiple of BlockSize().
//
// The stream is a 3-word header (total length, selector count, selector
// area size in bytes), the selector area itself (4 bits per selector, low
// nibble first), a count_groups_last_block byte, padding up to a whole
// vector, then one packed vector per selector. Every selector but the last
// packs exactly modes[sel].n groups at modes[sel].b bits. The last selector
// is special: the selection loop may match it against fewer than modes[sel].n
// groups when the stream runs out before a full block — count_groups_last
// block records that actual count, and the last vector is packed at the
// synthetic width b = 32/count rather than modes[sel].b. That width is never
// narrower than modes[sel].b (floor(32/l) >= floor(32/n) whenever l <= n), so
// this never loses precision versus the ordinary table-driven packing it
// replaces; it is also what makes a literal "final block ends mid-table"
// case safe without a dedicated tail-only code path.
func (c *Codec) Encode(dst []uint32, src []uint32) (used int, err error) {
	lanes := c.w.Lanes()
	if len(src)%lanes != 0 {
		return 0, fmt.Errorf("groupsimple: %w: length %d not a multiple of %d", simdbp.ErrInvalidLength, len(src), lanes)
	}
	if err := simdbp.CheckAlignment(c.w, dst); err != nil {
		return 0, fmt.Errorf("groupsimple: %w", err)
	}
	totalGroups := len(src) / lanes

	if cap(c.groupMax) < totalGroups {
		c.groupMax = make([]uint32, totalGroups)
	} else {
		c.groupMax = c.groupMax[:totalGroups]
	}
	for g := 0; g < totalGroups; g++ {
		c.groupMax[g] = groupPseudoMax(src, g, lanes)
	}

	var sels []int
	var lastCount int
	if c.strategy == WRingBuf {
		sels, lastCount = selectSelectorsRingBuf(c.groupMax)
	} else {
		sels, lastCount = selectSelectorsFull(c.groupMax)
	}

	countSels := len(sels)
	var countSelArea8 int
	if c.strategy == WRingBuf && c.pessimisticGap {
		countSelArea8 = (totalGroups + 1) / 2
	} else {
		countSelArea8 = (countSels + 1) / 2
	}

	put := func(pos int, v uint32) (int, error) {
		if pos >= len(dst) {
			return pos, fmt.Errorf("groupsimple: %w", simdbp.ErrNotEnoughStorage)
		}
		dst[pos] = v
		return pos + 1, nil
	}

	pos := 0
	if pos, err = put(pos, uint32(len(src))); err != nil {
		return 0, err
	}
	if pos, err = put(pos, uint32(countSels)); err != nil {
		return 0, err
	}
	if pos, err = put(pos, uint32(countSelArea8)); err != nil {
		return 0, err
	}

	leadBytes := countSelArea8 + 1
	padded := roundUp(leadBytes, c.w.Bytes())
	lead := make([]byte, padded)
	for i, s := range sels {
		if i%2 == 0 {
			lead[i/2] |= byte(s)
		} else {
			lead[i/2] |= byte(s) << 4
		}
	}
	lead[countSelArea8] = byte(lastCount)
	for i := 0; i < len(lead); i += 4 {
		if pos, err = put(pos, bo.Uint32(lead[i:])); err != nil {
			return 0, err
		}
	}

	groupOff := 0
	for i, s := range sels {
		md := modes[s]
		n, b := md.n, md.b
		if i == countSels-1 {
			n, b = lastCount, 32/lastCount
		}
		buf := packGroups(c.w, n, b, src[groupOff*lanes:])
		for k := 0; k < len(buf); k += 4 {
			if pos, err = put(pos, bo.Uint32(buf[k:])); err != nil {
				return 0, err
			}
		}
		groupOff += n
	}

	return pos, nil
}

// Decode reverses Encode. consumed is the number of words read from src,
// produced the number of integers written to dst.
func (c *Codec) Decode(dst []uint32, src []uint32) (consumed, produced int, err error) {
	if len(src) < 3 {
		return 0, 0, fmt.Errorf("groupsimple: %w: truncated header", simdbp.ErrCorruptStream)
	}
	length := int(src[0])
	countSels := int(src[1])
	countSelArea8 := int(src[2])
	if length > len(dst) {
		return 0, 0, fmt.Errorf("groupsimple: %w: need %d, have %d", simdbp.ErrNotEnoughStorage, length, len(dst))
	}
	if err := simdbp.CheckAlignment(c.w, dst); err != nil {
		return 0, 0, fmt.Errorf("groupsimple: %w", err)
	}
	if countSels > 2*countSelArea8 {
		return 0, 0, fmt.Errorf("groupsimple: %w: %d selectors exceed a %d-byte selector area", simdbp.ErrCorruptStream, countSels, countSelArea8)
	}

	leadBytes := countSelArea8 + 1
	padded := roundUp(leadBytes, c.w.Bytes())
	pos := 3
	if pos+padded/4 > len(src) {
		return 0, 0, fmt.Errorf("groupsimple: %w: truncated selector area", simdbp.ErrCorruptStream)
	}
	lead := make([]byte, padded)
	for i := 0; i < padded; i += 4 {
		bo.PutUint32(lead[i:], src[pos+i/4])
	}
	pos += padded / 4
	lastCount := int(lead[countSelArea8])

	lanes := c.w.Lanes()
	produced = 0
	for i := 0; i < countSels; i++ {
		sel := selectorAt(lead, i)
		if sel < 0 || sel >= len(modes) {
			return 0, 0, fmt.Errorf("groupsimple: %w: undefined selector %d", simdbp.ErrCorruptStream, sel)
		}
		md := modes[sel]
		n, b := md.n, md.b
		if i == countSels-1 {
			if lastCount <= 0 || lastCount > modes[0].n {
				return 0, 0, fmt.Errorf("groupsimple: %w: invalid count_groups_last_block %d", simdbp.ErrCorruptStream, lastCount)
			}
			n, b = lastCount, 32/lastCount
		}
		need := lanes
		if pos+need > len(src) {
			return 0, 0, fmt.Errorf("groupsimple: %w: truncated data vector", simdbp.ErrCorruptStream)
		}
		buf := make([]byte, lanes*4)
		for k := 0; k < len(buf); k += 4 {
			bo.PutUint32(buf[k:], src[pos+k/4])
		}
		pos += need
		count := n * lanes
		if produced+count > len(dst) {
			return 0, 0, fmt.Errorf("groupsimple: %w", simdbp.ErrNotEnoughStorage)
		}
		unpackGroups(c.w, n, b, count, buf, dst[produced:])
		produced += count
	}

	return pos, produced, nil
}

// groupPseudoMax is the bitwise OR of a group's lanes — a cheap stand-in
// for the true max that is exact for the "does this fit in b bits" test
// the selector loop needs, since OR never exceeds the true max in bit
// length.
func groupPseudoMax(values []uint32, g, lanes int) uint32 {
	var m uint32
	base := g * lanes
	for l := 0; l < lanes; l++ {
		idx := base + l
		if idx < len(values) {
			m |= values[idx]
		}
	}
	return m
}

func maskFor(b int) uint32 {
	if b >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<uint(b) - 1
}

// matchPrefix reports how many of the leading min(n, len(maxes)) values fit
// in b bits, and whether that covers the whole available prefix (a match).
func matchPrefix(maxes []uint32, n, b int) (count int, full bool) {
	maxPos := n
	if len(maxes) < maxPos {
		maxPos = len(maxes)
	}
	mask := maskFor(b)
	for count < maxPos && maxes[count] <= mask {
		count++
	}
	return count, count == maxPos
}

// selectSelectorsFull assigns one selector per step by trying the ten modes
// widest-n-first and taking the first whose leading min(n, remaining)
// group-maxes all fit in b bits — mode (1, 32) always matches, so this
// always terminates. lastCount is the actual number of groups the final
// selector matched, which is only ever less than that selector's modes[].n
// when fewer than n groups remained (the incomplete last block).
func selectSelectorsFull(groupMax []uint32) (sels []int, lastCount int) {
	pos := 0
	for pos < len(groupMax) {
		chosen := len(modes) - 1
		chosenCount := 0
		for i, md := range modes {
			if count, full := matchPrefix(groupMax[pos:], md.n, md.b); full {
				chosen, chosenCount = i, count
				break
			}
		}
		sels = append(sels, chosen)
		pos += chosenCount
		lastCount = chosenCount
	}
	return sels, lastCount
}

// selectSelectorsRingBuf applies the identical greedy rule but only ever
// looks at a bounded rbWindow-group slice ahead of the current position,
// mirroring the reference's 32-slot circular lookahead buffer. Because the
// widest mode never needs more than 32 groups of lookahead, this always
// makes the same choice as selectSelectorsFull for the same input.
func selectSelectorsRingBuf(groupMax []uint32) (sels []int, lastCount int) {
	pos := 0
	for pos < len(groupMax) {
		end := pos + rbWindow
		if end > len(groupMax) {
			end = len(groupMax)
		}
		window := groupMax[pos:end]
		chosen := len(modes) - 1
		chosenCount := 0
		for i, md := range modes {
			if count, full := matchPrefix(window, md.n, md.b); full {
				chosen, chosenCount = i, count
				break
			}
		}
		sels = append(sels, chosen)
		pos += chosenCount
		lastCount = chosenCount
	}
	return sels, lastCount
}

// packGroups packs n groups (n*lanes integers, group-major: values[g*lanes+l])
// into one w-bit vector at b bits per lane. Missing tail values are zero.
func packGroups(w simdbp.Width, n, b int, values []uint32) []byte {
	lanes := w.Lanes()
	mask := maskFor(b)
	out := make([]byte, lanes*4)
	for l := 0; l < lanes; l++ {
		var acc uint32
		for i := 0; i < n; i++ {
			idx := i*lanes + l
			var v uint32
			if idx < len(values) {
				v = values[idx]
			}
			acc |= (v & mask) << uint(i*b)
		}
		bo.PutUint32(out[l*4:], acc)
	}
	return out
}

// unpackGroups is the inverse of packGroups, writing up to count integers.
func unpackGroups(w simdbp.Width, n, b, count int, data []byte, dst []uint32) {
	lanes := w.Lanes()
	mask := maskFor(b)
	for l := 0; l < lanes; l++ {
		word := bo.Uint32(data[l*4:])
		for i := 0; i < n; i++ {
			idx := i*lanes + l
			if idx >= count {
				continue
			}
			dst[idx] = (word >> uint(i*b)) & mask
		}
	}
}

func selectorAt(lead []byte, i int) int {
	b := lead[i/2]
	if i%2 == 0 {
		return int(b & 0x0f)
	}
	return int(b >> 4)
}

func roundUp(n, to int) int {
	if n%to == 0 {
		return n
	}
	return n + (to - n%to)
}
