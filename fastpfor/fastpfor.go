// Package fastpfor implements FastPFor(256): patched frame-of-reference
// coding with a page/block hierarchy and per-block exception streams, all
// built from the vertical bit-packing kernels in bitpack.
//
// Each block is one 256-integer mini-block. A page groups many blocks under
// one metadata section (bit widths, exception positions, and per-width
// exception streams) so long inputs amortize that bookkeeping instead of
// repeating it every 256 integers. The cost model that chooses each block's
// bit width is a direct translation of the reference getBestBFromData
// routine; see selectBlock.
package fastpfor

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/go-simdbp/simdbp"
	"github.com/go-simdbp/simdbp/bitpack"
)

var bo = binary.LittleEndian

// DefaultPageSize matches the reference implementation's default: pages are
// the recycling unit for the codec's internal scratch state.
const DefaultPageSize = 65536

// overheadPerExceptBits is the one-byte-per-position cost charged against
// every recorded exception in the cost model (see selectBlock).
const overheadPerExceptBits = 8

// width is the only SIMD width FastPFor is defined for; exception positions
// are stored as a single byte, which requires the block length to fit in
// [0,256) — true for a 256-integer block and not, without widening the
// position field, for 512.
const width = simdbp.Width256

// BlockSize is the number of integers in one FastPFor block.
const BlockSize = 256

// binarypackingCookie is the same alignment filler value used by
// BinaryPacking, kept here rather than imported to avoid a dependency
// between sibling codec packages.
const binarypackingCookie = 0x0001E240

// Codec implements FastPFor(256). A Codec instance owns scratch buffers
// (one slice per exception width plus a descriptor byte buffer) that are
// reused and cleared across pages; it is not safe for concurrent use.
type Codec struct {
	pageSize int

	perK        [33][]uint32
	descriptors []byte
}

// New constructs a FastPFor codec with the given page size (0 selects
// DefaultPageSize). pageSize must be a positive multiple of BlockSize.
func New(pageSize int) (*Codec, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize <= 0 || pageSize%BlockSize != 0 {
		return nil, fmt.Errorf("fastpfor: %w: page size %d must be a positive multiple of %d", simdbp.ErrInvalidLength, pageSize, BlockSize)
	}
	return &Codec{pageSize: pageSize}, nil
}

// Name returns "FastPFor256".
func (c *Codec) Name() string { return "FastPFor256" }

// BlockSize is the length divisor Encode requires: one 256-integer block.
func (c *Codec) BlockSize() int { return BlockSize }

// Encode compresses src into dst, returning the number of uint32 words
// written. len(src) must be a multiple of BlockSize.
func (c *Codec) Encode(dst []uint32, src []uint32) (used int, err error) {
	if len(src)%BlockSize != 0 {
		return 0, fmt.Errorf("fastpfor: %w: length %d not a multiple of %d", simdbp.ErrInvalidLength, len(src), BlockSize)
	}
	if len(dst) < 1 {
		return 0, fmt.Errorf("fastpfor: %w", simdbp.ErrNotEnoughStorage)
	}
	if err := simdbp.CheckAlignment(width, dst); err != nil {
		return 0, fmt.Errorf("fastpfor: %w", err)
	}
	dst[0] = uint32(len(src))
	pos := 1
	for off := 0; off < len(src); {
		end := off + c.pageSize
		if end > len(src) {
			end = len(src)
		}
		n, err := c.encodePage(dst[pos:], src[off:end])
		if err != nil {
			return 0, err
		}
		pos += n
		off = end
	}
	return pos, nil
}

func (c *Codec) encodePage(dst []uint32, src []uint32) (int, error) {
	put := func(pos int, v uint32) (int, error) {
		if pos >= len(dst) {
			return pos, fmt.Errorf("fastpfor: %w", simdbp.ErrNotEnoughStorage)
		}
		dst[pos] = v
		return pos + 1, nil
	}

	pos := 0
	var err error
	if pos, err = put(pos, uint32(len(src))); err != nil {
		return 0, err
	}
	metaOffsetWord := pos
	if pos, err = put(pos, 0); err != nil {
		return 0, err
	}
	lanes := width.Lanes()
	for pos%lanes != 0 {
		if pos, err = put(pos, binarypackingCookie); err != nil {
			return 0, err
		}
	}

	blockCount := len(src) / BlockSize
	for k := range c.perK {
		c.perK[k] = c.perK[k][:0]
	}
	c.descriptors = c.descriptors[:0]
	blockWidths := make([]int, blockCount)

	for i := 0; i < blockCount; i++ {
		block := src[i*BlockSize : (i+1)*BlockSize]
		b, cexcept, maxb, positions, highs := selectBlock(block)
		blockWidths[i] = b
		c.descriptors = append(c.descriptors, byte(b), byte(cexcept))
		if cexcept > 0 {
			c.descriptors = append(c.descriptors, byte(maxb))
			c.descriptors = append(c.descriptors, positions...)
			for _, h := range highs {
				if h.k == 1 {
					continue
				}
				c.perK[h.k] = append(c.perK[h.k], h.high)
			}
		}
	}

	for i := 0; i < blockCount; i++ {
		b := blockWidths[i]
		block := src[i*BlockSize : (i+1)*BlockSize]
		buf := make([]byte, bitpack.PayloadBytes(width, b))
		if err := bitpack.Pack(width, b, true, buf, block); err != nil {
			return 0, err
		}
		for k := 0; k < len(buf); k += 4 {
			if pos, err = put(pos, bo.Uint32(buf[k:])); err != nil {
				return 0, err
			}
		}
	}

	metaStart := pos
	dst[metaOffsetWord] = uint32(metaStart - metaOffsetWord)

	if pos, err = put(pos, uint32(len(c.descriptors))); err != nil {
		return 0, err
	}
	padded := roundUp4(len(c.descriptors))
	descBuf := make([]byte, padded)
	copy(descBuf, c.descriptors)
	for k := 0; k < padded; k += 4 {
		if pos, err = put(pos, bo.Uint32(descBuf[k:])); err != nil {
			return 0, err
		}
	}

	var bitmap uint32
	for k := 2; k <= 32; k++ {
		if len(c.perK[k]) > 0 {
			bitmap |= 1 << uint(k-1)
		}
	}
	if pos, err = put(pos, bitmap); err != nil {
		return 0, err
	}
	for k := 2; k <= 32; k++ {
		if bitmap&(1<<uint(k-1)) == 0 {
			continue
		}
		vals := c.perK[k]
		if pos, err = put(pos, uint32(len(vals))); err != nil {
			return 0, err
		}
		packed, err := packVarLen(width, k, vals)
		if err != nil {
			return 0, err
		}
		for b := 0; b < len(packed); b += 4 {
			if pos, err = put(pos, bo.Uint32(packed[b:])); err != nil {
				return 0, err
			}
		}
	}

	return pos, nil
}

// Decode reverses Encode. consumed is the number of words read from src,
// produced the number of integers written into dst.
func (c *Codec) Decode(dst []uint32, src []uint32) (consumed, produced int, err error) {
	if len(src) < 1 {
		return 0, 0, fmt.Errorf("fastpfor: %w: empty stream", simdbp.ErrCorruptStream)
	}
	totalLength := int(src[0])
	if totalLength > len(dst) {
		return 0, 0, fmt.Errorf("fastpfor: %w: need %d, have %d", simdbp.ErrNotEnoughStorage, totalLength, len(dst))
	}
	if err := simdbp.CheckAlignment(width, dst); err != nil {
		return 0, 0, fmt.Errorf("fastpfor: %w", err)
	}
	pos := 1
	produced = 0
	for produced < totalLength {
		n, m, err := c.decodePage(dst[produced:], src[pos:])
		if err != nil {
			return 0, 0, err
		}
		pos += n
		produced += m
	}
	return pos, produced, nil
}

func (c *Codec) decodePage(dst []uint32, src []uint32) (consumed, produced int, err error) {
	if len(src) < 2 {
		return 0, 0, fmt.Errorf("fastpfor: %w: truncated page header", simdbp.ErrCorruptStream)
	}
	pageLength := int(src[0])
	if pageLength > len(dst) {
		return 0, 0, fmt.Errorf("fastpfor: %w: page length %d exceeds remaining output %d", simdbp.ErrCorruptStream, pageLength, len(dst))
	}
	metaOffsetWord := 1
	metaOffset := int(src[metaOffsetWord])
	metaStart := metaOffsetWord + metaOffset
	if metaStart < 0 || metaStart >= len(src) {
		return 0, 0, fmt.Errorf("fastpfor: %w: bad metadata offset", simdbp.ErrCorruptStream)
	}

	pos := 2
	lanes := width.Lanes()
	for pos%lanes != 0 {
		if pos >= len(src) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated cookie padding", simdbp.ErrCorruptStream)
		}
		if src[pos] != binarypackingCookie {
			return 0, 0, fmt.Errorf("fastpfor: %w: bad cookie word", simdbp.ErrCorruptStream)
		}
		pos++
	}
	payloadStart := pos

	mp := metaStart
	if mp >= len(src) {
		return 0, 0, fmt.Errorf("fastpfor: %w: truncated metadata", simdbp.ErrCorruptStream)
	}
	descBytesLen := int(src[mp])
	mp++
	padded := roundUp4(descBytesLen)
	if mp+padded/4 > len(src) {
		return 0, 0, fmt.Errorf("fastpfor: %w: truncated descriptors", simdbp.ErrCorruptStream)
	}
	descBuf := make([]byte, padded)
	for k := 0; k < padded; k += 4 {
		bo.PutUint32(descBuf[k:], src[mp+k/4])
	}
	mp += padded / 4
	descriptors := descBuf[:descBytesLen]

	if mp >= len(src) {
		return 0, 0, fmt.Errorf("fastpfor: %w: missing bitmap", simdbp.ErrCorruptStream)
	}
	bitmap := src[mp]
	mp++

	var kValues [33][]uint32
	for k := 2; k <= 32; k++ {
		if bitmap&(1<<uint(k-1)) == 0 {
			continue
		}
		if mp >= len(src) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated exception stream header", simdbp.ErrCorruptStream)
		}
		count := int(src[mp])
		mp++
		chunkBytes := bitpack.PayloadBytes(width, k)
		miniLen := bitpack.MiniBlockLen(width)
		chunks := (count + miniLen - 1) / miniLen
		if chunks == 0 {
			continue
		}
		needWords := chunks * chunkBytes / 4
		if mp+needWords > len(src) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated exception stream", simdbp.ErrCorruptStream)
		}
		raw := make([]byte, chunks*chunkBytes)
		for b := 0; b < len(raw); b += 4 {
			bo.PutUint32(raw[b:], src[mp+b/4])
		}
		mp += needWords
		kValues[k], err = unpackVarLen(width, k, count, raw)
		if err != nil {
			return 0, 0, err
		}
	}

	blockCount := pageLength / BlockSize
	dp := 0
	kCursor := [33]int{}
	for i := 0; i < blockCount; i++ {
		if dp >= len(descriptors) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated block descriptor", simdbp.ErrCorruptStream)
		}
		b := int(descriptors[dp])
		dp++
		if dp >= len(descriptors) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated block descriptor", simdbp.ErrCorruptStream)
		}
		cexcept := int(descriptors[dp])
		dp++
		var maxb int
		var positions []byte
		if cexcept > 0 {
			if dp >= len(descriptors) {
				return 0, 0, fmt.Errorf("fastpfor: %w: truncated block descriptor", simdbp.ErrCorruptStream)
			}
			maxb = int(descriptors[dp])
			dp++
			if dp+cexcept > len(descriptors) {
				return 0, 0, fmt.Errorf("fastpfor: %w: truncated exception positions", simdbp.ErrCorruptStream)
			}
			positions = descriptors[dp : dp+cexcept]
			dp += cexcept
		}
		if b > 32 || maxb > 32 || (cexcept > 0 && maxb < b) {
			return 0, 0, fmt.Errorf("fastpfor: %w: bit width out of range", simdbp.ErrCorruptStream)
		}

		payloadBytes := bitpack.PayloadBytes(width, b)
		payloadWords := payloadBytes / 4
		if payloadStart+payloadWords > len(src) {
			return 0, 0, fmt.Errorf("fastpfor: %w: truncated block payload", simdbp.ErrCorruptStream)
		}
		buf := make([]byte, payloadBytes)
		for k := 0; k < payloadBytes; k += 4 {
			bo.PutUint32(buf[k:], src[payloadStart+k/4])
		}
		payloadStart += payloadWords

		blockDst := dst[i*BlockSize : (i+1)*BlockSize]
		if err := bitpack.Unpack(width, b, BlockSize, blockDst, buf); err != nil {
			return 0, 0, err
		}
		for _, p := range positions {
			k := maxb - b
			if k == 1 {
				blockDst[p] |= 1 << uint(b)
				continue
			}
			vals := kValues[k]
			cur := kCursor[k]
			if cur >= len(vals) {
				return 0, 0, fmt.Errorf("fastpfor: %w: exception stream %d exhausted", simdbp.ErrCorruptStream, k)
			}
			blockDst[p] |= vals[cur] << uint(b)
			kCursor[k] = cur + 1
		}
	}

	consumed = payloadStart
	if mp > consumed {
		consumed = mp
	}
	return consumed, pageLength, nil
}

type exceptionHigh struct {
	k    int
	high uint32
}

// selectBlock is a direct translation of the reference getBestBFromData: it
// histograms the minimum bit-width of every value, then scans candidate
// widths downward from max_b, picking the one that minimizes the total
// encoded cost (payload + exception overhead). Ties are broken toward the
// larger b because the scan only replaces the incumbent on strict
// improvement.
func selectBlock(values []uint32) (b, cexcept, maxb int, positions []byte, highs []exceptionHigh) {
	var freq [33]int
	for _, v := range values {
		freq[bits.Len32(v)]++
	}
	maxb = 32
	for maxb > 0 && freq[maxb] == 0 {
		maxb--
	}
	bestb := maxb
	bestcost := maxb * BlockSize
	bestcexcept := 0

	running := 0
	for cand := maxb - 1; cand >= 0; cand-- {
		running += freq[cand+1]
		thiscost := running*overheadPerExceptBits + running*(maxb-cand) + cand*BlockSize + 8
		if thiscost < bestcost {
			bestcost = thiscost
			bestb = cand
			bestcexcept = running
		}
	}

	b, cexcept = bestb, bestcexcept
	if cexcept > 0 {
		for i, v := range values {
			if bits.Len32(v) > b {
				positions = append(positions, byte(i))
				highs = append(highs, exceptionHigh{k: maxb - b, high: v >> uint(b)})
			}
		}
	}
	return b, cexcept, maxb, positions, highs
}

// packVarLen bit-packs an arbitrary-length array at width k by chunking it
// into bitpack mini-blocks (the last chunk zero-padded), reusing the same
// kernel the block payloads are packed with instead of a bespoke packer.
// packVarLen bit-packs an arbitrary-length array at width k (k is always in
// [2,32] by construction, so the only possible bitpack.Pack error,
// ErrUnsupportedWidth, can never actually occur here).
func packVarLen(w simdbp.Width, k int, values []uint32) ([]byte, error) {
	miniLen := bitpack.MiniBlockLen(w)
	chunkBytes := bitpack.PayloadBytes(w, k)
	chunks := (len(values) + miniLen - 1) / miniLen
	out := make([]byte, 0, chunks*chunkBytes)
	for i := 0; i < chunks; i++ {
		start := i * miniLen
		end := start + miniLen
		if end > len(values) {
			end = len(values)
		}
		buf := make([]byte, chunkBytes)
		if err := bitpack.Pack(w, k, false, buf, values[start:end]); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	return out, nil
}

func unpackVarLen(w simdbp.Width, k, count int, data []byte) ([]uint32, error) {
	miniLen := bitpack.MiniBlockLen(w)
	chunkBytes := bitpack.PayloadBytes(w, k)
	out := make([]uint32, 0, count)
	remaining := count
	pos := 0
	for remaining > 0 {
		n := miniLen
		if remaining < n {
			n = remaining
		}
		tmp := make([]uint32, miniLen)
		if err := bitpack.Unpack(w, k, n, tmp, data[pos:pos+chunkBytes]); err != nil {
			return nil, err
		}
		out = append(out, tmp[:n]...)
		pos += chunkBytes
		remaining -= n
	}
	return out, nil
}

func roundUp4(n int) int {
	return (n + 3) &^ 3
}
