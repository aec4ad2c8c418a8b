package groupsimple_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-simdbp/simdbp"
	"github.com/go-simdbp/simdbp/groupsimple"
)

// leadByte reads one byte out of an encoded stream's selector/tail area,
// which starts at word index 3 (right after the 3-word header).
func leadByte(dst []uint32, byteIdx int) byte {
	word := dst[3+byteIdx/4]
	return byte(word >> uint(8*(byteIdx%4)))
}

func roundTrip(t *testing.T, c *groupsimple.Codec, src []uint32) []uint32 {
	t.Helper()
	require := require.New(t)
	dst := make([]uint32, len(src)+64)
	used, err := c.Encode(dst, src)
	require.NoError(err)
	out := make([]uint32, len(src)+64)
	consumed, produced, err := c.Decode(out, dst[:used])
	require.NoError(err)
	require.Equal(used, consumed)
	require.Equal(len(src), produced)
	return out[:produced]
}

// A stream whose groups are all 0/1 bits fits mode (32,1) and round-trips.
func TestWidestModeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)

	lanes := c.GroupLen()
	src := make([]uint32, 32*lanes)
	for i := range src {
		src[i] = uint32(i % 2)
	}
	out := roundTrip(t, c, src)
	assert.Equal(src, out)
}

// Mixed runs that need different selector widths still round-trip.
func TestMixedWidthsRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)

	lanes := c.GroupLen()
	src := make([]uint32, (16+8)*lanes)
	for g := 0; g < 16; g++ {
		for l := 0; l < lanes; l++ {
			src[g*lanes+l] = uint32(l % 8) // fits 3 bits
		}
	}
	for g := 16; g < 24; g++ {
		for l := 0; l < lanes; l++ {
			src[g*lanes+l] = uint32(200 + l) // fits 8 bits
		}
	}
	out := roundTrip(t, c, src)
	assert.Equal(src, out)
}

// With pessimisticGap false, woRingBuf and wRingBuf must produce
// byte-identical streams for the same input.
func TestStrategiesProduceIdenticalOutput(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	lanes := simdbp.Width256.Lanes()
	src := make([]uint32, (16+8)*lanes)
	for g := 0; g < 16; g++ {
		for l := 0; l < lanes; l++ {
			src[g*lanes+l] = uint32(l % 8)
		}
	}
	for g := 16; g < 24; g++ {
		for l := 0; l < lanes; l++ {
			src[g*lanes+l] = uint32(200 + l)
		}
	}

	cWo, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)
	cW, err := groupsimple.New(simdbp.Width256, groupsimple.WRingBuf, false)
	require.NoError(err)

	dstWo := make([]uint32, len(src)+64)
	usedWo, err := cWo.Encode(dstWo, src)
	require.NoError(err)
	dstW := make([]uint32, len(src)+64)
	usedW, err := cW.Encode(dstW, src)
	require.NoError(err)

	require.Equal(usedWo, usedW)
	assert.Equal(dstWo[:usedWo], dstW[:usedW])
}

// pessimisticGap reserves worst-case selector space (one selector per
// group), so for 128 one-bit groups (4 selectors, 64 reserved selector
// bytes) the wRingBuf output grows relative to the tight encoding.
func TestPessimisticGapGrowsOutput(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	lanes := simdbp.Width256.Lanes()
	src := make([]uint32, 128*lanes)
	for i := range src {
		src[i] = uint32(i % 2)
	}

	tight, err := groupsimple.New(simdbp.Width256, groupsimple.WRingBuf, false)
	require.NoError(err)
	loose, err := groupsimple.New(simdbp.Width256, groupsimple.WRingBuf, true)
	require.NoError(err)

	dstTight := make([]uint32, len(src)+64)
	usedTight, err := tight.Encode(dstTight, src)
	require.NoError(err)
	dstLoose := make([]uint32, len(src)+64)
	usedLoose, err := loose.Encode(dstLoose, src)
	require.NoError(err)

	assert.Greater(usedLoose, usedTight)
}

// A stream shorter than mode (32, 1)'s span still matches that mode (every
// group fits one bit), but only 7 groups exist: count_groups_last_block must
// record the real count of 7, and the last vector must be packed at the
// synthetic width b = 32/7 rather than the mode's table width of 1 — so
// decode has to read that byte rather than assume a full 32-group block.
func TestIncompleteTailBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)

	lanes := c.GroupLen()
	src := make([]uint32, 7*lanes)
	for i := range src {
		src[i] = uint32(i % 2)
	}
	dst := make([]uint32, len(src)+64)
	used, err := c.Encode(dst, src)
	require.NoError(err)

	countSels := int(dst[1])
	countSelArea8 := int(dst[2])
	require.Equal(1, countSels, "every group fits mode (32,1), so one selector should cover all of them")
	assert.Equal(byte(7), leadByte(dst, countSelArea8), "count_groups_last_block must record the 7 real groups, not mode (32,1)'s full span")

	out := make([]uint32, len(src)+64)
	consumed, produced, err := c.Decode(out, dst[:used])
	require.NoError(err)
	assert.Equal(used, consumed)
	assert.Equal(len(src), produced)
	assert.Equal(src, out[:produced])
}

// All-max-value input exercises the narrowest mode (1, 32).
func TestAllMaxValueSelectsNarrowestMode(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)

	lanes := c.GroupLen()
	src := make([]uint32, 32*lanes)
	for i := range src {
		src[i] = ^uint32(0)
	}
	out := roundTrip(t, c, src)
	assert.Equal(src, out)

	// Every group needs 32 bits, so each of the 32 groups gets selector 9,
	// two selectors per byte.
	dst := make([]uint32, len(src)+64)
	_, err = c.Encode(dst, src)
	require.NoError(err)
	assert.Equal(uint32(32), dst[1])
	for i := 0; i < 16; i++ {
		assert.Equal(byte(0x99), leadByte(dst, i))
	}
}

func TestInvalidLength(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)
	_, err = c.Encode(make([]uint32, 256), make([]uint32, 3))
	assert.ErrorIs(err, simdbp.ErrInvalidLength)
}

func TestUnsupportedWidth(t *testing.T) {
	assert := assert.New(t)
	_, err := groupsimple.New(simdbp.Width128, groupsimple.WoRingBuf, false)
	assert.ErrorIs(err, simdbp.ErrUnsupportedWidth)
}

func TestEmptyInput(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := groupsimple.New(simdbp.Width256, groupsimple.WoRingBuf, false)
	require.NoError(err)
	dst := make([]uint32, 16)
	used, err := c.Encode(dst, nil)
	require.NoError(err)
	out := make([]uint32, 16)
	_, produced, err := c.Decode(out, dst[:used])
	require.NoError(err)
	assert.Equal(0, produced)
}
