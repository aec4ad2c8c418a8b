package binarypacking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-simdbp/simdbp"
	"github.com/go-simdbp/simdbp/binarypacking"
)

func roundTrip(t *testing.T, w simdbp.Width, src []uint32) []uint32 {
	t.Helper()
	require := require.New(t)
	c, err := binarypacking.New(w)
	require.NoError(err)

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

// S1: sequential values 0..16383 through BinaryPacking-128.
func TestSequentialRoundTrip128(t *testing.T) {
	assert := assert.New(t)
	src := make([]uint32, 16384)
	for i := range src {
		src[i] = uint32(i)
	}
	out := roundTrip(t, simdbp.Width128, src)
	assert.Equal(src, out)
}

// S2: 4096 copies of 42 through BinaryPacking-256; every mini-block should
// select width 6 (42 needs 6 bits), and the cookie words must carry the
// reference magic.
func TestConstantValueWidth256(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	src := make([]uint32, 4096)
	for i := range src {
		src[i] = 42
	}
	c, err := binarypacking.New(simdbp.Width256)
	require.NoError(err)
	dst := make([]uint32, len(src)+64)
	used, err := c.Encode(dst, src)
	require.NoError(err)

	assert.Equal(uint32(len(src)), dst[0])
	lanes := int(simdbp.Width256) / 32
	cookieWords := (lanes - 1%lanes) % lanes
	for i := 1; i < 1+cookieWords; i++ {
		assert.Equal(uint32(binarypacking.CookiePadder), dst[i])
	}

	// The 16 mini-blocks fill the first 16 slots of the 32-slot header
	// group at width 6, four widths per word; the unused slots stay 0.
	header := 1 + cookieWords
	for i := 0; i < 4; i++ {
		assert.Equal(uint32(0x06060606), dst[header+i])
	}
	for i := 4; i < 8; i++ {
		assert.Equal(uint32(0), dst[header+i])
	}

	out := make([]uint32, len(src)+64)
	_, produced, err := c.Decode(out, dst[:used])
	require.NoError(err)
	assert.Equal(src, out[:produced])
}

func TestInvalidLength(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := binarypacking.New(simdbp.Width128)
	require.NoError(err)
	_, err = c.Encode(make([]uint32, 256), make([]uint32, 10))
	assert.ErrorIs(err, simdbp.ErrInvalidLength)
}

func TestCorruptCookie(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := binarypacking.New(simdbp.Width128)
	require.NoError(err)
	src := make([]uint32, 128)
	dst := make([]uint32, 256)
	used, err := c.Encode(dst, src)
	require.NoError(err)
	dst[1] ^= 0xff
	out := make([]uint32, 256)
	_, _, err = c.Decode(out, dst[:used])
	assert.ErrorIs(err, simdbp.ErrCorruptStream)
}

func TestAllMaxValue(t *testing.T) {
	assert := assert.New(t)
	src := make([]uint32, 512)
	for i := range src {
		src[i] = ^uint32(0)
	}
	out := roundTrip(t, simdbp.Width512, src)
	assert.Equal(src, out)
}

func TestEmptyInput(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	c, err := binarypacking.New(simdbp.Width128)
	require.NoError(err)
	dst := make([]uint32, 8)
	used, err := c.Encode(dst, nil)
	require.NoError(err)
	out := make([]uint32, 8)
	_, produced, err := c.Decode(out, dst[:used])
	require.NoError(err)
	assert.Equal(0, produced)
}
