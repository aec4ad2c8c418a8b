package simdbp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-simdbp/simdbp"
)

func TestWidthLanesAndBytes(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(4, simdbp.Width128.Lanes())
	assert.Equal(8, simdbp.Width256.Lanes())
	assert.Equal(16, simdbp.Width512.Lanes())
	assert.Equal(16, simdbp.Width128.Bytes())
	assert.Equal(32, simdbp.Width256.Bytes())
	assert.Equal(64, simdbp.Width512.Bytes())
}

func TestWidthValid(t *testing.T) {
	assert := assert.New(t)
	assert.True(simdbp.Width128.Valid())
	assert.True(simdbp.Width256.Valid())
	assert.True(simdbp.Width512.Valid())
	assert.False(simdbp.Width(64).Valid())
}

func TestCheckAlignment(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(simdbp.CheckAlignment(simdbp.Width256, []uint32(nil)))

	// A slice's backing array from make() is allocator-aligned to at
	// least its element size; over-allocate and take an aligned sub-slice
	// to exercise both the pass and fail paths deterministically.
	buf := make([]byte, 256)
	aligned, passes := 0, 0
	for off := 0; off < 16; off++ {
		if simdbp.CheckAlignment(simdbp.Width128, buf[off:off+16]) == nil {
			aligned = off
			passes++
		}
	}
	assert.Equal(1, passes)
	assert.NoError(simdbp.CheckAlignment(simdbp.Width128, buf[aligned:aligned+16]))
	assert.ErrorIs(simdbp.CheckAlignment(simdbp.Width128, buf[aligned+1:aligned+17]), simdbp.ErrBadAlignment)
}
