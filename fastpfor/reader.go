package fastpfor

import (
	"errors"
	"fmt"
)

// Reader provides sequential and random access over a fully decoded
// FastPFor stream. It is not part of the wire format — a supplemental
// convenience adapted from the pre-decoding access pattern the codec's
// scratch buffers already make cheap — and is not safe for concurrent use.
// Create one Reader per goroutine sharing the same underlying stream.
type Reader struct {
	codec  *Codec
	values []uint32
	pos    int
	loaded bool
}

// ErrNotLoaded is returned when operations are called before Load().
var ErrNotLoaded = errors.New("fastpfor: reader not loaded")

// ErrPositionOutOfRange is returned when accessing a position beyond the
// decoded length.
var ErrPositionOutOfRange = errors.New("fastpfor: position out of range")

// NewReader creates a Reader bound to codec c. c must outlive the Reader;
// the same codec instance can be shared by Readers only if calls are
// serialized, since c owns its own scratch buffers.
func NewReader(c *Codec) *Reader {
	return &Reader{codec: c}
}

// Load decodes a FastPFor-256 stream (as produced by Codec.Encode) and
// resets the reader to position 0. The decoded values are retained between
// calls to avoid reallocating on repeated use of the same Reader.
func (r *Reader) Load(src []uint32) error {
	if len(src) < 1 {
		return fmt.Errorf("fastpfor: %w: empty stream", ErrNotLoaded)
	}
	length := int(src[0])
	if cap(r.values) < length {
		r.values = make([]uint32, length)
	} else {
		r.values = r.values[:length]
	}
	_, produced, err := r.codec.Decode(r.values, src)
	if err != nil {
		return err
	}
	r.values = r.values[:produced]
	r.pos = 0
	r.loaded = true
	return nil
}

// IsLoaded reports whether Load has succeeded at least once.
func (r *Reader) IsLoaded() bool { return r.loaded }

// Len returns the number of decoded elements.
func (r *Reader) Len() int { return len(r.values) }

// Pos returns the current position for sequential iteration.
func (r *Reader) Pos() int { return r.pos }

// Reset rewinds sequential iteration to the beginning.
func (r *Reader) Reset() { r.pos = 0 }

// Get returns the value at pos.
func (r *Reader) Get(pos int) (uint32, error) {
	if !r.loaded {
		return 0, ErrNotLoaded
	}
	if pos < 0 || pos >= len(r.values) {
		return 0, ErrPositionOutOfRange
	}
	return r.values[pos], nil
}

// Next returns the next value in sequence and its index, advancing the
// cursor. ok is false once the stream is exhausted or nothing is loaded.
func (r *Reader) Next() (value uint32, pos int, ok bool) {
	if !r.loaded || r.pos >= len(r.values) {
		return 0, 0, false
	}
	value = r.values[r.pos]
	pos = r.pos
	r.pos++
	return value, pos, true
}

// Decode copies every decoded value into dst, growing it if necessary.
func (r *Reader) Decode(dst []uint32) []uint32 {
	if !r.loaded {
		return nil
	}
	if cap(dst) < len(r.values) {
		dst = make([]uint32, len(r.values))
	} else {
		dst = dst[:len(r.values)]
	}
	copy(dst, r.values)
	return dst
}
