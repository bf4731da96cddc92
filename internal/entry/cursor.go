package entry

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// cursor is a minimal little-endian byte reader that tracks consumption, so
// callers can learn the exact length of a decoded value.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, errors.Errorf("unexpected end of buffer: need %d bytes, have %d", n, c.remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) bytes32() ([32]byte, error) {
	var out [32]byte
	b, err := c.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// shortVecLen decodes Solana's compact-u16 vector length prefix: up to 3
// bytes, 7 low bits per byte, continuation signalled by the high bit.
func (c *cursor) shortVecLen() (int, error) {
	var result int
	for shift := 0; shift < 3; shift++ {
		b, err := c.u8()
		if err != nil {
			return 0, errors.Wrap(err, "short-vec length")
		}
		result |= int(b&0x7f) << uint(7*shift)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, errors.New("short-vec length: continuation exceeded 3 bytes")
}
