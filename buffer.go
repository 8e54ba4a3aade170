package divert

import "encoding/binary"

// Buffer is a bounds-checked big-endian view over a fixed capacity byte region.
// The capacity of a Buffer is its length; Buffer never grows.
// Multi-byte integers are read and written in network byte order.
type Buffer []byte

// Cap returns the fixed capacity of the buffer.
func (b Buffer) Cap() int { return len(b) }

// Uint8 returns the byte at off.
func (b Buffer) Uint8(off int) (uint8, error) {
	if err := CheckBounds(off, 1, len(b)); err != nil {
		return 0, err
	}
	return b[off], nil
}

// Uint16 returns the big-endian 16 bit value at off.
func (b Buffer) Uint16(off int) (uint16, error) {
	if err := CheckBounds(off, 2, len(b)); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[off:]), nil
}

// Uint32 returns the big-endian 32 bit value at off.
func (b Buffer) Uint32(off int) (uint32, error) {
	if err := CheckBounds(off, 4, len(b)); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[off:]), nil
}

// PutUint8 sets the byte at off.
func (b Buffer) PutUint8(off int, v uint8) error {
	if err := CheckBounds(off, 1, len(b)); err != nil {
		return err
	}
	b[off] = v
	return nil
}

// PutUint16 writes v at off in big-endian order.
func (b Buffer) PutUint16(off int, v uint16) error {
	if err := CheckBounds(off, 2, len(b)); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b[off:], v)
	return nil
}

// PutUint32 writes v at off in big-endian order.
func (b Buffer) PutUint32(off int, v uint32) error {
	if err := CheckBounds(off, 4, len(b)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[off:], v)
	return nil
}

// Bit reports whether bit pos of the byte at off is set. Bit 0 is the least significant bit.
func (b Buffer) Bit(off, pos int) (bool, error) {
	if pos < 0 || pos > 7 {
		return false, ErrInvalidArgument
	}
	v, err := b.Uint8(off)
	return v&(1<<pos) != 0, err
}

// SetBit sets or clears bit pos of the byte at off leaving the other bits untouched.
func (b Buffer) SetBit(off, pos int, set bool) error {
	if pos < 0 || pos > 7 {
		return ErrInvalidArgument
	}
	if err := CheckBounds(off, 1, len(b)); err != nil {
		return err
	}
	if set {
		b[off] |= 1 << pos
	} else {
		b[off] &^= 1 << pos
	}
	return nil
}

// Slice returns a copy of the n bytes starting at off.
func (b Buffer) Slice(off, n int) ([]byte, error) {
	if err := CheckBounds(off, n, len(b)); err != nil {
		return nil, err
	}
	cp := make([]byte, n)
	copy(cp, b[off:off+n])
	return cp, nil
}

// Write copies p into the buffer starting at off. If p does not fit nothing is written.
func (b Buffer) Write(off int, p []byte) error {
	if err := CheckBounds(off, len(p), len(b)); err != nil {
		return err
	}
	copy(b[off:], p)
	return nil
}

// Clone returns a Buffer over an independent copy of b.
func (b Buffer) Clone() Buffer {
	cp := make(Buffer, len(b))
	copy(cp, b)
	return cp
}
