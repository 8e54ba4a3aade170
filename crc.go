package divert

import (
	"encoding/binary"
)

// CRC791 function as defined by RFC 791 and computed as described in RFC 1071.
// The Checksum field for IP, TCP, UDP and ICMP is the 16-bit ones' complement
// of the ones' complement sum of all 16-bit words covered. In case of an uneven
// number of octets the last word is LSB padded with zeros.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint64
	// odd is set when the last Write ended on an unpaired byte held in pending.
	odd     bool
	pending byte
}

func checksum16(sum uint64) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + sum>>16
	}
	return ^uint16(sum)
}

func checksumWriteEven(sum uint64, buff []byte) uint64 {
	for i := 0; i+1 < len(buff); i += 2 {
		sum += uint64(binary.BigEndian.Uint16(buff[i:]))
	}
	return sum
}

// Write adds the bytes in buff to the running checksum. Consecutive writes of odd
// length are summed as if they were a single contiguous buffer. It never fails.
func (c *CRC791) Write(buff []byte) (int, error) {
	n := len(buff)
	if n == 0 {
		return 0, nil
	}
	if c.odd {
		c.sum += uint64(c.pending)<<8 | uint64(buff[0])
		c.odd = false
		buff = buff[1:]
	}
	c.sum = checksumWriteEven(c.sum, buff)
	if len(buff)&1 != 0 {
		c.odd = true
		c.pending = buff[len(buff)-1]
	}
	return n, nil
}

// WriteEven adds the bytes in p to the running checksum. The buffer size must be even.
func (c *CRC791) WriteEven(buff []byte) {
	if len(buff)&1 != 0 || c.odd {
		panic("divert: WriteEven on unaligned data")
	}
	c.sum = checksumWriteEven(c.sum, buff)
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	if c.odd {
		panic("divert: AddUint16 on unaligned data")
	}
	c.sum += uint64(value)
}

// Sum16 calculates the checksum with the data written to c thus far.
// A trailing unpaired byte is padded with a zero octet.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	if c.odd {
		sum += uint64(c.pending) << 8
	}
	return checksum16(sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in p to the running checksum.
func (c *CRC791) PayloadSum16(buff []byte) uint16 {
	c.Write(buff)
	return c.Sum16()
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// NeverZeroChecksum ensures that the given checksum is not zero, by returning 0xffff instead.
func NeverZeroChecksum(sum16 uint16) uint16 {
	// 0x0000 and 0xffff are the same number in ones' complement math
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}

// SumSkipping returns the checksum of the running sum plus buff, treating the
// two bytes at skipOff in buff as zero. skipOff must be even. Used to compute
// a checksum without clearing the field in place.
func (c *CRC791) SumSkipping(buff []byte, skipOff int) uint16 {
	c.Write(buff[:skipOff])
	c.AddUint16(0)
	c.Write(buff[skipOff+2:])
	return c.Sum16()
}
