package udp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/divert"
)

const sizeHeader = 8

// NewFrame returns a new UDP Frame over the header starting at buf[off].
// ip is the enclosing IP header used for the checksum pseudo-header and must be non-nil.
// An error is returned if the 8 byte header does not fit in buf.
func NewFrame(buf []byte, off int, ip divert.IPHeader) (Frame, error) {
	if ip == nil {
		return Frame{}, divert.ErrInvalidArgument
	}
	if err := divert.CheckBounds(off, sizeHeader, len(buf)); err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf, off: off, ip: ip}, nil
}

// Frame encapsulates the raw data of a UDP datagram
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC768].
//
// [RFC768]: https://tools.ietf.org/html/rfc768
type Frame struct {
	buf divert.Buffer
	off int
	ip  divert.IPHeader
}

var _ divert.TransportHeader = Frame{}

func (ufrm Frame) hdr() []byte { return ufrm.buf[ufrm.off:] }

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// Offset returns the index of the first UDP header byte in RawData.
func (ufrm Frame) Offset() int { return ufrm.off }

// HeaderLength returns 8, the fixed UDP header size.
func (ufrm Frame) HeaderLength() int { return sizeHeader }

// HasPorts returns true.
func (ufrm Frame) HasPorts() bool { return true }

// IP returns the IP header used for the checksum pseudo-header.
func (ufrm Frame) IP() divert.IPHeader { return ufrm.ip }

// SourcePort identifies the sending port for the UDP packet. Zero if not used.
func (ufrm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(ufrm.hdr()[0:2])
}

// SetSourcePort sets UDP source port. See [Frame.SourcePort]
func (ufrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(ufrm.hdr()[0:2], src)
}

// DestinationPort identifies the receiving port for the UDP packet. Must be non-zero.
func (ufrm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(ufrm.hdr()[2:4])
}

// SetDestinationPort sets UDP destination port. See [Frame.DestinationPort]
func (ufrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(ufrm.hdr()[2:4], dst)
}

// Length specifies length in bytes of UDP header and UDP payload. The minimum length
// is 8 bytes (UDP header length). This field should match the result of the IP header
// TotalLength field minus the IP header size: udp.Length == ip.TotalLength - 4*ip.IHL
func (ufrm Frame) Length() uint16 {
	return binary.BigEndian.Uint16(ufrm.hdr()[4:6])
}

// SetLength sets the UDP header's length field. See [Frame.Length].
func (ufrm Frame) SetLength(length uint16) {
	binary.BigEndian.PutUint16(ufrm.hdr()[4:6], length)
}

// CRC returns the checksum field in the UDP header.
func (ufrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ufrm.hdr()[6:8])
}

// SetCRC sets the UDP header's CRC field. See [Frame.CRC].
func (ufrm Frame) SetCRC(checksum uint16) {
	binary.BigEndian.PutUint16(ufrm.hdr()[6:8], checksum)
}

// ComputeChecksum returns the checksum over the IP pseudo-header and the datagram
// from the UDP header start to the end of the buffer. A computed zero is
// returned as 0xffff since zero means no checksum in UDP over IPv4.
func (ufrm Frame) ComputeChecksum() uint16 {
	var crc divert.CRC791
	dgram := ufrm.hdr()
	ufrm.ip.WritePseudoHeader(&crc, divert.IPProtoUDP, len(dgram))
	return divert.NeverZeroChecksum(crc.SumSkipping(dgram, 6))
}

// CalculateChecksum computes the checksum and stores it in the CRC field.
func (ufrm Frame) CalculateChecksum() { ufrm.SetCRC(ufrm.ComputeChecksum()) }

// Payload returns the payload content section of the UDP packet through the end of the buffer.
func (ufrm Frame) Payload() []byte {
	return ufrm.hdr()[sizeHeader:]
}

// RawHeaderBytes returns a copy of the 8 header bytes.
func (ufrm Frame) RawHeaderBytes() []byte {
	b, _ := ufrm.buf.Slice(ufrm.off, sizeHeader)
	return b
}

// ClearHeader zeros out the header contents.
func (ufrm Frame) ClearHeader() {
	clear(ufrm.hdr()[:sizeHeader])
}

func (ufrm Frame) String() string {
	return fmt.Sprintf("UDP :%d -> :%d LEN=%d", ufrm.SourcePort(), ufrm.DestinationPort(), ufrm.Length())
}

//
// Validation API.
//

var (
	errBadLen = fmt.Errorf("udp: bad UDP length: %w", divert.ErrInvalidArgument)
	errShort  = fmt.Errorf("udp: short buffer: %w", divert.ErrShortBuffer)
	errBadCRC = fmt.Errorf("udp: %w", divert.ErrBadCRC)
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It adds an error to v on finding an inconsistency.
func (ufrm Frame) ValidateSize(v *divert.Validator) {
	ul := ufrm.Length()
	if ul < sizeHeader {
		v.AddBitPosErr(32, 16, errBadLen)
	}
	if ufrm.off+int(ul) > len(ufrm.buf) {
		v.AddError(errShort)
	}
}

// Validate checks size fields and the checksum. A zero checksum over IPv4 means
// the sender did not compute one and is accepted.
func (ufrm Frame) Validate(v *divert.Validator) {
	ufrm.ValidateSize(v)
	crc := ufrm.CRC()
	if crc == 0 && ufrm.ip.Version() == 4 {
		return
	}
	if crc != ufrm.ComputeChecksum() {
		v.AddBitPosErr(48, 16, errBadCRC)
	}
}
