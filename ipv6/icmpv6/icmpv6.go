package icmpv6

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/divert"
)

type Type uint8

// ICMPv6 message types of RFC 4443 and neighbor discovery of RFC 4861.
const (
	TypeDestinationUnreachable Type = 1   // destination unreachable
	TypePacketTooBig           Type = 2   // packet too big
	TypeTimeExceeded           Type = 3   // time exceeded
	TypeParameterProblem       Type = 4   // parameter problem
	TypeEchoRequest            Type = 128 // echo request
	TypeEchoReply              Type = 129 // echo reply
	TypeRouterSolicitation     Type = 133 // router solicitation
	TypeRouterAdvertisement    Type = 134 // router advertisement
	TypeNeighborSolicitation   Type = 135 // neighbor solicitation
	TypeNeighborAdvertisement  Type = 136 // neighbor advertisement
	TypeRedirect               Type = 137 // redirect
)

// IsError reports whether t is an error message type. Error types are below 128.
func (t Type) IsError() bool { return t < 128 }

func (t Type) String() string {
	switch t {
	case TypeDestinationUnreachable:
		return "destination unreachable"
	case TypePacketTooBig:
		return "packet too big"
	case TypeTimeExceeded:
		return "time exceeded"
	case TypeParameterProblem:
		return "parameter problem"
	case TypeEchoRequest:
		return "echo request"
	case TypeEchoReply:
		return "echo reply"
	case TypeRouterSolicitation:
		return "router solicitation"
	case TypeRouterAdvertisement:
		return "router advertisement"
	case TypeNeighborSolicitation:
		return "neighbor solicitation"
	case TypeNeighborAdvertisement:
		return "neighbor advertisement"
	case TypeRedirect:
		return "redirect"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

const (
	sizeHeader       = 8
	sizeRestOfHeader = 4
)

// NewFrame returns an ICMPv6 frame over the 8 byte header starting at buf[off].
// ip is the enclosing IP header used for the checksum pseudo-header and must be non-nil.
func NewFrame(buf []byte, off int, ip divert.IPHeader) (Frame, error) {
	if ip == nil {
		return Frame{}, divert.ErrInvalidArgument
	}
	if err := divert.CheckBounds(off, sizeHeader, len(buf)); err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf, off: off, ip: ip}, nil
}

// Frame is an ICMPv6 header view as defined by RFC 4443.
type Frame struct {
	buf divert.Buffer
	off int
	ip  divert.IPHeader
}

var _ divert.Header = Frame{}

func (frm Frame) hdr() []byte { return frm.buf[frm.off:] }

// RawData returns the underlying packet buffer.
func (frm Frame) RawData() []byte { return frm.buf }

// Offset returns the index of the first ICMPv6 byte in RawData.
func (frm Frame) Offset() int { return frm.off }

// HeaderLength returns 8, the fixed ICMPv6 header size.
func (frm Frame) HeaderLength() int { return sizeHeader }

// HasPorts returns false.
func (frm Frame) HasPorts() bool { return false }

// IP returns the IP header used for the pseudo-header.
func (frm Frame) IP() divert.IPHeader { return frm.ip }

func (frm Frame) Type() Type { return Type(frm.buf[frm.off]) }

func (frm Frame) SetType(t Type) { frm.buf[frm.off] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[frm.off+1] }

func (frm Frame) SetCode(code uint8) { frm.buf[frm.off+1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.hdr()[2:4]) }

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.hdr()[2:4], crc) }

// ComputeChecksum returns the checksum over the IPv6 pseudo-header (next header 58),
// the ICMPv6 header and the message body through the end of the buffer.
func (frm Frame) ComputeChecksum() uint16 {
	var crc divert.CRC791
	msg := frm.hdr()
	frm.ip.WritePseudoHeader(&crc, divert.IPProtoIPv6ICMP, len(msg))
	return crc.SumSkipping(msg, 2)
}

// CalculateChecksum computes the checksum and stores it in the CRC field.
func (frm Frame) CalculateChecksum() { frm.SetCRC(frm.ComputeChecksum()) }

// RestOfHeader returns a copy of the 4 bytes following the checksum.
func (frm Frame) RestOfHeader() []byte {
	b, _ := frm.buf.Slice(frm.off+4, sizeRestOfHeader)
	return b
}

// SetRestOfHeader overwrites the 4 bytes following the checksum. len(roh) must be 4.
func (frm Frame) SetRestOfHeader(roh []byte) error {
	if len(roh) != sizeRestOfHeader {
		return divert.ErrInvalidArgument
	}
	return frm.buf.Write(frm.off+4, roh)
}

// RawHeaderBytes returns a copy of the 8 header bytes.
func (frm Frame) RawHeaderBytes() []byte {
	b, _ := frm.buf.Slice(frm.off, sizeHeader)
	return b
}

// Body returns the message data following the header.
func (frm Frame) Body() []byte { return frm.hdr()[sizeHeader:] }

func (frm Frame) String() string {
	return fmt.Sprintf("ICMPv6 %s code=%d crc=%#04x", frm.Type(), frm.Code(), frm.CRC())
}

// FrameEcho interprets the rest-of-header of echo request and reply messages.
type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 { return binary.BigEndian.Uint16(frm.hdr()[4:6]) }

func (frm FrameEcho) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(frm.hdr()[4:6], id) }

func (frm FrameEcho) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.hdr()[6:8]) }

func (frm FrameEcho) SetSequenceNumber(seq uint16) { binary.BigEndian.PutUint16(frm.hdr()[6:8], seq) }

func (frm FrameEcho) Data() []byte { return frm.Body() }

// FramePacketTooBig interprets the rest-of-header of packet too big messages.
type FramePacketTooBig struct {
	Frame
}

// MTU returns the maximum transmission unit of the next-hop link.
func (frm FramePacketTooBig) MTU() uint32 { return binary.BigEndian.Uint32(frm.hdr()[4:8]) }
