package icmpv4

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/divert"
)

type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo

	TypeDestinationUnreachable Type = 3 // destination unreachable
	TypeSourceQuench           Type = 4 // source quench
	TypeRedirect               Type = 5 // redirect

	TypeTimeExceeded     Type = 11 // time exceeded
	TypeParameterProblem Type = 12 // parameter problem

	TypeTimestamp      Type = 13 // timestamp
	TypeTimestampReply Type = 14 // timestamp reply

	TypeInfoRequest      Type = 15 // information request
	TypeInfoRequestReply Type = 16 // information request reply
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo reply"
	case TypeEcho:
		return "echo"
	case TypeDestinationUnreachable:
		return "destination unreachable"
	case TypeSourceQuench:
		return "source quench"
	case TypeRedirect:
		return "redirect"
	case TypeTimeExceeded:
		return "time exceeded"
	case TypeParameterProblem:
		return "parameter problem"
	case TypeTimestamp:
		return "timestamp"
	case TypeTimestampReply:
		return "timestamp reply"
	case TypeInfoRequest:
		return "information request"
	case TypeInfoRequestReply:
		return "information request reply"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

type CodeTimeExceeded uint8

const (
	CodeExceededInTransit  CodeTimeExceeded = iota // TTL exceeded in transit
	CodeFragmentReassembly                         // fragment reassembly time exceeded
)

type CodeDestinationUnreachable uint8

const (
	CodeNetUnreachable     CodeDestinationUnreachable = iota // net unreachable
	CodeHostUnreachable                                      // host unreachable
	CodeProtoUnreachable                                     // protocol unreachable
	CodePortUnreachable                                      // port unreachable
	CodeFragNeededAndDFSet                                   // fragmentation needed and DF set
	CodeSourceRouteFailed                                    // source route failed
)

const (
	sizeHeader       = 8
	sizeRestOfHeader = 4
)

// NewFrame returns an ICMPv4 frame over the 8 byte header starting at buf[off].
// The message body extends to the end of buf.
func NewFrame(buf []byte, off int) (Frame, error) {
	if err := divert.CheckBounds(off, sizeHeader, len(buf)); err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf, off: off}, nil
}

// Frame is an ICMPv4 header view as defined by RFC 792: type, code, checksum
// and a 4 byte rest-of-header whose meaning depends on type.
type Frame struct {
	buf divert.Buffer
	off int
}

var _ divert.Header = Frame{}

func (frm Frame) hdr() []byte { return frm.buf[frm.off:] }

// RawData returns the underlying packet buffer.
func (frm Frame) RawData() []byte { return frm.buf }

// Offset returns the index of the first ICMP byte in RawData.
func (frm Frame) Offset() int { return frm.off }

// HeaderLength returns 8, the fixed ICMPv4 header size.
func (frm Frame) HeaderLength() int { return sizeHeader }

// HasPorts returns false.
func (frm Frame) HasPorts() bool { return false }

func (frm Frame) Type() Type { return Type(frm.buf[frm.off]) }

func (frm Frame) SetType(t Type) { frm.buf[frm.off] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[frm.off+1] }

func (frm Frame) SetCode(code uint8) { frm.buf[frm.off+1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(frm.hdr()[2:4])
}

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.hdr()[2:4], crc)
}

// CRCWrite adds the ICMP message to crc treating the checksum field as zero as per RFC 792.
func (frm Frame) CRCWrite(crc *divert.CRC791) {
	crc.AddUint16(binary.BigEndian.Uint16(frm.hdr()[0:2]))
	crc.AddUint16(0)
	crc.Write(frm.hdr()[4:])
}

// ComputeChecksum returns the checksum over the header and message body. ICMPv4 uses no pseudo-header.
func (frm Frame) ComputeChecksum() uint16 {
	var crc divert.CRC791
	frm.CRCWrite(&crc)
	return crc.Sum16()
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
	return fmt.Sprintf("ICMP %s code=%d crc=%#04x", frm.Type(), frm.Code(), frm.CRC())
}

type FrameDestinationUnreachable struct {
	Frame
}

func (frm FrameDestinationUnreachable) Code() CodeDestinationUnreachable {
	return CodeDestinationUnreachable(frm.Frame.Code())
}

func (frm FrameDestinationUnreachable) SetCode(code CodeDestinationUnreachable) {
	frm.Frame.SetCode(uint8(code))
}

// FrameEcho interprets the rest-of-header of echo and echo reply messages.
type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 {
	return binary.BigEndian.Uint16(frm.hdr()[4:6])
}

func (frm FrameEcho) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.hdr()[4:6], id)
}

func (frm FrameEcho) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(frm.hdr()[6:8])
}

func (frm FrameEcho) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.hdr()[6:8], seq)
}

func (frm FrameEcho) Data() []byte {
	return frm.Body()
}
