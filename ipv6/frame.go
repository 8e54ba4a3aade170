package ipv6

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/divert"
)

// NewFrame returns a new IPv6 Frame over the fixed header starting at buf[off].
// An error is returned if the 40 byte header does not fit in buf.
// Extension headers are not interpreted: they are part of the payload.
func NewFrame(buf []byte, off int) (Frame, error) {
	if err := divert.CheckBounds(off, sizeHeader, len(buf)); err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf, off: off}, nil
}

// Frame encapsulates the raw data of an IPv6 packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC8200].
//
// [RFC8200]: https://tools.ietf.org/html/rfc8200
type Frame struct {
	buf divert.Buffer
	off int
}

var _ divert.IPHeader = Frame{}

func (i6frm Frame) hdr() []byte { return i6frm.buf[i6frm.off:] }

// RawData returns the underlying slice with which the frame was created.
func (i6frm Frame) RawData() []byte { return i6frm.buf }

// Offset returns the index of the first IPv6 header byte in RawData.
func (i6frm Frame) Offset() int { return i6frm.off }

// HeaderLength returns 40, the size of the fixed IPv6 header.
func (i6frm Frame) HeaderLength() int { return sizeHeader }

// HasPorts returns false.
func (i6frm Frame) HasPorts() bool { return false }

// Payload returns the contents of the IPv6 packet, which may be zero sized.
// The payload ends at PayloadLength or at the end of the buffer, whichever comes first.
func (i6frm Frame) Payload() []byte {
	start := i6frm.off + sizeHeader
	end := start + int(i6frm.PayloadLength())
	if end > len(i6frm.buf) {
		end = len(i6frm.buf)
	}
	return i6frm.buf[start:end]
}

// Version returns the IP version field, 6 for IPv6.
func (i6frm Frame) Version() uint8 { return i6frm.buf[i6frm.off] >> 4 }

// VersionTrafficAndFlow returns the version, Traffic and Flow label fields of the IPv6 header.
// See [ToS] Traffic Class. Version should be 6 for IPv6.
func (i6frm Frame) VersionTrafficAndFlow() (version uint8, tos ToS, flow uint32) {
	v := binary.BigEndian.Uint32(i6frm.hdr()[0:4])
	version = uint8(v >> (32 - 4))
	tos = ToS(v >> (32 - 12))
	flow = v & 0x000f_ffff
	return version, tos, flow
}

// SetVersionTrafficAndFlow sets the version, ToS and Flow label in the IPv6 header.
// See [Frame.VersionTrafficAndFlow].
func (i6frm Frame) SetVersionTrafficAndFlow(version uint8, tos ToS, flow uint32) error {
	if version > 15 || flow > 0x000f_ffff {
		return divert.ErrInvalidArgument
	}
	v := flow | uint32(tos)<<(32-12) | uint32(version)<<(32-4)
	binary.BigEndian.PutUint32(i6frm.hdr()[0:4], v)
	return nil
}

// PayloadLength returns the size of payload in octets(bytes) including any extension headers.
// The length is set to zero when a Hop-by-Hop extension header carries a Jumbo Payload option.
func (i6frm Frame) PayloadLength() uint16 {
	return binary.BigEndian.Uint16(i6frm.hdr()[4:6])
}

// SetPayloadLength sets the payload length field of the IPv6 header. See [Frame.PayloadLength].
func (i6frm Frame) SetPayloadLength(pl uint16) {
	binary.BigEndian.PutUint16(i6frm.hdr()[4:6], pl)
}

// NextHeader returns the Next Header field of the IPv6 header which usually specifies the transport layer
// protocol used by packet's payload.
func (i6frm Frame) NextHeader() divert.IPProto {
	return divert.IPProto(i6frm.buf[i6frm.off+6])
}

// NextProtocol is an alias of [Frame.NextHeader] satisfying [divert.IPHeader].
func (i6frm Frame) NextProtocol() divert.IPProto { return i6frm.NextHeader() }

// SetNextHeader sets the Next Header (protocol) field of the IPv6 header. See [Frame.NextHeader].
func (i6frm Frame) SetNextHeader(proto divert.IPProto) {
	i6frm.buf[i6frm.off+6] = uint8(proto)
}

// HopLimit returns the Hop Limit of the IPv6 header.
// This value is decremented by one at each forwarding node and the packet is discarded if it becomes 0.
func (i6frm Frame) HopLimit() uint8 {
	return i6frm.buf[i6frm.off+7]
}

// SetHopLimit sets the Hop Limit field of the IPv6 header. See [Frame.HopLimit].
func (i6frm Frame) SetHopLimit(hop uint8) {
	i6frm.buf[i6frm.off+7] = hop
}

// SourceAddr returns pointer to the sending node unicast IPv6 address in the IP header.
func (i6frm Frame) SourceAddr() *[16]byte {
	return (*[16]byte)(i6frm.hdr()[8:24])
}

// DestinationAddr returns pointer to the destination node unicast or multicast IPv6 address in the IP header.
func (i6frm Frame) DestinationAddr() *[16]byte {
	return (*[16]byte)(i6frm.hdr()[24:40])
}

// Source returns the source address.
func (i6frm Frame) Source() netip.Addr { return netip.AddrFrom16(*i6frm.SourceAddr()) }

// Destination returns the destination address.
func (i6frm Frame) Destination() netip.Addr { return netip.AddrFrom16(*i6frm.DestinationAddr()) }

// SetSource sets the source address. IPv4 and IPv4-mapped addresses are rejected.
func (i6frm Frame) SetSource(addr netip.Addr) error {
	if !addr.Is6() || addr.Is4In6() {
		return divert.ErrInvalidArgument
	}
	*i6frm.SourceAddr() = addr.As16()
	return nil
}

// SetDestination sets the destination address. IPv4 and IPv4-mapped addresses are rejected.
func (i6frm Frame) SetDestination(addr netip.Addr) error {
	if !addr.Is6() || addr.Is4In6() {
		return divert.ErrInvalidArgument
	}
	*i6frm.DestinationAddr() = addr.As16()
	return nil
}

// WritePseudoHeader adds the 40 byte IPv6 pseudo-header of RFC 8200 section 8.1 to crc:
// source and destination address, 32 bit upper-layer length, 3 zero bytes and next header.
func (i6frm Frame) WritePseudoHeader(crc *divert.CRC791, proto divert.IPProto, segmentLength int) {
	crc.Write(i6frm.SourceAddr()[:])
	crc.Write(i6frm.DestinationAddr()[:])
	crc.AddUint32(uint32(segmentLength))
	crc.AddUint32(uint32(proto))
}

// ComputeChecksum returns 0. IPv6 has no header checksum.
func (i6frm Frame) ComputeChecksum() uint16 { return 0 }

// CalculateChecksum does nothing. IPv6 has no header checksum.
func (i6frm Frame) CalculateChecksum() {}

// RawHeaderBytes returns a copy of the 40 header bytes.
func (i6frm Frame) RawHeaderBytes() []byte {
	b, _ := i6frm.buf.Slice(i6frm.off, sizeHeader)
	return b
}

// ClearHeader zeros out the header contents.
func (i6frm Frame) ClearHeader() {
	clear(i6frm.hdr()[:sizeHeader])
}

func (i6frm Frame) String() string {
	return fmt.Sprintf("IPv6 %s SRC=%s DST=%s LEN=%d HOP=%d", i6frm.NextHeader(), i6frm.Source(), i6frm.Destination(), i6frm.PayloadLength(), i6frm.HopLimit())
}

//
// Validate API.
//

var (
	errShortFrame = fmt.Errorf("ipv6: short frame: %w", divert.ErrShortBuffer)
	errBadVersion = fmt.Errorf("ipv6: bad version: %w", divert.ErrUnsupportedProto)
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It adds an error to v on finding an inconsistency.
func (i6frm Frame) ValidateSize(v *divert.Validator) {
	tl := i6frm.PayloadLength()
	if i6frm.off+int(tl)+sizeHeader > len(i6frm.buf) {
		v.AddError(errShortFrame)
	}
}

// Validate checks size fields and version.
func (i6frm Frame) Validate(v *divert.Validator) {
	i6frm.ValidateSize(v)
	if i6frm.Version() != 6 {
		v.AddBitPosErr(0, 4, errBadVersion)
	}
}
