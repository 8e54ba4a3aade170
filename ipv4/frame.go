package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/soypat/divert"
)

// NewFrame returns a new IPv4 Frame over the header starting at buf[off].
// An error is returned if the fixed header does not fit, if the IHL
// field is below 5 or if the header described by IHL exceeds buf.
// The frame aliases buf; writes through the frame are visible in buf.
func NewFrame(buf []byte, off int) (Frame, error) {
	if err := divert.CheckBounds(off, sizeHeader, len(buf)); err != nil {
		return Frame{}, err
	}
	ifrm := Frame{buf: buf, off: off}
	ihl := ifrm.ihl()
	if ihl < 5 {
		return Frame{}, errBadIHL
	}
	if err := divert.CheckBounds(off, 4*int(ihl), len(buf)); err != nil {
		return Frame{}, err
	}
	return ifrm, nil
}

// Frame encapsulates the raw data of an IPv4 packet
// and provides methods for manipulating, validating and
// retreiving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf divert.Buffer
	off int
}

var _ divert.IPHeader = Frame{}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// Offset returns the index of the first IPv4 header byte in RawData.
func (ifrm Frame) Offset() int { return ifrm.off }

func (ifrm Frame) hdr() []byte { return ifrm.buf[ifrm.off:] }

// HeaderLength returns the length of the IPv4 header as calculated using IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.ihl()) * 4
}

func (ifrm Frame) ihl() uint8 { return ifrm.buf[ifrm.off] & 0xf }

// Version returns the version field. It is 4 for frames built by the header chain builder.
func (ifrm Frame) Version() uint8 { return ifrm.buf[ifrm.off] >> 4 }

// VersionAndIHL returns the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) VersionAndIHL() (version, IHL uint8) {
	v := ifrm.buf[ifrm.off]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header.
// IHL must be in 5..15 and the resulting header must fit in the buffer.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) error {
	if IHL < 5 || IHL > 15 || version > 15 {
		return divert.ErrInvalidArgument
	}
	if err := divert.CheckBounds(ifrm.off, 4*int(IHL), len(ifrm.buf)); err != nil {
		return err
	}
	ifrm.buf[ifrm.off] = version<<4 | IHL
	return nil
}

// ToS (Type of Service) contains Differential Services Code Point (DSCP) and
// Explicit Congestion Notification (ECN) union data.
//
// DSCP originally defined as the type of service (ToS), this field specifies
// differentiated services (DiffServ) per RFC 2474.
//
// ECN is defined in RFC 3168 and allows end-to-end notification of
// network congestion without dropping packets.
func (ifrm Frame) ToS() ToS {
	return ToS(ifrm.buf[ifrm.off+1])
}

// SetToS sets ToS field. See [Frame.ToS].
func (ifrm Frame) SetToS(tos ToS) { ifrm.buf[ifrm.off+1] = byte(tos) }

// TotalLength defines the entire packet size in bytes, including IP header and data.
// The minimum size is 20 bytes (IPv4 header without data) and the maximum is 65,535 bytes.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.hdr()[2:4])
}

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.hdr()[2:4], tl) }

// ID is an identification field and is primarily used for uniquely
// identifying the group of fragments of a single IP datagram.
func (ifrm Frame) ID() uint16 {
	return binary.BigEndian.Uint16(ifrm.hdr()[4:6])
}

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.hdr()[4:6], id) }

// Flags returns the [Flags] of the IP packet.
func (ifrm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(ifrm.hdr()[6:8]))
}

// SetFlags sets the IPv4 flags field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(ifrm.hdr()[6:8], uint16(flags))
}

// TTL is an eight-bit time to live field limits a datagram's lifetime to prevent
// network failure in the event of a routing loop. Routers decrement it by one
// and discard the packet when it reaches zero.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[ifrm.off+8] }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[ifrm.off+8] = ttl }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6, UDP is 17.
// See [divert.IPProto].
func (ifrm Frame) Protocol() divert.IPProto { return divert.IPProto(ifrm.buf[ifrm.off+9]) }

// NextProtocol is an alias of [Frame.Protocol] satisfying [divert.IPHeader].
func (ifrm Frame) NextProtocol() divert.IPProto { return ifrm.Protocol() }

// SetProtocol sets protocol field. See [Frame.Protocol] and [divert.IPProto].
func (ifrm Frame) SetProtocol(proto divert.IPProto) { ifrm.buf[ifrm.off+9] = uint8(proto) }

// CRC returns the cyclic-redundancy-check (checksum) field of the IPv4 header.
func (ifrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ifrm.hdr()[10:12])
}

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) {
	binary.BigEndian.PutUint16(ifrm.hdr()[10:12], cs)
}

// ComputeChecksum calculates the header checksum over the header bytes
// including options, treating the checksum field as zero.
func (ifrm Frame) ComputeChecksum() uint16 {
	var crc divert.CRC791
	return crc.SumSkipping(ifrm.hdr()[:ifrm.HeaderLength()], 10)
}

// CalculateChecksum computes the header checksum and stores it in the CRC field.
func (ifrm Frame) CalculateChecksum() {
	ifrm.SetCRC(ifrm.ComputeChecksum())
}

// WritePseudoHeader adds the 12 byte IPv4 pseudo-header to crc: source and
// destination address, a zero byte, proto and the segment length.
func (ifrm Frame) WritePseudoHeader(crc *divert.CRC791, proto divert.IPProto, segmentLength int) {
	crc.Write(ifrm.SourceAddr()[:])
	crc.Write(ifrm.DestinationAddr()[:])
	crc.AddUint16(uint16(proto))
	crc.AddUint16(uint16(segmentLength))
}

// SourceAddr returns pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte {
	return (*[4]byte)(ifrm.hdr()[12:16])
}

// DestinationAddr returns pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte {
	return (*[4]byte)(ifrm.hdr()[16:20])
}

// Source returns the source address.
func (ifrm Frame) Source() netip.Addr { return netip.AddrFrom4(*ifrm.SourceAddr()) }

// Destination returns the destination address.
func (ifrm Frame) Destination() netip.Addr { return netip.AddrFrom4(*ifrm.DestinationAddr()) }

// SetSource sets the source address. addr must be an IPv4 address.
func (ifrm Frame) SetSource(addr netip.Addr) error {
	if !addr.Is4() {
		return divert.ErrInvalidArgument
	}
	*ifrm.SourceAddr() = addr.As4()
	return nil
}

// SetDestination sets the destination address. addr must be an IPv4 address.
func (ifrm Frame) SetDestination(addr netip.Addr) error {
	if !addr.Is4() {
		return divert.ErrInvalidArgument
	}
	*ifrm.DestinationAddr() = addr.As4()
	return nil
}

// HasPorts returns false. IPv4 headers carry no ports.
func (ifrm Frame) HasPorts() bool { return false }

// RawHeaderBytes returns a copy of the header bytes including options.
func (ifrm Frame) RawHeaderBytes() []byte {
	b, _ := ifrm.buf.Slice(ifrm.off, ifrm.HeaderLength())
	return b
}

// Payload returns the contents of the IPv4 packet, which may be zero sized.
// The payload ends at TotalLength or at the end of the buffer, whichever comes first.
func (ifrm Frame) Payload() []byte {
	start := ifrm.off + ifrm.HeaderLength()
	end := ifrm.off + int(ifrm.TotalLength())
	if end > len(ifrm.buf) {
		end = len(ifrm.buf)
	}
	if end < start {
		end = start
	}
	return ifrm.buf[start:end]
}

// Options returns the options portion of the IPv4 header. May be zero lengthed.
func (ifrm Frame) Options() []byte {
	return ifrm.hdr()[sizeHeader:ifrm.HeaderLength()]
}

// ClearHeader zeros out the fixed(non-variable) header contents.
func (ifrm Frame) ClearHeader() {
	clear(ifrm.hdr()[:sizeHeader])
}

//
// Validation API.
//

var (
	errBadTL      = fmt.Errorf("ipv4: bad total length: %w", divert.ErrInvalidArgument)
	errShort      = fmt.Errorf("ipv4: short data: %w", divert.ErrShortBuffer)
	errBadIHL     = fmt.Errorf("ipv4: bad IHL: %w", divert.ErrInvalidArgument)
	errBadVersion = fmt.Errorf("ipv4: bad version: %w", divert.ErrUnsupportedProto)
	errEvil       = fmt.Errorf("ipv4: evil packet: %w", divert.ErrInvalidArgument)
	errBadCRC     = fmt.Errorf("ipv4: %w", divert.ErrBadCRC)
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It adds an error to v on finding an inconsistency.
func (ifrm Frame) ValidateSize(v *divert.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if tl < sizeHeader || int(tl) < 4*int(ihl) {
		v.AddBitPosErr(16, 16, errBadTL)
	}
	if ifrm.off+int(tl) > len(ifrm.buf) {
		v.AddError(errShort)
	}
	if ihl < 5 {
		v.AddBitPosErr(4, 4, errBadIHL)
	}
}

// ValidateExceptCRC checks for invalid frame values but does not check CRC.
func (ifrm Frame) ValidateExceptCRC(v *divert.Validator) {
	ifrm.ValidateSize(v)
	flags := ifrm.Flags()
	if ifrm.Version() != 4 {
		v.AddBitPosErr(0, 4, errBadVersion)
	}
	if v.Flags()&divert.ValidateEvilBit != 0 && flags.IsEvil() {
		v.AddBitPosErr(48, 1, errEvil)
	}
}

// Validate checks all frame values including the header checksum.
func (ifrm Frame) Validate(v *divert.Validator) {
	ifrm.ValidateExceptCRC(v)
	if ifrm.CRC() != ifrm.ComputeChecksum() {
		v.AddBitPosErr(80, 16, errBadCRC)
	}
}

func (ifrm Frame) String() string {
	hl := ifrm.HeaderLength()
	tl := int(ifrm.TotalLength())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d OPT=%d TTL=%d ID=%d ToS=0x%x",
		ifrm.Protocol().String(), ifrm.Source(), ifrm.Destination(), tl, hl-sizeHeader, ifrm.TTL(), ifrm.ID(), ifrm.ToS())
}
