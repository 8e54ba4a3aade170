package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/divert"
)

const (
	sizeHeaderTCP = 20
)

// NewFrame returns a new TCP Frame over the header starting at buf[off].
// ip is the enclosing IP header used for the checksum pseudo-header and must be non-nil.
// An error is returned if the data offset field is outside 5..15 or if the
// header it describes does not fit in buf. The segment extends to the end of buf.
func NewFrame(buf []byte, off int, ip divert.IPHeader) (Frame, error) {
	if ip == nil {
		return Frame{}, divert.ErrInvalidArgument
	}
	if err := divert.CheckBounds(off, sizeHeaderTCP, len(buf)); err != nil {
		return Frame{}, err
	}
	tfrm := Frame{buf: buf, off: off, ip: ip}
	if tfrm.DataOffset() < 5 {
		return Frame{}, errBadOffset
	}
	if err := divert.CheckBounds(off, tfrm.HeaderLength(), len(buf)); err != nil {
		return Frame{}, err
	}
	return tfrm, nil
}

// Frame encapsulates the raw data of a TCP segment
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC9293].
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type Frame struct {
	buf divert.Buffer
	off int
	ip  divert.IPHeader
}

var _ divert.TransportHeader = Frame{}

func (tfrm Frame) hdr() []byte { return tfrm.buf[tfrm.off:] }

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

// Offset returns the index of the first TCP header byte in RawData.
func (tfrm Frame) Offset() int { return tfrm.off }

// IP returns the IP header used for the checksum pseudo-header.
func (tfrm Frame) IP() divert.IPHeader { return tfrm.ip }

// HasPorts returns true.
func (tfrm Frame) HasPorts() bool { return true }

// SourcePort identifies the sending port of the TCP packet. Must be non-zero.
func (tfrm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(tfrm.hdr()[0:2])
}

// SetSourcePort sets TCP source port. See [Frame.SourcePort]
func (tfrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(tfrm.hdr()[0:2], src)
}

// DestinationPort identifies the receiving port for the TCP packet. Must be non-zero.
func (tfrm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(tfrm.hdr()[2:4])
}

// SetDestinationPort sets TCP destination port. See [Frame.DestinationPort]
func (tfrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(tfrm.hdr()[2:4], dst)
}

// Seq returns sequence number of the first data octet in this segment (except when SYN present)
// If SYN present this is the Initial Sequence Number (ISN) and the first data octet would be ISN+1.
func (tfrm Frame) Seq() Value {
	return Value(binary.BigEndian.Uint32(tfrm.hdr()[4:8]))
}

// SetSeq sets Seq field. See [Frame.Seq].
func (tfrm Frame) SetSeq(v Value) {
	binary.BigEndian.PutUint32(tfrm.hdr()[4:8], uint32(v))
}

// Ack is the next sequence number (Seq field) the sender is expecting to receive (when ACK is present).
// In other words an Ack of X indicates all octets up to but not including X have been received.
func (tfrm Frame) Ack() Value {
	return Value(binary.BigEndian.Uint32(tfrm.hdr()[8:12]))
}

// SetAck sets Ack field. See [Frame.Ack].
func (tfrm Frame) SetAck(v Value) {
	binary.BigEndian.PutUint32(tfrm.hdr()[8:12], uint32(v))
}

// DataOffset returns the header length in 32-bit words, the top 4 bits of byte 12.
func (tfrm Frame) DataOffset() uint8 { return tfrm.buf[tfrm.off+12] >> 4 }

// SetDataOffset sets the header length in 32-bit words. The reserved bits and
// NS flag sharing the byte are preserved. offset must be in 5..15 and the
// resulting header must fit in the buffer; otherwise nothing is modified.
func (tfrm Frame) SetDataOffset(offset uint8) error {
	if offset < 5 || offset > 15 {
		return divert.ErrInvalidArgument
	}
	if err := divert.CheckBounds(tfrm.off, 4*int(offset), len(tfrm.buf)); err != nil {
		return err
	}
	b := &tfrm.buf[tfrm.off+12]
	*b = offset<<4 | *b&0x0f
	return nil
}

// Reserved returns the 3 reserved bits between data offset and NS.
func (tfrm Frame) Reserved() uint8 { return (tfrm.buf[tfrm.off+12] >> 1) & 0b111 }

// SetReserved sets the 3 reserved bits. v must be below 8.
func (tfrm Frame) SetReserved(v uint8) error {
	if v > 0b111 {
		return divert.ErrInvalidArgument
	}
	b := &tfrm.buf[tfrm.off+12]
	*b = *b&^0b1110 | v<<1
	return nil
}

// OffsetAndFlags returns the offset and flag fields of TCP header.
// Offset is amount of 32-bit words used for TCP header including TCP options (see [Frame.HeaderLength]).
// See [Flags] for more information on TCP flags.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	return tfrm.DataOffset(), tfrm.Flags()
}

// Flags returns the 9 flag bits of the header.
func (tfrm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(tfrm.hdr()[12:14])).Mask()
}

// SetFlags overwrites all 9 flag bits leaving data offset and reserved bits untouched.
func (tfrm Frame) SetFlags(flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.hdr()[12:14])
	v = v&^flagMask | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.hdr()[12:14], v)
}

// Is reports whether flag fb is set. Invalid flags report false.
func (tfrm Frame) Is(fb FlagBit) bool {
	if !fb.Valid() {
		return false
	}
	byteOff, pos := fb.position()
	set, _ := tfrm.buf.Bit(tfrm.off+byteOff, pos)
	return set
}

// Set sets or clears flag fb leaving every other header bit untouched.
func (tfrm Frame) Set(fb FlagBit, value bool) error {
	if !fb.Valid() {
		return divert.ErrInvalidArgument
	}
	byteOff, pos := fb.position()
	return tfrm.buf.SetBit(tfrm.off+byteOff, pos, value)
}

// HeaderLength uses Offset field to calculate the total length of
// the TCP header including options.
func (tfrm Frame) HeaderLength() (lengthInBytes int) {
	return 4 * int(tfrm.DataOffset())
}

func (tfrm Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(tfrm.hdr()[14:16]) }
func (tfrm Frame) SetWindowSize(v uint16) {
	binary.BigEndian.PutUint16(tfrm.hdr()[14:16], v)
}

// CRC returns the checksum field in the TCP header.
func (tfrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(tfrm.hdr()[16:18])
}

// SetCRC sets the checksum field of the TCP header. See [Frame.CRC].
func (tfrm Frame) SetCRC(checksum uint16) {
	binary.BigEndian.PutUint16(tfrm.hdr()[16:18], checksum)
}

func (tfrm Frame) UrgentPtr() uint16      { return binary.BigEndian.Uint16(tfrm.hdr()[18:20]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.hdr()[18:20], up) }

// ComputeChecksum returns the checksum over the IP pseudo-header and the segment
// from the TCP header start to the end of the buffer, treating the checksum field as zero.
func (tfrm Frame) ComputeChecksum() uint16 {
	var crc divert.CRC791
	seg := tfrm.hdr()
	tfrm.ip.WritePseudoHeader(&crc, divert.IPProtoTCP, len(seg))
	return crc.SumSkipping(seg, 16)
}

// CalculateChecksum computes the checksum and stores it in the CRC field.
func (tfrm Frame) CalculateChecksum() { tfrm.SetCRC(tfrm.ComputeChecksum()) }

// Payload returns the payload content section of the TCP packet (not including TCP options).
func (tfrm Frame) Payload() []byte {
	return tfrm.hdr()[tfrm.HeaderLength():]
}

// Options returns a copy of the TCP options, or nil when the header has none.
func (tfrm Frame) Options() []byte {
	hl := tfrm.HeaderLength()
	if hl <= sizeHeaderTCP {
		return nil
	}
	opts, _ := tfrm.buf.Slice(tfrm.off+sizeHeaderTCP, hl-sizeHeaderTCP)
	return opts
}

// SetOptions writes opts into the options region, zero padding the remainder.
// It fails with [divert.ErrInvalidState] if the header has no options region and
// with [divert.ErrInvalidArgument] if opts does not fit in it.
func (tfrm Frame) SetOptions(opts []byte) error {
	room := tfrm.HeaderLength() - sizeHeaderTCP
	if room <= 0 {
		return divert.ErrInvalidState
	} else if len(opts) > room {
		return divert.ErrInvalidArgument
	}
	region := tfrm.hdr()[sizeHeaderTCP : sizeHeaderTCP+room]
	n := copy(region, opts)
	clear(region[n:])
	return nil
}

// MaxSegmentSize returns the value of the maximum segment size option or -1
// if the header carries no such option.
func (tfrm Frame) MaxSegmentSize() int {
	hl := tfrm.HeaderLength()
	if hl <= sizeHeaderTCP {
		return -1
	}
	return findMSS(tfrm.hdr()[sizeHeaderTCP:hl])
}

// RawHeaderBytes returns a copy of the header bytes including options.
func (tfrm Frame) RawHeaderBytes() []byte {
	b, _ := tfrm.buf.Slice(tfrm.off, tfrm.HeaderLength())
	return b
}

// ClearHeader zeros out the fixed(non-variable) header contents.
// The data offset is left at 5 so the frame remains usable.
func (tfrm Frame) ClearHeader() {
	clear(tfrm.hdr()[:sizeHeaderTCP])
	tfrm.buf[tfrm.off+12] = 5 << 4
}

func (tfrm Frame) String() string {
	return fmt.Sprintf("TCP :%d -> :%d SEQ=%d ACK=%d WND=%d DATA=%d %s",
		tfrm.SourcePort(), tfrm.DestinationPort(), tfrm.Seq(), tfrm.Ack(), tfrm.WindowSize(), len(tfrm.Payload()), tfrm.Flags())
}

//
// Validation API
//

var (
	errBadOffset   = fmt.Errorf("tcp: bad data offset: %w", divert.ErrInvalidArgument)
	errZeroSrcPort = fmt.Errorf("tcp: zero source port: %w", divert.ErrInvalidArgument)
	errZeroDstPort = fmt.Errorf("tcp: zero destination port: %w", divert.ErrInvalidArgument)
	errBadCRC      = fmt.Errorf("tcp: %w", divert.ErrBadCRC)
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It adds an error to v on finding an inconsistency.
func (tfrm Frame) ValidateSize(v *divert.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeaderTCP {
		v.AddBitPosErr(12*8, 4, errBadOffset)
	}
	if tfrm.off+off > len(tfrm.buf) {
		v.AddBitPosErr(12*8, 4, errBadOffset)
	}
}

func (tfrm Frame) ValidateExceptCRC(v *divert.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.DestinationPort() == 0 {
		v.AddBitPosErr(2*8, 16, errZeroDstPort)
	}
	if tfrm.SourcePort() == 0 {
		v.AddBitPosErr(0, 16, errZeroSrcPort)
	}
}

// Validate checks all frame values including the checksum.
func (tfrm Frame) Validate(v *divert.Validator) {
	tfrm.ValidateExceptCRC(v)
	if tfrm.CRC() != tfrm.ComputeChecksum() {
		v.AddBitPosErr(16*8, 16, errBadCRC)
	}
}
