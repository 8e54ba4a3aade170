package ethernet

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/divert"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 14.
// Users should still call [Frame.ValidateSize] before working
// with the VLAN fields of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if err := divert.CheckBounds(0, sizeHeaderNoVLAN, len(buf)); err != nil {
		return Frame{}, err
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet frame
// without including preamble (first byte is start of destination address)
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [IEEE 802.3].
//
// [IEEE 802.3]: https://standards.ieee.org/ieee/802.3/7071/
type Frame struct {
	buf divert.Buffer
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the length of the ethernet header. Nominally returns 14; or 18 for VLAN frames.
// Stacked tags are not counted, see [Frame.Unwrap].
func (efrm Frame) HeaderLength() int {
	if efrm.IsVLAN() {
		return sizeHeaderNoVLAN + sizeVLANTag
	}
	return sizeHeaderNoVLAN
}

// Payload returns the data portion of the ethernet frame with correct handling of VLAN frames.
func (efrm Frame) Payload() []byte {
	hl := efrm.HeaderLength()
	et := efrm.EtherTypeOrSize()
	if et.IsSize() && hl+int(et) <= len(efrm.buf) {
		return efrm.buf[hl : hl+int(et)]
	}
	return efrm.buf[hl:]
}

// DestinationHardwareAddr returns the target's MAC/hardware address for the ethernet frame.
func (efrm Frame) DestinationHardwareAddr() (dst *[6]byte) {
	return (*[6]byte)(efrm.buf[0:6])
}

// SourceHardwareAddr returns the sender's MAC/hardware address of the ethernet frame.
func (efrm Frame) SourceHardwareAddr() (src *[6]byte) {
	return (*[6]byte)(efrm.buf[6:12])
}

// EtherTypeOrSize returns the EtherType/Size field of the ethernet frame.
// Caller should check if the field is actually a valid EtherType or if it represents the Ethernet payload size with [divert.EtherType.IsSize].
func (efrm Frame) EtherTypeOrSize() divert.EtherType {
	return divert.EtherType(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the ethernet frame.
func (efrm Frame) SetEtherType(v divert.EtherType) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// IsVLAN returns true if the EtherType field holds an 802.1Q or 802.1ad tag protocol identifier.
// In that case the 4 following octets hold the tag and the actual EtherType.
func (efrm Frame) IsVLAN() bool { return isVLANType(efrm.EtherTypeOrSize()) }

// VLAN returns the tag control information and the inner EtherType of a VLAN frame.
// It panics if the frame is shorter than 18 bytes, call [Frame.ValidateSize] first.
func (efrm Frame) VLAN() (VLANTag, divert.EtherType) {
	vt := binary.BigEndian.Uint16(efrm.buf[14:16])
	et := binary.BigEndian.Uint16(efrm.buf[16:18])
	return VLANTag(vt), divert.EtherType(et)
}

// SetVLAN sets following 3 fields:
//   - 12:14 ethernet frame type set to constant [divert.EtherTypeVLAN].
//   - 14:16 set to VLANTag argument value tag
//   - 16:18 set to the VLAN ether type vlanType.
func (efrm Frame) SetVLAN(tag VLANTag, vlanType divert.EtherType) {
	efrm.SetEtherType(divert.EtherTypeVLAN)
	binary.BigEndian.PutUint16(efrm.buf[14:16], uint16(tag))
	binary.BigEndian.PutUint16(efrm.buf[16:18], uint16(vlanType))
}

// Unwrap skips any number of stacked VLAN tags and returns the EtherType of
// the encapsulated protocol and the bytes following the last tag.
func (efrm Frame) Unwrap() (divert.EtherType, []byte, error) {
	off := 12
	for {
		et, err := efrm.buf.Uint16(off)
		if err != nil {
			return 0, nil, err
		}
		off += 2
		if !isVLANType(divert.EtherType(et)) {
			return divert.EtherType(et), efrm.buf[off:], nil
		}
		off += 2 // Tag control information.
	}
}

// ClearHeader zeros out the fixed(non-variable) header contents.
func (efrm Frame) ClearHeader() {
	clear(efrm.buf[:sizeHeaderNoVLAN])
}

func (efrm Frame) String() string {
	var buf [64]byte
	b := append(buf[:0], "Ethernet "...)
	b = AppendAddr(b, *efrm.SourceHardwareAddr())
	b = append(b, " -> "...)
	b = AppendAddr(b, *efrm.DestinationHardwareAddr())
	return fmt.Sprintf("%s %s", b, efrm.EtherTypeOrSize())
}

//
// Validation API.
//

var (
	errShort     = fmt.Errorf("ethernet: too short: %w", divert.ErrShortBuffer)
	errShortVLAN = fmt.Errorf("ethernet: short VLAN: %w", divert.ErrShortBuffer)
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It adds an error to v on finding an inconsistency.
func (efrm Frame) ValidateSize(v *divert.Validator) {
	sz := efrm.EtherTypeOrSize()
	if sz.IsSize() && len(efrm.buf) < sizeHeaderNoVLAN+int(sz) {
		v.AddError(errShort)
	}
	if isVLANType(sz) && len(efrm.buf) < sizeHeaderNoVLAN+sizeVLANTag {
		v.AddError(errShortVLAN)
	}
}
