package ethernet

import (
	"strconv"

	"github.com/soypat/divert"
)

const (
	sizeHeaderNoVLAN = divert.SizeHeaderEthNoVLAN
	sizeVLANTag      = 4
	sizeFCS          = 4
)

// AppendAddr appends the text representation of the hardware address to the destination buffer.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// VLANTag holds priority (PCP) Drop indicator (DEI) and VLAN ID bits of the VLAN tag field.
type VLANTag uint16

// PriorityCodePoint is the 3-bit IEEE 802.1p class of service.
func (vt VLANTag) PriorityCodePoint() uint8 { return uint8(vt >> 13) }

// DropEligibleIndicator returns true if the DEI bit is set.
func (vt VLANTag) DropEligibleIndicator() bool { return vt&(1<<12) != 0 }

// VLANIdentifier 12 bit field which specifies which VLAN the frame belongs to. Values of 0 and 4095 are reserved.
func (vt VLANTag) VLANIdentifier() uint16 { return uint16(vt) & 0x0fff }

func isVLANType(et divert.EtherType) bool {
	return et == divert.EtherTypeVLAN || et == divert.EtherTypeServiceVLAN
}
