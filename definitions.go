package divert

import "strconv"

// EtherType identifies the protocol carried in an Ethernet frame.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet types the capture transport knows how to unwrap.
const (
	EtherTypeIPv4        EtherType = 0x0800 // IPv4
	EtherTypeARP         EtherType = 0x0806 // ARP
	EtherTypeIPv6        EtherType = 0x86DD // IPv6
	EtherTypeVLAN        EtherType = 0x8100 // VLAN
	EtherTypeServiceVLAN EtherType = 0x88a8 // service VLAN
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeServiceVLAN:
		return "service VLAN"
	}
	return "EtherType(0x" + strconv.FormatUint(uint64(et), 16) + ")"
}

// IPToS represents the Traffic Class (a.k.a Type of Service).
type IPToS uint8

// DS returns the top 6 bits of the IPv4 ToS holding the Differentiated Services field
// which is used to classify packets.
func (tos IPToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN is the Explicit Congestion Notification which provides congestion control and non-congestion control traffic.
func (tos IPToS) ECN() uint8 { return uint8(tos & 0b11) }

// Fixed header sizes in bytes.
const (
	SizeHeaderIPv4      = 20
	SizeHeaderIPv6      = 40
	SizeHeaderTCP       = 20
	SizeHeaderUDP       = 8
	SizeHeaderICMP      = 8
	SizeHeaderEthNoVLAN = 14
	SizePseudoIPv4      = 12
	SizePseudoIPv6      = 40
)

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoHopByHop  IPProto = 0   // IPv6 Hop-by-Hop Option [RFC8200]
	IPProtoICMP      IPProto = 1   // Internet Control Message [RFC792]
	IPProtoIGMP      IPProto = 2   // Internet Group Management [RFC1112]
	IPProtoIPv4      IPProto = 4   // IPv4 encapsulation [RFC2003]
	IPProtoTCP       IPProto = 6   // Transmission Control [RFC793]
	IPProtoUDP       IPProto = 17  // User Datagram [RFC768]
	IPProtoIPv6      IPProto = 41  // IPv6 encapsulation [RFC2473]
	IPProtoIPv6Route IPProto = 43  // Routing Header for IPv6 [RFC8200]
	IPProtoIPv6Frag  IPProto = 44  // Fragment Header for IPv6 [RFC8200]
	IPProtoGRE       IPProto = 47  // Generic Routing Encapsulation [RFC2784]
	IPProtoESP       IPProto = 50  // Encap Security Payload [RFC4303]
	IPProtoAH        IPProto = 51  // Authentication Header [RFC4302]
	IPProtoIPv6ICMP  IPProto = 58  // ICMP for IPv6 [RFC8200]
	IPProtoIPv6NoNxt IPProto = 59  // No Next Header for IPv6 [RFC8200]
	IPProtoIPv6Opts  IPProto = 60  // Destination Options for IPv6 [RFC8200]
	IPProtoSCTP      IPProto = 132 // Stream Control Transmission Protocol
	IPProtoUDPLite   IPProto = 136 // UDPLite
)

func (proto IPProto) String() string {
	switch proto {
	case IPProtoHopByHop:
		return "HOPOPT"
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoIPv4:
		return "IPv4"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	case IPProtoIPv6:
		return "IPv6"
	case IPProtoIPv6Route:
		return "IPv6-Route"
	case IPProtoIPv6Frag:
		return "IPv6-Frag"
	case IPProtoGRE:
		return "GRE"
	case IPProtoESP:
		return "ESP"
	case IPProtoAH:
		return "AH"
	case IPProtoIPv6ICMP:
		return "ICMPv6"
	case IPProtoIPv6NoNxt:
		return "IPv6-NoNxt"
	case IPProtoIPv6Opts:
		return "IPv6-Opts"
	case IPProtoSCTP:
		return "SCTP"
	case IPProtoUDPLite:
		return "UDPLite"
	}
	return "IPProto(" + strconv.Itoa(int(proto)) + ")"
}

// Ownership selects whether header views alias the caller's bytes or an independent copy.
type Ownership uint8

const (
	// Shared header views alias the caller's buffer: writes through a header
	// are visible through the packet and vice versa.
	Shared Ownership = iota
	// Owned header views operate on a private copy of the caller's buffer.
	Owned
)

func (o Ownership) String() string {
	switch o {
	case Shared:
		return "shared"
	case Owned:
		return "owned"
	}
	return "Ownership(" + strconv.Itoa(int(o)) + ")"
}

// ParseOwnership parses the output of [Ownership.String].
func ParseOwnership(s string) (Ownership, error) {
	switch s {
	case "shared", "":
		return Shared, nil
	case "owned":
		return Owned, nil
	}
	return 0, ErrInvalidArgument
}
