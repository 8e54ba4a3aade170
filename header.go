package divert

import (
	"bytes"
	"net/netip"
)

// Header is implemented by every protocol header view. A header view reads and
// writes its fields directly in the packet buffer it was constructed over.
type Header interface {
	// Offset returns the index of the first header byte in the packet buffer.
	Offset() int
	// HeaderLength returns the length of the header in bytes, including options.
	HeaderLength() int
	// RawHeaderBytes returns a copy of the HeaderLength bytes starting at Offset.
	RawHeaderBytes() []byte
	// CalculateChecksum computes the header checksum and stores it in place.
	CalculateChecksum()
	// ComputeChecksum returns the checksum the header should carry without modifying the buffer.
	ComputeChecksum() uint16
	// HasPorts reports whether the header carries source and destination ports.
	HasPorts() bool
}

// IPHeader is a network layer header: IPv4 or IPv6.
type IPHeader interface {
	Header
	// Version returns the IP version number, 4 or 6.
	Version() uint8
	// NextProtocol returns the protocol number of the header following the IP header.
	NextProtocol() IPProto
	Source() netip.Addr
	Destination() netip.Addr
	// SetSource fails with ErrInvalidArgument if addr is not of the header's family.
	SetSource(addr netip.Addr) error
	SetDestination(addr netip.Addr) error
	// WritePseudoHeader adds the pseudo-header used by upper-layer checksums
	// to crc for a segment of segmentLength bytes carrying proto.
	WritePseudoHeader(crc *CRC791, proto IPProto, segmentLength int)
}

// TransportHeader is a header with source and destination ports: TCP or UDP.
type TransportHeader interface {
	Header
	SourcePort() uint16
	DestinationPort() uint16
	SetSourcePort(uint16)
	SetDestinationPort(uint16)
}

// HeaderEqual reports whether a and b hold identical raw header bytes.
// Headers over different buffers compare equal when their bytes match.
func HeaderEqual(a, b Header) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.RawHeaderBytes(), b.RawHeaderBytes())
}
