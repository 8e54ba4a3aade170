package packet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/pkg/errors"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ipv4"
	"github.com/soypat/divert/ipv4/icmpv4"
	"github.com/soypat/divert/ipv6"
	"github.com/soypat/divert/ipv6/icmpv6"
	"github.com/soypat/divert/tcp"
	"github.com/soypat/divert/udp"
)

// Packet is a raw IP packet together with its header chain and capture metadata.
//
// Packet keeps the byte slice it was created with. Header views alias that
// slice when built with [divert.Shared]: a write through a header is visible
// through [Packet.Raw] and [Packet.Payload] and the other way around. Shared
// packets must not be mutated from more than one goroutine without external
// synchronization. With [divert.Owned] the headers, [Packet.Payload] and
// [Packet.SetPayload] operate on a private copy and edits do not reach
// [Packet.Raw]. [Packet.Encode] returns the edited datagram in both modes.
type Packet struct {
	raw   []byte
	addr  Address
	chain Chain
}

// New builds the header chain over raw and returns a Packet carrying addr.
func New(raw []byte, addr Address, own divert.Ownership) (*Packet, error) {
	chain, err := Build(raw, own)
	if err != nil {
		return nil, err
	}
	return &Packet{raw: raw, addr: addr, chain: chain}, nil
}

func (p *Packet) IsIPv4() bool { return p.chain.ip.Version() == 4 }
func (p *Packet) IsIPv6() bool { return p.chain.ip.Version() == 6 }
func (p *Packet) IsTCP() bool  { return p.chain.kind == KindTCP }
func (p *Packet) IsUDP() bool  { return p.chain.kind == KindUDP }

// IsICMPv4 reports whether the packet is IPv4 carrying ICMP.
func (p *Packet) IsICMPv4() bool {
	return p.IsIPv4() && p.chain.ip.NextProtocol() == divert.IPProtoICMP
}

// IsICMPv6 reports whether the packet is IPv6 carrying ICMPv6.
func (p *Packet) IsICMPv6() bool {
	return p.IsIPv6() && p.chain.ip.NextProtocol() == divert.IPProtoIPv6ICMP
}

// Chain returns the header chain of the packet.
func (p *Packet) Chain() Chain { return p.chain }

// IPHeader returns the IPv4 or IPv6 header view.
func (p *Packet) IPHeader() divert.IPHeader { return p.chain.ip }

// ProtocolHeader returns the header following the IP header or nil if the
// protocol is not one the packet knows how to decode.
func (p *Packet) ProtocolHeader() divert.Header { return p.chain.Proto() }

func (p *Packet) IPv4() (ipv4.Frame, bool)     { return p.chain.IPv4() }
func (p *Packet) IPv6() (ipv6.Frame, bool)     { return p.chain.IPv6() }
func (p *Packet) TCP() (tcp.Frame, bool)       { return p.chain.TCP() }
func (p *Packet) UDP() (udp.Frame, bool)       { return p.chain.UDP() }
func (p *Packet) ICMPv4() (icmpv4.Frame, bool) { return p.chain.ICMPv4() }
func (p *Packet) ICMPv6() (icmpv6.Frame, bool) { return p.chain.ICMPv6() }

func (p *Packet) SrcAddr() netip.Addr { return p.chain.ip.Source() }
func (p *Packet) DstAddr() netip.Addr { return p.chain.ip.Destination() }

// SetSrcAddr sets the IP source address. The address family must match the IP version.
func (p *Packet) SetSrcAddr(addr netip.Addr) error {
	return errors.Wrap(p.chain.ip.SetSource(addr), "set source address")
}

// SetDstAddr sets the IP destination address. The address family must match the IP version.
func (p *Packet) SetDstAddr(addr netip.Addr) error {
	return errors.Wrap(p.chain.ip.SetDestination(addr), "set destination address")
}

func (p *Packet) transport() (divert.TransportHeader, error) {
	th, ok := p.chain.Transport()
	if !ok {
		return nil, errors.Wrapf(divert.ErrInvalidState, "%s header has no ports", p.chain.kind)
	}
	return th, nil
}

// SrcPort returns the transport source port. It fails with
// [divert.ErrInvalidState] if the protocol header has no ports.
func (p *Packet) SrcPort() (uint16, error) {
	th, err := p.transport()
	if err != nil {
		return 0, err
	}
	return th.SourcePort(), nil
}

// DstPort returns the transport destination port. See [Packet.SrcPort].
func (p *Packet) DstPort() (uint16, error) {
	th, err := p.transport()
	if err != nil {
		return 0, err
	}
	return th.DestinationPort(), nil
}

// SetSrcPort sets the transport source port. Nothing is written if the
// protocol header has no ports.
func (p *Packet) SetSrcPort(port uint16) error {
	th, err := p.transport()
	if err != nil {
		return err
	}
	th.SetSourcePort(port)
	return nil
}

// SetDstPort sets the transport destination port. See [Packet.SetSrcPort].
func (p *Packet) SetDstPort(port uint16) error {
	th, err := p.transport()
	if err != nil {
		return err
	}
	th.SetDestinationPort(port)
	return nil
}

// HeadersLength returns the length of the IP header plus the protocol header.
func (p *Packet) HeadersLength() int { return p.chain.HeadersLength() }

// Payload returns a copy of the bytes following the headers.
func (p *Packet) Payload() []byte {
	buf := p.chain.buf
	off := p.HeadersLength()
	if off >= len(buf) {
		return []byte{}
	}
	return bytes.Clone(buf[off:])
}

// SetPayload writes payload right after the headers. The packet is never
// resized: a payload longer than the remaining space fails with
// [divert.ErrOutOfBounds] and writes nothing.
func (p *Packet) SetPayload(payload []byte) error {
	err := divert.Buffer(p.chain.buf).Write(p.HeadersLength(), payload)
	return errors.Wrap(err, "set payload")
}

// CalcFlags selects checksums skipped by [Packet.CalculateChecksumsWith].
type CalcFlags uint8

const (
	NoIPChecksum CalcFlags = 1 << iota
	NoICMPChecksum
	NoICMPv6Checksum
	NoTCPChecksum
	NoUDPChecksum
)

func (cf CalcFlags) has(f CalcFlags) bool { return cf&f != 0 }

// CalculateChecksums recomputes the protocol header checksum and then the IP
// header checksum in place.
func (p *Packet) CalculateChecksums() { p.CalculateChecksumsWith(0) }

// CalculateChecksumsWith is [Packet.CalculateChecksums] skipping the checksums
// selected by skip.
func (p *Packet) CalculateChecksumsWith(skip CalcFlags) {
	var flag CalcFlags
	switch p.chain.kind {
	case KindTCP:
		flag = NoTCPChecksum
	case KindUDP:
		flag = NoUDPChecksum
	case KindICMPv4:
		flag = NoICMPChecksum
	case KindICMPv6:
		flag = NoICMPv6Checksum
	}
	if proto := p.chain.Proto(); proto != nil && !skip.has(flag) {
		proto.CalculateChecksum()
	}
	if !skip.has(NoIPChecksum) {
		p.chain.ip.CalculateChecksum()
	}
}

// VerifyChecksums compares every stored checksum with the computed one. The
// returned error wraps [divert.ErrBadCRC] and names the failing header. A zero
// UDP checksum over IPv4 means no checksum and is accepted.
func (p *Packet) VerifyChecksums() error {
	if ifrm, ok := p.chain.IPv4(); ok && ifrm.CRC() != ifrm.ComputeChecksum() {
		return errors.Wrapf(divert.ErrBadCRC, "ipv4 header got 0x%04x want 0x%04x", ifrm.CRC(), ifrm.ComputeChecksum())
	}
	var got, want uint16
	switch p.chain.kind {
	case KindTCP:
		got, want = p.chain.tcp.CRC(), p.chain.tcp.ComputeChecksum()
	case KindUDP:
		got, want = p.chain.udp.CRC(), p.chain.udp.ComputeChecksum()
		if got == 0 && p.IsIPv4() {
			return nil
		}
	case KindICMPv4:
		got, want = p.chain.icmp4.CRC(), p.chain.icmp4.ComputeChecksum()
	case KindICMPv6:
		got, want = p.chain.icmp6.CRC(), p.chain.icmp6.ComputeChecksum()
	}
	if got != want {
		return errors.Wrapf(divert.ErrBadCRC, "%s header got 0x%04x want 0x%04x", p.chain.kind, got, want)
	}
	return nil
}

var errBadICMPCRC = fmt.Errorf("icmp: %w", divert.ErrBadCRC)

// Validate adds size and checksum inconsistencies of every header to v.
func (p *Packet) Validate(v *divert.Validator) {
	switch ip := p.chain.ip.(type) {
	case ipv4.Frame:
		ip.Validate(v)
	case ipv6.Frame:
		ip.Validate(v)
	}
	switch p.chain.kind {
	case KindTCP:
		p.chain.tcp.Validate(v)
	case KindUDP:
		p.chain.udp.Validate(v)
	case KindICMPv4:
		if p.chain.icmp4.CRC() != p.chain.icmp4.ComputeChecksum() {
			v.AddBitPosErr(16, 16, errBadICMPCRC)
		}
	case KindICMPv6:
		if p.chain.icmp6.CRC() != p.chain.icmp6.ComputeChecksum() {
			v.AddBitPosErr(16, 16, errBadICMPCRC)
		}
	}
}

// Raw returns the packet bytes. With copy set the result is a fresh slice,
// otherwise it is the slice the packet was created with.
func (p *Packet) Raw(copy bool) []byte {
	if copy {
		return bytes.Clone(p.raw)
	}
	return p.raw
}

// Address returns the capture metadata of the packet.
func (p *Packet) Address() Address { return p.addr }

// Encode returns the bytes and metadata to hand to a [Handle] for injection.
// The bytes carry every header and payload edit, which for owned packets
// live in the chain's copy rather than in [Packet.Raw].
func (p *Packet) Encode() ([]byte, Address) { return p.chain.Bytes(), p.addr }

// Equal reports whether both packets hold the same bytes and metadata.
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	return bytes.Equal(p.raw, other.raw) && p.addr.Equal(other.addr)
}

func (p *Packet) String() string {
	proto := "none"
	if h := p.chain.Proto(); h != nil {
		proto = fmt.Sprint(h)
	}
	return fmt.Sprintf("Packet{%v, %s, %s, raw=%s}", p.chain.ip, proto, p.addr.String(), hex.EncodeToString(p.raw))
}
