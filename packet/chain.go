package packet

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ipv4"
	"github.com/soypat/divert/ipv4/icmpv4"
	"github.com/soypat/divert/ipv6"
	"github.com/soypat/divert/ipv6/icmpv6"
	"github.com/soypat/divert/tcp"
	"github.com/soypat/divert/udp"
)

// Kind identifies the protocol header following the IP header in a [Chain].
type Kind uint8

const (
	// KindNone means the next protocol has no header view. Bytes after the
	// IP header are opaque payload.
	KindNone Kind = iota
	KindTCP
	KindUDP
	KindICMPv4
	KindICMPv6
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTCP:
		return "TCP"
	case KindUDP:
		return "UDP"
	case KindICMPv4:
		return "ICMPv4"
	case KindICMPv6:
		return "ICMPv6"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Chain is the IP header and the protocol header following it, built over one buffer.
// Exactly one of the protocol accessors reports ok, or none when Kind is [KindNone].
type Chain struct {
	buf   []byte
	own   divert.Ownership
	ip    divert.IPHeader
	kind  Kind
	tcp   tcp.Frame
	udp   udp.Frame
	icmp4 icmpv4.Frame
	icmp6 icmpv6.Frame
}

// Build detects the IP version of raw, builds the IP header and dispatches on
// its next protocol field to build the matching protocol header. With
// [divert.Owned] the headers operate on a private copy of raw.
//
// IP versions other than 4 and 6 fail with [divert.ErrUnsupportedProto].
// Unknown next protocols, and ICMP carried by the wrong IP version, yield a
// chain of [KindNone].
func Build(raw []byte, own divert.Ownership) (Chain, error) {
	if len(raw) == 0 {
		return Chain{}, errors.Wrap(divert.ErrShortBuffer, "empty packet")
	}
	buf := raw
	switch own {
	case divert.Shared:
	case divert.Owned:
		buf = append([]byte(nil), raw...)
	default:
		return Chain{}, errors.Wrapf(divert.ErrInvalidArgument, "ownership %d", own)
	}
	c := Chain{buf: buf, own: own}
	version := buf[0] >> 4
	switch version {
	case 4:
		ifrm, err := ipv4.NewFrame(buf, 0)
		if err != nil {
			return Chain{}, errors.Wrap(err, "ipv4 header")
		}
		c.ip = ifrm
	case 6:
		i6frm, err := ipv6.NewFrame(buf, 0)
		if err != nil {
			return Chain{}, errors.Wrap(err, "ipv6 header")
		}
		c.ip = i6frm
	default:
		return Chain{}, errors.Wrapf(divert.ErrUnsupportedProto, "ip version %d", version)
	}

	off := c.ip.HeaderLength()
	var err error
	switch proto := c.ip.NextProtocol(); {
	case proto == divert.IPProtoTCP:
		c.kind = KindTCP
		c.tcp, err = tcp.NewFrame(buf, off, c.ip)
	case proto == divert.IPProtoUDP:
		c.kind = KindUDP
		c.udp, err = udp.NewFrame(buf, off, c.ip)
	case proto == divert.IPProtoICMP && version == 4:
		c.kind = KindICMPv4
		c.icmp4, err = icmpv4.NewFrame(buf, off)
	case proto == divert.IPProtoIPv6ICMP && version == 6:
		c.kind = KindICMPv6
		c.icmp6, err = icmpv6.NewFrame(buf, off, c.ip)
	default:
		c.kind = KindNone
	}
	if err != nil {
		return Chain{}, errors.Wrapf(err, "%s header", c.kind)
	}
	return c, nil
}

// Bytes returns the buffer the headers operate on. It aliases the raw bytes
// passed to Build for [divert.Shared] chains.
func (c Chain) Bytes() []byte { return c.buf }

// Ownership returns the ownership mode the chain was built with.
func (c Chain) Ownership() divert.Ownership { return c.own }

// Kind returns the variant of the protocol header.
func (c Chain) Kind() Kind { return c.kind }

// IP returns the IP header.
func (c Chain) IP() divert.IPHeader { return c.ip }

// IPv4 returns the IPv4 header if the chain starts with one.
func (c Chain) IPv4() (ipv4.Frame, bool) {
	ifrm, ok := c.ip.(ipv4.Frame)
	return ifrm, ok
}

// IPv6 returns the IPv6 header if the chain starts with one.
func (c Chain) IPv6() (ipv6.Frame, bool) {
	i6frm, ok := c.ip.(ipv6.Frame)
	return i6frm, ok
}

func (c Chain) TCP() (tcp.Frame, bool) { return c.tcp, c.kind == KindTCP }

func (c Chain) UDP() (udp.Frame, bool) { return c.udp, c.kind == KindUDP }

func (c Chain) ICMPv4() (icmpv4.Frame, bool) { return c.icmp4, c.kind == KindICMPv4 }

func (c Chain) ICMPv6() (icmpv6.Frame, bool) { return c.icmp6, c.kind == KindICMPv6 }

// Proto returns the protocol header or nil for [KindNone].
func (c Chain) Proto() divert.Header {
	switch c.kind {
	case KindTCP:
		return c.tcp
	case KindUDP:
		return c.udp
	case KindICMPv4:
		return c.icmp4
	case KindICMPv6:
		return c.icmp6
	}
	return nil
}

// Transport returns the protocol header if it carries ports.
func (c Chain) Transport() (divert.TransportHeader, bool) {
	switch c.kind {
	case KindTCP:
		return c.tcp, true
	case KindUDP:
		return c.udp, true
	}
	return nil, false
}

// HeadersLength returns the combined length of the IP and protocol headers.
func (c Chain) HeadersLength() int {
	n := c.ip.HeaderLength()
	if proto := c.Proto(); proto != nil {
		n += proto.HeaderLength()
	}
	return n
}
