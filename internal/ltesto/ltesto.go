// Package ltesto generates well formed random packets for tests.
package ltesto

import (
	"math/rand"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ethernet"
	"github.com/soypat/divert/ipv4"
	"github.com/soypat/divert/ipv4/icmpv4"
	"github.com/soypat/divert/ipv6"
	"github.com/soypat/divert/ipv6/icmpv6"
	"github.com/soypat/divert/tcp"
	"github.com/soypat/divert/udp"
)

const (
	sizeHeaderIPv4      = divert.SizeHeaderIPv4
	sizeHeaderIPv6      = divert.SizeHeaderIPv6
	sizeHeaderTCP       = divert.SizeHeaderTCP
	sizeHeaderUDP       = divert.SizeHeaderUDP
	sizeHeaderICMP      = divert.SizeHeaderICMP
	sizeHeaderEthNoVLAN = divert.SizeHeaderEthNoVLAN
)

// PacketGen appends random packets between fixed endpoints.
// Options are added at random so that header lengths vary between packets.
type PacketGen struct {
	SrcMAC, DstMAC   [6]byte  // hardware address
	SrcIPv4, DstIPv4 [4]byte  // address
	SrcIPv6, DstIPv6 [16]byte // address
	SrcPort, DstPort uint16   // ports
	EnableVLAN       bool
	// NoOptions disables random IPv4 and TCP options.
	NoOptions bool
}

func (gen *PacketGen) RandomizeAddrs(rng *rand.Rand) {
	rng.Read(gen.SrcMAC[:])
	rng.Read(gen.DstMAC[:])
	rng.Read(gen.SrcIPv4[:])
	rng.Read(gen.DstIPv4[:])
	rng.Read(gen.SrcIPv6[:])
	rng.Read(gen.DstIPv6[:])
	// Keep IPv6 addresses out of the IPv4-mapped range.
	gen.SrcIPv6[0] = 0x20
	gen.DstIPv6[0] = 0x20
	ports := rng.Uint32()
	gen.SrcPort = uint16(ports)
	gen.DstPort = uint16(ports >> 16)
}

// AppendIPv4 appends a random IPv4 datagram carrying proto with payloadLen
// bytes of random payload after the protocol header. All checksums are valid.
// Protocols other than TCP, UDP and ICMP get an opaque payload.
func (gen *PacketGen) AppendIPv4(dst []byte, rng *rand.Rand, proto divert.IPProto, payloadLen int) []byte {
	var ipOpts []byte
	if !gen.NoOptions && rng.Intn(2) == 0 {
		ipOpts = []byte{1, 1, 1, 0} // NOP NOP NOP EOL.
	}
	ihl := sizeHeaderIPv4 + len(ipOpts)
	hl := gen.protoLength(rng, proto)
	tl := ihl + hl + payloadLen
	off := len(dst)
	dst = append(dst, make([]byte, tl)...)
	buf := dst[off:]
	buf[0] = 4<<4 | uint8(ihl/4)
	ifrm, err := ipv4.NewFrame(buf, 0)
	if err != nil {
		panic(err)
	}
	ifrm.SetToS(192)
	ifrm.SetTotalLength(uint16(tl))
	ifrm.SetID(uint16(rng.Uint32()))
	ifrm.SetFlags(ipv4.FlagDontFragment)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = gen.SrcIPv4
	*ifrm.DestinationAddr() = gen.DstIPv4
	copy(ifrm.Options(), ipOpts)
	gen.fillProto(rng, buf, ihl, hl, ifrm, proto)
	ifrm.CalculateChecksum()

	vld := divert.NewValidator(divert.ValidateAllowMultiErrors)
	ifrm.Validate(vld)
	if err := vld.Err(); err != nil {
		panic(err)
	}
	return dst
}

// AppendIPv6 is the IPv6 counterpart of [PacketGen.AppendIPv4]. ICMP is
// generated as ICMPv6.
func (gen *PacketGen) AppendIPv6(dst []byte, rng *rand.Rand, proto divert.IPProto, payloadLen int) []byte {
	if proto == divert.IPProtoICMP {
		proto = divert.IPProtoIPv6ICMP
	}
	hl := gen.protoLength(rng, proto)
	pl := hl + payloadLen
	off := len(dst)
	dst = append(dst, make([]byte, sizeHeaderIPv6+pl)...)
	buf := dst[off:]
	i6frm, err := ipv6.NewFrame(buf, 0)
	if err != nil {
		panic(err)
	}
	err = i6frm.SetVersionTrafficAndFlow(6, 0, rng.Uint32()&0xfffff)
	if err != nil {
		panic(err)
	}
	i6frm.SetPayloadLength(uint16(pl))
	i6frm.SetNextHeader(proto)
	i6frm.SetHopLimit(64)
	*i6frm.SourceAddr() = gen.SrcIPv6
	*i6frm.DestinationAddr() = gen.DstIPv6
	gen.fillProto(rng, buf, sizeHeaderIPv6, hl, i6frm, proto)

	vld := divert.NewValidator(0)
	i6frm.Validate(vld)
	if err := vld.Err(); err != nil {
		panic(err)
	}
	return dst
}

// AppendEthernet appends an Ethernet frame encapsulating the IP datagram
// datagram. With EnableVLAN set half of the frames carry an 802.1Q tag.
func (gen *PacketGen) AppendEthernet(dst []byte, rng *rand.Rand, datagram []byte) []byte {
	isVLAN := gen.EnableVLAN && rng.Intn(2) == 0
	ethsize := sizeHeaderEthNoVLAN
	if isVLAN {
		ethsize += 4
	}
	etherType := divert.EtherTypeIPv4
	if len(datagram) > 0 && datagram[0]>>4 == 6 {
		etherType = divert.EtherTypeIPv6
	}
	off := len(dst)
	dst = append(dst, make([]byte, ethsize)...)
	dst = append(dst, datagram...)
	efrm, err := ethernet.NewFrame(dst[off:])
	if err != nil {
		panic(err)
	}
	*efrm.DestinationHardwareAddr() = gen.DstMAC
	*efrm.SourceHardwareAddr() = gen.SrcMAC
	if isVLAN {
		efrm.SetVLAN(1<<4, etherType)
	} else {
		efrm.SetEtherType(etherType)
	}
	return dst
}

func (gen *PacketGen) protoLength(rng *rand.Rand, proto divert.IPProto) int {
	switch proto {
	case divert.IPProtoTCP:
		if !gen.NoOptions && rng.Intn(2) == 0 {
			return sizeHeaderTCP + 4
		}
		return sizeHeaderTCP
	case divert.IPProtoUDP:
		return sizeHeaderUDP
	case divert.IPProtoICMP, divert.IPProtoIPv6ICMP:
		return sizeHeaderICMP
	}
	return 0
}

// fillProto writes the hl byte protocol header at buf[off:] and random payload
// after it, then calculates the protocol checksum.
func (gen *PacketGen) fillProto(rng *rand.Rand, buf []byte, off, hl int, ip divert.IPHeader, proto divert.IPProto) {
	var hdr divert.Header
	payloadOff := off + hl
	switch proto {
	case divert.IPProtoTCP:
		buf[off+12] = uint8(hl/4) << 4
		tfrm, err := tcp.NewFrame(buf, off, ip)
		if err != nil {
			panic(err)
		}
		tfrm.SetSourcePort(gen.SrcPort)
		tfrm.SetDestinationPort(gen.DstPort)
		tfrm.SetSeq(tcp.Value(rng.Uint32()))
		tfrm.SetAck(tcp.Value(rng.Uint32()))
		tfrm.SetFlags(tcp.FlagPSH | tcp.FlagACK)
		tfrm.SetWindowSize(uint16(rng.Uint32()))
		if hl > sizeHeaderTCP {
			if err := tfrm.SetOptions([]byte{byte(tcp.OptMaxSegmentSize), 4, 0x05, 0xb4}); err != nil {
				panic(err)
			}
		}
		hdr = tfrm
	case divert.IPProtoUDP:
		ufrm, err := udp.NewFrame(buf, off, ip)
		if err != nil {
			panic(err)
		}
		ufrm.SetSourcePort(gen.SrcPort)
		ufrm.SetDestinationPort(gen.DstPort)
		ufrm.SetLength(uint16(len(buf) - off))
		hdr = ufrm
	case divert.IPProtoICMP:
		frm, err := icmpv4.NewFrame(buf, off)
		if err != nil {
			panic(err)
		}
		frm.SetType(icmpv4.TypeEcho)
		echo := icmpv4.FrameEcho{Frame: frm}
		echo.SetIdentifier(uint16(rng.Uint32()))
		echo.SetSequenceNumber(uint16(rng.Uint32()))
		hdr = frm
	case divert.IPProtoIPv6ICMP:
		frm, err := icmpv6.NewFrame(buf, off, ip)
		if err != nil {
			panic(err)
		}
		frm.SetType(icmpv6.TypeEchoRequest)
		echo := icmpv6.FrameEcho{Frame: frm}
		echo.SetIdentifier(uint16(rng.Uint32()))
		echo.SetSequenceNumber(uint16(rng.Uint32()))
		hdr = frm
	}
	rng.Read(buf[payloadOff:])
	if hdr != nil {
		hdr.CalculateChecksum()
	}
}
