package packet

import (
	"encoding/hex"
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/divert"
	"github.com/soypat/divert/internal/ltesto"
	"github.com/soypat/divert/tcp"
)

// ICMP echo request from 192.168.43.9 to 8.8.8.8.
const icmpEchoHex = "4500005426ef0000400157f9c0a82b09080808080800bbb3d73b000051a7d67d000451e408090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f3031323334353637"

func newGen(t *testing.T) (*ltesto.PacketGen, *rand.Rand) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	var gen ltesto.PacketGen
	gen.RandomizeAddrs(rng)
	return &gen, rng
}

func TestBuildDispatch(t *testing.T) {
	gen, rng := newGen(t)
	const protoGRE = divert.IPProtoGRE
	var tests = []struct {
		name  string
		raw   []byte
		kind  Kind
		is    func(*Packet) bool
		ports bool
	}{
		{name: "ipv4/tcp", raw: gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 32), kind: KindTCP, is: (*Packet).IsTCP, ports: true},
		{name: "ipv4/udp", raw: gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 12), kind: KindUDP, is: (*Packet).IsUDP, ports: true},
		{name: "ipv4/icmp", raw: gen.AppendIPv4(nil, rng, divert.IPProtoICMP, 56), kind: KindICMPv4, is: (*Packet).IsICMPv4},
		{name: "ipv4/gre", raw: gen.AppendIPv4(nil, rng, protoGRE, 16), kind: KindNone},
		{name: "ipv6/tcp", raw: gen.AppendIPv6(nil, rng, divert.IPProtoTCP, 0), kind: KindTCP, is: (*Packet).IsTCP, ports: true},
		{name: "ipv6/udp", raw: gen.AppendIPv6(nil, rng, divert.IPProtoUDP, 100), kind: KindUDP, is: (*Packet).IsUDP, ports: true},
		{name: "ipv6/icmpv6", raw: gen.AppendIPv6(nil, rng, divert.IPProtoIPv6ICMP, 8), kind: KindICMPv6, is: (*Packet).IsICMPv6},
		{name: "ipv6/nonext", raw: gen.AppendIPv6(nil, rng, divert.IPProtoIPv6NoNxt, 0), kind: KindNone},
	}
	preds := []func(*Packet) bool{(*Packet).IsTCP, (*Packet).IsUDP, (*Packet).IsICMPv4, (*Packet).IsICMPv6}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.raw, Address{}, divert.Shared)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Chain().Kind())
			assert.NotEqual(t, p.IsIPv4(), p.IsIPv6())

			nset := 0
			for _, pred := range preds {
				if pred(p) {
					nset++
				}
			}
			if tc.is == nil {
				assert.Zero(t, nset, "no protocol predicate must hold")
				assert.Nil(t, p.ProtocolHeader())
				assert.Equal(t, p.IPHeader().HeaderLength(), p.HeadersLength())
			} else {
				assert.True(t, tc.is(p))
				assert.Equal(t, 1, nset, "protocol predicates are mutually exclusive")
				require.NotNil(t, p.ProtocolHeader())
				assert.Equal(t, tc.ports, p.ProtocolHeader().HasPorts())
			}
			_, err = p.SrcPort()
			if tc.ports {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, divert.ErrInvalidState)
			}
			assert.NoError(t, p.VerifyChecksums())
		})
	}
}

func TestBuildErrors(t *testing.T) {
	gen, rng := newGen(t)
	tcpPkt := gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 0)
	badVersion := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 0)
	badVersion[0] = 5<<4 | badVersion[0]&0xf

	_, err := Build(nil, divert.Shared)
	assert.ErrorIs(t, err, divert.ErrShortBuffer)

	_, err = Build(badVersion, divert.Shared)
	assert.ErrorIs(t, err, divert.ErrUnsupportedProto)

	_, err = Build(tcpPkt[:len(tcpPkt)-4], divert.Shared)
	assert.ErrorIs(t, err, divert.ErrOutOfBounds)
	assert.Contains(t, err.Error(), "TCP")

	_, err = Build([]byte{0x45, 0, 0}, divert.Shared)
	assert.ErrorIs(t, err, divert.ErrOutOfBounds)

	_, err = Build(tcpPkt, divert.Ownership(9))
	assert.ErrorIs(t, err, divert.ErrInvalidArgument)
}

func TestRoundTripHeaders(t *testing.T) {
	gen, rng := newGen(t)
	for _, proto := range []divert.IPProto{divert.IPProtoTCP, divert.IPProtoUDP, divert.IPProtoICMP} {
		for _, raw := range [][]byte{gen.AppendIPv4(nil, rng, proto, 20), gen.AppendIPv6(nil, rng, proto, 20)} {
			p, err := New(raw, Address{}, divert.Owned)
			require.NoError(t, err)
			ip := p.IPHeader()
			assert.Equal(t, raw[:ip.HeaderLength()], ip.RawHeaderBytes())
			hdr := p.ProtocolHeader()
			require.NotNil(t, hdr)
			start := hdr.Offset()
			assert.Equal(t, raw[start:start+hdr.HeaderLength()], hdr.RawHeaderBytes())
			assert.Equal(t, raw[p.HeadersLength():], p.Payload())
		}
	}
}

func TestAliasing(t *testing.T) {
	gen, rng := newGen(t)
	raw := gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 10)

	t.Run("shared", func(t *testing.T) {
		buf := append([]byte(nil), raw...)
		p, err := New(buf, Address{}, divert.Shared)
		require.NoError(t, err)
		tfrm, ok := p.TCP()
		require.True(t, ok)
		tfrm.SetSourcePort(4242)
		port, err := p.SrcPort()
		require.NoError(t, err)
		assert.Equal(t, uint16(4242), port)
		assert.NotEqual(t, raw, p.Raw(false), "header write must reach packet bytes")

		require.NoError(t, p.SetDstPort(80))
		assert.Equal(t, uint16(80), tfrm.DestinationPort())
	})

	t.Run("owned", func(t *testing.T) {
		buf := append([]byte(nil), raw...)
		p, err := New(buf, Address{}, divert.Owned)
		require.NoError(t, err)
		assert.Equal(t, divert.Owned, p.Chain().Ownership())
		tfrm, _ := p.TCP()
		tfrm.SetSourcePort(4242)
		assert.Equal(t, raw, buf, "header write must not reach caller bytes")
		assert.Equal(t, raw, p.Raw(false))
		assert.Equal(t, uint16(4242), tfrm.SourcePort())

		buf[20] ^= 0xff
		assert.Equal(t, uint16(4242), tfrm.SourcePort(), "caller write must not reach owned headers")
	})
}

func TestPortsWithoutTransport(t *testing.T) {
	raw, err := hex.DecodeString(icmpEchoHex)
	require.NoError(t, err)
	orig := append([]byte(nil), raw...)
	p, err := New(raw, Address{}, divert.Shared)
	require.NoError(t, err)
	assert.ErrorIs(t, p.SetSrcPort(1), divert.ErrInvalidState)
	assert.ErrorIs(t, p.SetDstPort(1), divert.ErrInvalidState)
	_, err = p.DstPort()
	assert.ErrorIs(t, err, divert.ErrInvalidState)
	assert.Equal(t, orig, raw, "failed port writes must not modify the packet")
}

func TestPayload(t *testing.T) {
	gen, rng := newGen(t)
	gen.NoOptions = true
	raw := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 8)
	p, err := New(raw, Address{}, divert.Shared)
	require.NoError(t, err)
	assert.Equal(t, 28, p.HeadersLength())
	assert.Len(t, p.Payload(), 8)

	payload := []byte("divert")
	require.NoError(t, p.SetPayload(payload))
	assert.Equal(t, payload, p.Payload()[:len(payload)])

	before := p.Raw(true)
	err = p.SetPayload(make([]byte, 9))
	assert.ErrorIs(t, err, divert.ErrOutOfBounds)
	assert.Equal(t, before, p.Raw(false))

	got := p.Payload()
	got[0] = 'X'
	assert.Equal(t, byte('d'), p.Payload()[0], "Payload must return a copy")
}

func TestChecksums(t *testing.T) {
	gen, rng := newGen(t)
	for i := 0; i < 32; i++ {
		proto := []divert.IPProto{divert.IPProtoTCP, divert.IPProtoUDP, divert.IPProtoICMP}[i%3]
		var raw []byte
		if i%2 == 0 {
			raw = gen.AppendIPv4(nil, rng, proto, rng.Intn(64))
		} else {
			raw = gen.AppendIPv6(nil, rng, proto, rng.Intn(64))
		}
		want := append([]byte(nil), raw...)
		p, err := New(raw, Address{}, divert.Shared)
		require.NoError(t, err)

		p.CalculateChecksums()
		assert.Equal(t, want, raw, "recompute of a valid packet changed bytes")
		p.CalculateChecksums()
		assert.Equal(t, want, raw, "recompute must be idempotent")

		h, ok := p.ProtocolHeader().(interface{ SetCRC(uint16) })
		require.True(t, ok)
		h.SetCRC(0x1234)
		assert.ErrorIs(t, p.VerifyChecksums(), divert.ErrBadCRC)
		p.CalculateChecksums()
		assert.Equal(t, want, raw, "zero then recompute must restore checksum")
	}
}

func TestCalculateChecksumsWith(t *testing.T) {
	gen, rng := newGen(t)
	raw := gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 16)
	p, err := New(raw, Address{}, divert.Shared)
	require.NoError(t, err)
	ifrm, _ := p.IPv4()
	tfrm, _ := p.TCP()
	ipcrc, tcpcrc := ifrm.CRC(), tfrm.CRC()
	ifrm.SetCRC(0)
	tfrm.SetCRC(0)

	p.CalculateChecksumsWith(NoTCPChecksum)
	assert.Equal(t, ipcrc, ifrm.CRC())
	assert.Zero(t, tfrm.CRC())

	ifrm.SetCRC(0)
	p.CalculateChecksumsWith(NoIPChecksum | NoUDPChecksum)
	assert.Zero(t, ifrm.CRC())
	assert.Equal(t, tcpcrc, tfrm.CRC())
}

func TestICMPEchoExample(t *testing.T) {
	raw, err := hex.DecodeString(icmpEchoHex)
	require.NoError(t, err)
	p, err := New(raw, NewOutboundAddress(false, true, false, false), divert.Owned)
	require.NoError(t, err)
	require.True(t, p.IsICMPv4())
	icmp, ok := p.ICMPv4()
	require.True(t, ok)
	assert.EqualValues(t, 48051, icmp.CRC())
	assert.Equal(t, []byte{0xd7, 0x3b, 0, 0}, icmp.RestOfHeader())
	assert.Equal(t, netip.MustParseAddr("192.168.43.9"), p.SrcAddr())
	assert.Equal(t, netip.MustParseAddr("8.8.8.8"), p.DstAddr())
	assert.NoError(t, p.VerifyChecksums())

	icmp.SetCRC(0)
	p.CalculateChecksums()
	assert.EqualValues(t, 0xbbb3, icmp.CRC())

	vld := divert.NewValidator(divert.ValidateAllowMultiErrors)
	p.Validate(vld)
	assert.NoError(t, vld.Err())
}

func TestSetAddr(t *testing.T) {
	gen, rng := newGen(t)
	raw4 := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 4)
	raw6 := gen.AppendIPv6(nil, rng, divert.IPProtoUDP, 4)
	p4, err := New(raw4, Address{}, divert.Shared)
	require.NoError(t, err)
	p6, err := New(raw6, Address{}, divert.Shared)
	require.NoError(t, err)

	v4 := netip.MustParseAddr("10.0.0.1")
	v6 := netip.MustParseAddr("2001:db8::1")
	require.NoError(t, p4.SetSrcAddr(v4))
	require.NoError(t, p6.SetDstAddr(v6))
	assert.Equal(t, v4, p4.SrcAddr())
	assert.Equal(t, v6, p6.DstAddr())
	assert.ErrorIs(t, p4.SetDstAddr(v6), divert.ErrInvalidArgument)
	assert.ErrorIs(t, p6.SetSrcAddr(v4), divert.ErrInvalidArgument)

	assert.ErrorIs(t, p4.VerifyChecksums(), divert.ErrBadCRC)
	p4.CalculateChecksums()
	p6.CalculateChecksums()
	assert.NoError(t, p4.VerifyChecksums())
	assert.NoError(t, p6.VerifyChecksums())
}

func TestFlagBitThroughPacket(t *testing.T) {
	gen, rng := newGen(t)
	raw := gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 0)
	p, err := New(raw, Address{}, divert.Shared)
	require.NoError(t, err)
	tfrm, _ := p.TCP()
	off := tfrm.Offset()
	require.NoError(t, tfrm.Set(tcp.BitSYN, true))
	assert.NotZero(t, p.Raw(false)[off+13]&0b10)
	require.NoError(t, tfrm.Set(tcp.BitNS, true))
	assert.NotZero(t, p.Raw(false)[off+12]&0b1)
	assert.Equal(t, tcp.FlagNS|tcp.FlagSYN|tcp.FlagPSH|tcp.FlagACK, tfrm.Flags())
}

func TestEqualAndString(t *testing.T) {
	raw, err := hex.DecodeString(icmpEchoHex)
	require.NoError(t, err)
	addr := NewInboundAddress(3, 1, false, true, true, true)
	a, err := New(raw, addr, divert.Owned)
	require.NoError(t, err)
	b, err := New(append([]byte(nil), raw...), addr, divert.Shared)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	b.Raw(false)[len(raw)-1]++
	assert.False(t, a.Equal(b))
	assert.Contains(t, a.String(), "ICMP")
	assert.Contains(t, a.String(), icmpEchoHex)
}
