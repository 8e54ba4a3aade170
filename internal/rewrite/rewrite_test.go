package rewrite

import (
	"encoding/hex"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/divert"
	"github.com/soypat/divert/internal/config"
	"github.com/soypat/divert/internal/ltesto"
	"github.com/soypat/divert/packet"
)

func newPacket(t *testing.T, v6 bool, proto divert.IPProto) *packet.Packet {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	gen := ltesto.PacketGen{}
	gen.RandomizeAddrs(rng)
	gen.SrcIPv4 = [4]byte{10, 1, 2, 3}
	gen.DstIPv4 = [4]byte{10, 9, 9, 9}
	gen.SrcPort, gen.DstPort = 5555, 80
	var raw []byte
	if v6 {
		raw = gen.AppendIPv6(nil, rng, proto, 16)
	} else {
		raw = gen.AppendIPv4(nil, rng, proto, 16)
	}
	p, err := packet.New(raw, packet.Address{Timestamp: time.Unix(100, 0)}, divert.Shared)
	require.NoError(t, err)
	return p
}

func TestRuleMatch(t *testing.T) {
	p := newPacket(t, false, divert.IPProtoTCP)
	var tests = []struct {
		name string
		rule Rule
		want bool
	}{
		{name: "any", rule: Rule{}, want: true},
		{name: "protocol", rule: Rule{Protocol: packet.KindTCP}, want: true},
		{name: "other protocol", rule: Rule{Protocol: packet.KindUDP}, want: false},
		{name: "src prefix", rule: Rule{MatchSrc: netip.MustParsePrefix("10.1.0.0/16")}, want: true},
		{name: "dst prefix miss", rule: Rule{MatchDst: netip.MustParsePrefix("192.168.0.0/16")}, want: false},
		{name: "dst port", rule: Rule{MatchDstPort: 80}, want: true},
		{name: "src port miss", rule: Rule{MatchSrcPort: 80}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rule.Match(p))
		})
	}
}

func TestRewriterApply(t *testing.T) {
	p := newPacket(t, false, divert.IPProtoTCP)
	rw := Rewriter{Rules: []Rule{
		{Name: "udp only", Protocol: packet.KindUDP, DstPort: 53},
		{
			Name:         "web",
			MatchDstPort: 80,
			DstAddr:      netip.MustParseAddr("192.168.1.10"),
			DstPort:      8080,
			TTL:          7,
			Delay:        time.Second,
		},
	}}
	addr, name, ok, err := rw.Apply(p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "web", name)
	assert.True(t, time.Unix(101, 0).Equal(addr.Timestamp))

	assert.Equal(t, netip.MustParseAddr("192.168.1.10"), p.DstAddr())
	port, err := p.DstPort()
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)
	ifrm, _ := p.IPv4()
	assert.Equal(t, uint8(7), ifrm.TTL())
	assert.NoError(t, p.VerifyChecksums(), "rewritten packet must carry valid checksums")

	_, _, ok, err = rw.Apply(p)
	require.NoError(t, err)
	assert.False(t, ok, "port 80 no longer matches")
}

func TestApplyIPv6HopLimit(t *testing.T) {
	p := newPacket(t, true, divert.IPProtoUDP)
	ok, err := Rule{TTL: 3}.Apply(p)
	require.NoError(t, err)
	require.True(t, ok)
	i6frm, _ := p.IPv6()
	assert.Equal(t, uint8(3), i6frm.HopLimit())
}

func TestApplyErrorsLeavePacket(t *testing.T) {
	raw, err := hex.DecodeString("4500005426ef0000400157f9c0a82b09080808080800bbb3d73b000051a7d67d000451e408090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f3031323334353637")
	require.NoError(t, err)
	orig := append([]byte(nil), raw...)
	p, err := packet.New(raw, packet.Address{}, divert.Shared)
	require.NoError(t, err)

	_, err = Rule{SrcAddr: netip.MustParseAddr("10.0.0.1"), DstPort: 80}.Apply(p)
	assert.ErrorIs(t, err, divert.ErrInvalidState)
	assert.Equal(t, orig, raw)

	_, err = Rule{SrcAddr: netip.MustParseAddr("10.0.0.1"), DstAddr: netip.MustParseAddr("2001:db8::1")}.Apply(p)
	assert.ErrorIs(t, err, divert.ErrInvalidArgument)
	assert.Equal(t, orig, raw)

	rw := Rewriter{Rules: []Rule{{Name: "bad", DstPort: 1}}}
	_, name, ok, err := rw.Apply(p)
	assert.ErrorIs(t, err, divert.ErrInvalidState)
	assert.Equal(t, "bad", name)
	assert.False(t, ok)
}

func TestFromConfig(t *testing.T) {
	rules, err := FromConfig([]config.RuleConfig{
		{Name: "a", Protocol: "icmpv6", TTL: 1},
		{Name: "b", Protocol: "", DstPort: 9},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, packet.KindICMPv6, rules[0].Protocol)
	assert.Equal(t, packet.KindNone, rules[1].Protocol)

	_, err = FromConfig([]config.RuleConfig{{Protocol: "sctp"}})
	assert.ErrorIs(t, err, divert.ErrInvalidArgument)
}
