package udp

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ipv4"
	"github.com/soypat/divert/ipv6"
)

func serializeUDP(t *testing.T, network gopacket.NetworkLayer, udp *layers.UDP, payload []byte) []byte {
	t.Helper()
	if err := udp.SetNetworkLayerForChecksum(network); err != nil {
		t.Fatal(err)
	}
	sbuf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(sbuf, opts, network.(gopacket.SerializableLayer), udp, gopacket.Payload(payload))
	if err != nil {
		t.Fatal(err)
	}
	return sbuf.Bytes()
}

func TestChecksumMatchesGopacket(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 64; i++ {
		payload := make([]byte, rng.Intn(131))
		rng.Read(payload)
		gudp := &layers.UDP{
			SrcPort: layers.UDPPort(1 + rng.Intn(1<<16-1)),
			DstPort: layers.UDPPort(1 + rng.Intn(1<<16-1)),
		}
		var raw []byte
		var ip divert.IPHeader
		if i%2 == 0 {
			raw = serializeUDP(t, &layers.IPv4{
				Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
				SrcIP: net.IPv4(172, 16, byte(i), 1), DstIP: net.IPv4(8, 8, 4, 4),
			}, gudp, payload)
			ifrm, err := ipv4.NewFrame(raw, 0)
			if err != nil {
				t.Fatal(err)
			}
			ip = ifrm
		} else {
			raw = serializeUDP(t, &layers.IPv6{
				Version: 6, HopLimit: 3, NextHeader: layers.IPProtocolUDP,
				SrcIP: net.ParseIP("2001:db8::dead"), DstIP: net.ParseIP("2001:4860:4860::8888"),
			}, gudp, payload)
			i6frm, err := ipv6.NewFrame(raw, 0)
			if err != nil {
				t.Fatal(err)
			}
			ip = i6frm
		}
		ufrm, err := NewFrame(raw, ip.HeaderLength(), ip)
		if err != nil {
			t.Fatal(err)
		}
		want := ufrm.CRC()
		if got := ufrm.ComputeChecksum(); got != want {
			t.Errorf("IPv%d payload=%d: want checksum %#x, got %#x", ip.Version(), len(payload), want, got)
		}
		ufrm.SetCRC(0)
		ufrm.CalculateChecksum()
		if got := ufrm.CRC(); got != want {
			t.Errorf("IPv%d payload=%d: want stored checksum %#x, got %#x", ip.Version(), len(payload), want, got)
		}
		if int(ufrm.Length()) != 8+len(payload) {
			t.Errorf("want length %d, got %d", 8+len(payload), ufrm.Length())
		}
		if !bytes.Equal(ufrm.Payload(), payload) {
			t.Error("payload mismatch")
		}
		var v divert.Validator
		ufrm.Validate(&v)
		if err := v.Err(); err != nil {
			t.Error(err)
		}
	}
}

func TestFrame(t *testing.T) {
	buf := make([]byte, 20+8+5)
	buf[0] = 0x45
	ifrm, err := ipv4.NewFrame(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFrame(buf, 26, ifrm); !errors.Is(err, divert.ErrOutOfBounds) {
		t.Errorf("want out of bounds, got %v", err)
	}
	if _, err := NewFrame(buf, 20, nil); !errors.Is(err, divert.ErrInvalidArgument) {
		t.Errorf("want invalid argument without IP header, got %v", err)
	}
	ufrm, err := NewFrame(buf, 20, ifrm)
	if err != nil {
		t.Fatal(err)
	}
	ufrm.SetSourcePort(53)
	ufrm.SetDestinationPort(5353)
	ufrm.SetLength(13)
	if buf[20] != 0 || buf[21] != 53 || buf[22] != 0x14 || buf[23] != 0xe9 || buf[25] != 13 {
		t.Errorf("fields not written in network order: %x", buf[20:28])
	}
	if !ufrm.HasPorts() || ufrm.HeaderLength() != 8 {
		t.Error("UDP header must have ports and length 8")
	}
	raw := ufrm.RawHeaderBytes()
	raw[0] = 0xff
	if buf[20] != 0 {
		t.Error("RawHeaderBytes must return a copy")
	}
	ufrm.SetLength(4)
	var v divert.Validator
	ufrm.ValidateSize(&v)
	if !errors.Is(v.Err(), divert.ErrInvalidArgument) {
		t.Errorf("want bad length error, got %v", v.Err())
	}
}
