package icmpv4

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/rand"
	"testing"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/soypat/divert"
)

const icmpEchoHex = "4500005426ef0000400157f9c0a82b09080808080800bbb3d73b000051a7d67d000451e408090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f3031323334353637"

func TestFrameEchoExample(t *testing.T) {
	raw, err := hex.DecodeString(icmpEchoHex)
	if err != nil {
		t.Fatal(err)
	}
	frm, err := NewFrame(raw, 20)
	if err != nil {
		t.Fatal(err)
	}
	if frm.Type() != TypeEcho || frm.Code() != 0 {
		t.Errorf("want echo type 8 code 0, got %d,%d", frm.Type(), frm.Code())
	}
	const wantCRC = 48051
	if frm.CRC() != wantCRC {
		t.Errorf("want checksum %d, got %d", wantCRC, frm.CRC())
	}
	if got := frm.RestOfHeader(); !bytes.Equal(got, []byte{0xd7, 0x3b, 0x00, 0x00}) {
		t.Errorf("want rest of header d73b0000, got %x", got)
	}
	if got := frm.ComputeChecksum(); got != wantCRC {
		t.Errorf("want computed checksum %d, got %d", wantCRC, got)
	}
	frm.SetCRC(0)
	frm.CalculateChecksum()
	if frm.CRC() != wantCRC {
		t.Errorf("want recalculated checksum %d, got %d", wantCRC, frm.CRC())
	}
	echo := FrameEcho{Frame: frm}
	if echo.Identifier() != 0xd73b || echo.SequenceNumber() != 0 {
		t.Errorf("want id 0xd73b seq 0, got %#x %d", echo.Identifier(), echo.SequenceNumber())
	}
	if len(echo.Data()) != len(raw)-28 {
		t.Errorf("want %d data bytes, got %d", len(raw)-28, len(echo.Data()))
	}
}

func TestRestOfHeader(t *testing.T) {
	buf := make([]byte, 16)
	frm, err := NewFrame(buf, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := frm.SetRestOfHeader([]byte{1, 2, 3}); !errors.Is(err, divert.ErrInvalidArgument) {
		t.Errorf("want invalid argument on 3 byte rest of header, got %v", err)
	}
	want := []byte{1, 2, 3, 4}
	if err := frm.SetRestOfHeader(want); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[8:12], want) {
		t.Errorf("want rest of header written at offset 8, got %x", buf)
	}
	got := frm.RestOfHeader()
	got[0] = 0xff
	if buf[8] != 1 {
		t.Error("RestOfHeader must return a copy")
	}
	if _, err := NewFrame(buf, 9); !errors.Is(err, divert.ErrOutOfBounds) {
		t.Errorf("want out of bounds, got %v", err)
	}
}

func TestChecksumMatchesXNet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 32; i++ {
		data := make([]byte, rng.Intn(64))
		rng.Read(data)
		msg := icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Body: &icmp.Echo{ID: rng.Intn(1 << 16), Seq: rng.Intn(1 << 16), Data: data},
		}
		wire, err := msg.Marshal(nil)
		if err != nil {
			t.Fatal(err)
		}
		frm, err := NewFrame(wire, 0)
		if err != nil {
			t.Fatal(err)
		}
		want := frm.CRC()
		frm.SetCRC(0)
		frm.CalculateChecksum()
		if got := frm.CRC(); got != want {
			t.Errorf("len=%d: want checksum %#x, got %#x", len(data), want, got)
		}
	}
}
