package capture

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ethernet"
	"github.com/soypat/divert/internal/ltesto"
	"github.com/soypat/divert/packet"
)

func writePcap(t *testing.T, lt layers.LinkType, ts time.Time, records ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(defaultSnapLen, lt))
	for i, rec := range records {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(rec),
			Length:        len(rec),
		}
		require.NoError(t, w.WritePacket(ci, rec))
	}
	return &buf
}

func TestRecvEthernet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	gen := ltesto.PacketGen{EnableVLAN: true}
	gen.RandomizeAddrs(rng)
	var datagrams, frames [][]byte
	for i := 0; i < 16; i++ {
		var dg []byte
		if i%2 == 0 {
			dg = gen.AppendIPv4(nil, rng, divert.IPProtoTCP, rng.Intn(100))
		} else {
			dg = gen.AppendIPv6(nil, rng, divert.IPProtoUDP, rng.Intn(100))
		}
		datagrams = append(datagrams, dg)
		frames = append(frames, gen.AppendEthernet(nil, rng, dg))
	}
	// A non IP frame in the middle of the stream is skipped.
	arp := make([]byte, 42)
	arp[12], arp[13] = 0x08, 0x06
	frames = append(frames[:3], append([][]byte{arp}, frames[3:]...)...)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	logger, hook := test.NewNullLogger()
	h, err := Open(writePcap(t, layers.LinkTypeEthernet, ts, frames...), nil, Config{Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, h.LinkType())

	buf := make([]byte, 2048)
	for i, want := range datagrams {
		p, err := packet.Recv(h, buf, divert.Owned)
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, want, p.Raw(false))
		assert.Equal(t, i%2 == 1, p.Address().IPv6)
		assert.Equal(t, packet.LayerNetwork, p.Address().Layer)
		assert.NoError(t, p.VerifyChecksums())
	}
	_, _, err = h.Recv(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, Stats{Received: 16, Skipped: 1}, h.Stats())

	var warned bool
	for _, e := range hook.AllEntries() {
		warned = warned || e.Level == logrus.WarnLevel
	}
	assert.True(t, warned, "skipped record must be logged")
}

func TestRecvEthernetPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	gen := ltesto.PacketGen{NoOptions: true}
	gen.RandomizeAddrs(rng)
	ack := gen.AppendIPv4(nil, rng, divert.IPProtoTCP, 0)
	require.Len(t, ack, 40)
	udp6 := gen.AppendIPv6(nil, rng, divert.IPProtoUDP, 0)
	// Truncated by the capture snapshot length: kept as recorded.
	long := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 100)
	truncated := long[:len(long)-20]

	pad := func(frame []byte, n int) []byte { return append(frame, make([]byte, n)...) }
	ackFrame := gen.AppendEthernet(nil, rng, ack)
	ackFrame = pad(ackFrame, 60-len(ackFrame))
	require.Len(t, ackFrame, 60)
	frames := [][]byte{
		ackFrame,
		pad(gen.AppendEthernet(nil, rng, udp6), 4),
		gen.AppendEthernet(nil, rng, truncated),
	}
	h, err := Open(writePcap(t, layers.LinkTypeEthernet, time.Unix(1, 0), frames...), nil, Config{})
	require.NoError(t, err)

	buf := make([]byte, 256)
	for i, want := range [][]byte{ack, udp6} {
		p, err := packet.Recv(h, buf, divert.Shared)
		require.NoError(t, err, "record %d", i)
		assert.Equal(t, want, p.Raw(false), "record %d", i)
		assert.NoError(t, p.VerifyChecksums(), "record %d", i)
	}
	n, _, err := h.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, truncated, buf[:n])
}

func TestRecvShortBuffer(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var gen ltesto.PacketGen
	gen.RandomizeAddrs(rng)
	dg := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 64)
	h, err := Open(writePcap(t, layers.LinkTypeRaw, time.Unix(1, 0), dg), nil, Config{})
	require.NoError(t, err)
	_, _, err = h.Recv(make([]byte, 10))
	assert.ErrorIs(t, err, divert.ErrShortBuffer)
}

func TestTrimFCS(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var gen ltesto.PacketGen
	gen.RandomizeAddrs(rng)
	dg := gen.AppendIPv4(nil, rng, divert.IPProtoICMP, 8)
	frame := ethernet.AppendFCS(gen.AppendEthernet(nil, rng, dg))
	h, err := Open(writePcap(t, layers.LinkTypeEthernet, time.Unix(1, 0), frame), nil, Config{TrimFCS: true})
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, _, err := h.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, dg, buf[:n])
}

func TestLinuxSLL(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	var gen ltesto.PacketGen
	gen.RandomizeAddrs(rng)
	dg := gen.AppendIPv6(nil, rng, divert.IPProtoTCP, 4)
	sll := make([]byte, 16, 16+len(dg))
	sll[1] = sllOutgoing
	sll[14], sll[15] = 0x86, 0xdd
	h, err := Open(writePcap(t, layers.LinkTypeLinuxSLL, time.Unix(1, 0), append(sll, dg...)), nil, Config{})
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, addr, err := h.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, dg, buf[:n])
	assert.True(t, addr.Outbound)
	assert.True(t, addr.IPv6)
}

func TestUnsupportedLinkType(t *testing.T) {
	_, err := Open(writePcap(t, layers.LinkTypeIEEE802_11, time.Unix(1, 0)), nil, Config{})
	assert.ErrorIs(t, err, divert.ErrUnsupportedProto)
}

func TestSendRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatPcap, FormatPcapNG} {
		t.Run(string(format), func(t *testing.T) {
			rng := rand.New(rand.NewSource(5))
			var gen ltesto.PacketGen
			gen.RandomizeAddrs(rng)
			ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			var out bytes.Buffer
			w, err := Open(nil, &out, Config{Format: format})
			require.NoError(t, err)
			var sent [][]byte
			for i := 0; i < 4; i++ {
				dg := gen.AppendIPv4(nil, rng, divert.IPProtoUDP, 10*i)
				p, err := packet.New(dg, packet.Address{Timestamp: ts}, divert.Shared)
				require.NoError(t, err)
				require.NoError(t, packet.Send(w, p))
				sent = append(sent, dg)
			}
			require.NoError(t, w.Close())
			assert.EqualValues(t, 4, w.Stats().Sent)

			r, err := Open(&out, nil, Config{})
			require.NoError(t, err)
			assert.Equal(t, layers.LinkTypeRaw, r.LinkType())
			buf := make([]byte, 1500)
			for _, want := range sent {
				n, addr, err := r.Recv(buf)
				require.NoError(t, err)
				assert.Equal(t, want, buf[:n])
				assert.True(t, ts.Equal(addr.Timestamp), "timestamp %s", addr.Timestamp)
			}
		})
	}
}

func TestHandleDirection(t *testing.T) {
	h, err := Open(nil, nil, Config{})
	require.NoError(t, err)
	_, _, err = h.Recv(make([]byte, 10))
	assert.ErrorIs(t, err, divert.ErrInvalidState)
	_, err = h.Send([]byte{0x45}, packet.Address{})
	assert.ErrorIs(t, err, divert.ErrInvalidState)

	_, err = Open(nil, io.Discard, Config{Format: "cap"})
	assert.ErrorIs(t, err, divert.ErrInvalidArgument)
}
