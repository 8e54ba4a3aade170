package packet

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypat/divert"
)

func TestAddressFlags(t *testing.T) {
	var tests = []Address{
		NewInboundAddress(7, 2, true, true, false, true),
		NewOutboundAddress(false, false, true, false),
		{Layer: LayerReflect, Event: EventReflectClose, Sniffed: true, Loopback: true, IPv6: true},
		{Layer: LayerSocket, Event: EventSocketAccept, Outbound: true, IPChecksum: true, TCPChecksum: true, UDPChecksum: true},
	}
	for _, want := range tests {
		t.Run(want.Layer.String()+"/"+want.Event.String(), func(t *testing.T) {
			want.IfIdx, want.SubIfIdx = 0, 0
			var got Address
			require.NoError(t, got.SetFlags(want.Flags()))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("flags round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAddressFlagsLayout(t *testing.T) {
	a := Address{Layer: LayerFlow, Event: EventFlowDeleted, Outbound: true, UDPChecksum: true}
	assert.Equal(t, uint32(2|2<<8|1<<17|1<<23), a.Flags())
}

func TestAddressSetFlagsInvalid(t *testing.T) {
	orig := NewInboundAddress(1, 0, false, true, true, true)
	for _, v := range []uint32{
		5,       // Layer past reflect.
		10 << 8, // Event past reflect close.
		1 << 24, // Undefined bit.
	} {
		a := orig
		assert.ErrorIs(t, a.SetFlags(v), divert.ErrInvalidArgument)
		assert.Equal(t, orig, a, "failed SetFlags must not modify address")
	}
}

func TestAddressEqual(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewInboundAddress(4, 0, false, false, false, false)
	a.Timestamp = ts
	b := a
	b.Timestamp = ts.In(time.FixedZone("UTC+2", 2*60*60))
	assert.True(t, a.Equal(b))
	b.Loopback = true
	assert.False(t, a.Equal(b))
	assert.True(t, a.Inbound())
	assert.Contains(t, a.String(), "inbound")
}
