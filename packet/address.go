package packet

import (
	"fmt"
	"strconv"
	"time"

	"github.com/soypat/divert"
)

// Layer is the capture layer a packet was observed at.
type Layer uint8

const (
	LayerNetwork        Layer = iota // network
	LayerNetworkForward              // network forward
	LayerFlow                        // flow
	LayerSocket                      // socket
	LayerReflect                     // reflect
	numLayers
)

var layerNames = [numLayers]string{"network", "network forward", "flow", "socket", "reflect"}

func (l Layer) String() string {
	if l >= numLayers {
		return "Layer(" + strconv.Itoa(int(l)) + ")"
	}
	return layerNames[l]
}

// Event is the capture event that produced a packet.
type Event uint8

const (
	EventNetworkPacket   Event = iota // network packet
	EventFlowEstablished              // flow established
	EventFlowDeleted                  // flow deleted
	EventSocketBind                   // socket bind
	EventSocketConnect                // socket connect
	EventSocketListen                 // socket listen
	EventSocketAccept                 // socket accept
	EventSocketClose                  // socket close
	EventReflectOpen                  // reflect open
	EventReflectClose                 // reflect close
	numEvents
)

var eventNames = [numEvents]string{
	"network packet", "flow established", "flow deleted", "socket bind", "socket connect",
	"socket listen", "socket accept", "socket close", "reflect open", "reflect close",
}

func (e Event) String() string {
	if e >= numEvents {
		return "Event(" + strconv.Itoa(int(e)) + ")"
	}
	return eventNames[e]
}

// Bit positions of the packed flags word. Layer and event occupy the low 16 bits.
const (
	flagsLayerShift  = 0
	flagsEventShift  = 8
	flagSniffed      = 1 << 16
	flagOutbound     = 1 << 17
	flagLoopback     = 1 << 18
	flagImpostor     = 1 << 19
	flagIPv6         = 1 << 20
	flagIPChecksum   = 1 << 21
	flagTCPChecksum  = 1 << 22
	flagUDPChecksum  = 1 << 23
	flagsDefinedBits = 1<<24 - 1
)

// Address is the metadata a capture transport attaches to a packet: when and
// where it was seen and which of its checksums the transport found valid.
type Address struct {
	// Timestamp of capture. Transports report it in their native resolution.
	Timestamp time.Time
	Layer     Layer
	Event     Event
	Sniffed   bool
	Outbound  bool
	Loopback  bool
	Impostor  bool
	IPv6      bool
	// IPChecksum, TCPChecksum and UDPChecksum report checksums known to be valid.
	IPChecksum  bool
	TCPChecksum bool
	UDPChecksum bool
	// IfIdx and SubIfIdx identify the network interface at the network layers.
	IfIdx    uint32
	SubIfIdx uint32
}

// NewInboundAddress returns network layer metadata for a packet arriving on interface ifIdx.
func NewInboundAddress(ifIdx, subIfIdx uint32, impostor, ipChecksum, tcpChecksum, udpChecksum bool) Address {
	return Address{
		Layer:       LayerNetwork,
		Event:       EventNetworkPacket,
		Impostor:    impostor,
		IPChecksum:  ipChecksum,
		TCPChecksum: tcpChecksum,
		UDPChecksum: udpChecksum,
		IfIdx:       ifIdx,
		SubIfIdx:    subIfIdx,
	}
}

// NewOutboundAddress returns network layer metadata for a packet leaving the host.
func NewOutboundAddress(impostor, ipChecksum, tcpChecksum, udpChecksum bool) Address {
	return Address{
		Layer:       LayerNetwork,
		Event:       EventNetworkPacket,
		Outbound:    true,
		Impostor:    impostor,
		IPChecksum:  ipChecksum,
		TCPChecksum: tcpChecksum,
		UDPChecksum: udpChecksum,
	}
}

// Inbound is the negation of Outbound.
func (a Address) Inbound() bool { return !a.Outbound }

// Flags packs layer, event and boolean fields into a single word:
// layer in bits 0-7, event in bits 8-15 and booleans from bit 16 upwards
// in the order sniffed, outbound, loopback, impostor, ipv6, ip, tcp and udp checksum.
func (a Address) Flags() uint32 {
	v := uint32(a.Layer)<<flagsLayerShift | uint32(a.Event)<<flagsEventShift
	set := func(b bool, mask uint32) {
		if b {
			v |= mask
		}
	}
	set(a.Sniffed, flagSniffed)
	set(a.Outbound, flagOutbound)
	set(a.Loopback, flagLoopback)
	set(a.Impostor, flagImpostor)
	set(a.IPv6, flagIPv6)
	set(a.IPChecksum, flagIPChecksum)
	set(a.TCPChecksum, flagTCPChecksum)
	set(a.UDPChecksum, flagUDPChecksum)
	return v
}

// SetFlags unpacks a word produced by [Address.Flags]. Unknown layer or event
// values and bits above 23 fail with [divert.ErrInvalidArgument] leaving a unmodified.
func (a *Address) SetFlags(v uint32) error {
	layer := Layer(v >> flagsLayerShift)
	event := Event(v >> flagsEventShift)
	if layer >= numLayers || event >= numEvents || v&^flagsDefinedBits != 0 {
		return divert.ErrInvalidArgument
	}
	a.Layer = layer
	a.Event = event
	a.Sniffed = v&flagSniffed != 0
	a.Outbound = v&flagOutbound != 0
	a.Loopback = v&flagLoopback != 0
	a.Impostor = v&flagImpostor != 0
	a.IPv6 = v&flagIPv6 != 0
	a.IPChecksum = v&flagIPChecksum != 0
	a.TCPChecksum = v&flagTCPChecksum != 0
	a.UDPChecksum = v&flagUDPChecksum != 0
	return nil
}

// Equal reports whether a and b hold the same metadata. Timestamps are compared with [time.Time.Equal].
func (a Address) Equal(b Address) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return false
	}
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	return a == b
}

func (a Address) String() string {
	dir := "inbound"
	if a.Outbound {
		dir = "outbound"
	}
	return fmt.Sprintf("Address{%s %s %s if=%d.%d flags=%#06x ts=%s}",
		a.Layer, a.Event, dir, a.IfIdx, a.SubIfIdx, a.Flags()>>16, a.Timestamp.Format(time.RFC3339Nano))
}
