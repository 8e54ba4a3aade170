package packet

import (
	"github.com/pkg/errors"

	"github.com/soypat/divert"
)

// Handle is a packet transport: something that delivers raw IP datagrams with
// their metadata and accepts datagrams for injection.
type Handle interface {
	// Recv reads the next datagram into buf and returns its length and metadata.
	Recv(buf []byte) (int, Address, error)
	// Send injects raw with the given metadata and returns the bytes written.
	Send(raw []byte, addr Address) (int, error)
}

// Recv reads one datagram from h into buf and builds a Packet over buf[:n].
// The packet aliases buf unless own is [divert.Owned].
func Recv(h Handle, buf []byte, own divert.Ownership) (*Packet, error) {
	n, addr, err := h.Recv(buf)
	if err != nil {
		return nil, err
	}
	return New(buf[:n], addr, own)
}

// Send hands the packet bytes and metadata to h. A short write fails with
// [divert.ErrShortBuffer].
func Send(h Handle, p *Packet) error {
	raw, addr := p.Encode()
	n, err := h.Send(raw, addr)
	if err != nil {
		return err
	}
	if n != len(raw) {
		return errors.Wrapf(divert.ErrShortBuffer, "sent %d of %d bytes", n, len(raw))
	}
	return nil
}
