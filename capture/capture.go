// Package capture implements a [packet.Handle] over pcap and pcapng streams.
//
// Records are read from any link type the package knows how to strip down to
// the IP datagram. Injected datagrams are written as raw IP records.
// A Handle is not safe for concurrent use.
package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/soypat/divert"
	"github.com/soypat/divert/ethernet"
	"github.com/soypat/divert/ipv4"
	"github.com/soypat/divert/ipv6"
	"github.com/soypat/divert/packet"
)

// Format selects the file format written by a Handle.
type Format string

const (
	FormatPcap   Format = "pcap"
	FormatPcapNG Format = "pcapng"
)

const defaultSnapLen = 65535

// pcapng section header block type, also the first 4 bytes of every pcapng file.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Config configures a Handle. The zero value writes pcap with a 65535 byte
// snapshot length and discards logs.
type Config struct {
	// Format of the output stream. Input format is detected.
	Format Format
	// SnapLen is the snapshot length written in the output file header.
	SnapLen uint32
	// TrimFCS strips a valid trailing Ethernet frame check sequence from Ethernet records.
	TrimFCS bool
	// Logger receives per packet debug entries and skipped record warnings.
	Logger logrus.FieldLogger
}

type recordReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Handle reads IP datagrams from a capture stream and writes injected
// datagrams to another.
type Handle struct {
	r        recordReader
	linkType layers.LinkType
	pw       *pcapgo.Writer
	ngw      *pcapgo.NgWriter
	wroteHdr bool
	cfg      Config
	log      logrus.FieldLogger
	stats    Stats
}

var _ packet.Handle = (*Handle)(nil)

// Stats counts records processed by a Handle.
type Stats struct {
	Received uint64
	Skipped  uint64
	Sent     uint64
}

// Open returns a Handle reading records from r and writing to w. Either may be
// nil to create a receive-only or send-only handle.
func Open(r io.Reader, w io.Writer, cfg Config) (*Handle, error) {
	if cfg.SnapLen == 0 {
		cfg.SnapLen = defaultSnapLen
	}
	if cfg.Format == "" {
		cfg.Format = FormatPcap
	}
	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	h := &Handle{cfg: cfg, log: log.WithField("component", "capture")}
	if r != nil {
		if err := h.openReader(r); err != nil {
			return nil, err
		}
	}
	if w != nil {
		switch cfg.Format {
		case FormatPcap:
			h.pw = pcapgo.NewWriter(w)
		case FormatPcapNG:
			ngw, err := pcapgo.NewNgWriter(w, layers.LinkTypeRaw)
			if err != nil {
				return nil, errors.Wrap(err, "pcapng writer")
			}
			h.ngw = ngw
		default:
			return nil, errors.Wrapf(divert.ErrInvalidArgument, "capture format %q", cfg.Format)
		}
	}
	return h, nil
}

func (h *Handle) openReader(r io.Reader) error {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return errors.Wrap(err, "read capture magic")
	}
	if bytes.Equal(magic, ngMagic) {
		ngr, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return errors.Wrap(err, "pcapng reader")
		}
		h.r = ngr
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return errors.Wrap(err, "pcap reader")
		}
		h.r = pr
	}
	h.linkType = h.r.LinkType()
	if _, err := stripLink(h.linkType, nil); errors.Is(err, divert.ErrUnsupportedProto) {
		return errors.Wrapf(err, "link type %s", h.linkType)
	}
	h.log.WithField("linktype", h.linkType.String()).Debug("opened capture")
	return nil
}

// LinkType returns the link type of the input stream.
func (h *Handle) LinkType() layers.LinkType { return h.linkType }

// Stats returns the record counters of the handle.
func (h *Handle) Stats() Stats { return h.stats }

// Recv copies the next IP datagram into buf. Records that do not carry IPv4 or
// IPv6 are skipped. io.EOF is returned at the end of the stream.
func (h *Handle) Recv(buf []byte) (int, packet.Address, error) {
	if h.r == nil {
		return 0, packet.Address{}, errors.Wrap(divert.ErrInvalidState, "capture has no input")
	}
	for {
		data, ci, err := h.r.ReadPacketData()
		if err != nil {
			return 0, packet.Address{}, err
		}
		rec, err := h.strip(data)
		if err != nil {
			h.stats.Skipped++
			h.log.WithError(err).WithField("len", len(data)).Warn("skipping record")
			continue
		}
		if len(rec.datagram) > len(buf) {
			return 0, packet.Address{}, errors.Wrapf(divert.ErrShortBuffer, "datagram of %d bytes", len(rec.datagram))
		}
		n := copy(buf, rec.datagram)
		addr := packet.Address{
			Timestamp: ci.Timestamp,
			Layer:     packet.LayerNetwork,
			Event:     packet.EventNetworkPacket,
			Sniffed:   true,
			Outbound:  rec.outbound,
			Loopback:  rec.loopback,
			IPv6:      rec.datagram[0]>>4 == 6,
			IfIdx:     uint32(ci.InterfaceIndex),
		}
		h.stats.Received++
		h.log.WithFields(logrus.Fields{
			"len":      n,
			"ipv6":     addr.IPv6,
			"outbound": addr.Outbound,
		}).Debug("recv")
		return n, addr, nil
	}
}

type record struct {
	datagram []byte
	outbound bool
	loopback bool
}

func (h *Handle) strip(data []byte) (record, error) {
	if h.cfg.TrimFCS && h.linkType == layers.LinkTypeEthernet {
		data, _ = ethernet.TrimFCS(data)
	}
	rec, err := stripLink(h.linkType, data)
	if err != nil {
		return rec, err
	}
	if len(rec.datagram) == 0 {
		return rec, errors.Wrap(divert.ErrShortBuffer, "empty datagram")
	}
	if v := rec.datagram[0] >> 4; v != 4 && v != 6 {
		return rec, errors.Wrapf(divert.ErrUnsupportedProto, "ip version %d", v)
	}
	rec.datagram = trimLinkPadding(rec.datagram)
	return rec, nil
}

// trimLinkPadding cuts datagram to the length its IP header declares, dropping
// bytes the link layer appended such as Ethernet minimum frame padding.
// Datagrams whose header cannot be read or that are shorter than declared are
// returned unchanged.
func trimLinkPadding(datagram []byte) []byte {
	n := len(datagram)
	switch datagram[0] >> 4 {
	case 4:
		ifrm, err := ipv4.NewFrame(datagram, 0)
		if err != nil {
			break
		}
		if tl := int(ifrm.TotalLength()); tl >= ifrm.HeaderLength() {
			n = tl
		}
	case 6:
		i6frm, err := ipv6.NewFrame(datagram, 0)
		if err != nil {
			break
		}
		pl := int(i6frm.PayloadLength())
		if pl == 0 && i6frm.NextHeader() == divert.IPProtoHopByHop {
			break // Jumbo payload.
		}
		n = i6frm.HeaderLength() + pl
	}
	if n < len(datagram) {
		return datagram[:n]
	}
	return datagram
}

// Linux cooked capture packet type of packets sent by the host.
const sllOutgoing = 4

// stripLink removes the link layer header of data. A nil data only checks the
// link type is supported.
func stripLink(lt layers.LinkType, data []byte) (record, error) {
	var rec record
	switch lt {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		rec.datagram = data
	case layers.LinkTypeEthernet:
		if data == nil {
			break
		}
		efrm, err := ethernet.NewFrame(data)
		if err != nil {
			return rec, err
		}
		et, payload, err := efrm.Unwrap()
		if err != nil {
			return rec, err
		}
		if et != divert.EtherTypeIPv4 && et != divert.EtherTypeIPv6 {
			return rec, errors.Wrapf(divert.ErrUnsupportedProto, "ethertype %s", et)
		}
		rec.datagram = payload
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		// 4 byte address family header.
		rec.loopback = true
		if data == nil {
			break
		}
		if err := divert.CheckBounds(0, 4, len(data)); err != nil {
			return rec, err
		}
		rec.datagram = data[4:]
	case layers.LinkTypeLinuxSLL:
		if data == nil {
			break
		}
		if err := divert.CheckBounds(0, 16, len(data)); err != nil {
			return rec, err
		}
		et := divert.EtherType(binary.BigEndian.Uint16(data[14:16]))
		if et != divert.EtherTypeIPv4 && et != divert.EtherTypeIPv6 {
			return rec, errors.Wrapf(divert.ErrUnsupportedProto, "ethertype %s", et)
		}
		rec.outbound = binary.BigEndian.Uint16(data[0:2]) == sllOutgoing
		rec.datagram = data[16:]
	default:
		return rec, errors.Wrapf(divert.ErrUnsupportedProto, "link type %d", lt)
	}
	return rec, nil
}

// Send writes raw as a raw IP record timestamped with addr.Timestamp, or the
// current time if it is zero.
func (h *Handle) Send(raw []byte, addr packet.Address) (int, error) {
	ts := addr.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(raw),
		Length:        len(raw),
	}
	var err error
	switch {
	case h.pw != nil:
		if !h.wroteHdr {
			if err = h.pw.WriteFileHeader(h.cfg.SnapLen, layers.LinkTypeRaw); err != nil {
				return 0, errors.Wrap(err, "pcap file header")
			}
			h.wroteHdr = true
		}
		err = h.pw.WritePacket(ci, raw)
	case h.ngw != nil:
		err = h.ngw.WritePacket(ci, raw)
	default:
		return 0, errors.Wrap(divert.ErrInvalidState, "capture has no output")
	}
	if err != nil {
		return 0, errors.Wrap(err, "write record")
	}
	h.stats.Sent++
	h.log.WithField("len", len(raw)).Debug("send")
	return len(raw), nil
}

// Flush writes buffered output. pcap output is unbuffered.
func (h *Handle) Flush() error {
	if h.ngw != nil {
		return h.ngw.Flush()
	}
	return nil
}

// Close flushes output and logs the handle counters. The underlying reader
// and writer are not closed.
func (h *Handle) Close() error {
	h.log.WithFields(logrus.Fields{
		"received": h.stats.Received,
		"skipped":  h.stats.Skipped,
		"sent":     h.stats.Sent,
	}).Info("capture closed")
	return h.Flush()
}
