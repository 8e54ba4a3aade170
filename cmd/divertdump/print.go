package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/soypat/divert"
	"github.com/soypat/divert/packet"
)

var (
	colorIndex = color.New(color.FgHiBlack)
	colorIP    = color.New(color.FgCyan)
	colorProto = color.New(color.FgBlue)
	colorOK    = color.New(color.FgGreen)
	colorBad   = color.New(color.FgRed, color.Bold)
)

// printPacket writes a one line summary of p followed by its headers, one per line.
func printPacket(w io.Writer, idx int, p *packet.Packet) {
	colorIndex.Fprintf(w, "#%d ", idx)
	addr := p.Address()
	if !addr.Timestamp.IsZero() {
		fmt.Fprintf(w, "%s ", addr.Timestamp.UTC().Format("15:04:05.000000"))
	}
	colorIP.Fprintf(w, "%s -> %s", p.SrcAddr(), p.DstAddr())
	kind := p.Chain().Kind()
	if kind == packet.KindNone {
		colorProto.Fprintf(w, " %s", p.IPHeader().NextProtocol())
	} else {
		colorProto.Fprintf(w, " %s", kind)
	}
	if sport, err := p.SrcPort(); err == nil {
		dport, _ := p.DstPort()
		fmt.Fprintf(w, " %d -> %d", sport, dport)
	}
	fmt.Fprintf(w, " len=%d payload=%d ", len(p.Raw(false)), len(p.Raw(false))-p.HeadersLength())
	if err := p.VerifyChecksums(); err != nil {
		colorBad.Fprintf(w, "BAD CHECKSUM (%v)", err)
	} else {
		colorOK.Fprint(w, "ok")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %v\n", p.IPHeader())
	if h := p.ProtocolHeader(); h != nil {
		fmt.Fprintf(w, "  %v\n", h)
	}
	vld := divert.NewValidator(divert.ValidateAllowMultiErrors | divert.ValidateEvilBit)
	p.Validate(vld)
	if err := vld.Err(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			colorBad.Fprintf(w, "  ! %s\n", line)
		}
	}
}
