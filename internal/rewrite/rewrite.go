// Package rewrite applies configured field rewrites to packets.
package rewrite

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"github.com/soypat/divert"
	"github.com/soypat/divert/internal/config"
	"github.com/soypat/divert/packet"
)

// Rule matches packets and rewrites their addresses, ports, TTL and timestamp.
// Zero match fields match any packet and zero rewrite fields are not applied.
type Rule struct {
	Name         string
	Protocol     packet.Kind // KindNone matches any protocol.
	MatchSrc     netip.Prefix
	MatchDst     netip.Prefix
	MatchSrcPort uint16
	MatchDstPort uint16
	SrcAddr      netip.Addr
	DstAddr      netip.Addr
	SrcPort      uint16
	DstPort      uint16
	// TTL sets the IPv4 time to live or the IPv6 hop limit.
	TTL   uint8
	Delay time.Duration
}

// FromConfig converts configured rules.
func FromConfig(rules []config.RuleConfig) ([]Rule, error) {
	out := make([]Rule, len(rules))
	for i, rc := range rules {
		kind, err := parseKind(rc.Protocol)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		out[i] = Rule{
			Name:         rc.Name,
			Protocol:     kind,
			MatchSrc:     rc.MatchSrc,
			MatchDst:     rc.MatchDst,
			MatchSrcPort: rc.MatchSrcPort,
			MatchDstPort: rc.MatchDstPort,
			SrcAddr:      rc.SrcAddr,
			DstAddr:      rc.DstAddr,
			SrcPort:      rc.SrcPort,
			DstPort:      rc.DstPort,
			TTL:          rc.TTL,
			Delay:        rc.Delay,
		}
	}
	return out, nil
}

func parseKind(proto string) (packet.Kind, error) {
	switch proto {
	case "":
		return packet.KindNone, nil
	case "tcp":
		return packet.KindTCP, nil
	case "udp":
		return packet.KindUDP, nil
	case "icmp":
		return packet.KindICMPv4, nil
	case "icmpv6":
		return packet.KindICMPv6, nil
	}
	return 0, errors.Wrapf(divert.ErrInvalidArgument, "protocol %q", proto)
}

// Match reports whether p satisfies every match field of the rule.
func (r Rule) Match(p *packet.Packet) bool {
	if r.Protocol != packet.KindNone && p.Chain().Kind() != r.Protocol {
		return false
	}
	if r.MatchSrc.IsValid() && !r.MatchSrc.Contains(p.SrcAddr()) {
		return false
	}
	if r.MatchDst.IsValid() && !r.MatchDst.Contains(p.DstAddr()) {
		return false
	}
	if r.MatchSrcPort != 0 {
		port, err := p.SrcPort()
		if err != nil || port != r.MatchSrcPort {
			return false
		}
	}
	if r.MatchDstPort != 0 {
		port, err := p.DstPort()
		if err != nil || port != r.MatchDstPort {
			return false
		}
	}
	return true
}

// Apply rewrites p if it matches the rule and reports whether it did. Checksums
// are not updated, see [Rewriter].
func (r Rule) Apply(p *packet.Packet) (bool, error) {
	if !r.Match(p) {
		return false, nil
	}
	if err := r.check(p); err != nil {
		return false, err
	}
	if r.SrcAddr.IsValid() {
		if err := p.SetSrcAddr(r.SrcAddr); err != nil {
			return false, err
		}
	}
	if r.DstAddr.IsValid() {
		if err := p.SetDstAddr(r.DstAddr); err != nil {
			return false, err
		}
	}
	if r.SrcPort != 0 {
		if err := p.SetSrcPort(r.SrcPort); err != nil {
			return false, err
		}
	}
	if r.DstPort != 0 {
		if err := p.SetDstPort(r.DstPort); err != nil {
			return false, err
		}
	}
	if r.TTL != 0 {
		if ifrm, ok := p.IPv4(); ok {
			ifrm.SetTTL(r.TTL)
		} else if i6frm, ok := p.IPv6(); ok {
			i6frm.SetHopLimit(r.TTL)
		}
	}
	return true, nil
}

// check verifies the rewrite applies to p so that a failing rule leaves p untouched.
func (r Rule) check(p *packet.Packet) error {
	if _, ok := p.Chain().Transport(); !ok && (r.SrcPort != 0 || r.DstPort != 0) {
		return errors.Wrapf(divert.ErrInvalidState, "%s packet has no ports", p.Chain().Kind())
	}
	for _, addr := range []netip.Addr{r.SrcAddr, r.DstAddr} {
		if addr.IsValid() && addr.Is4() != p.IsIPv4() {
			return errors.Wrapf(divert.ErrInvalidArgument, "address %s for IPv%d packet", addr, p.IPHeader().Version())
		}
	}
	return nil
}

// Rewriter applies the first matching rule to packets and recomputes checksums
// of rewritten packets.
type Rewriter struct {
	Rules []Rule
	// Skip selects checksums left untouched.
	Skip packet.CalcFlags
}

// Apply rewrites p with the first matching rule. It returns the name of that
// rule, or the empty string with false if no rule matched. The address of a
// delayed packet is returned with its timestamp shifted.
func (rw *Rewriter) Apply(p *packet.Packet) (packet.Address, string, bool, error) {
	addr := p.Address()
	for _, r := range rw.Rules {
		ok, err := r.Apply(p)
		if err != nil {
			return addr, r.Name, false, errors.Wrapf(err, "rule %q", r.Name)
		}
		if !ok {
			continue
		}
		p.CalculateChecksumsWith(rw.Skip)
		if r.Delay > 0 {
			addr.Timestamp = addr.Timestamp.Add(r.Delay)
		}
		return addr, r.Name, true, nil
	}
	return addr, "", false, nil
}
