package main

import (
	"errors"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/soypat/divert/internal/rewrite"
	"github.com/soypat/divert/packet"
)

func newRewriteCmd(a *app) *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Apply configured rewrite rules to a capture file",
		Long: `Apply the rules of the configuration file to every packet of a capture
file. The first matching rule rewrites a packet and its checksums are
recomputed. All packets, rewritten or not, are written to the output file.`,
		Example: `  divertdump rewrite -c rules.yml -i in.pcap -o out.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRewrite(input, output)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input capture file (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output capture file (required)")
	cmd.Flags().String("format", "pcap", "output format: pcap or pcapng")
	cmd.Flags().Bool("trim-fcs", false, "strip Ethernet frame check sequences")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runRewrite(input, output string) error {
	rules, err := rewrite.FromConfig(a.cfg.Rules)
	if err != nil {
		return err
	}
	skip, err := a.cfg.CalcFlags()
	if err != nil {
		return err
	}
	rw := rewrite.Rewriter{Rules: rules, Skip: skip}
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()
	h, in, err := a.openCapture(input, out)
	if err != nil {
		return err
	}
	defer in.Close()

	var total, rewritten int
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := h.Recv(buf)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		total++
		raw := buf[:n]
		p, err := packet.New(raw, addr, a.cfg.OwnershipMode())
		if err != nil {
			a.log.WithError(err).WithField("index", total).Warn("undecodable packet copied unchanged")
		} else {
			var name string
			var ok bool
			addr, name, ok, err = rw.Apply(p)
			if err != nil {
				a.log.WithError(err).WithField("index", total).Warn("rewrite failed, packet copied unchanged")
			} else if ok {
				rewritten++
				a.log.WithFields(logrus.Fields{"index": total, "rule": name}).Debug("rewritten")
			}
			raw, _ = p.Encode()
		}
		if _, err := h.Send(raw, addr); err != nil {
			return err
		}
	}
	a.log.WithFields(logrus.Fields{"packets": total, "rewritten": rewritten}).Info("rewrite done")
	return h.Close()
}
