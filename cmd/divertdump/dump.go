package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/soypat/divert/capture"
	"github.com/soypat/divert/packet"
)

const maxDatagram = 65535

func newDumpCmd(a *app) *cobra.Command {
	var (
		input string
		count int
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every packet of a pcap or pcapng file",
		Example: `  divertdump dump -i capture.pcap
  divertdump dump -i capture.pcapng -n 10 --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDump(input, count)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input capture file (required)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after count packets, 0 for no limit")
	cmd.Flags().Bool("trim-fcs", false, "strip Ethernet frame check sequences")
	cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) openCapture(input string, w io.Writer) (*capture.Handle, *os.File, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, nil, err
	}
	h, err := capture.Open(f, w, capture.Config{
		Format:  capture.Format(a.cfg.Capture.Format),
		SnapLen: a.cfg.Capture.SnapLen,
		TrimFCS: a.cfg.Capture.TrimFCS,
		Logger:  a.log,
	})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open %s: %w", input, err)
	}
	return h, f, nil
}

func (a *app) runDump(input string, count int) error {
	h, f, err := a.openCapture(input, nil)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, maxDatagram)
	for i := 1; count == 0 || i <= count; i++ {
		n, addr, err := h.Recv(buf)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		p, err := packet.New(buf[:n], addr, a.cfg.OwnershipMode())
		if err != nil {
			a.log.WithError(err).WithField("index", i).Warn("undecodable packet")
			continue
		}
		printPacket(a.stdout, i, p)
	}
	return h.Close()
}
