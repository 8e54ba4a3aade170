package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soypat/divert/packet"
)

func newDecodeCmd(a *app) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "decode HEX...",
		Short: "Decode packets given as hex strings",
		Long: `Decode IP packets given as hex strings and verify their checksums.

Spaces and colons inside a hex string are ignored.

Examples:
  divertdump decode 4500001c...
  divertdump decode --fix "45 00 00 1c ..."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDecode(args, fix)
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "recompute checksums and print the fixed packet as hex")
	return cmd
}

func (a *app) runDecode(args []string, fix bool) error {
	flags, err := a.cfg.CalcFlags()
	if err != nil {
		return err
	}
	for i, arg := range args {
		raw, err := decodeHex(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		p, err := packet.New(raw, packet.Address{}, a.cfg.OwnershipMode())
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		printPacket(a.stdout, i+1, p)
		if fix {
			p.CalculateChecksumsWith(flags)
			fixed, _ := p.Encode()
			fmt.Fprintf(a.stdout, "  fixed: %s\n", hex.EncodeToString(fixed))
		}
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
