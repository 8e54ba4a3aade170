package main

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/soypat/divert/internal/config"
	"github.com/soypat/divert/internal/log"
)

// app holds state shared by subcommands, populated before any subcommand runs.
type app struct {
	configFile string
	cfg        *config.Config
	log        *logrus.Logger
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	rootCmd := &cobra.Command{
		Use:   "divertdump",
		Short: "divertdump - decode, verify and rewrite IP packets",
		Long: `divertdump interprets raw IP packets as a chain of IPv4/IPv6 and
TCP/UDP/ICMP headers, verifies their checksums and rewrites header fields.

Packets are read from hex strings or pcap/pcapng files. Rewritten packets
are written as raw IP pcap records.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file path")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json, pattern")
	flags.String("ownership", "shared", "packet buffer ownership: shared or owned")

	rootCmd.AddCommand(
		newDecodeCmd(a),
		newDumpCmd(a),
		newRewriteCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := log.New(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.log.WithField("config", a.configFile).Debug("configuration loaded")
	return nil
}
