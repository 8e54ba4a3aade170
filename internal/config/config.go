// Package config loads divertdump configuration using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/soypat/divert"
	"github.com/soypat/divert/packet"
)

// EnvPrefix prefixes environment overrides, e.g. DIVERTDUMP_LOG_LEVEL.
const EnvPrefix = "DIVERTDUMP"

// Config is the top level divertdump configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	// Ownership of packets built from capture records: shared or owned.
	Ownership string `mapstructure:"ownership" yaml:"ownership"`
	// SkipChecksums names checksums left untouched after a rewrite: ip, icmp, icmpv6, tcp, udp.
	SkipChecksums []string     `mapstructure:"skip_checksums" yaml:"skip_checksums,omitempty"`
	Rules         []RuleConfig `mapstructure:"rules" yaml:"rules,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text | json | pattern
	// Pattern is used by the pattern format. See the log package for placeholders.
	Pattern    string     `mapstructure:"pattern" yaml:"pattern,omitempty"`
	TimeFormat string     `mapstructure:"time_format" yaml:"time_format"`
	File       FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig configures a rotating log file in addition to standard error.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CaptureConfig configures pcap input and output.
type CaptureConfig struct {
	Format  string `mapstructure:"format" yaml:"format"` // pcap | pcapng
	SnapLen uint32 `mapstructure:"snaplen" yaml:"snaplen"`
	TrimFCS bool   `mapstructure:"trim_fcs" yaml:"trim_fcs"`
}

// RuleConfig describes a packet rewrite. Zero match fields match anything and
// zero rewrite fields leave the packet field unchanged.
type RuleConfig struct {
	Name     string       `mapstructure:"name" yaml:"name,omitempty"`
	Protocol string       `mapstructure:"protocol" yaml:"protocol,omitempty"` // tcp | udp | icmp | icmpv6
	MatchSrc netip.Prefix `mapstructure:"match_src" yaml:"match_src"`
	MatchDst netip.Prefix `mapstructure:"match_dst" yaml:"match_dst"`
	// MatchSrcPort and MatchDstPort only match packets with ports.
	MatchSrcPort uint16        `mapstructure:"match_src_port" yaml:"match_src_port,omitempty"`
	MatchDstPort uint16        `mapstructure:"match_dst_port" yaml:"match_dst_port,omitempty"`
	SrcAddr      netip.Addr    `mapstructure:"src_addr" yaml:"src_addr"`
	DstAddr      netip.Addr    `mapstructure:"dst_addr" yaml:"dst_addr"`
	SrcPort      uint16        `mapstructure:"src_port" yaml:"src_port,omitempty"`
	DstPort      uint16        `mapstructure:"dst_port" yaml:"dst_port,omitempty"`
	TTL          uint8         `mapstructure:"ttl" yaml:"ttl,omitempty"`
	Delay        time.Duration `mapstructure:"delay" yaml:"delay,omitempty"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"ownership":  "ownership",
	"format":     "capture.format",
	"trim-fcs":   "capture.trim_fcs",
}

// Load reads the configuration file at path, which may be empty, applies
// DIVERTDUMP_ environment overrides and the flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("log.time_format", time.RFC3339)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("capture.format", "pcap")
	v.SetDefault("capture.snaplen", 65535)
	v.SetDefault("capture.trim_fcs", false)

	v.SetDefault("ownership", divert.Shared.String())
}

// Validate checks enumerated values and rule consistency.
func (cfg *Config) Validate() error {
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	case "pattern":
		if cfg.Log.Pattern == "" {
			return fmt.Errorf("log.pattern is required when log.format=pattern")
		}
	default:
		return fmt.Errorf("invalid log format: %s (must be text/json/pattern)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}
	if cfg.Capture.Format != "pcap" && cfg.Capture.Format != "pcapng" {
		return fmt.Errorf("invalid capture format: %s (must be pcap/pcapng)", cfg.Capture.Format)
	}
	if _, err := divert.ParseOwnership(cfg.Ownership); err != nil {
		return fmt.Errorf("invalid ownership: %s (must be shared/owned)", cfg.Ownership)
	}
	if _, err := cfg.CalcFlags(); err != nil {
		return err
	}
	for i, rule := range cfg.Rules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// OwnershipMode returns the parsed Ownership field.
func (cfg *Config) OwnershipMode() divert.Ownership {
	own, _ := divert.ParseOwnership(cfg.Ownership)
	return own
}

// CalcFlags converts SkipChecksums to checksum calculation flags.
func (cfg *Config) CalcFlags() (packet.CalcFlags, error) {
	var flags packet.CalcFlags
	for _, name := range cfg.SkipChecksums {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "ip":
			flags |= packet.NoIPChecksum
		case "icmp":
			flags |= packet.NoICMPChecksum
		case "icmpv6":
			flags |= packet.NoICMPv6Checksum
		case "tcp":
			flags |= packet.NoTCPChecksum
		case "udp":
			flags |= packet.NoUDPChecksum
		default:
			return 0, fmt.Errorf("invalid skip_checksums entry: %s", name)
		}
	}
	return flags, nil
}

func (rule RuleConfig) validate() error {
	switch rule.Protocol {
	case "", "tcp", "udp", "icmp", "icmpv6":
	default:
		return fmt.Errorf("invalid protocol: %s (must be tcp/udp/icmp/icmpv6)", rule.Protocol)
	}
	hasPortRewrite := rule.SrcPort != 0 || rule.DstPort != 0 || rule.MatchSrcPort != 0 || rule.MatchDstPort != 0
	if hasPortRewrite && (rule.Protocol == "icmp" || rule.Protocol == "icmpv6") {
		return fmt.Errorf("ports set on %s rule", rule.Protocol)
	}
	if rule.SrcAddr.IsValid() && rule.DstAddr.IsValid() && rule.SrcAddr.Is4() != rule.DstAddr.Is4() {
		return fmt.Errorf("src_addr and dst_addr of different families")
	}
	if rule.Delay < 0 {
		return fmt.Errorf("negative delay %s", rule.Delay)
	}
	return nil
}
