package tcp

import (
	"fmt"
	"strconv"

	"github.com/soypat/divert"
)

type OptionKind uint8

const (
	OptEnd                   OptionKind = iota // end of option list
	OptNop                                     // no-operation
	OptMaxSegmentSize                          // maximum segment size
	OptWindowScale                             // window scale
	OptSACKPermitted                           // SACK permitted
	OptSACK                                    // SACK
	OptEcho                                    // echo(obsolete)
	optEchoReply                               // echo reply(obsolete)
	OptTimestamps                              // timestamps
	optPOCP                                    // partial order connection permitted(obsolete)
	optPOSP                                    // partial order service profile(obsolete)
	optCC                                      // CC(obsolete)
	optCCnew                                   // CC.new(obsolete)
	optCCecho                                  // CC.echo(obsolete)
	optACR                                     // alternate checksum request(obsolete)
	optACD                                     // alternate checksum data(obsolete)
	optSkeeter                                 // skeeter
	optBubba                                   // bubba
	OptTrailerChecksum                         // trailer checksum
	optMD5Signature                            // MD5 signature(obsolete)
	OptSCPSCapabilities                        // SCPS capabilities
	OptSNA                                     // selective negative acks
	OptRecordBoundaries                        // record boundaries
	OptCorruptionExperienced                   // corruption experienced
	OptSNAP                                    // SNAP
	OptUnassigned                              // unassigned
	OptCompressionFilter                       // compression filter
	OptQuickStartResponse                      // quick-start response
	OptUserTimeout                             // user timeout or unauthorized use
	OptAuthetication                           // Authentication TCP-AO
	OptMultipath                               // multipath TCP
)

const (
	OptFastOpenCookie        OptionKind = 34  // fast open cookie
	OptEncryptionNegotiation OptionKind = 69  // encryption negotiation
	OptAccurateECN0          OptionKind = 172 // accurate ECN order 0
	OptAccurateECN1          OptionKind = 174 // accurate ECN order 1
)

var optionNames = [...]string{
	OptEnd:                   "end of option list",
	OptNop:                   "no-operation",
	OptMaxSegmentSize:        "maximum segment size",
	OptWindowScale:           "window scale",
	OptSACKPermitted:         "SACK permitted",
	OptSACK:                  "SACK",
	OptEcho:                  "echo",
	optEchoReply:             "echo reply",
	OptTimestamps:            "timestamps",
	optPOCP:                  "partial order connection permitted",
	optPOSP:                  "partial order service profile",
	optCC:                    "CC",
	optCCnew:                 "CC.new",
	optCCecho:                "CC.echo",
	optACR:                   "alternate checksum request",
	optACD:                   "alternate checksum data",
	optSkeeter:               "skeeter",
	optBubba:                 "bubba",
	OptTrailerChecksum:       "trailer checksum",
	optMD5Signature:          "MD5 signature",
	OptSCPSCapabilities:      "SCPS capabilities",
	OptSNA:                   "selective negative acks",
	OptRecordBoundaries:      "record boundaries",
	OptCorruptionExperienced: "corruption experienced",
	OptSNAP:                  "SNAP",
	OptUnassigned:            "unassigned",
	OptCompressionFilter:     "compression filter",
	OptQuickStartResponse:    "quick-start response",
	OptUserTimeout:           "user timeout or unauthorized use",
	OptAuthetication:         "Authentication TCP-AO",
	OptMultipath:             "multipath TCP",
}

func (kind OptionKind) String() string {
	switch {
	case int(kind) < len(optionNames):
		return optionNames[kind]
	case kind == OptFastOpenCookie:
		return "fast open cookie"
	case kind == OptEncryptionNegotiation:
		return "encryption negotiation"
	case kind == OptAccurateECN0:
		return "accurate ECN order 0"
	case kind == OptAccurateECN1:
		return "accurate ECN order 1"
	}
	return "OptionKind(" + strconv.Itoa(int(kind)) + ")"
}

// IsObsolete returns true if option considered obsolete by newer TCP specifications.
func (kind OptionKind) IsObsolete() bool {
	switch kind {
	case OptEcho, optEchoReply, optPOCP, optPOSP, optCC, optCCnew, optCCecho, optACR, optACD, optMD5Signature:
		return true
	}
	return false
}

// IsDefined returns true if the option is a known unreserved option kind.
func (kind OptionKind) IsDefined() bool {
	return kind <= 30 || kind == 34 || kind == 69 || kind == 172 || kind == 174
}

// OptionCodec walks and writes TCP options encoded as kind-length-value triplets.
// Kind 0 terminates the list and kind 1 is a single byte no-operation.
type OptionCodec struct {
	Flags OptionFlags
}

type OptionFlags uint8

const (
	OptFlagSkipSizeValidation OptionFlags = 1 << iota
	OptFlagSkipObsolete
)

func (flags OptionFlags) HasAny(ofTheseFlags OptionFlags) bool {
	return flags&ofTheseFlags != 0
}

var (
	errShortOptions  = fmt.Errorf("tcp: short options: %w", divert.ErrShortBuffer)
	errBadOptionSize = fmt.Errorf("tcp: bad option size: %w", divert.ErrInvalidArgument)
)

func (op OptionCodec) PutOption16(dst []byte, kind OptionKind, v uint16) (int, error) {
	return op.PutOption(dst, kind, byte(v>>8), byte(v))
}

func (op OptionCodec) PutOption32(dst []byte, kind OptionKind, v uint32) (int, error) {
	return op.PutOption(dst, kind, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PutOption writes a single option to dst and returns the amount of bytes written.
func (op OptionCodec) PutOption(dst []byte, kind OptionKind, data ...byte) (int, error) {
	putSize := 2 + len(data)
	if len(dst) < putSize {
		return -1, divert.ErrShortBuffer
	} else if putSize > 255 {
		return -1, errBadOptionSize
	} else if kind == OptNop || kind == OptEnd {
		return -1, divert.ErrInvalidArgument
	}
	dst[0] = byte(kind)
	dst[1] = byte(putSize)
	copy(dst[2:], data)
	return putSize, nil
}

// ForEachOption calls fn for each option in opts with the option's data bytes,
// which exclude kind and length. Iteration stops at the end-of-list option, at
// the end of opts or at the first error returned by fn.
func (op OptionCodec) ForEachOption(opts []byte, fn func(OptionKind, []byte) error) error {
	off := 0
	skipSizeValidation := op.Flags.HasAny(OptFlagSkipSizeValidation)
	skipObsolete := op.Flags.HasAny(OptFlagSkipObsolete)
	for off < len(opts) && opts[off] != byte(OptEnd) {
		kind := OptionKind(opts[off])
		off++
		if kind == OptNop {
			continue
		}
		if len(opts[off:]) < 1 {
			return errShortOptions
		}
		size := int(opts[off]) // Total option length including kind and length bytes.
		off++
		dataLen := size - 2 // Data bytes after kind and length.
		if dataLen < 0 || len(opts[off:]) < dataLen {
			return errShortOptions
		}

		if !skipSizeValidation {
			expectSize := -1
			switch kind {
			case OptTimestamps:
				expectSize = 10
			case OptMaxSegmentSize, OptUserTimeout:
				expectSize = 4
			case OptWindowScale:
				expectSize = 3
			case OptSACKPermitted:
				expectSize = 2
			}
			if expectSize != -1 && size != expectSize {
				return errBadOptionSize
			}
		}
		if !(skipObsolete && kind.IsObsolete()) {
			err := fn(kind, opts[off:off+dataLen])
			if err != nil {
				return err
			}
		}
		off += dataLen
	}
	return nil
}

type optionFound struct{}

func (optionFound) Error() string { return "option found" }

// findMSS returns the maximum segment size in opts or -1 if absent or unreadable.
// The value is read from the final two bytes of the option.
func findMSS(opts []byte) int {
	mss := -1
	codec := OptionCodec{Flags: OptFlagSkipSizeValidation}
	codec.ForEachOption(opts, func(kind OptionKind, data []byte) error {
		if kind != OptMaxSegmentSize {
			return nil
		}
		if len(data) >= 2 {
			mss = int(data[len(data)-2])<<8 | int(data[len(data)-1])
		}
		return optionFound{}
	})
	return mss
}
