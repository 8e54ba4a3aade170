package tcp

import (
	"math/bits"
	"strconv"
)

// Value is a TCP sequence or acknowledgment number.
type Value uint32

// Flags is a TCP flags bit-masked implementation i.e: SYN, FIN, ACK.
// Bit positions match the 9 least significant bits of the 16 bit
// word at header offset 12.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota // FlagFIN - No more data from sender.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagRST                   // FlagRST - Reset the connection.
	FlagPSH                   // FlagPSH - Push function.
	FlagACK                   // FlagACK - Acknowledgment field significant.
	FlagURG                   // FlagURG - Urgent pointer field significant.
	FlagECE                   // FlagECE - ECN-Echo has a nonce-sum in the SYN/ACK.
	FlagCWR                   // FlagCWR - Congestion Window Reduced.
	FlagNS                    // FlagNS  - Nonce Sum flag (see RFC 3540).
)

const flagMask = 0x01ff

// The union of SYN|FIN|PSH and ACK flags is common, so we define unexported shorthands.
const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
	pshack = FlagPSH | FlagACK
)

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns the flags with non-flag bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns human readable flag string. i.e:
//
//	"[SYN,ACK]"
//
// Flags are printed in order from LSB (FIN) to MSB (NS).
// All flags are printed with length of 3, so a NS flag will
// end with a space i.e. [ACK,NS ]
func (flags Flags) String() string {
	// Cover most common cases without heap allocating.
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case pshack:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b returning the extended buffer.
func (flags Flags) AppendFormat(b []byte) []byte {
	flags = flags.Mask()
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURGECECWRNS "
	var addcommas bool
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}

// FlagBit enumerates the nine TCP flags in header order, NS first.
// NS is bit 0 of header byte 12. The remaining flags live in header
// byte 13 at bit position 8-FlagBit, so CWR is bit 7 and FIN is bit 0.
type FlagBit uint8

const (
	BitNS FlagBit = iota
	BitCWR
	BitECE
	BitURG
	BitACK
	BitPSH
	BitRST
	BitSYN
	BitFIN
	numFlagBits
)

// Valid reports whether fb is one of the nine defined flags.
func (fb FlagBit) Valid() bool { return fb < numFlagBits }

// Flag returns the [Flags] mask corresponding to fb.
func (fb FlagBit) Flag() Flags {
	if !fb.Valid() {
		return 0
	}
	return 1 << (8 - fb)
}

// position returns the header byte offset and bit position holding fb.
func (fb FlagBit) position() (byteOff, bitPos int) {
	if fb == BitNS {
		return 12, 0
	}
	return 13, 8 - int(fb)
}

var flagBitNames = [numFlagBits]string{"NS", "CWR", "ECE", "URG", "ACK", "PSH", "RST", "SYN", "FIN"}

func (fb FlagBit) String() string {
	if !fb.Valid() {
		return "FlagBit(" + strconv.Itoa(int(fb)) + ")"
	}
	return flagBitNames[fb]
}
