package ethernet

import (
	"encoding/binary"
	"hash/crc32"
)

//
// CRC API.
//

// crcTable is the IEEE CRC-32 table used for Ethernet FCS calculation.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC32 calculates the Ethernet Frame Check Sequence (FCS) for the given data.
// The CRC is computed using the IEEE 802.3 CRC-32 polynomial.
// The input should be the frame data from destination MAC through payload,
// excluding any existing FCS.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// AppendFCS appends the little-endian Frame Check Sequence of frame to frame.
func AppendFCS(frame []byte) []byte {
	return binary.LittleEndian.AppendUint32(frame, CRC32(frame))
}

// TrimFCS returns frame without its trailing 4 byte Frame Check Sequence and
// true if the sequence matches the frame contents. If it does not match frame
// is returned unchanged with false.
func TrimFCS(frame []byte) ([]byte, bool) {
	end := len(frame) - sizeFCS
	if end < sizeHeaderNoVLAN {
		return frame, false
	}
	if CRC32(frame[:end]) != binary.LittleEndian.Uint32(frame[end:]) {
		return frame, false
	}
	return frame[:end], true
}
