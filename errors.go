package divert

import "strconv"

type errGeneric uint8

// Generic errors returned by buffer views, header views and the header chain builder.
const (
	_                   errGeneric = iota // non-initialized err
	ErrOutOfBounds                        // out of bounds
	ErrInvalidArgument                    // invalid argument
	ErrInvalidState                       // invalid state
	ErrUnsupportedProto                   // unsupported protocol
	ErrShortBuffer                        // short buffer
	ErrBadCRC                             // incorrect checksum
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrOutOfBounds:
		return "out of bounds"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrInvalidState:
		return "invalid state"
	case ErrUnsupportedProto:
		return "unsupported protocol"
	case ErrShortBuffer:
		return "short buffer"
	case ErrBadCRC:
		return "incorrect checksum"
	}
	return "errGeneric(" + strconv.Itoa(int(err)) + ")"
}

// BoundsError is returned when an access of Len bytes at Off does not fit
// in a buffer of capacity Cap. It unwraps to [ErrOutOfBounds].
type BoundsError struct {
	Off int
	Len int
	Cap int
}

func (be *BoundsError) Error() string {
	return "divert: access [" + strconv.Itoa(be.Off) + ":" + strconv.Itoa(be.Off+be.Len) +
		"] out of bounds for capacity " + strconv.Itoa(be.Cap)
}

func (be *BoundsError) Unwrap() error { return ErrOutOfBounds }

// CheckBounds returns a [*BoundsError] if n bytes at off do not fit in capacity.
func CheckBounds(off, n, capacity int) error {
	if off < 0 || n < 0 || off > capacity || n > capacity-off {
		return &BoundsError{Off: off, Len: n, Cap: capacity}
	}
	return nil
}
