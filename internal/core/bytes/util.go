package bytes

import (
	"bytes"
	"encoding/binary"
)

// PutUint16 appends v to b in network (big endian) order.
func PutUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// Uint16 reads a big endian uint16 from the first two bytes of b.
func Uint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// NullTerminated returns the UTF-8 bytes of str followed by a single 0x00.
func NullTerminated(str string) []byte {
	b := make([]byte, 0, len(str)+1)
	b = append(b, str...)
	return append(b, 0)
}

// SplitNullTerminated splits b into the strings terminated by 0x00. Any trailing
// bytes that were not terminated are returned as the remainder so that a caller
// reassembling a stream can prepend them to the next chunk.
func SplitNullTerminated(b []byte) ([]string, []byte) {
	var names []string
	for {
		idx := bytes.IndexByte(b, 0)
		if idx < 0 {
			break
		}
		names = append(names, string(b[:idx]))
		b = b[idx+1:]
	}
	rest := make([]byte, len(b))
	copy(rest, b)
	return names, rest
}
