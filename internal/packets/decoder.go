package packets

import "github.com/dcrodman/tftp/internal/core/bytes"

const initialDecoderBuffer = 1 << 10

// Decoder recovers packet boundaries from a byte stream one byte at a time.
// It holds the partial packet read so far and therefore must only ever be
// used with a single connection.
//
// A stream with an unknown opcode is never resolved: the Decoder keeps
// buffering but will not return a frame. Field validation is left to the
// caller (see Parse).
type Decoder struct {
	buffer []byte
	opcode Opcode
	// Whether the opcode of the in-progress packet has been read.
	classified bool
}

func NewDecoder() *Decoder {
	return &Decoder{buffer: make([]byte, 0, initialDecoderBuffer)}
}

// Feed appends b to the in-progress packet and returns the packet's bytes once
// it is complete, otherwise nil. The returned slice is owned by the caller.
func (d *Decoder) Feed(b byte) []byte {
	d.buffer = append(d.buffer, b)
	length := len(d.buffer)

	if length >= OpcodeSize && !d.classified {
		d.opcode = OpcodeOf(d.buffer)
		d.classified = true
	}
	if !d.classified {
		return nil
	}

	switch d.opcode {
	case ReadRequestType, WriteRequestType, LoginRequestType, DeleteRequestType:
		if b == 0 && length > OpcodeSize {
			return d.emit()
		}
	case ErrorType:
		// The error code itself may contain zero bytes.
		if b == 0 && length > 4 {
			return d.emit()
		}
	case BroadcastType:
		// Operation 0 (deleted) is a zero byte at offset 2.
		if b == 0 && length > 3 {
			return d.emit()
		}
	case DataType:
		if length >= 4 && length == DataHeaderSize+int(bytes.Uint16(d.buffer[2:4])) {
			return d.emit()
		}
	case AckType:
		if length == 4 {
			return d.emit()
		}
	case DirectoryListingRequestType, DisconnectType:
		if length == OpcodeSize {
			return d.emit()
		}
	}
	return nil
}

// Reset discards any partially decoded packet.
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
	d.opcode = UndefinedType
	d.classified = false
}

func (d *Decoder) emit() []byte {
	frame := make([]byte, len(d.buffer))
	copy(frame, d.buffer)
	d.Reset()
	return frame
}
