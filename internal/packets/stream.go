package packets

import (
	"errors"
	"io"
)

// Split reads r to the end and hands it to emit as sequential Data blocks
// numbered from 1. The last block is always shorter than MaxPayloadSize, so
// content whose length is a multiple of the block size ends with an empty
// block. Returns the number of payload bytes emitted.
func Split(r io.Reader, emit func(*Data) error) (int64, error) {
	var total int64
	buf := make([]byte, MaxPayloadSize)

	for block := uint16(1); ; block++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return total, err
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		if err := emit(&Data{Block: block, Payload: payload}); err != nil {
			return total, err
		}
		total += int64(n)

		if n < MaxPayloadSize {
			return total, nil
		}
	}
}
