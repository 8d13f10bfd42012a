package packets

import (
	"errors"
	"fmt"

	"github.com/dcrodman/tftp/internal/core/bytes"
)

// ErrMalformed is returned by Parse when a frame does not match the layout
// required by its opcode.
var ErrMalformed = errors.New("malformed packet")

// Packet is implemented by every packet type that can be put on the wire.
type Packet interface {
	// Type returns the opcode written in the first two bytes of the packet.
	Type() Opcode
	// Bytes serializes the packet into its wire representation.
	Bytes() []byte
}

// Request a file from the server.
type ReadRequest struct {
	Filename string
}

// Request to upload a file to the server.
type WriteRequest struct {
	Filename string
}

// Request to log in with a username.
type LoginRequest struct {
	Username string
}

// Request to delete a file from the server.
type DeleteRequest struct {
	Filename string
}

// One block of a file or directory listing transfer. Block numbers start at 1.
type Data struct {
	Block   uint16
	Payload []byte
}

// Acknowledgement of a Data block, or block 0 for login, delete, disconnect
// and the start of an upload.
type Ack struct {
	Block uint16
}

// Error reported to the peer.
type Error struct {
	Code    ErrorCode
	Message string
}

// Request for the names of all files stored on the server.
type DirectoryListingRequest struct{}

// Request to log out.
type Disconnect struct{}

// Server notification that a file was added or deleted.
type Broadcast struct {
	Operation BroadcastOperation
	Filename  string
}

func (*ReadRequest) Type() Opcode             { return ReadRequestType }
func (*WriteRequest) Type() Opcode            { return WriteRequestType }
func (*LoginRequest) Type() Opcode            { return LoginRequestType }
func (*DeleteRequest) Type() Opcode           { return DeleteRequestType }
func (*Data) Type() Opcode                    { return DataType }
func (*Ack) Type() Opcode                     { return AckType }
func (*Error) Type() Opcode                   { return ErrorType }
func (*DirectoryListingRequest) Type() Opcode { return DirectoryListingRequestType }
func (*Disconnect) Type() Opcode              { return DisconnectType }
func (*Broadcast) Type() Opcode               { return BroadcastType }

func (p *ReadRequest) Bytes() []byte   { return stringPacket(ReadRequestType, p.Filename) }
func (p *WriteRequest) Bytes() []byte  { return stringPacket(WriteRequestType, p.Filename) }
func (p *LoginRequest) Bytes() []byte  { return stringPacket(LoginRequestType, p.Username) }
func (p *DeleteRequest) Bytes() []byte { return stringPacket(DeleteRequestType, p.Filename) }

func (p *Data) Bytes() []byte {
	b := make([]byte, 0, DataHeaderSize+len(p.Payload))
	b = bytes.PutUint16(b, uint16(DataType))
	b = bytes.PutUint16(b, uint16(len(p.Payload)))
	b = bytes.PutUint16(b, p.Block)
	return append(b, p.Payload...)
}

// Final returns whether this is the last block of a transfer.
func (p *Data) Final() bool {
	return len(p.Payload) < MaxPayloadSize
}

func (p *Ack) Bytes() []byte {
	b := make([]byte, 0, 4)
	b = bytes.PutUint16(b, uint16(AckType))
	return bytes.PutUint16(b, p.Block)
}

func (p *Error) Bytes() []byte {
	b := make([]byte, 0, 5+len(p.Message))
	b = bytes.PutUint16(b, uint16(ErrorType))
	b = bytes.PutUint16(b, uint16(p.Code))
	return append(b, bytes.NullTerminated(p.Message)...)
}

func (p *Error) Error() string {
	return fmt.Sprintf("error %d: %s", p.Code, p.Message)
}

func (*DirectoryListingRequest) Bytes() []byte {
	return bytes.PutUint16(nil, uint16(DirectoryListingRequestType))
}

func (*Disconnect) Bytes() []byte {
	return bytes.PutUint16(nil, uint16(DisconnectType))
}

func (p *Broadcast) Bytes() []byte {
	b := make([]byte, 0, 4+len(p.Filename))
	b = bytes.PutUint16(b, uint16(BroadcastType))
	b = append(b, byte(p.Operation))
	return append(b, bytes.NullTerminated(p.Filename)...)
}

func stringPacket(opcode Opcode, str string) []byte {
	b := make([]byte, 0, OpcodeSize+len(str)+1)
	b = bytes.PutUint16(b, uint16(opcode))
	return append(b, bytes.NullTerminated(str)...)
}

// OpcodeOf returns the opcode in the first two bytes of a frame, or
// UndefinedType if there are fewer than two bytes or the value is unknown.
func OpcodeOf(frame []byte) Opcode {
	if len(frame) < OpcodeSize {
		return UndefinedType
	}
	if op := Opcode(bytes.Uint16(frame)); op.Valid() {
		return op
	}
	return UndefinedType
}

// Parse converts a complete frame (as produced by a Decoder) into its typed
// representation. The payload of a Data packet aliases frame.
func Parse(frame []byte) (Packet, error) {
	switch op := OpcodeOf(frame); op {
	case ReadRequestType, WriteRequestType, LoginRequestType, DeleteRequestType:
		str, err := terminatedString(frame, OpcodeSize)
		if err != nil {
			return nil, fmt.Errorf("parsing %v: %w", op, err)
		}
		switch op {
		case ReadRequestType:
			return &ReadRequest{Filename: str}, nil
		case WriteRequestType:
			return &WriteRequest{Filename: str}, nil
		case LoginRequestType:
			return &LoginRequest{Username: str}, nil
		default:
			return &DeleteRequest{Filename: str}, nil
		}
	case DataType:
		if len(frame) < DataHeaderSize {
			return nil, fmt.Errorf("parsing %v: %w: %d byte frame", op, ErrMalformed, len(frame))
		}
		size := int(bytes.Uint16(frame[2:4]))
		if len(frame) != DataHeaderSize+size {
			return nil, fmt.Errorf("parsing %v: %w: declared %d payload bytes, got %d",
				op, ErrMalformed, size, len(frame)-DataHeaderSize)
		}
		return &Data{Block: bytes.Uint16(frame[4:6]), Payload: frame[DataHeaderSize:]}, nil
	case AckType:
		if len(frame) != 4 {
			return nil, fmt.Errorf("parsing %v: %w: %d byte frame", op, ErrMalformed, len(frame))
		}
		return &Ack{Block: bytes.Uint16(frame[2:4])}, nil
	case ErrorType:
		if len(frame) < 5 {
			return nil, fmt.Errorf("parsing %v: %w: %d byte frame", op, ErrMalformed, len(frame))
		}
		msg, err := terminatedString(frame, 4)
		if err != nil {
			return nil, fmt.Errorf("parsing %v: %w", op, err)
		}
		return &Error{Code: ErrorCode(bytes.Uint16(frame[2:4])), Message: msg}, nil
	case DirectoryListingRequestType, DisconnectType:
		if len(frame) != OpcodeSize {
			return nil, fmt.Errorf("parsing %v: %w: %d byte frame", op, ErrMalformed, len(frame))
		}
		if op == DisconnectType {
			return &Disconnect{}, nil
		}
		return &DirectoryListingRequest{}, nil
	case BroadcastType:
		if len(frame) < 4 {
			return nil, fmt.Errorf("parsing %v: %w: %d byte frame", op, ErrMalformed, len(frame))
		}
		name, err := terminatedString(frame, 3)
		if err != nil {
			return nil, fmt.Errorf("parsing %v: %w", op, err)
		}
		return &Broadcast{Operation: BroadcastOperation(frame[2]), Filename: name}, nil
	default:
		return nil, fmt.Errorf("%w: unknown opcode", ErrMalformed)
	}
}

// terminatedString returns the string between offset and the final 0x00 of frame.
func terminatedString(frame []byte, offset int) (string, error) {
	if len(frame) <= offset || frame[len(frame)-1] != 0 {
		return "", fmt.Errorf("%w: missing string terminator", ErrMalformed)
	}
	return string(frame[offset : len(frame)-1]), nil
}
