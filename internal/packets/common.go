// Package packets defines the wire format of the file transfer protocol. Every
// packet begins with a two byte big endian opcode; the remaining layout depends
// on the packet type.
package packets

import "fmt"

// Opcode identifies the type of a packet. Only the low byte is ever non-zero.
type Opcode uint16

// Packet types exchanged between the client and server.
const (
	UndefinedType               Opcode = 0x00
	ReadRequestType             Opcode = 0x01
	WriteRequestType            Opcode = 0x02
	DataType                    Opcode = 0x03
	AckType                     Opcode = 0x04
	ErrorType                   Opcode = 0x05
	DirectoryListingRequestType Opcode = 0x06
	LoginRequestType            Opcode = 0x07
	DeleteRequestType           Opcode = 0x08
	BroadcastType               Opcode = 0x09
	DisconnectType              Opcode = 0x0A
)

const (
	// OpcodeSize is the length of the opcode that prefixes every packet.
	OpcodeSize = 2
	// DataHeaderSize is the opcode, payload length, and block number of a Data packet.
	DataHeaderSize = 6
	// MaxPayloadSize is the largest payload a Data packet may carry. Any payload
	// shorter than this marks the final block of a transfer.
	MaxPayloadSize = 512
)

var opcodeNames = map[Opcode]string{
	UndefinedType:               "UNDEFINED",
	ReadRequestType:             "RRQ",
	WriteRequestType:            "WRQ",
	DataType:                    "DATA",
	AckType:                     "ACK",
	ErrorType:                   "ERROR",
	DirectoryListingRequestType: "DIRQ",
	LoginRequestType:            "LOGRQ",
	DeleteRequestType:           "DELRQ",
	BroadcastType:               "BCAST",
	DisconnectType:              "DISC",
}

// Valid returns whether o is one of the defined (non-Undefined) packet types.
func (o Opcode) Valid() bool {
	return o >= ReadRequestType && o <= DisconnectType
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#04x)", uint16(o))
}

// BroadcastOperation distinguishes the two kinds of Broadcast notifications.
type BroadcastOperation uint8

const (
	BroadcastDeleted BroadcastOperation = 0
	BroadcastAdded   BroadcastOperation = 1
)

func (op BroadcastOperation) String() string {
	if op == BroadcastDeleted {
		return "del"
	}
	return "add"
}
