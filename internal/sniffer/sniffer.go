// Package sniffer replays captured protocol traffic from a pcap file through
// per-connection Decoders so that conversations can be inspected offline.
package sniffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/dcrodman/tftp/internal/core/debug"
	"github.com/dcrodman/tftp/internal/packets"
)

// Frame is one protocol packet recovered from a capture.
type Frame struct {
	Timestamp time.Time
	// Sequential identifier of the TCP conversation the frame belongs to.
	ConversationID int64
	ClientPacket   bool
	Data           []byte
}

// Sniffer reassembles protocol frames from TCP segments. Segments are taken in
// capture order; retransmitted or reordered segments are not corrected for.
type Sniffer struct {
	// Port the server listens on. Segments to it are client packets and
	// segments from it are server packets; all other traffic is skipped.
	ServerPort uint16

	conversations map[string]int64
	decoders      map[string]*packets.Decoder
}

func New(serverPort uint16) *Sniffer {
	return &Sniffer{
		ServerPort:    serverPort,
		conversations: make(map[string]int64),
		decoders:      make(map[string]*packets.Decoder),
	}
}

// Replay reads a pcap capture from r and calls emit for every complete frame.
// It stops at the end of the capture or at the first error returned by emit.
func (s *Sniffer) Replay(r io.Reader, emit func(Frame) error) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("error reading capture header: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("error reading capture: %w", err)
		}

		if err := s.handlePacket(packet, emit); err != nil {
			return err
		}
	}
}

func (s *Sniffer) handlePacket(packet gopacket.Packet, emit func(Frame) error) error {
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 || packet.NetworkLayer() == nil {
		return nil
	}

	flow := tcp.TransportFlow()
	srcPort := binary.BigEndian.Uint16(flow.Src().Raw())
	dstPort := binary.BigEndian.Uint16(flow.Dst().Raw())

	var clientPacket bool
	switch s.ServerPort {
	case dstPort:
		clientPacket = true
	case srcPort:
		clientPacket = false
	default:
		return nil
	}

	network := packet.NetworkLayer().NetworkFlow()
	direction := fmt.Sprintf("%v:%v->%v:%v", network.Src(), flow.Src(), network.Dst(), flow.Dst())
	conversation := s.conversation(network, flow, clientPacket)

	decoder, ok := s.decoders[direction]
	if !ok {
		decoder = packets.NewDecoder()
		s.decoders[direction] = decoder
	}

	for _, b := range tcp.Payload {
		data := decoder.Feed(b)
		if data == nil {
			continue
		}
		if err := emit(Frame{
			Timestamp:      packet.Metadata().Timestamp,
			ConversationID: conversation,
			ClientPacket:   clientPacket,
			Data:           data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// conversation returns the identifier shared by both directions of a TCP
// connection, keyed on the client's side of it.
func (s *Sniffer) conversation(network, transport gopacket.Flow, clientPacket bool) int64 {
	if !clientPacket {
		network, transport = network.Reverse(), transport.Reverse()
	}
	key := fmt.Sprintf("%v:%v", network.Src(), transport.Src())

	id, ok := s.conversations[key]
	if !ok {
		id = int64(len(s.conversations) + 1)
		s.conversations[key] = id
	}
	return id
}

// Print writes a dump of every frame in the capture to w.
func (s *Sniffer) Print(r io.Reader, w io.Writer) error {
	return s.Replay(r, func(f Frame) error {
		fmt.Fprintf(w, "%s ", f.Timestamp.UTC().Format("15:04:05.000000"))
		debug.PrintPacket(debug.PrintPacketParams{
			Writer:       w,
			ConnectionID: f.ConversationID,
			ClientPacket: f.ClientPacket,
			Data:         f.Data,
		})
		return nil
	})
}

// Summarize writes one line per frame with only the packet types, which is
// easier to compare between captures than the full dump.
func (s *Sniffer) Summarize(r io.Reader, w io.Writer) error {
	return s.Replay(r, func(f Frame) error {
		direction := "server->client"
		if f.ClientPacket {
			direction = "client->server"
		}
		_, err := fmt.Fprintf(w, "%s [%d] %s %s (%d bytes)\n",
			f.Timestamp.UTC().Format("15:04:05.000000"), f.ConversationID, direction, packets.OpcodeOf(f.Data), len(f.Data))
		return err
	})
}
