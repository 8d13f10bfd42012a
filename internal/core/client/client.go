package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/dcrodman/tftp/internal/core/debug"
	"github.com/dcrodman/tftp/internal/packets"
)

// ErrTerminated is returned by a server backend once it has decided that a
// connection must be closed.
var ErrTerminated = errors.New("connection terminated by server")

// Client represents one connection to the file server.
type Client struct {
	// Server-assigned identifier, unique for the lifetime of the process.
	ID int64

	connection net.Conn
	ipAddr     string

	// Serializes writes so that packets sent from other connections' goroutines
	// (broadcasts) never interleave with this connection's own responses.
	writeMu sync.Mutex

	// Set when the Client wraps the client end of a connection.
	ClientSide bool

	// Dump every outgoing packet to DebugWriter when set.
	Debug       bool
	DebugWriter io.Writer
}

func NewClient(id int64, connection net.Conn) *Client {
	c := &Client{ID: id, connection: connection}
	if host, _, err := net.SplitHostPort(connection.RemoteAddr().String()); err == nil {
		c.ipAddr = host
	} else {
		c.ipAddr = connection.RemoteAddr().String()
	}
	return c
}

func (c *Client) IPAddr() string { return c.ipAddr }

// Read consumes the available bytes directly the client's TCP connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Close the TCP connection.
func (c *Client) Close() error {
	return c.connection.Close()
}

// Send serializes a packet and writes it to the connection in full.
func (c *Client) Send(pkt packets.Packet) error {
	data := pkt.Bytes()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.Debug && c.DebugWriter != nil {
		debug.PrintPacket(debug.PrintPacketParams{
			Writer:       c.DebugWriter,
			ConnectionID: c.ID,
			ClientPacket: c.ClientSide,
			Data:         data,
		})
	}

	return c.transmit(data)
}

// transmit writes the contents of data to the TCP connection until every byte
// has been written.
func (c *Client) transmit(data []byte) error {
	bytesSent := 0

	for bytesSent < len(data) {
		b, err := c.connection.Write(data[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.IPAddr(), err)
		}
		bytesSent += b
	}

	return nil
}
