package internal

import (
	"context"

	"github.com/dcrodman/tftp/internal/core/client"
)

// Backend is an interface for a server that handles the packets sent over
// connections accepted by a frontend.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// SetUpClient creates whatever per-connection state the Backend needs
	// before the first packet from c is handled.
	SetUpClient(c *client.Client)

	// Handle is the main entry point for processing client packets. It's responsible
	// for generally handling all packets from a client as well as sending any responses.
	// Returning an error closes the connection.
	Handle(ctx context.Context, c *client.Client, data []byte) error

	// TearDown is called once the connection to c has closed.
	TearDown(c *client.Client)
}
