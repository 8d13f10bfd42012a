package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/tftp/internal/core"
	"github.com/dcrodman/tftp/internal/core/client"
	archdebug "github.com/dcrodman/tftp/internal/core/debug"
	"github.com/dcrodman/tftp/internal/packets"
)

// frontend implements the concurrent client connection logic.
//
// Data is read from any connected clients, split into packets, and passed to a
// backend instance, abstracting the lower level connection details away from
// the Backends.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger

	listener *net.TCPListener
	// Source of connection IDs.
	lastID    int64
	connected int64
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.listener = socket

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// Addr returns the address the frontend is listening on once started.
func (f *frontend) Addr() net.Addr {
	return f.listener.Addr()
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

func (f *frontend) full() bool {
	return f.Config.MaxConnections > 0 && atomic.LoadInt64(&f.connected) >= int64(f.Config.MaxConnections)
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Printf("[%s] waiting for connections on %v", f.Backend.Identifier(), socket.Addr())

	connections := make(chan *net.TCPConn)
	go func() {
		for {
			// Poll until we can accept more clients.
			for f.full() && ctx.Err() == nil {
				time.Sleep(100 * time.Millisecond)
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
				return
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection := <-connections:
			clientWg.Add(1)
			atomic.AddInt64(&f.connected, 1)
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	_ = socket.Close()
	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

// acceptClient wraps the connection in a Client, registers it with the
// Backend and moves into the packet processing loop.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer atomic.AddInt64(&f.connected, -1)

	c := client.NewClient(atomic.AddInt64(&f.lastID, 1), connection)
	c.Debug = f.Config.Debugging.PacketLoggingEnabled
	c.DebugWriter = os.Stdout
	f.Backend.SetUpClient(c)

	f.Logger.Infof("[%s] accepted connection %d from %s", f.Backend.Identifier(), c.ID, c.IPAddr())

	f.processPackets(ctx, c)
}

// processPackets starts a blocking loop dedicated to reading data sent from
// a client and only returns once the connection has closed.
func (f *frontend) processPackets(ctx context.Context, c *client.Client) {
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), c)

	// Unblock the read below when the server shuts down.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	reader := bufio.NewReader(c)
	decoder := packets.NewDecoder()

	for {
		b, err := reader.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				f.Logger.Warnf("socket error (%s): %s", c.IPAddr(), err)
			}
			return
		}

		frame := decoder.Feed(b)
		if frame == nil {
			continue
		}

		if f.Config.Debugging.PacketLoggingEnabled {
			archdebug.PrintPacket(archdebug.PrintPacketParams{
				Writer:       os.Stdout,
				ConnectionID: c.ID,
				ClientPacket: true,
				Data:         frame,
			})
		}

		if err = f.Backend.Handle(ctx, c, frame); err != nil {
			if errors.Is(err, client.ErrTerminated) {
				f.Logger.Infof("[%s] closing connection %d: %s", f.Backend.Identifier(), c.ID, err)
			} else {
				f.Logger.Warn("error in client communication: " + err.Error())
			}
			return
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes them from the Backend regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c *client.Client) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.IPAddr(), err, debug.Stack())
	}

	f.Backend.TearDown(c)

	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.Logger.Infof("[%s] disconnected client %d (%s)", serverName, c.ID, c.IPAddr())
}
