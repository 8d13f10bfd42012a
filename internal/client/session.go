// Package client implements the interactive side of the protocol: a Session
// that turns console commands into requests and prints the server's responses.
package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	corebytes "github.com/dcrodman/tftp/internal/core/bytes"
	"github.com/dcrodman/tftp/internal/packets"
	"github.com/dcrodman/tftp/internal/storage"
)

// Mode is the request a Session is waiting on.
type Mode int

const (
	Idle Mode = iota
	LoggingIn
	Deleting
	Reading
	Writing
	Listing
	Disconnecting
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case LoggingIn:
		return "logging in"
	case Deleting:
		return "deleting"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case Listing:
		return "listing"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var errUploadCancelled = errors.New("upload cancelled")

// Conn is the client's end of the connection to the server.
type Conn interface {
	Send(pkt packets.Packet) error
	Close() error
}

// Session is the client protocol state machine. Commands are issued from the
// console goroutine and packets are handled on the socket goroutine; a request
// is outstanding from the moment it's sent until its response arrives.
type Session struct {
	dir    string
	conn   Conn
	out    io.Writer
	logger *logrus.Logger

	mu       sync.Mutex
	loggedIn bool
	mode     Mode
	filename string

	// Download state.
	file      *os.File
	lastBlock uint16
	received  int64
	// Bytes of a listing entry whose terminator hasn't arrived yet.
	partialName []byte

	// Upload state. Block numbers wrap, so completion is tracked by counting
	// acks against the blocks sent. Bumping uploadGen stops a running upload.
	uploadGen    uint64
	streaming    bool
	finalSent    bool
	blocksSent   int
	blocksAcked  int
	pendingWrite string
	uploads      sync.WaitGroup

	awaiting  bool
	responses chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession returns a Session that keeps downloaded and uploaded files in dir
// and writes console output to out.
func NewSession(dir string, conn Conn, out io.Writer, logger *logrus.Logger) *Session {
	return &Session{
		dir:       dir,
		conn:      conn,
		out:       out,
		logger:    logger,
		responses: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Mode returns the request currently in flight.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Done is closed once the session has ended, either through DISC or because
// the connection was lost.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Responses receives a value each time the outstanding request is answered.
func (s *Session) Responses() <-chan struct{} {
	return s.responses
}

func (s *Session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

// release marks the outstanding request as answered. Must be called with mu held.
func (s *Session) release() {
	if !s.awaiting {
		return
	}
	s.awaiting = false
	select {
	case s.responses <- struct{}{}:
	default:
	}
}

// end closes the connection and the session. Safe to call more than once and
// with mu held.
func (s *Session) end() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debugf("error closing connection: %v", err)
		}
		close(s.done)
	})
}

// ConnectionLost is called by the socket reader once the server goes away.
func (s *Session) ConnectionLost(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	if s.mode == Reading {
		s.abandonDownload()
	}
	s.uploadGen++
	s.mode = Idle
	s.loggedIn = false
	s.release()
	s.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warnf("connection lost: %v", err)
	}
	s.end()
}

// HandleCommand parses and executes one line of console input. It returns true
// when a request was sent and the caller must wait for its response before
// issuing the next command.
func (s *Session) HandleCommand(line string) bool {
	command, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	arg = strings.TrimLeft(arg, " \t")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != Idle {
		s.printf("Request already in progress")
		return false
	}

	switch command {
	case "LOGRQ":
		if strings.TrimSpace(arg) == "" {
			s.printf("Invalid command")
			return false
		}
		return s.request(LoggingIn, "", &packets.LoginRequest{Username: arg})
	case "DELRQ":
		if storage.ValidateName(arg) != nil {
			s.printf("Invalid command")
			return false
		}
		return s.request(Deleting, arg, &packets.DeleteRequest{Filename: arg})
	case "RRQ":
		return s.startDownload(arg)
	case "WRQ":
		return s.startUpload(arg)
	case "DIRQ":
		s.lastBlock = 0
		s.partialName = nil
		return s.request(Listing, "", &packets.DirectoryListingRequest{})
	case "DISC":
		if !s.loggedIn {
			s.printf("Disconnected")
			s.end()
			return false
		}
		return s.request(Disconnecting, "", &packets.Disconnect{})
	default:
		s.printf("Invalid command")
		return false
	}
}

// request sends pkt and moves into mode. Must be called with mu held.
func (s *Session) request(mode Mode, filename string, pkt packets.Packet) bool {
	s.mode = mode
	s.filename = filename
	s.awaiting = true

	if err := s.conn.Send(pkt); err != nil {
		s.printf("Error sending request: %v", err)
		if mode == Reading {
			s.abandonDownload()
		}
		s.mode = Idle
		s.awaiting = false
		return false
	}
	return true
}

func (s *Session) localPath(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Session) startDownload(name string) bool {
	if storage.ValidateName(name) != nil {
		s.printf("Invalid command")
		return false
	}

	f, err := os.OpenFile(s.localPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		s.printf("file already exists")
		return false
	} else if err != nil {
		s.printf("Error creating %s: %v", name, err)
		return false
	}

	s.file = f
	s.lastBlock = 0
	s.received = 0
	return s.request(Reading, name, &packets.ReadRequest{Filename: name})
}

func (s *Session) startUpload(name string) bool {
	if storage.ValidateName(name) != nil {
		s.printf("Invalid command")
		return false
	}
	if info, err := os.Stat(s.localPath(name)); err != nil || !info.Mode().IsRegular() {
		s.printf("file does not exist")
		return false
	}

	s.uploadGen++
	s.streaming = false
	s.finalSent = false
	s.blocksSent = 0
	s.blocksAcked = 0
	s.pendingWrite = name
	return s.request(Writing, name, &packets.WriteRequest{Filename: name})
}

// abandonDownload closes and removes a partially downloaded file. Must be
// called with mu held.
func (s *Session) abandonDownload() {
	if s.file == nil {
		return
	}
	_ = s.file.Close()
	if err := os.Remove(s.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("error removing %s: %v", s.file.Name(), err)
	}
	s.file = nil
}

// HandlePacket processes one packet received from the server.
func (s *Session) HandlePacket(pkt packets.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch pkt := pkt.(type) {
	case *packets.Data:
		s.handleData(pkt)
	case *packets.Ack:
		s.handleAck(pkt)
	case *packets.Broadcast:
		s.handleBroadcast(pkt)
	case *packets.Error:
		s.handleError(pkt)
	default:
		s.logger.Debugf("ignoring unexpected %v packet", pkt.Type())
	}
}

func (s *Session) handleData(pkt *packets.Data) {
	if s.mode != Reading && s.mode != Listing {
		s.logger.Debugf("ignoring data block %d while %v", pkt.Block, s.mode)
		return
	}

	if len(pkt.Payload) > packets.MaxPayloadSize || pkt.Block != s.lastBlock+1 {
		s.logger.Debugf("abandoning %v: unexpected block %d (%d bytes)", s.mode, pkt.Block, len(pkt.Payload))
		if s.mode == Reading {
			s.abandonDownload()
		}
		s.mode = Idle
		s.release()
		return
	}

	switch s.mode {
	case Reading:
		if _, err := s.file.Write(pkt.Payload); err != nil {
			s.printf("Error writing %s: %v", s.filename, err)
			s.abandonDownload()
			s.mode = Idle
			s.release()
			return
		}
		s.received += int64(len(pkt.Payload))
	case Listing:
		names, rest := corebytes.SplitNullTerminated(append(s.partialName, pkt.Payload...))
		for _, name := range names {
			s.printf("%s", name)
		}
		s.partialName = rest
	}
	s.lastBlock = pkt.Block

	if err := s.conn.Send(&packets.Ack{Block: pkt.Block}); err != nil {
		s.logger.Warnf("error acknowledging block %d: %v", pkt.Block, err)
	}

	if !pkt.Final() {
		return
	}

	switch s.mode {
	case Reading:
		if err := s.file.Close(); err != nil {
			s.printf("Error writing %s: %v", s.filename, err)
		}
		s.file = nil
		s.printf("RRQ %s complete", s.filename)
		s.logger.Debugf("downloaded %s (%s)", s.filename, humanize.Bytes(uint64(s.received)))
	case Listing:
		if len(s.partialName) > 0 {
			s.printf("%s", s.partialName)
			s.partialName = nil
		}
	}
	s.mode = Idle
	s.release()
}

func (s *Session) handleAck(pkt *packets.Ack) {
	s.printf("ACK %d", pkt.Block)

	switch s.mode {
	case LoggingIn:
		s.loggedIn = true
	case Deleting:
	case Disconnecting:
		s.loggedIn = false
		s.mode = Idle
		s.release()
		s.end()
		return
	case Writing:
		if !s.streaming {
			s.streaming = true
			s.uploads.Add(1)
			go s.upload(s.filename, s.uploadGen)
			return
		}
		s.blocksAcked++
		if !s.finalSent || s.blocksAcked < s.blocksSent {
			return
		}
	default:
		return
	}

	s.mode = Idle
	s.release()
}

// upload streams the local file to the server without waiting for
// acknowledgements. Runs on its own goroutine so that the socket reader keeps
// draining acks while blocks are being written. It stops before the next block
// once gen is no longer the current upload.
func (s *Session) upload(name string, gen uint64) {
	defer s.uploads.Done()

	f, err := os.Open(s.localPath(name))
	if err != nil {
		s.failUpload(gen, fmt.Errorf("opening %s: %w", name, err))
		return
	}
	defer f.Close()

	total, err := packets.Split(f, func(d *packets.Data) error {
		s.mu.Lock()
		if s.uploadGen != gen {
			s.mu.Unlock()
			return errUploadCancelled
		}
		s.blocksSent++
		if d.Final() {
			s.finalSent = true
		}
		s.mu.Unlock()
		return s.conn.Send(d)
	})
	if errors.Is(err, errUploadCancelled) {
		s.logger.Debugf("stopped sending %s", name)
		return
	} else if err != nil {
		s.failUpload(gen, err)
		return
	}
	s.logger.Debugf("sent %s (%s)", name, humanize.Bytes(uint64(total)))
}

func (s *Session) failUpload(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadGen != gen {
		return
	}
	s.uploadGen++
	s.printf("Error uploading %s: %v", s.filename, err)
	s.pendingWrite = ""
	s.mode = Idle
	s.release()
}

func (s *Session) handleBroadcast(pkt *packets.Broadcast) {
	if pkt.Operation == packets.BroadcastAdded && s.pendingWrite != "" && pkt.Filename == s.pendingWrite {
		s.printf("WRQ %s complete", s.pendingWrite)
		s.pendingWrite = ""
	}
	s.printf("BCAST %s %s", pkt.Operation, pkt.Filename)
}

func (s *Session) handleError(pkt *packets.Error) {
	s.printf("ERROR %d %s", pkt.Code, pkt.Message)

	switch s.mode {
	case Reading:
		s.abandonDownload()
	case Writing:
		s.uploadGen++
		s.pendingWrite = ""
	case Disconnecting:
		s.loggedIn = false
		s.end()
	}
	s.mode = Idle
	s.release()
}
