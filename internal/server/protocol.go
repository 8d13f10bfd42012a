package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	corebytes "github.com/dcrodman/tftp/internal/core/bytes"
	"github.com/dcrodman/tftp/internal/core/data"
	"github.com/dcrodman/tftp/internal/core/metrics"
	"github.com/dcrodman/tftp/internal/packets"
	"github.com/dcrodman/tftp/internal/session"
	"github.com/dcrodman/tftp/internal/storage"
)

// upload tracks a file being received from the client.
type upload struct {
	filename string
	file     *os.File
	// Last block written to file; the next Data packet must carry lastBlock+1.
	lastBlock uint16
	bytes     int64
}

// Protocol is the request state machine for a single connection. It is not
// safe for concurrent use; the connection's read loop is its only caller.
type Protocol struct {
	id      int64
	sender  session.Sender
	store   *storage.Store
	state   *session.State
	metrics *metrics.Metrics
	db      *gorm.DB
	logger  *logrus.Entry

	maxBytesPerSecond int64

	username string
	loggedIn bool
	// Set once a login has been refused because the name belongs to another
	// connection. Nothing else is processed afterwards.
	terminate bool

	receiving *upload
	// Last block the client acknowledged during the current server stream.
	lastAcked uint16
}

// LoggedIn reports whether the connection has a username registered.
func (p *Protocol) LoggedIn() bool { return p.loggedIn }

// ShouldTerminate reports whether the connection must be closed.
func (p *Protocol) ShouldTerminate() bool { return p.terminate }

// HandleFrame parses a frame produced by a packets.Decoder and handles it.
func (p *Protocol) HandleFrame(ctx context.Context, frame []byte) error {
	if p.terminate {
		return nil
	}

	pkt, err := packets.Parse(frame)
	if err != nil {
		p.logger.Warnf("dropping malformed %v packet: %v", packets.OpcodeOf(frame), err)
		return p.sendError(packets.ErrIllegalOperation)
	}
	return p.Handle(ctx, pkt)
}

// Handle advances the state machine with one packet. Protocol failures are
// reported to the peer as Error packets; the returned error is only non-nil
// when sending to the peer failed.
func (p *Protocol) Handle(ctx context.Context, pkt packets.Packet) error {
	if p.terminate {
		return nil
	}
	p.metrics.RecordPacketReceived(pkt.Type())

	switch pkt := pkt.(type) {
	case *packets.LoginRequest:
		return p.handleLogin(pkt)
	case *packets.WriteRequest:
		return p.handleWriteRequest(pkt)
	case *packets.Data:
		return p.handleData(pkt)
	case *packets.ReadRequest:
		return p.handleReadRequest(ctx, pkt)
	case *packets.DeleteRequest:
		return p.handleDeleteRequest(pkt)
	case *packets.DirectoryListingRequest:
		return p.handleDirectoryListing()
	case *packets.Disconnect:
		return p.handleDisconnect()
	case *packets.Ack:
		return p.handleAck(pkt)
	case *packets.Error:
		p.logger.Infof("client reported error %d: %s", pkt.Code, pkt.Message)
		return nil
	default:
		p.logger.Infof("received unexpected %v packet", pkt.Type())
		return p.sendError(packets.ErrIllegalOperation)
	}
}

// Close releases everything the connection holds in the shared state. An
// upload still in progress is discarded.
func (p *Protocol) Close() {
	if p.receiving != nil {
		p.abortUpload()
	}
	if p.loggedIn {
		p.loggedIn = false
		p.metrics.RecordLogout()
	}
	p.state.Disconnect(p.id)
}

func (p *Protocol) send(pkt packets.Packet) error {
	p.metrics.RecordPacketSent(pkt)
	return p.sender.Send(pkt)
}

func (p *Protocol) sendAck(block uint16) error {
	return p.send(&packets.Ack{Block: block})
}

func (p *Protocol) sendError(code packets.ErrorCode) error {
	return p.send(packets.NewError(code))
}

func (p *Protocol) sendErrorDetail(code packets.ErrorCode, err error) error {
	return p.send(packets.NewErrorDetail(code, err.Error()))
}

func (p *Protocol) handleLogin(pkt *packets.LoginRequest) error {
	if p.loggedIn {
		return p.sendError(packets.ErrAlreadyLoggedIn)
	}
	if strings.TrimSpace(pkt.Username) == "" || strings.ContainsAny(pkt.Username, "\x00\n") {
		return p.send(packets.NewErrorDetail(packets.ErrNotDefined, "invalid username"))
	}

	if !p.state.Logins.Login(p.id, pkt.Username) {
		p.logger.Infof("rejected login for %s: username in use", pkt.Username)
		p.terminate = true
		return p.sendError(packets.ErrAlreadyLoggedIn)
	}

	p.loggedIn = true
	p.username = session.NormalizeUsername(pkt.Username)
	p.logger = p.logger.WithField("username", p.username)
	p.metrics.RecordLogin()
	p.logger.Info("logged in")

	return p.sendAck(0)
}

func (p *Protocol) handleWriteRequest(pkt *packets.WriteRequest) error {
	if !p.loggedIn {
		return p.sendError(packets.ErrNotLoggedIn)
	}
	if p.receiving != nil {
		return p.send(packets.NewErrorDetail(packets.ErrIllegalOperation, "upload already in progress"))
	}
	if err := storage.ValidateName(pkt.Filename); err != nil {
		return p.sendErrorDetail(packets.ErrNotDefined, err)
	}

	// Held until the final block arrives or the upload is abandoned.
	if !p.state.Locks.TryLock(pkt.Filename) {
		return p.sendError(packets.ErrFileExists)
	}

	f, err := p.store.Create(pkt.Filename)
	if err != nil {
		p.state.Locks.Unlock(pkt.Filename)
		if errors.Is(err, storage.ErrExists) {
			return p.sendError(packets.ErrFileExists)
		}
		p.logger.Errorf("error creating %s: %v", pkt.Filename, err)
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}

	p.receiving = &upload{filename: pkt.Filename, file: f}
	p.logger.Infof("receiving %s", pkt.Filename)
	return p.sendAck(0)
}

func (p *Protocol) handleData(pkt *packets.Data) error {
	u := p.receiving
	if u == nil {
		return p.send(packets.NewErrorDetail(packets.ErrIllegalOperation, "no upload in progress"))
	}
	if len(pkt.Payload) > packets.MaxPayloadSize {
		return p.sendError(packets.ErrDiskFull)
	}
	if pkt.Block != u.lastBlock+1 {
		p.logger.Warnf("expected block %d of %s, got %d", u.lastBlock+1, u.filename, pkt.Block)
		return p.sendError(packets.ErrIllegalOperation)
	}

	if _, err := u.file.Write(pkt.Payload); err != nil {
		p.logger.Errorf("error writing %s: %v", u.filename, err)
		p.abortUpload()
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}
	u.lastBlock = pkt.Block
	u.bytes += int64(len(pkt.Payload))

	if !pkt.Final() {
		return p.sendAck(pkt.Block)
	}

	if err := u.file.Close(); err != nil {
		p.logger.Errorf("error closing %s: %v", u.filename, err)
		u.file = nil
		p.abortUpload()
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}
	p.receiving = nil
	p.state.Locks.Unlock(u.filename)

	p.logger.Infof("received %s (%d bytes)", u.filename, u.bytes)
	p.metrics.RecordUpload(u.bytes)
	p.recordTransfer(u.filename, data.OperationUpload, u.bytes)

	if err := p.sendAck(pkt.Block); err != nil {
		return err
	}
	p.broadcast(packets.BroadcastAdded, u.filename)
	return nil
}

// abortUpload discards the in-progress upload and its partial file.
func (p *Protocol) abortUpload() {
	u := p.receiving
	p.receiving = nil

	if u.file != nil {
		_ = u.file.Close()
	}
	if err := p.store.Remove(u.filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warnf("error removing partial upload %s: %v", u.filename, err)
	}
	p.state.Locks.Unlock(u.filename)
	p.logger.Infof("abandoned upload of %s after %d blocks", u.filename, u.lastBlock)
}

func (p *Protocol) handleReadRequest(ctx context.Context, pkt *packets.ReadRequest) error {
	if !p.loggedIn {
		return p.sendError(packets.ErrNotLoggedIn)
	}
	if err := storage.ValidateName(pkt.Filename); err != nil {
		return p.sendErrorDetail(packets.ErrNotDefined, err)
	}

	f, err := p.store.Open(pkt.Filename)
	if errors.Is(err, storage.ErrNotFound) {
		return p.sendError(packets.ErrFileNotFound)
	} else if err != nil {
		p.logger.Errorf("error opening %s: %v", pkt.Filename, err)
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}
	defer f.Close()

	total, err := p.stream(storage.Throttle(ctx, f, p.maxBytesPerSecond))
	if err != nil {
		return err
	}

	p.logger.Infof("sent %s (%d bytes)", pkt.Filename, total)
	p.metrics.RecordDownload(total)
	p.recordTransfer(pkt.Filename, data.OperationDownload, total)
	return nil
}

// stream sends r to the client as a sequence of Data blocks without waiting
// for acknowledgements. A read failure part way through is reported to the
// client as an access violation; only a failure to send is returned.
func (p *Protocol) stream(r io.Reader) (int64, error) {
	p.lastAcked = 0

	var sendErr error
	total, err := packets.Split(r, func(d *packets.Data) error {
		sendErr = p.send(d)
		return sendErr
	})
	if sendErr != nil {
		return total, sendErr
	}
	if err != nil {
		p.logger.Errorf("error reading stream: %v", err)
		return total, p.sendErrorDetail(packets.ErrAccessViolation, err)
	}
	return total, nil
}

func (p *Protocol) handleDeleteRequest(pkt *packets.DeleteRequest) error {
	if !p.loggedIn {
		return p.sendError(packets.ErrNotLoggedIn)
	}
	if err := storage.ValidateName(pkt.Filename); err != nil {
		return p.sendErrorDetail(packets.ErrNotDefined, err)
	}

	// A file that is still being uploaded can't be removed.
	if !p.state.Locks.TryLock(pkt.Filename) {
		return p.send(packets.NewErrorDetail(packets.ErrAccessViolation, "file is being written"))
	}
	err := p.store.Remove(pkt.Filename)
	p.state.Locks.Unlock(pkt.Filename)

	if errors.Is(err, storage.ErrNotFound) {
		return p.sendError(packets.ErrFileNotFound)
	} else if err != nil {
		p.logger.Errorf("error deleting %s: %v", pkt.Filename, err)
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}

	p.logger.Infof("deleted %s", pkt.Filename)
	p.recordTransfer(pkt.Filename, data.OperationDelete, 0)

	if err := p.sendAck(0); err != nil {
		return err
	}
	p.broadcast(packets.BroadcastDeleted, pkt.Filename)
	return nil
}

func (p *Protocol) handleDirectoryListing() error {
	if !p.loggedIn {
		return p.sendError(packets.ErrNotLoggedIn)
	}

	names, err := p.store.List()
	if err != nil {
		p.logger.Errorf("error listing storage: %v", err)
		return p.sendErrorDetail(packets.ErrAccessViolation, err)
	}

	var listing bytes.Buffer
	for _, name := range names {
		listing.Write(corebytes.NullTerminated(name))
	}
	_, err = p.stream(&listing)
	return err
}

func (p *Protocol) handleDisconnect() error {
	if !p.loggedIn {
		return p.sendError(packets.ErrNotLoggedIn)
	}
	if p.receiving != nil {
		p.abortUpload()
	}

	p.state.Logins.Logout(p.id)
	p.loggedIn = false
	p.metrics.RecordLogout()
	p.logger.Info("logged out")

	return p.sendAck(0)
}

func (p *Protocol) handleAck(pkt *packets.Ack) error {
	if pkt.Block != p.lastAcked+1 {
		return p.sendError(packets.ErrIllegalOperation)
	}
	p.lastAcked = pkt.Block
	return nil
}

// broadcast notifies every logged in connection, this one included.
func (p *Protocol) broadcast(op packets.BroadcastOperation, filename string) {
	recipients := p.state.Logins.Connections()
	delivered := p.state.Registry.Broadcast(recipients, &packets.Broadcast{Operation: op, Filename: filename})
	p.metrics.RecordBroadcast(op)

	if delivered < len(recipients) {
		p.logger.Warnf("broadcast %s %s reached %d of %d connections", op, filename, delivered, len(recipients))
	}
}

func (p *Protocol) recordTransfer(filename, operation string, size int64) {
	if p.db == nil {
		return
	}
	err := data.RecordTransfer(p.db, &data.TransferRecord{
		Username:  p.username,
		Filename:  filename,
		Operation: operation,
		Bytes:     size,
	})
	if err != nil {
		p.logger.Warnf("error recording %s of %s: %v", operation, filename, err)
	}
}
