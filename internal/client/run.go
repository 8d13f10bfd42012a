package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/dcrodman/tftp/internal/packets"
)

// Run drives the session with two goroutines: one reading console lines from
// in and one reading packets from conn. A command that sends a request blocks
// the console until the response arrives. Returns once the session ends, in
// is exhausted or ctx is cancelled.
func Run(ctx context.Context, s *Session, conn io.Reader, in io.Reader) error {
	go s.readPackets(conn)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.end()
			return ctx.Err()
		case <-s.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.end()
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !s.HandleCommand(line) {
				continue
			}

			select {
			case <-s.Responses():
			case <-s.Done():
				return nil
			case <-ctx.Done():
				s.end()
				return ctx.Err()
			}
		}
	}
}

// readPackets feeds bytes from the server through a Decoder until the
// connection closes.
func (s *Session) readPackets(conn io.Reader) {
	reader := bufio.NewReader(conn)
	decoder := packets.NewDecoder()

	for {
		b, err := reader.ReadByte()
		if err != nil {
			s.ConnectionLost(err)
			return
		}

		frame := decoder.Feed(b)
		if frame == nil {
			continue
		}

		pkt, err := packets.Parse(frame)
		if err != nil {
			if !errors.Is(err, packets.ErrMalformed) {
				s.logger.Warnf("error parsing packet: %v", err)
			} else {
				s.logger.Debugf("dropping malformed packet: %v", err)
			}
			continue
		}
		s.HandlePacket(pkt)
	}
}
