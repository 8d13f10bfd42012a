package packets

import (
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
)

// feedAll pushes data through d and returns every frame it produced.
func feedAll(d *Decoder, data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if frame := d.Feed(b); frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

func TestDecoder_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{name: "read request", packet: &ReadRequest{Filename: "notes.txt"}},
		{name: "write request", packet: &WriteRequest{Filename: "upload.bin"}},
		{name: "login request", packet: &LoginRequest{Username: "alice"}},
		{name: "delete request", packet: &DeleteRequest{Filename: "old.log"}},
		{name: "empty data", packet: &Data{Block: 1, Payload: []byte{}}},
		{name: "data with zero bytes", packet: &Data{Block: 7, Payload: []byte{0, 0, 1, 0}}},
		{name: "full data", packet: &Data{Block: 2, Payload: []byte(strings.Repeat("x", MaxPayloadSize))}},
		{name: "ack zero", packet: &Ack{Block: 0}},
		{name: "ack", packet: &Ack{Block: 258}},
		{name: "error zero code", packet: NewError(ErrNotDefined)},
		{name: "error empty message", packet: &Error{Code: ErrFileNotFound}},
		{name: "directory listing request", packet: &DirectoryListingRequest{}},
		{name: "disconnect", packet: &Disconnect{}},
		{name: "broadcast delete", packet: &Broadcast{Operation: BroadcastDeleted, Filename: "gone.txt"}},
		{name: "broadcast add", packet: &Broadcast{Operation: BroadcastAdded, Filename: "new.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := tt.packet.Bytes()
			frames := feedAll(NewDecoder(), wire)
			if len(frames) != 1 {
				t.Fatalf("expected exactly one frame, got %d", len(frames))
			}
			if diff := cmp.Diff(wire, frames[0]); diff != "" {
				t.Fatalf("frame did not match wire bytes; diff:\n%s", diff)
			}

			parsed, err := Parse(frames[0])
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}
			if diff := deep.Equal(normalize(tt.packet), normalize(parsed)); diff != nil {
				t.Errorf("parsed packet did not match original: %v", diff)
			}
		})
	}
}

// normalize makes empty payloads comparable regardless of nil-ness.
func normalize(p Packet) Packet {
	if d, ok := p.(*Data); ok && len(d.Payload) == 0 {
		return &Data{Block: d.Block, Payload: []byte{}}
	}
	return p
}

func TestDecoder_ConsecutivePackets(t *testing.T) {
	stream := append((&LoginRequest{Username: "bob"}).Bytes(), (&Ack{Block: 0}).Bytes()...)
	stream = append(stream, (&Data{Block: 1, Payload: []byte("hi")}).Bytes()...)
	stream = append(stream, (&Disconnect{}).Bytes()...)

	frames := feedAll(NewDecoder(), stream)
	var types []Opcode
	for _, f := range frames {
		types = append(types, OpcodeOf(f))
	}

	want := []Opcode{LoginRequestType, AckType, DataType, DisconnectType}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("unexpected frame sequence; diff:\n%s", diff)
	}
}

func TestDecoder_UndefinedOpcodeNeverCompletes(t *testing.T) {
	d := NewDecoder()
	garbage := []byte{0x00, 0x2A, 0x00, 0x00, 0x04, 0x00}
	if frames := feedAll(d, garbage); len(frames) != 0 {
		t.Fatalf("expected no frames for unknown opcode, got %d", len(frames))
	}
	// A valid packet after an unknown opcode is swallowed by the held frame.
	if frames := feedAll(d, (&Ack{Block: 1}).Bytes()); len(frames) != 0 {
		t.Errorf("expected the decoder to keep holding, got %d frames", len(frames))
	}

	d.Reset()
	if frames := feedAll(d, (&Ack{Block: 3}).Bytes()); len(frames) != 1 {
		t.Errorf("expected decoder to recover after Reset(), got %d frames", len(frames))
	}
}

func TestDecoder_TerminatorGuards(t *testing.T) {
	t.Run("broadcast delete operation byte is not a terminator", func(t *testing.T) {
		d := NewDecoder()
		for i, b := range []byte{0x00, 0x09, 0x00} {
			if frame := d.Feed(b); frame != nil {
				t.Fatalf("frame emitted early at byte %d", i)
			}
		}
	})
	t.Run("error code bytes are not a terminator", func(t *testing.T) {
		d := NewDecoder()
		for i, b := range []byte{0x00, 0x05, 0x00, 0x00} {
			if frame := d.Feed(b); frame != nil {
				t.Fatalf("frame emitted early at byte %d", i)
			}
		}
		if frame := d.Feed(0x00); frame == nil {
			t.Fatal("expected error frame with empty message to complete")
		}
	})
	t.Run("request with empty name completes on terminator", func(t *testing.T) {
		frames := feedAll(NewDecoder(), []byte{0x00, 0x01, 0x00})
		if len(frames) != 1 {
			t.Fatalf("expected one frame, got %d", len(frames))
		}
	})
}

func TestDecoder_DataCompletesOnDeclaredLength(t *testing.T) {
	pkt := (&Data{Block: 1, Payload: []byte{1, 2, 3}}).Bytes()
	d := NewDecoder()
	for i, b := range pkt[:len(pkt)-1] {
		if frame := d.Feed(b); frame != nil {
			t.Fatalf("data frame emitted early at byte %d", i)
		}
	}
	if frame := d.Feed(pkt[len(pkt)-1]); frame == nil {
		t.Fatal("data frame did not complete at declared length")
	}
}

func TestData_Final(t *testing.T) {
	tests := []struct {
		size int
		want bool
	}{
		{size: 0, want: true},
		{size: 276, want: true},
		{size: MaxPayloadSize - 1, want: true},
		{size: MaxPayloadSize, want: false},
	}
	for _, tt := range tests {
		d := &Data{Block: 1, Payload: make([]byte, tt.size)}
		if got := d.Final(); got != tt.want {
			t.Errorf("Final() with %d byte payload = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"too short":             {0x00},
		"unknown opcode":        {0x00, 0x0B},
		"data length mismatch":  {0x00, 0x03, 0x00, 0x05, 0x00, 0x01, 0xAA},
		"ack wrong size":        {0x00, 0x04, 0x00},
		"request no terminator": {0x00, 0x01, 'a'},
		"disconnect with tail":  {0x00, 0x0A, 0x00},
	}
	for name, frame := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(frame); err == nil {
				t.Errorf("Parse(%v) expected an error", frame)
			}
		})
	}
}

func TestErrorCode_Message(t *testing.T) {
	if got := ErrFileExists.Message(); !strings.HasPrefix(got, "File already exists") {
		t.Errorf("unexpected message for ErrFileExists: %q", got)
	}
	if got := ErrorCode(42).Message(); got != "Unknown error." {
		t.Errorf("unexpected message for unknown code: %q", got)
	}
}
