package packets

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantSizes  []int
		wantBlocks []uint16
	}{
		{name: "empty content", size: 0, wantSizes: []int{0}, wantBlocks: []uint16{1}},
		{name: "single short block", size: 10, wantSizes: []int{10}, wantBlocks: []uint16{1}},
		{name: "1300 bytes", size: 1300, wantSizes: []int{512, 512, 276}, wantBlocks: []uint16{1, 2, 3}},
		{name: "exact multiple", size: 1024, wantSizes: []int{512, 512, 0}, wantBlocks: []uint16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := bytes.Repeat([]byte{0xAB}, tt.size)

			var sizes []int
			var blocks []uint16
			var reassembled []byte
			total, err := Split(bytes.NewReader(content), func(d *Data) error {
				sizes = append(sizes, len(d.Payload))
				blocks = append(blocks, d.Block)
				reassembled = append(reassembled, d.Payload...)
				return nil
			})
			if err != nil {
				t.Fatalf("Split() returned an unexpected error: %v", err)
			}
			if total != int64(tt.size) {
				t.Errorf("Split() total = %d, want %d", total, tt.size)
			}
			if diff := cmp.Diff(tt.wantSizes, sizes); diff != "" {
				t.Errorf("unexpected block sizes; diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantBlocks, blocks); diff != "" {
				t.Errorf("unexpected block numbers; diff:\n%s", diff)
			}
			if !bytes.Equal(content, reassembled) {
				t.Error("reassembled content does not match the source")
			}
		})
	}
}

func TestSplit_EmitError(t *testing.T) {
	sendErr := errors.New("connection reset")
	calls := 0
	_, err := Split(bytes.NewReader(make([]byte, 2000)), func(d *Data) error {
		calls++
		return sendErr
	})
	if !errors.Is(err, sendErr) {
		t.Errorf("expected emit error to be returned, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected Split() to stop after the first failure, got %d calls", calls)
	}
}
