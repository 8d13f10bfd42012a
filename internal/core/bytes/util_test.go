package bytes

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNullTerminated(t *testing.T) {
	tests := []struct {
		name string
		str  string
		want []byte
	}{
		{
			name: "empty string",
			str:  "",
			want: []byte{0},
		},
		{
			name: "arbitrary text",
			str:  "notes.txt",
			want: []byte{'n', 'o', 't', 'e', 's', '.', 't', 'x', 't', 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NullTerminated(tt.str); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NullTerminated() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitNullTerminated(t *testing.T) {
	tests := []struct {
		name      string
		b         []byte
		wantNames []string
		wantRest  []byte
	}{
		{
			name:     "empty input",
			b:        []byte{},
			wantRest: []byte{},
		},
		{
			name:      "complete names",
			b:         []byte("a.txt\x00b.bin\x00"),
			wantNames: []string{"a.txt", "b.bin"},
			wantRest:  []byte{},
		},
		{
			name:      "name split across chunks",
			b:         []byte("a.txt\x00lon"),
			wantNames: []string{"a.txt"},
			wantRest:  []byte("lon"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, rest := SplitNullTerminated(tt.b)
			if diff := cmp.Diff(tt.wantNames, names); diff != "" {
				t.Errorf("SplitNullTerminated() names mismatch; diff:\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRest, rest); diff != "" {
				t.Errorf("SplitNullTerminated() rest mismatch; diff:\n%s", diff)
			}
		})
	}
}

func TestUint16RoundTrip(t *testing.T) {
	b := PutUint16(nil, 0x1234)
	if diff := cmp.Diff([]byte{0x12, 0x34}, b); diff != "" {
		t.Fatalf("PutUint16() did not write big endian; diff:\n%s", diff)
	}
	if got := Uint16(b); got != 0x1234 {
		t.Errorf("Uint16() = %#x, want 0x1234", got)
	}
}
