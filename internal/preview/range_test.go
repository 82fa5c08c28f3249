package preview

import (
	"testing"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantOK    bool
		wantErr   error
	}{
		{"empty header", "", 1000, 0, 0, false, nil},
		{"full range", "bytes=0-999", 1000, 0, 999, true, nil},
		{"open end", "bytes=500-", 1000, 500, 999, true, nil},
		{"suffix range", "bytes=-500", 1000, 500, 999, true, nil},
		{"single byte", "bytes=0-0", 1000, 0, 0, true, nil},
		{"beyond size clamped", "bytes=0-2000", 1000, 0, 999, true, nil},
		{"suffix larger than file", "bytes=-2000", 500, 0, 499, true, nil},
		{"multi range takes first", "bytes=0-99, 200-299", 1000, 0, 99, true, nil},

		{"unsatisfiable start", "bytes=1000-", 1000, 0, 0, false, ErrUnsatisfiable},
		{"start after end", "bytes=500-100", 1000, 0, 0, false, ErrUnsatisfiable},
		{"wrong unit", "chars=0-100", 1000, 0, 0, false, ErrInvalidRange},
		{"no dash", "bytes=100", 1000, 0, 0, false, ErrInvalidRange},
		{"invalid start", "bytes=abc-100", 1000, 0, 0, false, ErrInvalidRange},
		{"invalid end", "bytes=0-abc", 1000, 0, 0, false, ErrInvalidRange},
		{"zero suffix", "bytes=-0", 1000, 0, 0, false, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseRange(tt.header, tt.size)
			if err != tt.wantErr {
				t.Fatalf("parseRange() error = %v, want %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("parseRange() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.start != tt.wantStart || got.end != tt.wantEnd) {
				t.Errorf("parseRange() = {%d, %d}, want {%d, %d}", got.start, got.end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestByteRange_Headers(t *testing.T) {
	r := byteRange{start: 500, end: 999}
	if r.length() != 500 {
		t.Errorf("length() = %d, want 500", r.length())
	}
	if got := r.header(1000); got != "bytes 500-999/1000" {
		t.Errorf("header() = %q", got)
	}
}
