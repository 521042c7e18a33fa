package store

import (
	"errors"
	"testing"
)

func TestFormatTokenNumber(t *testing.T) {
	cases := []struct {
		prefix string
		seq    int64
		want   string
	}{
		{"A", 1, "A-001"},
		{"A", 42, "A-042"},
		{"BPJS", 999, "BPJS-999"},
		{"B", 1000, "B-1000"},
	}
	for _, tt := range cases {
		if got := FormatTokenNumber(tt.prefix, tt.seq); got != tt.want {
			t.Fatalf("FormatTokenNumber(%q, %d)=%q, want %q", tt.prefix, tt.seq, got, tt.want)
		}
	}
}

func TestParseTokenNumber(t *testing.T) {
	prefix, seq, err := ParseTokenNumber("BPJS-042")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if prefix != "BPJS" || seq != 42 {
		t.Fatalf("got (%q, %d), want (BPJS, 42)", prefix, seq)
	}

	// Prefixes may contain dashes; the split is on the last one.
	prefix, seq, err = ParseTokenNumber("JIWA-SRAYA-007")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if prefix != "JIWA-SRAYA" || seq != 7 {
		t.Fatalf("got (%q, %d), want (JIWA-SRAYA, 7)", prefix, seq)
	}

	for _, bad := range []string{"", "A", "-007", "A-", "A-abc", "A-0"} {
		if _, _, err := ParseTokenNumber(bad); !errors.Is(err, ErrBadTokenNumber) {
			t.Fatalf("ParseTokenNumber(%q): expected ErrBadTokenNumber, got %v", bad, err)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	number := FormatTokenNumber("A", 7)
	prefix, seq, err := ParseTokenNumber(number)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if prefix != "A" || seq != 7 {
		t.Fatalf("round trip got (%q, %d)", prefix, seq)
	}
}
