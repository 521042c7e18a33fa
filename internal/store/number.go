package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const tokenNumberPad = 3

var ErrBadTokenNumber = errors.New("malformed token number")

// FormatTokenNumber renders an allocated sequence value as the human-readable
// number printed on the customer's slip, e.g. ("A", 7) -> "A-007". Pure formatting;
// it runs outside the allocator's atomic statement.
func FormatTokenNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, tokenNumberPad, seq)
}

// ParseTokenNumber splits a formatted number back into (prefix, sequence).
func ParseTokenNumber(number string) (string, int64, error) {
	idx := strings.LastIndex(number, "-")
	if idx <= 0 || idx == len(number)-1 {
		return "", 0, ErrBadTokenNumber
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil || seq <= 0 {
		return "", 0, ErrBadTokenNumber
	}
	return number[:idx], seq, nil
}
