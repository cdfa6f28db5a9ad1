package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Timestamp is the subgraph event ordering key: a 20-digit zero-padded block
// number, a dash, and a 20-digit zero-padded log index. Lexicographic order
// equals emission order.
type Timestamp string

const (
	// MinTimestamp sorts before every real event.
	MinTimestamp Timestamp = "00000000000000000000-00000000000000000000"
	// MaxTimestamp sorts after every real event.
	MaxTimestamp Timestamp = "99999999999999999999-99999999999999999999"

	timestampPartLen = 20
)

// NewTimestamp formats a block number and log index into a Timestamp.
func NewTimestamp(block, logIndex uint64) Timestamp {
	return Timestamp(fmt.Sprintf("%020d-%020d", block, logIndex))
}

// ParseTimestamp validates s and returns it as a Timestamp. An empty string
// parses to def.
func ParseTimestamp(s string, def Timestamp) (Timestamp, error) {
	if s == "" {
		return def, nil
	}
	ts := Timestamp(s)
	if !ts.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	return ts, nil
}

// Valid reports whether t has the exact block-logIndex shape.
func (t Timestamp) Valid() bool {
	block, idx, ok := strings.Cut(string(t), "-")
	if !ok || len(block) != timestampPartLen || len(idx) != timestampPartLen {
		return false
	}
	return allDigits(block) && allDigits(idx)
}

// Block returns the block number component. Zero is returned for timestamps
// whose block part does not fit in a uint64 (MaxTimestamp included).
func (t Timestamp) Block() uint64 {
	block, _, _ := strings.Cut(string(t), "-")
	n, _ := strconv.ParseUint(block, 10, 64)
	return n
}

// After reports whether t sorts strictly after o.
func (t Timestamp) After(o Timestamp) bool { return t > o }

// Before reports whether t sorts strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t < o }

func (t Timestamp) String() string { return string(t) }

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
