package rooms

import (
	"fmt"
	"strconv"
	"strings"
)

// Serial is a parsed message identifier of the form
// <seriesId>@<timestampMillis>-<counter>[:<index>]. Serials order messages
// globally: series first, then timestamp, counter and index.
type Serial struct {
	SeriesID  string
	Timestamp int64
	Counter   int
	Index     int
}

// Ordering is the result of comparing two serials.
type Ordering int

const (
	Before Ordering = -1
	Same   Ordering = 0
	After  Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "same"
	}
}

// ParseSerial parses s. Every segment except the index is mandatory; a
// missing series, timestamp or counter fails with ErrMalformedSerial
// rather than defaulting.
func ParseSerial(s string) (Serial, error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return Serial{}, wrapError(ErrCodeBadSerial, "malformed serial", fmt.Errorf("%q: missing series or timestamp segment", s))
	}
	series := s[:at]
	rest := s[at+1:]

	tsStr, ctrStr, ok := strings.Cut(rest, "-")
	if !ok || tsStr == "" || ctrStr == "" {
		return Serial{}, wrapError(ErrCodeBadSerial, "malformed serial", fmt.Errorf("%q: missing counter segment", s))
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Serial{}, wrapError(ErrCodeBadSerial, "malformed serial", fmt.Errorf("%q: bad timestamp: %w", s, err))
	}

	idx := 0
	if ctrPart, idxPart, hasIdx := strings.Cut(ctrStr, ":"); hasIdx {
		ctrStr = ctrPart
		idx, err = strconv.Atoi(idxPart)
		if err != nil {
			return Serial{}, wrapError(ErrCodeBadSerial, "malformed serial", fmt.Errorf("%q: bad index: %w", s, err))
		}
	}

	ctr, err := strconv.Atoi(ctrStr)
	if err != nil {
		return Serial{}, wrapError(ErrCodeBadSerial, "malformed serial", fmt.Errorf("%q: bad counter: %w", s, err))
	}

	return Serial{SeriesID: series, Timestamp: ts, Counter: ctr, Index: idx}, nil
}

// Compare orders s against o field by field: series id as a string, then
// timestamp, counter and index as integers. An absent index parsed as the
// zero sentinel, so "a@1-1" and "a@1-1:0" compare Same.
func (s Serial) Compare(o Serial) Ordering {
	if c := strings.Compare(s.SeriesID, o.SeriesID); c != 0 {
		return Ordering(c)
	}
	if s.Timestamp != o.Timestamp {
		if s.Timestamp < o.Timestamp {
			return Before
		}
		return After
	}
	if s.Counter != o.Counter {
		if s.Counter < o.Counter {
			return Before
		}
		return After
	}
	if s.Index != o.Index {
		if s.Index < o.Index {
			return Before
		}
		return After
	}
	return Same
}

func (s Serial) String() string {
	if s.Index != 0 {
		return fmt.Sprintf("%s@%d-%d:%d", s.SeriesID, s.Timestamp, s.Counter, s.Index)
	}
	return fmt.Sprintf("%s@%d-%d", s.SeriesID, s.Timestamp, s.Counter)
}

// CompareSerials parses and compares two serial strings.
func CompareSerials(a, b string) (Ordering, error) {
	sa, err := ParseSerial(a)
	if err != nil {
		return Same, err
	}
	sb, err := ParseSerial(b)
	if err != nil {
		return Same, err
	}
	return sa.Compare(sb), nil
}
