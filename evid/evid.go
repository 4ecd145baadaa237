// Package evid implements the 96-bit time-ordered event identifier and the
// process-local generator that allocates them.
package evid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/logsift/logsift/kit/errors"
)

// EVID identifies a single event. It is composed of a 32-bit UTC seconds
// timestamp and a 64-bit offset within that logical stream. Ordering is
// lexicographic on (TS, Offset).
type EVID struct {
	TS     uint32
	Offset uint64
}

// Min and Max bound the EVID space.
var (
	Min = EVID{}
	Max = EVID{TS: 1<<32 - 1, Offset: 1<<64 - 1}
)

// FromTime returns the EVID at the given wall-clock second and offset.
func FromTime(t time.Time, offset uint64) EVID {
	return EVID{TS: uint32(t.UTC().Unix()), Offset: offset}
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func Compare(a, b EVID) int {
	switch {
	case a.TS < b.TS:
		return -1
	case a.TS > b.TS:
		return 1
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

// Less reports whether id sorts before other.
func (id EVID) Less(other EVID) bool { return Compare(id, other) < 0 }

// IsZero reports whether id is the minimum EVID.
func (id EVID) IsZero() bool { return id == Min }

// Time returns the timestamp second of the identifier.
func (id EVID) Time() time.Time { return time.Unix(int64(id.TS), 0).UTC() }

// Bytes returns the canonical big-endian u32||u64 form.
func (id EVID) Bytes() []byte {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], id.TS)
	binary.BigEndian.PutUint64(b[4:12], id.Offset)
	return b[:]
}

// FromBytes decodes the canonical 12-byte form.
func FromBytes(b []byte) (EVID, error) {
	if len(b) != 12 {
		return EVID{}, errors.New(errors.EValidate, "event id must be 12 bytes, got %d", len(b))
	}
	return EVID{
		TS:     binary.BigEndian.Uint32(b[0:4]),
		Offset: binary.BigEndian.Uint64(b[4:12]),
	}, nil
}

// String returns the canonical 24 lowercase hex digits.
func (id EVID) String() string { return hex.EncodeToString(id.Bytes()) }

// Parse decodes the canonical 24-hex-digit string form.
func Parse(s string) (EVID, error) {
	if len(s) != 24 {
		return EVID{}, errors.New(errors.EValidate, "event id must be 24 hex digits, got %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EVID{}, errors.New(errors.EValidate, "event id is not hex: %q", s)
	}
	return FromBytes(b)
}

// Next returns the successor identifier, saturating at Max.
func (id EVID) Next() EVID {
	if id == Max {
		return id
	}
	if id.Offset == 1<<64-1 {
		return EVID{TS: id.TS + 1}
	}
	return EVID{TS: id.TS, Offset: id.Offset + 1}
}

// Prev returns the predecessor identifier, saturating at Min.
func (id EVID) Prev() EVID {
	if id == Min {
		return id
	}
	if id.Offset == 0 {
		return EVID{TS: id.TS - 1, Offset: 1<<64 - 1}
	}
	return EVID{TS: id.TS, Offset: id.Offset - 1}
}

// GoString makes test failures readable.
func (id EVID) GoString() string {
	return fmt.Sprintf("evid(%d,%d)", id.TS, id.Offset)
}
