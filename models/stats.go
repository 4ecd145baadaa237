package models

import (
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/kit/errors"
)

func appendMapHeader(dst []byte, sz uint32) []byte { return msgp.AppendMapHeader(dst, sz) }
func readMapHeader(b []byte) (uint32, []byte, error) {
	sz, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return 0, b, errors.Wrap(err, errors.EStorage, "models.readMapHeader")
	}
	return sz, rest, nil
}

// appendFieldKey encodes a (name, type) map key as a two-element array.
func appendFieldKey(dst []byte, name, typ string) []byte {
	dst = msgp.AppendArrayHeader(dst, 2)
	dst = msgp.AppendString(dst, name)
	return msgp.AppendString(dst, typ)
}

func readFieldKey(b []byte) (name, typ string, rest []byte, err error) {
	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || sz != 2 {
		return "", "", b, errors.New(errors.EStorage, "malformed field key")
	}
	if name, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return "", "", b, errors.Wrap(err, errors.EStorage, "models.readFieldKey")
	}
	if typ, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return "", "", b, errors.Wrap(err, errors.EStorage, "models.readFieldKey")
	}
	return name, typ, rest, nil
}

// TermStats is the per-term metadata of a segment.
type TermStats struct {
	NDocs int64 // number of events containing the term
	Freq  int64 // total occurrences
}

// Encode returns the msgpack form.
func (s TermStats) Encode() []byte {
	dst := msgp.AppendArrayHeader(nil, 2)
	dst = msgp.AppendInt64(dst, s.NDocs)
	return msgp.AppendInt64(dst, s.Freq)
}

// DecodeTermStats parses the msgpack form.
func DecodeTermStats(b []byte) (TermStats, error) {
	var s TermStats
	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || sz != 2 {
		return s, errors.New(errors.EStorage, "malformed term stats")
	}
	if s.NDocs, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return s, errors.Wrap(err, errors.EStorage, "models.DecodeTermStats")
	}
	if s.Freq, _, err = msgp.ReadInt64Bytes(rest); err != nil {
		return s, errors.Wrap(err, errors.EStorage, "models.DecodeTermStats")
	}
	return s, nil
}

// FieldStats is the per-field metadata of a segment.
type FieldStats struct {
	DocCount int64 // events carrying the field
	Length   int64 // sum of term counts across events
	MaxFreq  int64 // largest single-term frequency observed
}

// Encode returns the msgpack form.
func (s FieldStats) Encode() []byte {
	dst := msgp.AppendArrayHeader(nil, 3)
	dst = msgp.AppendInt64(dst, s.DocCount)
	dst = msgp.AppendInt64(dst, s.Length)
	return msgp.AppendInt64(dst, s.MaxFreq)
}

// DecodeFieldStats parses the msgpack form.
func DecodeFieldStats(b []byte) (FieldStats, error) {
	var s FieldStats
	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || sz != 3 {
		return s, errors.New(errors.EStorage, "malformed field stats")
	}
	if s.DocCount, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return s, errors.Wrap(err, errors.EStorage, "models.DecodeFieldStats")
	}
	if s.Length, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return s, errors.Wrap(err, errors.EStorage, "models.DecodeFieldStats")
	}
	if s.MaxFreq, _, err = msgp.ReadInt64Bytes(rest); err != nil {
		return s, errors.Wrap(err, errors.EStorage, "models.DecodeFieldStats")
	}
	return s, nil
}

// LastUpdate is the rolling segment summary kept under the segment metadata.
type LastUpdate struct {
	Size         int64
	LastID       evid.EVID
	LastModified time.Time
}

// Encode returns the msgpack form.
func (u LastUpdate) Encode() []byte {
	dst := msgp.AppendArrayHeader(nil, 3)
	dst = msgp.AppendInt64(dst, u.Size)
	dst = msgp.AppendString(dst, u.LastID.String())
	return msgp.AppendInt64(dst, u.LastModified.UTC().Unix())
}

// DecodeLastUpdate parses the msgpack form.
func DecodeLastUpdate(b []byte) (LastUpdate, error) {
	var u LastUpdate
	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil || sz != 3 {
		return u, errors.New(errors.EStorage, "malformed last-update record")
	}
	if u.Size, rest, err = msgp.ReadInt64Bytes(rest); err != nil {
		return u, errors.Wrap(err, errors.EStorage, "models.DecodeLastUpdate")
	}
	var id string
	if id, rest, err = msgp.ReadStringBytes(rest); err != nil {
		return u, errors.Wrap(err, errors.EStorage, "models.DecodeLastUpdate")
	}
	if u.LastID, err = evid.Parse(id); err != nil {
		return u, err
	}
	var unix int64
	if unix, _, err = msgp.ReadInt64Bytes(rest); err != nil {
		return u, errors.Wrap(err, errors.EStorage, "models.DecodeLastUpdate")
	}
	u.LastModified = time.Unix(unix, 0).UTC()
	return u, nil
}

// Posting metadata helpers. Text postings carry the ascending positions of
// the term inside the document; identity postings carry a single position.
func TextPostingMeta(positions []int64) Value {
	items := make([]Value, len(positions))
	for i, p := range positions {
		items[i] = Int(p)
	}
	v, _ := Map(MapEntry{Key: Text("positions"), Val: List(items...)})
	return v
}

// IdentityPostingMeta is the metadata of a single-term field posting.
func IdentityPostingMeta() Value {
	v, _ := Map(MapEntry{Key: Text("position"), Val: Int(0)})
	return v
}

// Positions extracts the occurrence positions from posting metadata, or nil.
func Positions(meta Value) []int64 {
	if meta.Kind() != KindMap {
		return nil
	}
	if list, ok := meta.MapGet("positions"); ok && list.Kind() == KindList {
		out := make([]int64, 0, len(list.Items()))
		for _, item := range list.Items() {
			if item.Kind() == KindInt {
				out = append(out, item.IntVal())
			}
		}
		return out
	}
	if p, ok := meta.MapGet("position"); ok && p.Kind() == KindInt {
		return []int64{p.IntVal()}
	}
	return nil
}

// EncodePostingMeta returns the stored form of posting metadata.
func EncodePostingMeta(v Value) []byte { return AppendValue(nil, v) }

// DecodePostingMeta parses the stored form.
func DecodePostingMeta(b []byte) (Value, error) {
	if len(b) == 0 {
		return Null(), nil
	}
	v, _, err := ReadValue(b)
	return v, err
}
