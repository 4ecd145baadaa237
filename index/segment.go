package index

import (
	"time"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/models"
)

// Bucket layout of one index:
//
//	indexes/<name>/schema                 (name, type) -> nil
//	indexes/<name>/meta                   current segment pointer
//	indexes/<name>/segments/<id>/events   EVID bytes -> encoded fields
//	indexes/<name>/segments/<id>/terms    (name, type, term) -> term stats
//	indexes/<name>/segments/<id>/postings (name, type, term, ts, offset) -> posting meta
//	indexes/<name>/segments/<id>/fields   (name, type) -> field stats
//	indexes/<name>/segments/<id>/meta     created, last-update
var (
	bucketIndexes  = []byte("indexes")
	bucketSchema   = []byte("schema")
	bucketSegments = []byte("segments")
	bucketEvents   = []byte("events")
	bucketTerms    = []byte("terms")
	bucketPostings = []byte("postings")
	bucketFields   = []byte("fields")
	bucketMeta     = []byte("meta")

	metaCreated    = []byte("created")
	metaLastUpdate = []byte("last-update")
	metaCurrent    = []byte("current")
)

// Segment is a transaction-scoped handle on one storage segment.
type Segment struct {
	id int64
	b  *kv.Bucket
}

// openSegment binds a segment bucket inside the segments bucket, or nil if
// the segment does not exist in this snapshot.
func openSegment(segments *kv.Bucket, id int64) *Segment {
	if segments == nil {
		return nil
	}
	b := segments.SubBucket(kv.MustTuple(id))
	if b == nil {
		return nil
	}
	return &Segment{id: id, b: b}
}

// ID returns the segment's position in the index's segment sequence.
func (s *Segment) ID() int64 { return s.id }

// termKey builds the ordered key of a term record.
func termKey(name, typ string, term interface{}) ([]byte, error) {
	key, err := kv.EncodeTuple(name, typ, term)
	if err != nil {
		return nil, errors.Wrap(err, errors.EQueryExecution, "index.termKey")
	}
	return key, nil
}

// postingKey extends a term key with the event identifier atoms.
func postingKey(name, typ string, term interface{}, id evid.EVID) ([]byte, error) {
	key, err := termKey(name, typ, term)
	if err != nil {
		return nil, err
	}
	return appendIDAtoms(key, id), nil
}

func appendIDAtoms(key []byte, id evid.EVID) []byte {
	key, _ = kv.AppendAtom(key, uint64(id.TS))
	key, _ = kv.AppendAtom(key, id.Offset)
	return key
}

// decodePostingKey returns the event identifier encoded in a posting key.
func decodePostingKey(k []byte) (evid.EVID, error) {
	atoms, err := kv.DecodeTuple(k)
	if err != nil || len(atoms) < 5 {
		return evid.EVID{}, errors.New(errors.EStorage, "malformed posting key")
	}
	ts, ok := atomUint64(atoms[len(atoms)-2])
	if !ok {
		return evid.EVID{}, errors.New(errors.EStorage, "malformed posting key timestamp")
	}
	offset, ok := atomUint64(atoms[len(atoms)-1])
	if !ok {
		return evid.EVID{}, errors.New(errors.EStorage, "malformed posting key offset")
	}
	return evid.EVID{TS: uint32(ts), Offset: offset}, nil
}

func atomUint64(a interface{}) (uint64, bool) {
	switch v := a.(type) {
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

// PutEvent stores the encoded event record and returns its stored size.
func (s *Segment) PutEvent(id evid.EVID, fields []models.EventField) (int, error) {
	encoded := models.EncodeFields(fields)
	if err := s.b.SubBucket(bucketEvents).Put(id.Bytes(), encoded); err != nil {
		return 0, err
	}
	return len(encoded), nil
}

// GetEvent fetches and decodes a stored event.
func (s *Segment) GetEvent(id evid.EVID) (*models.Event, error) {
	buf := s.b.SubBucket(bucketEvents).Get(id.Bytes())
	if buf == nil {
		return nil, errors.New(errors.ENotFound, "event %s not in segment %d", id, s.id)
	}
	fields, err := models.DecodeFields(buf)
	if err != nil {
		return nil, err
	}
	return &models.Event{ID: id, Fields: fields}, nil
}

// ContainsEvent reports whether the event record exists.
func (s *Segment) ContainsEvent(id evid.EVID) bool {
	return s.b.SubBucket(bucketEvents).Get(id.Bytes()) != nil
}

// EventCount returns the number of stored events.
func (s *Segment) EventCount() int { return s.b.SubBucket(bucketEvents).Len() }

// PutTerm stores the per-term statistics.
func (s *Segment) PutTerm(name, typ string, term interface{}, stats models.TermStats) error {
	key, err := termKey(name, typ, term)
	if err != nil {
		return err
	}
	return s.b.SubBucket(bucketTerms).Put(key, stats.Encode())
}

// GetTerm fetches the per-term statistics; ok is false when the term has
// never been indexed.
func (s *Segment) GetTerm(name, typ string, term interface{}) (models.TermStats, bool, error) {
	key, err := termKey(name, typ, term)
	if err != nil {
		return models.TermStats{}, false, err
	}
	buf := s.b.SubBucket(bucketTerms).Get(key)
	if buf == nil {
		return models.TermStats{}, false, nil
	}
	stats, err := models.DecodeTermStats(buf)
	return stats, err == nil, err
}

// PutPosting stores one posting with its metadata.
func (s *Segment) PutPosting(name, typ string, term interface{}, id evid.EVID, meta models.Value) error {
	key, err := postingKey(name, typ, term, id)
	if err != nil {
		return err
	}
	return s.b.SubBucket(bucketPostings).Put(key, models.EncodePostingMeta(meta))
}

// GetPosting fetches one posting's metadata.
func (s *Segment) GetPosting(name, typ string, term interface{}, id evid.EVID) (models.Value, bool, error) {
	key, err := postingKey(name, typ, term, id)
	if err != nil {
		return models.Value{}, false, err
	}
	buf := s.b.SubBucket(bucketPostings).Get(key)
	if buf == nil {
		return models.Value{}, false, nil
	}
	meta, err := models.DecodePostingMeta(buf)
	return meta, err == nil, err
}

// PutFieldStats stores the per-field statistics.
func (s *Segment) PutFieldStats(name, typ string, stats models.FieldStats) error {
	return s.b.SubBucket(bucketFields).Put(kv.MustTuple(name, typ), stats.Encode())
}

// GetFieldStats fetches the per-field statistics.
func (s *Segment) GetFieldStats(name, typ string) (models.FieldStats, bool, error) {
	buf := s.b.SubBucket(bucketFields).Get(kv.MustTuple(name, typ))
	if buf == nil {
		return models.FieldStats{}, false, nil
	}
	stats, err := models.DecodeFieldStats(buf)
	return stats, err == nil, err
}

// IterEvents ranges over the event table between two identifiers; start
// after end iterates in reverse.
func (s *Segment) IterEvents(start, end evid.EVID) *kv.Iterator {
	reverse := evid.Compare(start, end) > 0
	return s.b.SubBucket(bucketEvents).Range(start.Bytes(), end.Bytes(), reverse)
}

// IterTerms ranges over term keys; bounds are raw encoded keys.
func (s *Segment) IterTerms(start, end []byte, reverse bool) *kv.Iterator {
	return s.b.SubBucket(bucketTerms).Range(start, end, reverse)
}

// IterPostings ranges over posting keys; bounds are raw encoded keys.
func (s *Segment) IterPostings(start, end []byte, reverse bool) *kv.Iterator {
	return s.b.SubBucket(bucketPostings).Range(start, end, reverse)
}

// EstimateEvents returns the fraction of events between the identifiers.
func (s *Segment) EstimateEvents(start, end evid.EVID) float64 {
	lo, hi := start, end
	if evid.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	return s.b.SubBucket(bucketEvents).EstimateRange(lo.Bytes(), hi.Bytes())
}

// EstimatePostings returns the fraction of posting keys inside [lo, hi].
func (s *Segment) EstimatePostings(lo, hi []byte) float64 {
	return s.b.SubBucket(bucketPostings).EstimateRange(lo, hi)
}

// PostingCount returns the total number of postings in the segment.
func (s *Segment) PostingCount() int { return s.b.SubBucket(bucketPostings).Len() }

// Created returns the segment creation time.
func (s *Segment) Created() (time.Time, error) {
	buf := s.b.SubBucket(bucketMeta).Get(metaCreated)
	if buf == nil {
		return time.Time{}, errors.New(errors.EStorage, "segment %d has no creation time", s.id)
	}
	atoms, err := kv.DecodeTuple(buf)
	if err != nil || len(atoms) != 1 {
		return time.Time{}, errors.New(errors.EStorage, "malformed segment creation time")
	}
	unix, ok := atoms[0].(int64)
	if !ok {
		return time.Time{}, errors.New(errors.EStorage, "malformed segment creation time")
	}
	return time.Unix(unix, 0).UTC(), nil
}

// LastUpdate returns the rolling segment summary.
func (s *Segment) LastUpdate() (models.LastUpdate, error) {
	buf := s.b.SubBucket(bucketMeta).Get(metaLastUpdate)
	if buf == nil {
		return models.LastUpdate{}, nil
	}
	return models.DecodeLastUpdate(buf)
}

// SetLastUpdate stores the rolling segment summary.
func (s *Segment) SetLastUpdate(u models.LastUpdate) error {
	return s.b.SubBucket(bucketMeta).Put(metaLastUpdate, u.Encode())
}
