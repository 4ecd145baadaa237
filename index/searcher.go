package index

import (
	"bytes"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/match"
	"github.com/logsift/logsift/models"
)

// Searcher is a snapshot view of an index: one read transaction spanning
// the schema and every segment present when it was opened.
type Searcher struct {
	idx    *Index
	txn    *kv.Txn
	schema *Schema
	segs   []*Segment
	closed bool
}

// NewSearcher opens a snapshot over the index.
func (i *Index) NewSearcher() (*Searcher, error) {
	txn, err := i.env.Begin(false)
	if err != nil {
		return nil, err
	}
	segments := txn.Bucket(bucketIndexes, []byte(i.name), bucketSegments)
	if segments == nil {
		txn.Rollback()
		return nil, errors.New(errors.ENotFound, "index %q has no segments", i.name)
	}
	s := &Searcher{
		idx:    i,
		txn:    txn,
		schema: newSchema(txn.Bucket(bucketIndexes, []byte(i.name), bucketSchema), i.reg),
	}
	err = segments.SubBuckets(func(key []byte) error {
		atoms, err := kv.DecodeTuple(key)
		if err != nil || len(atoms) != 1 {
			return errors.New(errors.EStorage, "malformed segment key")
		}
		id, ok := atoms[0].(int64)
		if !ok {
			return errors.New(errors.EStorage, "malformed segment key")
		}
		s.segs = append(s.segs, openSegment(segments, id))
		return nil
	})
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	return s, nil
}

// Close releases the snapshot.
func (s *Searcher) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.txn.Rollback()
}

// Schema exposes the snapshot's schema.
func (s *Searcher) Schema() *Schema { return s.schema }

// GetField resolves a field against the snapshot's schema.
func (s *Searcher) GetField(name, typ string) (*field.QualifiedField, error) {
	return s.schema.GetField(name, typ)
}

// GetEvent fetches a stored event from whichever segment holds it.
func (s *Searcher) GetEvent(id evid.EVID) (*models.Event, error) {
	for n := len(s.segs) - 1; n >= 0; n-- {
		if s.segs[n].ContainsEvent(id) {
			return s.segs[n].GetEvent(id)
		}
	}
	return nil, errors.New(errors.ENotFound, "event %s not found", id)
}

// PostingsLength estimates the posting count of a term in the identifier
// range. A nil field addresses the raw event table.
func (s *Searcher) PostingsLength(f *field.QualifiedField, term interface{}, start, end evid.EVID) (float64, error) {
	var total float64
	if f == nil {
		for _, seg := range s.segs {
			total += seg.EstimateEvents(start, end) * float64(seg.EventCount())
		}
		return total, nil
	}
	name, typ := f.Key()
	for _, seg := range s.segs {
		_, ok, err := seg.GetTerm(name, typ, term)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		lo, hi, err := postingRange(name, typ, term, start, end)
		if err != nil {
			return 0, err
		}
		total += seg.EstimatePostings(lo, hi) * float64(seg.PostingCount())
	}
	return total, nil
}

// PostingsLengthBetween estimates the posting count across a range of terms.
func (s *Searcher) PostingsLengthBetween(f *field.QualifiedField, startTerm, endTerm interface{}, startExcl, endExcl bool, start, end evid.EVID) (float64, error) {
	name, typ := f.Key()
	lo, hi, err := termRange(name, typ, startTerm, endTerm)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, seg := range s.segs {
		total += seg.EstimatePostings(lo, prefixEnd(hi)) * float64(seg.PostingCount())
	}
	return total, nil
}

// IterPostings opens the merged posting stream of a single term.
func (s *Searcher) IterPostings(f *field.QualifiedField, term interface{}, start, end evid.EVID) (match.PostingList, error) {
	name, typ := f.Key()
	reverse := !match.Forward(start, end)
	prefix, err := termKey(name, typ, term)
	if err != nil {
		return nil, err
	}
	children := make([]match.PostingList, 0, len(s.segs))
	for _, seg := range s.segs {
		startKey := appendIDAtoms(clone(prefix), start)
		endKey := appendIDAtoms(clone(prefix), end)
		children = append(children, &postingList{
			it:     seg.IterPostings(startKey, endKey, reverse),
			prefix: prefix,
			src:    s,
		})
	}
	return match.NewMergedPostingList(children, reverse, true), nil
}

// IterPostingsBetween opens the merged posting stream of every term in a
// term range.
func (s *Searcher) IterPostingsBetween(f *field.QualifiedField, startTerm, endTerm interface{}, startExcl, endExcl bool, start, end evid.EVID) (match.PostingList, error) {
	reverse := !match.Forward(start, end)
	children := make([]match.PostingList, 0, len(s.segs))
	for _, seg := range s.segs {
		mt, err := newMultiTermPostingList(seg, f, startTerm, endTerm, startExcl, endExcl, start, end, s)
		if err != nil {
			match.NewMergedPostingList(children, reverse, false).Close()
			return nil, err
		}
		children = append(children, mt)
	}
	return match.NewMergedPostingList(children, reverse, true), nil
}

// IterAll opens the merged stream over the raw event tables.
func (s *Searcher) IterAll(start, end evid.EVID) (match.PostingList, error) {
	reverse := !match.Forward(start, end)
	children := make([]match.PostingList, 0, len(s.segs))
	for _, seg := range s.segs {
		children = append(children, &eventList{it: seg.IterEvents(start, end), src: s})
	}
	return match.NewMergedPostingList(children, reverse, true), nil
}

// postingRange bounds the posting keys of one term between two identifiers.
func postingRange(name, typ string, term interface{}, start, end evid.EVID) ([]byte, []byte, error) {
	lo, hi := start, end
	if evid.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	prefix, err := termKey(name, typ, term)
	if err != nil {
		return nil, nil, err
	}
	return appendIDAtoms(clone(prefix), lo), appendIDAtoms(clone(prefix), hi), nil
}

// termRange bounds the term keys of a field; nil bounds widen to the whole
// field.
func termRange(name, typ string, startTerm, endTerm interface{}) ([]byte, []byte, error) {
	fieldPrefix := kv.MustTuple(name, typ)
	lo, hi := fieldPrefix, prefixEnd(fieldPrefix)
	if startTerm != nil {
		key, err := termKey(name, typ, startTerm)
		if err != nil {
			return nil, nil, err
		}
		lo = key
	}
	if endTerm != nil {
		key, err := termKey(name, typ, endTerm)
		if err != nil {
			return nil, nil, err
		}
		hi = key
	}
	return lo, hi, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b), len(b)+18)
	copy(out, b)
	return out
}

// postingList streams one term's postings out of one segment.
type postingList struct {
	it     *kv.Iterator
	prefix []byte
	src    match.EventSource
}

func (l *postingList) Next() (*match.Posting, error) {
	k, v := l.it.Next()
	return decodePosting(k, v, l.src)
}

func (l *postingList) Skip(target evid.EVID, strict bool) (*match.Posting, error) {
	k, v := l.it.Skip(appendIDAtoms(clone(l.prefix), target), strict)
	return decodePosting(k, v, l.src)
}

func (l *postingList) Close() error { return nil }

func decodePosting(k, v []byte, src match.EventSource) (*match.Posting, error) {
	if k == nil {
		return nil, nil
	}
	id, err := decodePostingKey(k)
	if err != nil {
		return nil, err
	}
	meta, err := models.DecodePostingMeta(v)
	if err != nil {
		return nil, err
	}
	return &match.Posting{ID: id, Meta: meta, Source: src}, nil
}

// eventList streams the raw event table of one segment as postings.
type eventList struct {
	it  *kv.Iterator
	src match.EventSource
}

func (l *eventList) Next() (*match.Posting, error) {
	k, _ := l.it.Next()
	return decodeEventKey(k, l.src)
}

func (l *eventList) Skip(target evid.EVID, strict bool) (*match.Posting, error) {
	k, _ := l.it.Skip(target.Bytes(), strict)
	return decodeEventKey(k, l.src)
}

func (l *eventList) Close() error { return nil }

func decodeEventKey(k []byte, src match.EventSource) (*match.Posting, error) {
	if k == nil {
		return nil, nil
	}
	id, err := evid.FromBytes(k)
	if err != nil {
		return nil, err
	}
	return &match.Posting{ID: id, Meta: models.Null(), Source: src}, nil
}

// multiTermPostingList unions the postings of every term inside a term
// range. Each pull rescans the term range, seeking every term's posting
// iterator past the last emitted identifier and picking the closest
// candidate in the iteration direction.
type multiTermPostingList struct {
	seg       *Segment
	termLo    []byte
	termHi    []byte
	exclLo    []byte
	exclHi    []byte
	end       evid.EVID
	reverse   bool
	cursor    evid.EVID
	strict    bool
	exhausted bool
	src       match.EventSource
}

func newMultiTermPostingList(seg *Segment, f *field.QualifiedField, startTerm, endTerm interface{}, startExcl, endExcl bool, start, end evid.EVID, src match.EventSource) (*multiTermPostingList, error) {
	name, typ := f.Key()
	lo, hi, err := termRange(name, typ, startTerm, endTerm)
	if err != nil {
		return nil, err
	}
	m := &multiTermPostingList{
		seg:     seg,
		termLo:  lo,
		termHi:  hi,
		end:     end,
		reverse: !match.Forward(start, end),
		cursor:  start,
		src:     src,
	}
	if startExcl && startTerm != nil {
		m.exclLo = lo
	}
	if endExcl && endTerm != nil {
		m.exclHi = hi
	}
	return m, nil
}

func (m *multiTermPostingList) Next() (*match.Posting, error) {
	if m.exhausted {
		return nil, nil
	}
	var best *match.Posting
	terms := m.seg.IterTerms(m.termLo, m.termHi, false)
	for k, _ := terms.Next(); k != nil; k, _ = terms.Next() {
		if m.exclLo != nil && bytes.Equal(k, m.exclLo) {
			continue
		}
		if m.exclHi != nil && bytes.Equal(k, m.exclHi) {
			continue
		}
		cursorKey := appendIDAtoms(clone(k), m.cursor)
		endKey := appendIDAtoms(clone(k), m.end)
		it := m.seg.IterPostings(cursorKey, endKey, m.reverse)
		var pk, pv []byte
		if m.strict {
			pk, pv = it.Skip(cursorKey, true)
		} else {
			pk, pv = it.Next()
		}
		if pk == nil {
			continue
		}
		p, err := decodePosting(pk, pv, m.src)
		if err != nil {
			return nil, err
		}
		if best == nil || idBefore(p.ID, best.ID, m.reverse) {
			best = p
		}
	}
	if best == nil {
		m.exhausted = true
		return nil, nil
	}
	m.cursor, m.strict = best.ID, true
	return best, nil
}

func (m *multiTermPostingList) Skip(target evid.EVID, strict bool) (*match.Posting, error) {
	if m.exhausted {
		return nil, nil
	}
	if idBefore(m.cursor, target, m.reverse) {
		m.cursor, m.strict = target, strict
	} else if evid.Compare(m.cursor, target) == 0 && strict {
		m.strict = true
	}
	return m.Next()
}

func (m *multiTermPostingList) Close() error { return nil }

func idBefore(a, b evid.EVID, reverse bool) bool {
	if reverse {
		return evid.Compare(a, b) > 0
	}
	return evid.Compare(a, b) < 0
}
