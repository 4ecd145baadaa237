package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/match"
	"github.com/logsift/logsift/models"
)

const baseTS = uint32(1700000000)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	env, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	gen := evid.NewGenerator(env.EnvPath("evid"))
	require.NoError(t, gen.Start())
	t.Cleanup(func() { gen.Stop() })

	idx, err := Open(env, "main", gen)
	require.NoError(t, err)
	return idx
}

func eventFields(msg, host string, extra ...models.EventField) []models.EventField {
	fields := []models.EventField{
		{Name: models.DefaultField, Type: field.TypeText, Value: models.Text(msg)},
		{Name: models.HostnameField, Type: field.TypeIdentity, Value: models.Text(host)},
		{Name: models.InputField, Type: field.TypeIdentity, Value: models.Text("syslog")},
	}
	return append(fields, extra...)
}

// writeEvents commits one writer containing all the given events and returns
// their identifiers.
func writeEvents(t *testing.T, idx *Index, events ...[]models.EventField) []evid.EVID {
	t.Helper()
	w, err := idx.NewWriter()
	require.NoError(t, err)
	ids := make([]evid.EVID, 0, len(events))
	for n, fields := range events {
		id, err := idx.NewEventID(baseTS + uint32(n))
		require.NoError(t, err)
		require.NoError(t, w.AddEvent(id, fields))
		ids = append(ids, id)
	}
	require.NoError(t, w.Commit())
	return ids
}

func search(t *testing.T, s *Searcher, m match.Matcher, start, end evid.EVID) []evid.EVID {
	t.Helper()
	opt, err := m.Optimize(s)
	require.NoError(t, err)
	if opt == nil {
		return nil
	}
	pl, err := opt.Iterate(s, start, end)
	require.NoError(t, err)
	defer pl.Close()
	var ids []evid.EVID
	for {
		p, err := pl.Next()
		require.NoError(t, err)
		if p == nil {
			return ids
		}
		ids = append(ids, p.ID)
	}
}

func TestWriteAndGetEvent(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("disk failure on sda", "web-01"),
		eventFields("disk healthy", "web-02"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.GetEvent(ids[0])
	require.NoError(t, err)
	v, ok := ev.Get(models.DefaultField, field.TypeText)
	require.True(t, ok)
	assert.Equal(t, "disk failure on sda", v.TextVal())

	_, err = s.GetEvent(evid.EVID{TS: 1, Offset: 1})
	assert.Equal(t, errors.ENotFound, errors.ErrorCode(err))
}

func TestTermSearch(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("connection timeout to db", "web-01"),
		eventFields("connection established", "web-02"),
		eventFields("timeout waiting for lock", "web-03"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "timeout", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[0], ids[2]}, got)

	got = search(t, s, match.NewTerm("hostname", "", "", "web-02", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[1]}, got)

	assert.Nil(t, search(t, s, match.NewTerm("", "", "", "nosuchword", match.Analyzed), evid.Min, evid.Max))
	assert.Nil(t, search(t, s, match.NewTerm("nosuchfield", "", "", "x", match.Analyzed), evid.Min, evid.Max))
}

func TestBooleanSearch(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("error reading disk", "web-01"),
		eventFields("error writing socket", "web-01"),
		eventFields("disk replaced", "web-02"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	and := match.NewAnd(
		match.NewTerm("", "", "", "error", match.Analyzed),
		match.NewTerm("", "", "", "disk", match.Analyzed),
	)
	assert.Equal(t, []evid.EVID{ids[0]}, search(t, s, and, evid.Min, evid.Max))

	or := match.NewOr(
		match.NewTerm("", "", "", "socket", match.Analyzed),
		match.NewTerm("", "", "", "replaced", match.Analyzed),
	)
	assert.Equal(t, []evid.EVID{ids[1], ids[2]}, search(t, s, or, evid.Min, evid.Max))

	not := match.NewAnd(
		match.NewTerm("", "", "", "error", match.Analyzed),
		match.NewNot(match.NewTerm("", "", "", "socket", match.Analyzed)),
	)
	assert.Equal(t, []evid.EVID{ids[0]}, search(t, s, not, evid.Min, evid.Max))
}

func TestPhraseSearch(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("quick brown fox", "web-01"),
		eventFields("brown quick fox", "web-01"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "quick brown", match.PhraseWords), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[0]}, got)
}

func TestIntegerRangeSearch(t *testing.T) {
	idx := newTestIndex(t)
	status := func(v int64) models.EventField {
		return models.EventField{Name: "status", Type: field.TypeInteger, Value: models.Int(v)}
	}
	ids := writeEvents(t, idx,
		eventFields("GET /", "web-01", status(200)),
		eventFields("GET /missing", "web-01", status(404)),
		eventFields("GET /boom", "web-01", status(500)),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("status", "", field.OpGt, "300", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[1], ids[2]}, got)

	got = search(t, s, match.NewTerm("status", "", field.OpGe, "404", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[1], ids[2]}, got)

	got = search(t, s, match.NewTerm("status", "", field.OpGt, "404", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[2]}, got)

	got = search(t, s, match.NewTerm("status", "", field.OpLt, "404", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[0]}, got)

	got = search(t, s, match.NewTerm("status", "", field.OpIs, "404", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{ids[1]}, got)
}

func TestReverseIteration(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("alpha one", "web-01"),
		eventFields("alpha two", "web-01"),
		eventFields("alpha three", "web-01"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "alpha", match.Analyzed), evid.Max, evid.Min)
	assert.Equal(t, []evid.EVID{ids[2], ids[1], ids[0]}, got)

	got = search(t, s, match.NewEvery(), evid.Max, evid.Min)
	assert.Equal(t, []evid.EVID{ids[2], ids[1], ids[0]}, got)
}

func TestIdRangeBounds(t *testing.T) {
	idx := newTestIndex(t)
	ids := writeEvents(t, idx,
		eventFields("alpha", "web-01"),
		eventFields("alpha", "web-01"),
		eventFields("alpha", "web-01"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "alpha", match.Analyzed), ids[1], evid.Max)
	assert.Equal(t, []evid.EVID{ids[1], ids[2]}, got)

	got = search(t, s, match.NewTerm("", "", "", "alpha", match.Analyzed), ids[0], ids[1])
	assert.Equal(t, []evid.EVID{ids[0], ids[1]}, got)
}

func TestEphemeralFieldsStripped(t *testing.T) {
	idx := newTestIndex(t)
	extra := models.EventField{Name: "_trace", Type: field.TypeIdentity, Value: models.Text("abc")}
	ids := writeEvents(t, idx, eventFields("hello", "web-01", extra))

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.GetEvent(ids[0])
	require.NoError(t, err)
	_, ok := ev.Get("_trace", field.TypeIdentity)
	assert.False(t, ok)

	qf, err := s.GetField("_trace", field.TypeIdentity)
	require.NoError(t, err)
	assert.Nil(t, qf)
}

func TestRequiredFields(t *testing.T) {
	idx := newTestIndex(t)
	w, err := idx.NewWriter()
	require.NoError(t, err)
	defer w.Abort()

	id, err := idx.NewEventID(baseTS)
	require.NoError(t, err)
	_, err = w.NewEvent(id, []models.EventField{
		{Name: models.DefaultField, Type: field.TypeText, Value: models.Text("no hostname")},
	})
	require.Error(t, err)
	assert.Equal(t, errors.EValidate, errors.ErrorCode(err))
}

func TestSchemaAmbiguity(t *testing.T) {
	idx := newTestIndex(t)
	writeEvents(t, idx,
		eventFields("a", "web-01", models.EventField{Name: "code", Type: field.TypeInteger, Value: models.Int(5)}),
		eventFields("b", "web-01", models.EventField{Name: "code", Type: field.TypeIdentity, Value: models.Text("x5")}),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetField("code", "")
	require.Error(t, err)
	assert.Equal(t, errors.ESchema, errors.ErrorCode(err))

	qf, err := s.GetField("code", field.TypeInteger)
	require.NoError(t, err)
	require.NotNil(t, qf)
	assert.Equal(t, field.TypeInteger, qf.Type.Name())
}

func TestTermAndFieldStats(t *testing.T) {
	idx := newTestIndex(t)
	writeEvents(t, idx,
		eventFields("to be or not to be", "web-01"),
		eventFields("be quick", "web-02"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	seg := s.segs[0]
	stats, ok, err := seg.GetTerm(models.DefaultField, field.TypeText, "be")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.NDocs)
	assert.Equal(t, int64(3), stats.Freq)

	fstats, ok, err := seg.GetFieldStats(models.DefaultField, field.TypeText)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), fstats.DocCount)
	assert.Equal(t, int64(8), fstats.Length)
	assert.Equal(t, int64(2), fstats.MaxFreq)
}

func TestRotateAndSearchAcrossSegments(t *testing.T) {
	idx := newTestIndex(t)
	first := writeEvents(t, idx, eventFields("alpha one", "web-01"))
	require.NoError(t, idx.Rotate())
	second := writeEvents(t, idx, eventFields("alpha two", "web-01"))

	assert.Equal(t, []int64{1, 2}, idx.SegmentIDs())
	assert.Equal(t, int64(2), idx.CurrentSegment())

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "alpha", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, []evid.EVID{first[0], second[0]}, got)

	stats := idx.Stats()
	assert.Equal(t, second[0], stats.LastID)
	assert.Greater(t, stats.Size, int64(0))
}

func TestSnapshotIsolation(t *testing.T) {
	idx := newTestIndex(t)
	writeEvents(t, idx, eventFields("alpha before", "web-01"))

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	writeEvents(t, idx, eventFields("alpha after", "web-01"))

	got := search(t, s, match.NewTerm("", "", "", "alpha", match.Analyzed), evid.Min, evid.Max)
	assert.Len(t, got, 1)

	s2, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s2.Close()
	got = search(t, s2, match.NewTerm("", "", "", "alpha", match.Analyzed), evid.Min, evid.Max)
	assert.Len(t, got, 2)
}

func TestDeleteSegment(t *testing.T) {
	idx := newTestIndex(t)
	writeEvents(t, idx, eventFields("old entry", "web-01"))
	require.NoError(t, idx.Rotate())
	kept := writeEvents(t, idx, eventFields("new entry", "web-01"))

	assert.Error(t, idx.DeleteSegment(idx.CurrentSegment()))
	require.NoError(t, idx.DeleteSegment(1))
	assert.Equal(t, []int64{2}, idx.SegmentIDs())

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	got := search(t, s, match.NewTerm("", "", "", "entry", match.Analyzed), evid.Min, evid.Max)
	assert.Equal(t, kept, got)
}

func TestWriterAbort(t *testing.T) {
	idx := newTestIndex(t)
	w, err := idx.NewWriter()
	require.NoError(t, err)
	id, err := idx.NewEventID(baseTS)
	require.NoError(t, err)
	require.NoError(t, w.AddEvent(id, eventFields("discarded", "web-01")))
	require.NoError(t, w.Abort())

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()
	assert.Nil(t, search(t, s, match.NewTerm("", "", "", "discarded", match.Analyzed), evid.Min, evid.Max))
}

func TestPostingsLength(t *testing.T) {
	idx := newTestIndex(t)
	writeEvents(t, idx,
		eventFields("alpha", "web-01"),
		eventFields("alpha", "web-02"),
		eventFields("beta", "web-03"),
	)

	s, err := idx.NewSearcher()
	require.NoError(t, err)
	defer s.Close()

	qf, err := s.GetField("", "")
	require.NoError(t, err)

	n, err := s.PostingsLength(qf, "alpha", evid.Min, evid.Max)
	require.NoError(t, err)
	assert.InDelta(t, 2, n, 0.5)

	n, err = s.PostingsLength(nil, nil, evid.Min, evid.Max)
	require.NoError(t, err)
	assert.InDelta(t, 3, n, 0.5)
}
