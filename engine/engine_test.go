package engine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/models"
)

var testEpoch = time.Unix(1700000000, 0).UTC()

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testEpoch)
	opts = append([]Option{WithClock(clk)}, opts...)
	e, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, clk
}

func eventFields(msg, host string, extra ...models.EventField) []models.EventField {
	fields := []models.EventField{
		{Name: models.DefaultField, Type: field.TypeText, Value: models.Text(msg)},
		{Name: models.HostnameField, Type: field.TypeIdentity, Value: models.Text(host)},
		{Name: models.InputField, Type: field.TypeIdentity, Value: models.Text("syslog")},
	}
	return append(fields, extra...)
}

// write commits one event per message, one second apart.
func write(t *testing.T, e *Engine, clk *clock.Mock, index string, msgs ...string) []evid.EVID {
	t.Helper()
	ids := make([]evid.EVID, 0, len(msgs))
	for _, msg := range msgs {
		clk.Add(time.Second)
		id, err := e.WriteEvent(context.Background(), index, eventFields(msg, "web-01"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func resultIDs(events []*models.Event) []evid.EVID {
	ids := make([]evid.EVID, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestWriteAndIter(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "connection refused", "connection accepted", "disk full")

	r, err := e.Iter(context.Background(), IterRequest{})
	require.NoError(t, err)
	assert.Equal(t, ids, resultIDs(r.Events))
	assert.Contains(t, r.Fields, "message")
	assert.Contains(t, r.Fields, "hostname")
}

func TestIterTermQuery(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "connection refused", "connection accepted", "disk full")

	r, err := e.Iter(context.Background(), IterRequest{Query: "connection"})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], resultIDs(r.Events))

	r, err = e.Iter(context.Background(), IterRequest{Query: "connection AND refused"})
	require.NoError(t, err)
	assert.Equal(t, ids[:1], resultIDs(r.Events))

	r, err = e.Iter(context.Background(), IterRequest{Query: "nosuchterm"})
	require.NoError(t, err)
	assert.Empty(t, r.Events)
}

func TestIterReverse(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "a one", "a two", "a three")

	r, err := e.Iter(context.Background(), IterRequest{Query: "a", Reverse: true})
	require.NoError(t, err)
	assert.Equal(t, []evid.EVID{ids[2], ids[1], ids[0]}, resultIDs(r.Events))
}

func TestIterLimit(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "m 1", "m 2", "m 3", "m 4")

	r, err := e.Iter(context.Background(), IterRequest{Query: "m", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], resultIDs(r.Events))

	_, err = e.Iter(context.Background(), IterRequest{Query: "m", Limit: -1})
	require.Error(t, err)
	assert.Equal(t, errors.EQueryExecution, errors.ErrorCode(err))
}

// Paging with lastId yields the same sequence as one large batch.
func TestIterCursorPaging(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "m 1", "m 2", "m 3", "m 4", "m 5")

	all, err := e.Iter(context.Background(), IterRequest{Query: "m"})
	require.NoError(t, err)
	require.Len(t, all.Events, 5)

	var paged []evid.EVID
	lastID := ""
	for {
		r, err := e.Iter(context.Background(), IterRequest{Query: "m", Limit: 2, LastID: lastID})
		require.NoError(t, err)
		if len(r.Events) == 0 {
			break
		}
		paged = append(paged, resultIDs(r.Events)...)
		lastID = r.Events[len(r.Events)-1].ID.String()
	}
	assert.Equal(t, resultIDs(all.Events), paged)
}

func TestIterCursorReverse(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "m 1", "m 2", "m 3")

	r, err := e.Iter(context.Background(), IterRequest{
		Query:   "m",
		Reverse: true,
		LastID:  ids[2].String(),
	})
	require.NoError(t, err)
	assert.Equal(t, []evid.EVID{ids[1], ids[0]}, resultIDs(r.Events))
}

func TestIterBadRequests(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "hello world")

	_, err := e.Iter(context.Background(), IterRequest{LastID: "zzzz"})
	require.Error(t, err)
	assert.Equal(t, errors.EQueryExecution, errors.ErrorCode(err))

	_, err = e.Iter(context.Background(), IterRequest{Indexes: []string{"nope"}})
	require.Error(t, err)
	assert.Equal(t, errors.EQueryExecution, errors.ErrorCode(err))

	_, err = e.Iter(context.Background(), IterRequest{Query: "AND AND"})
	require.Error(t, err)
	assert.Equal(t, errors.EQuerySyntax, errors.ErrorCode(err))
}

func TestIterFieldProjection(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "hello world")

	r, err := e.Iter(context.Background(), IterRequest{Query: "hello", Fields: []string{"message"}})
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	assert.Equal(t, []string{"message"}, r.Fields)
	require.Len(t, r.Events[0].Fields, 1)
	assert.Equal(t, "message", r.Events[0].Fields[0].Name)
}

func TestIterWhereDate(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "m early", "m mid", "m late")

	// Bound the window to exclude the last event.
	to := testEpoch.Add(2 * time.Second).Format("2006/01/02T15:04:05")
	r, err := e.Iter(context.Background(), IterRequest{Query: "m WHERE DATE TO " + to})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], resultIDs(r.Events))

	r, err = e.Iter(context.Background(), IterRequest{Query: "m WHERE DATE TO " + to + " EXCLUSIVE"})
	require.NoError(t, err)
	assert.Equal(t, ids[:1], resultIDs(r.Events))
}

func TestIterAcrossIndexes(t *testing.T) {
	e, clk := newTestEngine(t)
	a := write(t, e, clk, "alpha", "m one")
	b := write(t, e, clk, "beta", "m two")

	r, err := e.Iter(context.Background(), IterRequest{Query: "m"})
	require.NoError(t, err)
	assert.Equal(t, []evid.EVID{a[0], b[0]}, resultIDs(r.Events))

	r, err = e.Iter(context.Background(), IterRequest{Query: "m", Indexes: []string{"beta"}})
	require.NoError(t, err)
	assert.Equal(t, b, resultIDs(r.Events))
}

func TestIterCancelled(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "hello world")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Iter(ctx, IterRequest{Query: "hello"})
	require.Error(t, err)
	assert.Equal(t, errors.ECancelled, errors.ErrorCode(err))
}

func TestTail(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "before cursor")
	clk.Add(time.Second)

	// First poll only establishes the cursor at the current time.
	r, err := e.Tail(context.Background(), TailRequest{})
	require.NoError(t, err)
	assert.Empty(t, r.Events)
	assert.Equal(t, uint32(clk.Now().Unix()), r.LastID.TS)

	cursor := r.LastID

	// Nothing new yet.
	r, err = e.Tail(context.Background(), TailRequest{LastID: cursor.String()})
	require.NoError(t, err)
	assert.Empty(t, r.Events)
	assert.Equal(t, cursor, r.LastID)

	ids := write(t, e, clk, "main", "after one", "after two")
	r, err = e.Tail(context.Background(), TailRequest{LastID: cursor.String()})
	require.NoError(t, err)
	assert.Equal(t, ids, resultIDs(r.Events))
	assert.Equal(t, ids[1], r.LastID)

	// The new cursor picks up from the last delivered event.
	r, err = e.Tail(context.Background(), TailRequest{LastID: r.LastID.String()})
	require.NoError(t, err)
	assert.Empty(t, r.Events)
	assert.Equal(t, ids[1], r.LastID)
}

func TestTailWithQuery(t *testing.T) {
	e, clk := newTestEngine(t)

	r, err := e.Tail(context.Background(), TailRequest{})
	require.NoError(t, err)
	cursor := r.LastID.String()

	ids := write(t, e, clk, "main", "error disk", "info boot", "error net")
	r, err = e.Tail(context.Background(), TailRequest{Query: "error", LastID: cursor})
	require.NoError(t, err)
	assert.Equal(t, []evid.EVID{ids[0], ids[2]}, resultIDs(r.Events))
	assert.Equal(t, ids[2], r.LastID)
}

func TestTailRejectsWhere(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Tail(context.Background(), TailRequest{
		Query:  "error WHERE DATE FROM 1 HOUR AGO",
		LastID: evid.Min.String(),
	})
	require.Error(t, err)
	assert.Equal(t, errors.EQuerySyntax, errors.ErrorCode(err))
}

// A writer clock behind the stored identifiers is an error, not silently
// reordered history.
func TestWriteRejectsClockRollback(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "at the front")

	clk.Set(testEpoch.Add(-time.Hour))
	_, err := e.WriteEvent(context.Background(), "main", eventFields("from the past", "web-01"))
	require.Error(t, err)
	assert.Equal(t, errors.EValidate, errors.ErrorCode(err))
}

func TestSegmentRotationAndRetention(t *testing.T) {
	e, clk := newTestEngine(t, WithSegmentRotation(1), WithSegmentRetention(3))
	ids := write(t, e, clk, "main", "m 1", "m 2", "m 3", "m 4", "m 5")

	idx, err := e.Index("main")
	require.NoError(t, err)
	segs := idx.SegmentIDs()
	assert.Len(t, segs, 3)

	// The oldest events rode out with their segments.
	r, err := e.Iter(context.Background(), IterRequest{Query: "m"})
	require.NoError(t, err)
	assert.Equal(t, ids[3:], resultIDs(r.Events))
}

func TestListAndShowIndex(t *testing.T) {
	e, clk := newTestEngine(t)
	ids := write(t, e, clk, "main", "hello world")
	write(t, e, clk, "audit", "login ok")

	list := e.ListIndices()
	require.Len(t, list, 2)
	assert.Equal(t, "audit", list[0].Name)
	assert.Equal(t, "main", list[1].Name)

	stats, fields, err := e.ShowIndex("main")
	require.NoError(t, err)
	assert.Equal(t, ids[0], stats.LastID)
	assert.Greater(t, stats.Size, int64(0))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"message", "hostname", "input"}, names)

	_, _, err = e.ShowIndex("nope")
	require.Error(t, err)
}

func TestDeleteIndex(t *testing.T) {
	e, clk := newTestEngine(t)
	write(t, e, clk, "main", "hello world")

	require.NoError(t, e.DeleteIndex("main"))
	assert.Empty(t, e.IndexNames())
	assert.Equal(t, errors.ENotFound, errors.ErrorCode(e.DeleteIndex("main")))

	// Recreating starts from scratch.
	write(t, e, clk, "main", "fresh start")
	r, err := e.Iter(context.Background(), IterRequest{Query: "fresh"})
	require.NoError(t, err)
	assert.Len(t, r.Events, 1)
}

func TestReopenEngine(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(testEpoch)

	e, err := Open(dir, WithClock(clk))
	require.NoError(t, err)
	ids := write(t, e, clk, "main", "persisted event")
	require.NoError(t, e.Close())

	e, err = Open(dir, WithClock(clk))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, []string{"main"}, e.IndexNames())

	r, err := e.Iter(context.Background(), IterRequest{Query: "persisted"})
	require.NoError(t, err)
	assert.Equal(t, ids, resultIDs(r.Events))
}
