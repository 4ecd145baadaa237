package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/index"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/match"
	"github.com/logsift/logsift/models"
	"github.com/logsift/logsift/query"
)

// IterRequest is one ranged query batch.
type IterRequest struct {
	Query   string
	LastID  string
	Indexes []string
	Limit   int
	Reverse bool
	Fields  []string
}

// IterResult is the batch produced by Iter.
type IterResult struct {
	Runtime time.Duration
	Fields  []string
	Events  []*models.Event
}

// TailRequest is one tail poll.
type TailRequest struct {
	Query   string
	LastID  string
	Indexes []string
	Limit   int
	Fields  []string
}

// TailResult carries the next cursor alongside the batch.
type TailResult struct {
	IterResult
	LastID evid.EVID
}

// Iter executes a ranged query and returns up to Limit events in the
// requested direction.
func (e *Engine) Iter(ctx context.Context, req IterRequest) (*IterResult, error) {
	started := time.Now()

	limit, err := normalizeLimit(req.Limit)
	if err != nil {
		return nil, err
	}
	matcher, period, err := query.ParseIter(req.Query, e.clk.Now().UTC())
	if err != nil {
		return nil, err
	}

	lo, hi := periodBounds(period)
	start, end := lo, hi
	if req.Reverse {
		start, end = hi, lo
	}
	start, empty, err := tightenCursor(start, end, req.LastID, req.Reverse)
	if err != nil {
		return nil, err
	}

	result := &IterResult{Fields: req.Fields, Events: []*models.Event{}}
	if !empty {
		events, err := e.run(ctx, matcher, req.Indexes, start, end, req.Reverse, limit)
		if err != nil {
			return nil, err
		}
		result.Events = project(events, req.Fields)
	}
	if len(result.Fields) == 0 {
		result.Fields = fieldNames(result.Events)
	}
	result.Runtime = time.Since(started)
	e.observeQuery(result.Runtime)
	return result, nil
}

// Tail returns events committed after the cursor. Without a cursor it only
// establishes one at the current time; a clock running behind the stored
// identifiers will then replay them on the next poll.
func (e *Engine) Tail(ctx context.Context, req TailRequest) (*TailResult, error) {
	started := time.Now()

	result := &TailResult{IterResult: IterResult{Fields: req.Fields, Events: []*models.Event{}}}
	if req.LastID == "" {
		result.LastID = evid.FromTime(e.clk.Now(), 0)
		result.Runtime = time.Since(started)
		return result, nil
	}

	limit, err := normalizeLimit(req.Limit)
	if err != nil {
		return nil, err
	}
	matcher, err := query.ParseTail(req.Query)
	if err != nil {
		return nil, err
	}
	cursor, err := evid.Parse(req.LastID)
	if err != nil {
		return nil, errors.Wrap(err, errors.EQueryExecution, "engine.Tail")
	}

	result.LastID = cursor
	if cursor != evid.Max {
		events, err := e.run(ctx, matcher, req.Indexes, cursor.Next(), evid.Max, false, limit)
		if err != nil {
			return nil, err
		}
		result.Events = project(events, req.Fields)
		if n := len(result.Events); n > 0 {
			result.LastID = result.Events[n-1].ID
		}
	}
	if len(result.Fields) == 0 {
		result.Fields = fieldNames(result.Events)
	}
	result.Runtime = time.Since(started)
	e.observeQuery(result.Runtime)
	return result, nil
}

// run optimizes the matcher per index, merges the per-index posting streams
// in the iteration direction, and materializes up to limit events.
func (e *Engine) run(ctx context.Context, matcher match.Matcher, names []string, start, end evid.EVID, reverse bool, limit int) ([]*models.Event, error) {
	idxs, err := e.resolveIndexes(names)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		searchers []*index.Searcher
		lists     []match.PostingList
	)
	closeAll := func() {
		for _, pl := range lists {
			pl.Close()
		}
		for _, s := range searchers {
			s.Close()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range idxs {
		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.Wrap(err, errors.ECancelled, "engine.run")
			}
			s, err := idx.NewSearcher()
			if err != nil {
				return err
			}
			opt, err := matcher.Optimize(s)
			if err != nil {
				s.Close()
				return err
			}
			if opt == nil {
				return s.Close()
			}
			pl, err := opt.Iterate(s, start, end)
			if err != nil {
				s.Close()
				return err
			}
			mu.Lock()
			searchers = append(searchers, s)
			lists = append(lists, pl)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll()
		return nil, err
	}
	defer closeAll()

	merged := match.NewMergedPostingList(lists, reverse, true)
	events := make([]*models.Event, 0, limit)
	for len(events) < limit {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ECancelled, "engine.run")
		}
		p, err := merged.Next()
		if err != nil {
			return nil, err
		}
		if p == nil {
			break
		}
		ev, err := p.Source.GetEvent(p.ID)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (e *Engine) observeQuery(d time.Duration) {
	e.metrics.queries.Inc()
	e.metrics.queryDuration.Observe(d.Seconds())
}

func normalizeLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 1 {
		return 0, errors.New(errors.EQueryExecution, "limit must be at least 1, got %d", limit)
	}
	return limit, nil
}

// periodBounds maps a parsed time window onto the identifier space. Exclusive
// endpoints shift by one whole second, matching the date granularity.
func periodBounds(p query.Period) (lo, hi evid.EVID) {
	lo = evid.EVID{TS: clampTS(p.From.Unix())}
	if p.FromExclusive {
		lo = evid.EVID{TS: clampTS(p.From.Unix() + 1)}
	}
	hi = evid.EVID{TS: clampTS(p.To.Unix()), Offset: 1<<64 - 1}
	if p.ToExclusive {
		hi = evid.EVID{TS: clampTS(p.To.Unix())}.Prev()
	}
	return lo, hi
}

func clampTS(unix int64) uint32 {
	if unix < 0 {
		return 0
	}
	if unix > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(unix)
}

// tightenCursor narrows the starting bound to just past the cursor in the
// iteration direction. The cursor itself is always excluded. The second
// return is true when the tightened window is empty.
func tightenCursor(start, end evid.EVID, lastID string, reverse bool) (evid.EVID, bool, error) {
	if lastID == "" {
		return start, false, nil
	}
	cursor, err := evid.Parse(lastID)
	if err != nil {
		return start, false, errors.Wrap(err, errors.EQueryExecution, "engine.Iter")
	}
	if reverse {
		if cursor.IsZero() {
			return start, true, nil
		}
		if next := cursor.Prev(); evid.Compare(next, start) < 0 {
			start = next
		}
		return start, evid.Compare(start, end) < 0, nil
	}
	if cursor == evid.Max {
		return start, true, nil
	}
	if next := cursor.Next(); evid.Compare(next, start) > 0 {
		start = next
	}
	return start, evid.Compare(start, end) > 0, nil
}

// project restricts every event to the requested field names.
func project(events []*models.Event, fields []string) []*models.Event {
	if len(fields) == 0 {
		return events
	}
	keep := make(map[string]bool, len(fields))
	for _, name := range fields {
		keep[name] = true
	}
	out := make([]*models.Event, len(events))
	for i, ev := range events {
		kept := make([]models.EventField, 0, len(fields))
		for _, f := range ev.Fields {
			if keep[f.Name] {
				kept = append(kept, f)
			}
		}
		out[i] = &models.Event{ID: ev.ID, Fields: kept}
	}
	return out
}

// fieldNames collects the distinct field names across events, sorted.
func fieldNames(events []*models.Event) []string {
	seen := map[string]bool{}
	for _, ev := range events {
		for _, f := range ev.Fields {
			seen[f.Name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
