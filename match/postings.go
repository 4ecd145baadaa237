package match

import (
	"go.uber.org/multierr"

	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/models"
)

// MergedPostingList unions child posting lists, yielding postings in the
// shared iteration direction. One lookahead is cached per child; each pull
// picks the smallest lookahead (largest in reverse) and advances its owner.
// With dedupe set, an identifier equal to the last emitted one is dropped,
// which is what makes multi-segment overlap and OR merges emit every event
// exactly once.
type MergedPostingList struct {
	children []PostingList
	heads    []*Posting
	primed   []bool
	reverse  bool
	dedupe   bool
	last     *evid.EVID
	closed   bool
}

// NewMergedPostingList merges children. Ownership of the children transfers
// to the merged list; Close closes them all.
func NewMergedPostingList(children []PostingList, reverse, dedupe bool) *MergedPostingList {
	return &MergedPostingList{
		children: children,
		heads:    make([]*Posting, len(children)),
		primed:   make([]bool, len(children)),
		reverse:  reverse,
		dedupe:   dedupe,
	}
}

func (m *MergedPostingList) Next() (*Posting, error) {
	for {
		p, err := m.pull()
		if err != nil || p == nil {
			return nil, err
		}
		if m.dedupe && m.last != nil && *m.last == p.ID {
			continue
		}
		id := p.ID
		m.last = &id
		return p, nil
	}
}

func (m *MergedPostingList) Skip(target evid.EVID, strict bool) (*Posting, error) {
	for i, child := range m.children {
		if m.primed[i] && m.heads[i] != nil && reached(m.heads[i].ID, target, m.reverse, strict) {
			continue
		}
		p, err := child.Skip(target, strict)
		if err != nil {
			return nil, err
		}
		m.heads[i] = p
		m.primed[i] = true
	}
	return m.Next()
}

// pull returns the next posting in merge order without deduplication.
func (m *MergedPostingList) pull() (*Posting, error) {
	best := -1
	for i, child := range m.children {
		if !m.primed[i] {
			p, err := child.Next()
			if err != nil {
				return nil, err
			}
			m.heads[i] = p
			m.primed[i] = true
		}
		if m.heads[i] == nil {
			continue
		}
		if best < 0 || before(m.heads[i].ID, m.heads[best].ID, m.reverse) {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}
	p := m.heads[best]
	m.primed[best] = false
	m.heads[best] = nil
	return p, nil
}

func (m *MergedPostingList) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var err error
	for _, child := range m.children {
		err = multierr.Append(err, child.Close())
	}
	return err
}

// andPostingList intersects its children with a leapfrog walk: the first
// (cheapest) child drives, the rest are skipped to each candidate. A
// lookahead is cached per non-driver child, since a posting a child already
// produced for one candidate must stay visible to later candidates. After a
// successful pull, currents holds the posting every child produced for the
// emitted identifier.
type andPostingList struct {
	lists    []PostingList
	currents []*Posting
	heads    []*Posting
	primed   []bool
	reverse  bool
	closed   bool
}

func newAndPostingList(lists []PostingList, reverse bool) *andPostingList {
	return &andPostingList{
		lists:    lists,
		currents: make([]*Posting, len(lists)),
		heads:    make([]*Posting, len(lists)),
		primed:   make([]bool, len(lists)),
		reverse:  reverse,
	}
}

func (a *andPostingList) Next() (*Posting, error) {
	p, err := a.lists[0].Next()
	if err != nil || p == nil {
		return nil, err
	}
	return a.align(p)
}

func (a *andPostingList) Skip(target evid.EVID, strict bool) (*Posting, error) {
	p, err := a.lists[0].Skip(target, strict)
	if err != nil || p == nil {
		return nil, err
	}
	return a.align(p)
}

// head returns child i's posting at or beyond the candidate, advancing the
// child only when its cached lookahead falls behind.
func (a *andPostingList) head(i int, candidate evid.EVID) (*Posting, error) {
	if a.primed[i] {
		if a.heads[i] == nil {
			return nil, nil
		}
		if reached(a.heads[i].ID, candidate, a.reverse, false) {
			return a.heads[i], nil
		}
	}
	q, err := a.lists[i].Skip(candidate, false)
	if err != nil {
		return nil, err
	}
	a.heads[i] = q
	a.primed[i] = true
	return q, nil
}

// align advances every list to the candidate identifier, restarting the walk
// whenever a list overshoots.
func (a *andPostingList) align(candidate *Posting) (*Posting, error) {
	for {
		matched := true
		a.currents[0] = candidate
		for i := 1; i < len(a.lists); i++ {
			q, err := a.head(i, candidate.ID)
			if err != nil {
				return nil, err
			}
			if q == nil {
				return nil, nil
			}
			if q.ID != candidate.ID {
				// Overshoot: move the driver to the new candidate.
				p, err := a.lists[0].Skip(q.ID, false)
				if err != nil || p == nil {
					return nil, err
				}
				candidate = p
				matched = false
				break
			}
			a.currents[i] = q
		}
		if matched {
			return candidate, nil
		}
	}
}

func (a *andPostingList) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var err error
	for _, pl := range a.lists {
		err = multierr.Append(err, pl.Close())
	}
	return err
}

// sievePostingList yields source postings whose identifiers do not appear in
// the excluded stream, advancing the excluded stream in lock-step. The last
// excluded posting is cached so a probe for one source identifier cannot
// swallow the exclusion of the next.
type sievePostingList struct {
	src     PostingList
	excl    PostingList
	head    *Posting
	primed  bool
	reverse bool
	closed  bool
}

func newSievePostingList(src, excl PostingList, reverse bool) *sievePostingList {
	return &sievePostingList{src: src, excl: excl, reverse: reverse}
}

func (s *sievePostingList) Next() (*Posting, error) {
	p, err := s.src.Next()
	if err != nil {
		return nil, err
	}
	return s.filter(p)
}

func (s *sievePostingList) Skip(target evid.EVID, strict bool) (*Posting, error) {
	p, err := s.src.Skip(target, strict)
	if err != nil {
		return nil, err
	}
	return s.filter(p)
}

func (s *sievePostingList) filter(p *Posting) (*Posting, error) {
	for p != nil {
		if !s.primed || (s.head != nil && !reached(s.head.ID, p.ID, s.reverse, false)) {
			q, err := s.excl.Skip(p.ID, false)
			if err != nil {
				return nil, err
			}
			s.head = q
			s.primed = true
		}
		if s.head == nil || s.head.ID != p.ID {
			return p, nil
		}
		var err error
		if p, err = s.src.Next(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *sievePostingList) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return multierr.Append(s.src.Close(), s.excl.Close())
}

// phrasePostingList intersects the token posting lists of a phrase and
// yields only events where the tokens occupy consecutive positions. The
// lists are in phrase order; the intersection metadata per token comes from
// the aligned currents of the inner conjunction.
type phrasePostingList struct {
	inner *andPostingList
}

func newPhrasePostingList(lists []PostingList, reverse bool) *phrasePostingList {
	return &phrasePostingList{inner: newAndPostingList(lists, reverse)}
}

func (p *phrasePostingList) Next() (*Posting, error) {
	cand, err := p.inner.Next()
	if err != nil {
		return nil, err
	}
	return p.filter(cand)
}

func (p *phrasePostingList) Skip(target evid.EVID, strict bool) (*Posting, error) {
	cand, err := p.inner.Skip(target, strict)
	if err != nil {
		return nil, err
	}
	return p.filter(cand)
}

func (p *phrasePostingList) filter(cand *Posting) (*Posting, error) {
	for cand != nil {
		if p.consecutive() {
			return cand, nil
		}
		var err error
		if cand, err = p.inner.Next(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// consecutive checks that some occurrence of the first token is followed by
// the remaining tokens at adjacent positions.
func (p *phrasePostingList) consecutive() bool {
	positions := make([][]int64, len(p.inner.currents))
	for i, cur := range p.inner.currents {
		if cur == nil {
			return false
		}
		positions[i] = models.Positions(cur.Meta)
	}
	for _, start := range positions[0] {
		run := true
		for i := 1; i < len(positions); i++ {
			if !containsPos(positions[i], start+int64(i)) {
				run = false
				break
			}
		}
		if run {
			return true
		}
	}
	return false
}

func containsPos(positions []int64, want int64) bool {
	for _, p := range positions {
		if p == want {
			return true
		}
	}
	return false
}

func (p *phrasePostingList) Close() error { return p.inner.Close() }
