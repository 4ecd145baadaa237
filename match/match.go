// Package match implements the query plan tree: matcher nodes compiled from
// query text, their optimization against a concrete index schema, and the
// posting-list iterators that execute them.
package match

import (
	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/models"
)

// Index is the schema surface a matcher needs during optimization. GetField
// resolves a (name, type) pair; an empty type means "the unique type of this
// field" and an empty name means the default field. A nil result with nil
// error means the field does not exist, which makes matchers on it provably
// empty.
type Index interface {
	GetField(name, typ string) (*field.QualifiedField, error)
}

// Searcher is the per-index snapshot surface a matcher executes against.
// A nil field on PostingsLength / IterAll addresses the raw event table.
// A nil term bound on the Between variants means unbounded.
type Searcher interface {
	PostingsLength(f *field.QualifiedField, term interface{}, start, end evid.EVID) (float64, error)
	PostingsLengthBetween(f *field.QualifiedField, startTerm, endTerm interface{}, startExcl, endExcl bool, start, end evid.EVID) (float64, error)
	IterPostings(f *field.QualifiedField, term interface{}, start, end evid.EVID) (PostingList, error)
	IterPostingsBetween(f *field.QualifiedField, startTerm, endTerm interface{}, startExcl, endExcl bool, start, end evid.EVID) (PostingList, error)
	IterAll(start, end evid.EVID) (PostingList, error)
}

// EventSource fetches the stored event for a posting. Posting lists thread
// it through so merged multi-index results can resolve events against the
// searcher that produced them.
type EventSource interface {
	GetEvent(id evid.EVID) (*models.Event, error)
}

// Posting is one match: the event identifier, the per-occurrence metadata,
// and the source able to resolve the event.
type Posting struct {
	ID     evid.EVID
	Meta   models.Value
	Source EventSource
}

// PostingList yields postings in the direction fixed at construction.
// Next and Skip return nil at exhaustion.
type PostingList interface {
	// Next advances to the next posting.
	Next() (*Posting, error)
	// Skip seeks to the first posting at or beyond target in the iteration
	// direction; with strict set, a posting exactly at target is stepped
	// over.
	Skip(target evid.EVID, strict bool) (*Posting, error)
	Close() error
}

// Matcher is a node of the query plan.
type Matcher interface {
	// Optimize specializes the matcher against an index schema. It may
	// return a transformed matcher or nil when the matcher is provably
	// empty. Optimize never mutates the receiver, so the same parsed tree
	// can be optimized against many indexes.
	Optimize(idx Index) (Matcher, error)
	// EstimateLength approximates the number of postings the matcher will
	// yield in the identifier range; the executor orders conjunctions by it.
	EstimateLength(sr Searcher, start, end evid.EVID) (float64, error)
	// Iterate opens the posting stream over [start, end]. Iteration runs
	// forward when start <= end and in reverse otherwise.
	Iterate(sr Searcher, start, end evid.EVID) (PostingList, error)
	String() string
}

// Forward reports the iteration direction implied by the bounds.
func Forward(start, end evid.EVID) bool { return evid.Compare(start, end) <= 0 }

// before reports whether a sorts strictly before b in the given direction.
func before(a, b evid.EVID, reverse bool) bool {
	if reverse {
		return evid.Compare(a, b) > 0
	}
	return evid.Compare(a, b) < 0
}

// reached reports whether the posting id satisfies a skip to target.
func reached(id, target evid.EVID, reverse, strict bool) bool {
	c := evid.Compare(id, target)
	if reverse {
		c = -c
	}
	if strict {
		return c > 0
	}
	return c >= 0
}
