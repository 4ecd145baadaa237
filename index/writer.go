package index

import (
	"github.com/logsift/logsift/evid"
	"github.com/logsift/logsift/field"
	"github.com/logsift/logsift/kit/errors"
	"github.com/logsift/logsift/kv"
	"github.com/logsift/logsift/models"
)

// Writer is a single write transaction against the index's current segment.
// Commit or Abort consumes it.
type Writer struct {
	idx    *Index
	txn    *kv.Txn
	seg    *Segment
	schema *Schema
	update models.LastUpdate
	done   bool
}

// NewWriter opens a write transaction on the current segment.
func (i *Index) NewWriter() (*Writer, error) {
	txn, err := i.env.Begin(true)
	if err != nil {
		return nil, err
	}
	segments := txn.Bucket(bucketIndexes, []byte(i.name), bucketSegments)
	seg := openSegment(segments, i.CurrentSegment())
	if seg == nil {
		txn.Rollback()
		return nil, errors.New(errors.EStorage, "current segment missing for index %q", i.name)
	}
	update, err := seg.LastUpdate()
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	return &Writer{
		idx:    i,
		txn:    txn,
		seg:    seg,
		schema: newSchema(txn.Bucket(bucketIndexes, []byte(i.name), bucketSchema), i.reg),
		update: update,
	}, nil
}

// Schema exposes the schema bound to the writer's transaction.
func (w *Writer) Schema() *Schema { return w.schema }

// NewEvent validates the fields, extends the schema as needed, and stores
// the event record. Ephemeral fields (leading underscore) are stripped.
// The stored canonical fields are returned for posting generation.
func (w *Writer) NewEvent(id evid.EVID, fields []models.EventField) ([]models.EventField, error) {
	if w.done {
		return nil, errors.New(errors.EInternal, "writer already finished")
	}
	if !w.update.LastID.IsZero() && evid.Compare(id, w.update.LastID) <= 0 {
		return nil, errors.New(errors.EValidate,
			"event id %s does not advance the segment (last %s)", id, w.update.LastID)
	}

	stored := make([]models.EventField, 0, len(fields))
	for _, f := range fields {
		if field.Ephemeral(f.Name) {
			continue
		}
		qf, err := w.schema.GetField(f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		if qf == nil {
			if qf, err = w.schema.Add(f.Name, f.Type); err != nil {
				return nil, err
			}
		}
		canon, err := qf.Type.Validate(f.Value)
		if err != nil {
			return nil, err
		}
		stored = append(stored, models.EventField{Name: f.Name, Type: f.Type, Value: canon})
	}

	for _, required := range []string{models.InputField, models.HostnameField, models.DefaultField} {
		if !hasField(stored, required) {
			return nil, errors.New(errors.EValidate, "event is missing required field %q", required)
		}
	}

	size, err := w.seg.PutEvent(id, stored)
	if err != nil {
		return nil, err
	}
	w.update.Size += int64(size)
	w.update.LastID = id

	for _, f := range stored {
		stats, _, err := w.seg.GetFieldStats(f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		stats.DocCount++
		if err := w.seg.PutFieldStats(f.Name, f.Type, stats); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// NewPosting stores one posting and merges the per-term and per-field
// counters.
func (w *Writer) NewPosting(qf *field.QualifiedField, term field.Term, id evid.EVID) error {
	if w.done {
		return errors.New(errors.EInternal, "writer already finished")
	}
	name, typ := qf.Key()

	freq := int64(len(models.Positions(term.Meta)))
	if freq == 0 {
		freq = 1
	}

	stats, _, err := w.seg.GetTerm(name, typ, term.Value)
	if err != nil {
		return err
	}
	stats.NDocs++
	stats.Freq += freq
	if err := w.seg.PutTerm(name, typ, term.Value, stats); err != nil {
		return err
	}

	fstats, _, err := w.seg.GetFieldStats(name, typ)
	if err != nil {
		return err
	}
	fstats.Length += freq
	if freq > fstats.MaxFreq {
		fstats.MaxFreq = freq
	}
	if err := w.seg.PutFieldStats(name, typ, fstats); err != nil {
		return err
	}

	return w.seg.PutPosting(name, typ, term.Value, id, term.Meta)
}

// AddEvent stores an event and indexes every stored field in one call.
func (w *Writer) AddEvent(id evid.EVID, fields []models.EventField) error {
	stored, err := w.NewEvent(id, fields)
	if err != nil {
		return err
	}
	for _, f := range stored {
		qf, err := w.schema.GetField(f.Name, f.Type)
		if err != nil {
			return err
		}
		terms, err := qf.Type.Parse(f.Value)
		if err != nil {
			return err
		}
		for _, term := range terms {
			if err := w.NewPosting(qf, term, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit flushes the transaction and publishes the segment summary.
func (w *Writer) Commit() error {
	if w.done {
		return errors.New(errors.EInternal, "writer already finished")
	}
	w.done = true
	w.update.LastModified = w.idx.clk.Now().UTC()
	if err := w.seg.SetLastUpdate(w.update); err != nil {
		w.txn.Rollback()
		return err
	}
	if err := w.txn.Commit(); err != nil {
		return err
	}
	w.idx.setUpdate(w.seg.ID(), w.update)
	return nil
}

// Abort discards the transaction.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.txn.Rollback()
}

func hasField(fields []models.EventField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
