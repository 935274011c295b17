package export

import (
	"PCIeSpectra/internal/model"
)

// entrySeq is the resume key for an entry: a record's own sequence number,
// or the end of an overflow marker's gap range.
func entrySeq(e *model.Entry) uint64 {
	if e.Kind == model.EntryOverflow {
		return e.GapLast
	}
	return e.Record.Seq
}

// Drain delivers entries past lastAcked to the exporter in order, invoking
// acked after each confirmed delivery. On failure it returns the highest
// acknowledged sequence together with the error; the caller retries from
// there, so the host never sees a duplicate or a skipped entry.
func Drain(entries []*model.Entry, lastAcked uint64, exp model.Exporter, acked func(uint64)) (uint64, error) {
	for _, e := range entries {
		seq := entrySeq(e)
		if seq <= lastAcked {
			continue
		}
		if err := exp.Send(seq, Encode(e)); err != nil {
			return lastAcked, err
		}
		lastAcked = seq
		if acked != nil {
			acked(seq)
		}
	}
	return lastAcked, nil
}
