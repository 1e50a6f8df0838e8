package dialogue

import "sync/atomic"

// Holder publishes the current table to concurrent readers
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder creates a holder. A nil initial table starts degraded.
func NewHolder(initial *Table) *Holder {
	h := &Holder{}
	if initial == nil {
		initial = DegradedTable("")
	}
	h.table.Store(initial)
	return h
}

// Load returns the current table
func (h *Holder) Load() *Table {
	return h.table.Load()
}

// Swap installs t and returns the previous table
func (h *Holder) Swap(t *Table) *Table {
	return h.table.Swap(t)
}
