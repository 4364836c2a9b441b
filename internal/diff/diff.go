// Package diff computes per-row field changes between a fetched grid snapshot
// and the user's edited copy. It performs no I/O.
package diff

import (
	"errors"
	"fmt"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/table"
)

// ErrShapeMismatch is returned when positional diffing is asked to compare
// snapshots with a different number of rows.
var ErrShapeMismatch = errors.New("original and edited snapshots differ in row count")

// ChangeSet maps field name to the new value to send for that field.
type ChangeSet map[string]any

// RowChange is the change set for one row of the original snapshot.
type RowChange struct {
	Row     int       `json:"row"`
	ID      string    `json:"id,omitempty"`
	Changes ChangeSet `json:"changes"`
}

// Comparator reports whether two grid values should be treated as equal.
type Comparator func(original, edited any) bool

// StringEqual compares the stringified forms. Numeric and textual renderings
// of the same value, or values differing only in whitespace, count as changed.
func StringEqual(original, edited any) bool {
	return codec.Stringify(original) == codec.Stringify(edited)
}

type options struct {
	equal  Comparator
	fields []string
}

// Option customises a diff run.
type Option func(*options)

// WithComparator swaps the equality used for change detection.
func WithComparator(c Comparator) Option {
	return func(o *options) {
		if c != nil {
			o.equal = c
		}
	}
}

// WithFields restricts the compared columns. The identifier and backend-owned
// columns are dropped from the list regardless.
func WithFields(fields ...string) Option {
	return func(o *options) {
		o.fields = fields
	}
}

func buildOptions(opts []Option) options {
	o := options{equal: StringEqual, fields: codec.EditableFields}
	for _, opt := range opts {
		opt(&o)
	}
	editable := make([]string, 0, len(o.fields))
	for _, f := range o.fields {
		if !codec.IsReadOnlyField(f) {
			editable = append(editable, f)
		}
	}
	o.fields = editable
	return o
}

// Diff compares original and edited row by row. Row identity is positional:
// edited.Rows[i] is the edited form of original.Rows[i], and original.IDs
// supplies the identifier for each emitted change.
func Diff(original, edited table.Snapshot, opts ...Option) ([]RowChange, error) {
	if original.Len() != edited.Len() {
		return nil, fmt.Errorf("%w: %d vs %d", ErrShapeMismatch, original.Len(), edited.Len())
	}
	o := buildOptions(opts)

	changes := make([]RowChange, 0)
	for i := range original.Rows {
		set := compareRow(original.Rows[i], edited.Rows[i], o)
		if len(set) == 0 {
			continue
		}
		rc := RowChange{Row: i, Changes: set}
		if i < len(original.IDs) {
			rc.ID = original.IDs[i]
		}
		changes = append(changes, rc)
	}
	return changes, nil
}

// Result is the outcome of DiffByID.
type Result struct {
	Changes []RowChange `json:"changes"`
	// Unmatched lists edited identifiers that are not in the original snapshot.
	Unmatched []string `json:"unmatched,omitempty"`
}

// DiffByID matches edited rows to original rows by identifier, so the edited
// grid may be reordered or filtered after the fetch. Changes are returned in
// original row order.
func DiffByID(original, edited table.Snapshot, opts ...Option) (Result, error) {
	index, err := original.IndexByID()
	if err != nil {
		return Result{}, fmt.Errorf("original snapshot: %w", err)
	}
	if err := edited.Validate(); err != nil {
		return Result{}, fmt.Errorf("edited snapshot: %w", err)
	}
	o := buildOptions(opts)

	byRow := make(map[int]ChangeSet)
	seen := make(map[string]struct{}, len(edited.IDs))
	result := Result{Changes: make([]RowChange, 0)}
	for i, id := range edited.IDs {
		row, ok := index[id]
		if !ok {
			result.Unmatched = append(result.Unmatched, id)
			continue
		}
		if _, dup := seen[id]; dup {
			return Result{}, fmt.Errorf("edited snapshot: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if set := compareRow(original.Rows[row], edited.Rows[i], o); len(set) > 0 {
			byRow[row] = set
		}
	}

	for row := range original.Rows {
		if set, ok := byRow[row]; ok {
			result.Changes = append(result.Changes, RowChange{Row: row, ID: original.IDs[row], Changes: set})
		}
	}
	return result, nil
}

func compareRow(original, edited table.Row, o options) ChangeSet {
	set := make(ChangeSet)
	for _, field := range o.fields {
		before := original.Get(field)
		after := edited.Get(field)
		if o.equal(before, after) {
			continue
		}
		if codec.IsListField(field) {
			set[field] = codec.TextToListValue(after)
		} else {
			set[field] = after
		}
	}
	return set
}
