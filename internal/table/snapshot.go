// Package table holds the editable grid view of the card collection: a
// snapshot of display rows plus the identifiers aligned with them.
package table

import (
	"errors"
	"fmt"

	"github.com/octobees/cardscan/api/internal/codec"
	"github.com/octobees/cardscan/api/internal/entity"
)

// ErrMisaligned is returned when a snapshot's identifier list does not line up
// with its rows.
var ErrMisaligned = errors.New("snapshot ids and rows are misaligned")

// Row is one grid row keyed by field name. List fields hold comma-joined text.
type Row map[string]any

// Get returns the value for field, treating a missing key as empty text.
func (r Row) Get(field string) any {
	if v, ok := r[field]; ok && v != nil {
		return v
	}
	return ""
}

// Snapshot is the grid as fetched from the backend. IDs[i] identifies Rows[i];
// the identifier itself is never part of a row.
type Snapshot struct {
	IDs  []string `json:"ids"`
	Rows []Row    `json:"rows"`
}

// FromCards builds a display snapshot, preserving backend order.
func FromCards(cards []entity.Card) Snapshot {
	snap := Snapshot{
		IDs:  make([]string, 0, len(cards)),
		Rows: make([]Row, 0, len(cards)),
	}
	for _, card := range cards {
		snap.IDs = append(snap.IDs, card.ID)
		snap.Rows = append(snap.Rows, RowFromCard(card))
	}
	return snap
}

// RowFromCard flattens a card into its grid form.
func RowFromCard(card entity.Card) Row {
	fields := card.Fields()
	row := make(Row, len(codec.GridColumns))
	for _, column := range codec.GridColumns {
		row[column] = codec.ListToText(fields[column])
	}
	return row
}

// Len reports the number of rows.
func (s Snapshot) Len() int {
	return len(s.Rows)
}

// Validate checks the positional alignment between IDs and rows.
func (s Snapshot) Validate() error {
	if len(s.IDs) != len(s.Rows) {
		return fmt.Errorf("%w: %d ids for %d rows", ErrMisaligned, len(s.IDs), len(s.Rows))
	}
	return nil
}

// IndexByID maps each identifier to its row position. Duplicate identifiers
// are reported as an error since they make identity ambiguous.
func (s Snapshot) IndexByID() (map[string]int, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(s.IDs))
	for i, id := range s.IDs {
		if id == "" {
			return nil, fmt.Errorf("row %d has an empty id", i)
		}
		if prev, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate id %q on rows %d and %d", id, prev, i)
		}
		index[id] = i
	}
	return index, nil
}
