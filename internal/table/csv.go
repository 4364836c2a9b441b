package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/octobees/cardscan/api/internal/codec"
)

// CSVValidationError indicates that a grid CSV cannot be read back.
type CSVValidationError struct {
	Message string
}

// Error implements the error interface.
func (e CSVValidationError) Error() string {
	return e.Message
}

// WriteCSV writes the snapshot as a flat sheet in grid column order. The
// identifier column is only written when withID is set.
func WriteCSV(w io.Writer, snap Snapshot, withID bool) error {
	if withID {
		if err := snap.Validate(); err != nil {
			return err
		}
	}

	writer := csv.NewWriter(w)
	header := make([]string, 0, len(codec.GridColumns)+1)
	if withID {
		header = append(header, codec.FieldID)
	}
	header = append(header, codec.GridColumns...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, row := range snap.Rows {
		record := make([]string, 0, len(header))
		if withID {
			record = append(record, snap.IDs[i])
		}
		for _, column := range codec.GridColumns {
			record = append(record, codec.Stringify(row.Get(column)))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadCSV parses a sheet produced by WriteCSV, possibly edited by hand. Every
// editable column must be present; unknown columns are ignored. When the sheet
// has no identifier column the returned snapshot has no IDs. Cell values are
// kept exactly as written; only header names and identifiers are trimmed.
func ReadCSV(r io.Reader) (Snapshot, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Snapshot{}, CSVValidationError{Message: "csv file is empty"}
		}
		return Snapshot{}, fmt.Errorf("read csv header: %w", err)
	}

	index, err := buildHeaderIndex(header)
	if err != nil {
		return Snapshot{}, err
	}
	idCol, hasID := index[codec.FieldID]

	snap := Snapshot{Rows: []Row{}}
	if hasID {
		snap.IDs = []string{}
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("read csv row: %w", err)
		}

		row := make(Row, len(codec.GridColumns))
		for _, column := range codec.GridColumns {
			if i, ok := index[column]; ok {
				row[column] = record[i]
			}
		}
		snap.Rows = append(snap.Rows, row)
		if hasID {
			snap.IDs = append(snap.IDs, strings.TrimSpace(record[idCol]))
		}
	}
	return snap, nil
}

func buildHeaderIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}

	missing := make([]string, 0)
	for _, required := range codec.EditableFields {
		if _, ok := index[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, CSVValidationError{Message: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))}
	}
	return index, nil
}
