// Package spreadsheet provides a small in-memory table abstraction over
// xlsx workbooks. All cells are treated as strings so literal values like
// "N/A" survive a round trip instead of being coerced to missing values.
package spreadsheet

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Table is the first sheet of a workbook: a header row plus data rows.
// Rows are padded to the header width on load.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Load reads the first sheet of the workbook at path.
func Load(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()
	return fromFile(f, path)
}

// FromBytes reads the first sheet of an in-memory workbook.
func FromBytes(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return fromFile(f, "<bytes>")
}

func fromFile(f *excelize.File, name string) (*Table, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", name)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s of %s: %w", sheets[0], name, err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}

	t := &Table{Headers: rows[0], Rows: make([][]string, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		// excelize trims trailing empty cells; pad to header width so
		// column lookups stay in bounds.
		padded := make([]string, len(t.Headers))
		copy(padded, row)
		t.Rows = append(t.Rows, padded)
	}
	return t, nil
}

// Bytes serializes the table as an xlsx workbook.
func (t *Table) Bytes() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &t.Headers); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to compute cell for row %d: %w", i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Col returns the index of the named column.
func (t *Table) Col(name string) (int, bool) {
	for i, h := range t.Headers {
		if h == name {
			return i, true
		}
	}
	return 0, false
}

// Get returns the cell at (row, column name), or "" when the column is
// unknown or the row is out of range.
func (t *Table) Get(row int, col string) string {
	i, ok := t.Col(col)
	if !ok || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// Set writes the cell at (row, column name).
func (t *Table) Set(row int, col, value string) error {
	i, ok := t.Col(col)
	if !ok {
		return fmt.Errorf("unknown column %q", col)
	}
	if row < 0 || row >= len(t.Rows) {
		return fmt.Errorf("row %d out of range (%d rows)", row, len(t.Rows))
	}
	for i >= len(t.Rows[row]) {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][i] = value
	return nil
}

// AppendColumn adds a column initialized to fill for every row. Appending
// an existing column name is a no-op.
func (t *Table) AppendColumn(name, fill string) {
	if _, ok := t.Col(name); ok {
		return
	}
	t.Headers = append(t.Headers, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], fill)
	}
}
