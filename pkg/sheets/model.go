package sheets

import (
	"context"
	"strconv"
	"strings"
)

// Store is the set of primitive calls the tabular backend offers. Callers are
// expected to pass each call through the retry wrapper.
type Store interface {
	// GetRange returns the values of a range. Trailing empty rows and cells are omitted.
	GetRange(ctx context.Context, r Range) ([][]string, error)
	// BatchGetRanges reads several ranges in one call, results in request order.
	BatchGetRanges(ctx context.Context, ranges []Range) ([][][]string, error)
	// UpdateRange writes values starting at the top-left corner of r.
	UpdateRange(ctx context.Context, r Range, values [][]string) error
	// AppendRow writes row after the last used row of the sheet.
	AppendRow(ctx context.Context, sheet string, row []string) error
	// ClearRange empties the cells of r without moving other cells.
	ClearRange(ctx context.Context, r Range) error
	// ListSheets returns the sheets of the spreadsheet.
	ListSheets(ctx context.Context) ([]SheetInfo, error)
	// AddSheet creates an empty sheet.
	AddSheet(ctx context.Context, title string) error
	// DeleteRows physically removes rows [start, end) (0-based) of the grid,
	// shifting subsequent rows up.
	DeleteRows(ctx context.Context, gridID int64, start, end int) error
}

// SheetInfo identifies a sheet by title and grid id.
type SheetInfo struct {
	Title  string
	GridID int64
}

// MaxBatchRanges is the number of ranges sent in a single batch read.
const MaxBatchRanges = 120

// Range addresses a rectangle of cells. Rows and columns are 1-based; a zero
// bound means the range is open on that side.
type Range struct {
	Sheet    string
	StartCol int
	EndCol   int
	StartRow int
	EndRow   int
}

// WholeSheet addresses every used cell of a sheet.
func WholeSheet(sheet string) Range {
	return Range{Sheet: sheet}
}

// Rows addresses full rows from..to inclusive, e.g. '1:1'.
func Rows(sheet string, from, to int) Range {
	return Range{Sheet: sheet, StartRow: from, EndRow: to}
}

// Column addresses a single column (0-based index) from fromRow to the end.
func Column(sheet string, col, fromRow int) Range {
	return Range{Sheet: sheet, StartCol: col + 1, EndCol: col + 1, StartRow: fromRow}
}

// RowCells addresses the first width cells of a single row.
func RowCells(sheet string, row, width int) Range {
	return Range{Sheet: sheet, StartCol: 1, EndCol: width, StartRow: row, EndRow: row}
}

// A1 renders the range in A1 notation with a quoted sheet name.
func (r Range) A1() string {
	name := QuoteSheet(r.Sheet)
	if r.StartCol == 0 && r.StartRow == 0 {
		return name
	}
	start, end := corner(r.StartCol, r.StartRow), corner(r.EndCol, r.EndRow)
	if end == "" {
		return name + "!" + start
	}
	return name + "!" + start + ":" + end
}

// Anchor addresses the single cell at col/row (1-based); writes spill right and down from it.
func Anchor(sheet string, col, row int) Range {
	return Range{Sheet: sheet, StartCol: col, StartRow: row}
}

func (r Range) String() string {
	return r.A1()
}

func corner(col, row int) string {
	var out string
	if col > 0 {
		out = ColumnLetter(col - 1)
	}
	if row > 0 {
		out += strconv.Itoa(row)
	}
	return out
}

// QuoteSheet quotes a sheet title for use in A1 notation.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ColumnLetter converts a 0-based column index to its bijective base-26
// letter address: 0 -> A, 25 -> Z, 26 -> AA.
func ColumnLetter(index int) string {
	n := index + 1
	var buf []byte
	for n > 0 {
		rem := (n - 1) % 26
		buf = append(buf, byte('A'+rem))
		n = (n - 1) / 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
