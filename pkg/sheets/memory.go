package sheets

import (
	"context"
	"slices"
	"sync"
)

// Primitive names used by MemoryStore call accounting and fault injection.
const (
	OpGetRange   = "GetRange"
	OpBatchGet   = "BatchGetRanges"
	OpUpdate     = "UpdateRange"
	OpAppend     = "AppendRow"
	OpClear      = "ClearRange"
	OpListSheets = "ListSheets"
	OpAddSheet   = "AddSheet"
	OpDeleteRows = "DeleteRows"
)

type memSheet struct {
	title  string
	gridID int64
	rows   [][]string
}

// MemoryStore is an in-process Store with the same range semantics as the
// Sheets API. It backs tests and local runs without credentials.
type MemoryStore struct {
	mu     sync.Mutex
	sheets []*memSheet
	nextID int64
	calls  map[string]int

	// Fail, when set, is consulted before each primitive; a non-nil result
	// fails the call without touching any data.
	Fail func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]int)}
}

// Calls returns how many times the primitive op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ResetCalls zeroes every call counter.
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// SetRows replaces the content of a sheet, creating it if needed.
func (m *MemoryStore) SetRows(sheet string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.find(sheet)
	if sh == nil {
		sh = m.add(sheet)
	}
	sh.rows = cloneRows(rows)
}

// Snapshot returns a copy of a sheet's rows, or nil if it does not exist.
func (m *MemoryStore) Snapshot(sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.find(sheet)
	if sh == nil {
		return nil
	}
	return cloneRows(sh.rows)
}

func (m *MemoryStore) enter(op string) error {
	m.calls[op]++
	if m.Fail != nil {
		return m.Fail(op)
	}
	return nil
}

func (m *MemoryStore) find(title string) *memSheet {
	for _, sh := range m.sheets {
		if sh.title == title {
			return sh
		}
	}
	return nil
}

func (m *MemoryStore) add(title string) *memSheet {
	sh := &memSheet{title: title, gridID: m.nextID}
	m.nextID++
	m.sheets = append(m.sheets, sh)
	return sh
}

func (m *MemoryStore) sheet(op string, r Range) (*memSheet, error) {
	sh := m.find(r.Sheet)
	if sh == nil {
		return nil, Errorf(KindPermanent, op, r.Sheet, "unable to parse range: %s", r.A1())
	}
	return sh, nil
}

func (m *MemoryStore) GetRange(ctx context.Context, r Range) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetRange); err != nil {
		return nil, err
	}
	sh, err := m.sheet(OpGetRange, r)
	if err != nil {
		return nil, err
	}
	return sh.read(r), nil
}

func (m *MemoryStore) BatchGetRanges(ctx context.Context, ranges []Range) ([][][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpBatchGet); err != nil {
		return nil, err
	}
	if len(ranges) > MaxBatchRanges {
		return nil, Errorf(KindPermanent, OpBatchGet, "", "too many ranges: %d", len(ranges))
	}
	out := make([][][]string, len(ranges))
	for i, r := range ranges {
		sh, err := m.sheet(OpBatchGet, r)
		if err != nil {
			return nil, err
		}
		out[i] = sh.read(r)
	}
	return out, nil
}

func (m *MemoryStore) UpdateRange(ctx context.Context, r Range, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdate); err != nil {
		return err
	}
	sh, err := m.sheet(OpUpdate, r)
	if err != nil {
		return err
	}
	startRow, startCol := max(r.StartRow, 1), max(r.StartCol, 1)
	for i, vals := range values {
		for j, v := range vals {
			sh.set(startRow+i, startCol+j, v)
		}
	}
	return nil
}

func (m *MemoryStore) AppendRow(ctx context.Context, sheet string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAppend); err != nil {
		return err
	}
	sh, err := m.sheet(OpAppend, WholeSheet(sheet))
	if err != nil {
		return err
	}
	sh.rows = append(sh.rows[:sh.lastUsed()], slices.Clone(row))
	return nil
}

func (m *MemoryStore) ClearRange(ctx context.Context, r Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpClear); err != nil {
		return err
	}
	sh, err := m.sheet(OpClear, r)
	if err != nil {
		return err
	}
	startRow, endRow := max(r.StartRow, 1), r.EndRow
	if endRow == 0 || endRow > len(sh.rows) {
		endRow = len(sh.rows)
	}
	for row := startRow; row <= endRow; row++ {
		cells := sh.rows[row-1]
		startCol, endCol := max(r.StartCol, 1), r.EndCol
		if endCol == 0 || endCol > len(cells) {
			endCol = len(cells)
		}
		for col := startCol; col <= endCol; col++ {
			cells[col-1] = ""
		}
	}
	return nil
}

func (m *MemoryStore) ListSheets(ctx context.Context) ([]SheetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListSheets); err != nil {
		return nil, err
	}
	out := make([]SheetInfo, len(m.sheets))
	for i, sh := range m.sheets {
		out[i] = SheetInfo{Title: sh.title, GridID: sh.gridID}
	}
	return out, nil
}

func (m *MemoryStore) AddSheet(ctx context.Context, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAddSheet); err != nil {
		return err
	}
	if m.find(title) != nil {
		return Errorf(KindPermanent, OpAddSheet, title, "a sheet with the name %q already exists", title)
	}
	m.add(title)
	return nil
}

func (m *MemoryStore) DeleteRows(ctx context.Context, gridID int64, start, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteRows); err != nil {
		return err
	}
	for _, sh := range m.sheets {
		if sh.gridID != gridID {
			continue
		}
		if start < 0 || end < start {
			return Errorf(KindPermanent, OpDeleteRows, sh.title, "invalid row span [%d,%d)", start, end)
		}
		if start >= len(sh.rows) {
			return nil
		}
		sh.rows = slices.Delete(sh.rows, start, min(end, len(sh.rows)))
		return nil
	}
	return Errorf(KindPermanent, OpDeleteRows, "", "no grid with id %d", gridID)
}

func (sh *memSheet) read(r Range) [][]string {
	startRow, endRow := max(r.StartRow, 1), r.EndRow
	if endRow == 0 || endRow > len(sh.rows) {
		endRow = len(sh.rows)
	}
	var out [][]string
	for row := startRow; row <= endRow; row++ {
		cells := sh.rows[row-1]
		startCol, endCol := max(r.StartCol, 1), r.EndCol
		if endCol == 0 || endCol > len(cells) {
			endCol = len(cells)
		}
		var picked []string
		if startCol <= endCol {
			picked = slices.Clone(cells[startCol-1 : endCol])
		}
		out = append(out, trimCells(picked))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out
}

func (sh *memSheet) set(row, col int, v string) {
	for len(sh.rows) < row {
		sh.rows = append(sh.rows, nil)
	}
	cells := sh.rows[row-1]
	for len(cells) < col {
		cells = append(cells, "")
	}
	cells[col-1] = v
	sh.rows[row-1] = cells
}

// lastUsed returns the number of rows up to and including the last non-empty one.
func (sh *memSheet) lastUsed() int {
	for i := len(sh.rows) - 1; i >= 0; i-- {
		if len(trimCells(sh.rows[i])) > 0 {
			return i + 1
		}
	}
	return 0
}

func trimCells(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	if n == 0 {
		return []string{}
	}
	return cells[:n]
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
