package store

import (
	"context"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/sheets"
)

type fetchedRow struct {
	row int
	rec Record
}

// Scan reads the whole sheet and returns the records accepted by pred, in row
// order. A nil pred accepts everything. An empty sheet yields no records.
func (db *DB) Scan(ctx context.Context, sheet string, pred func(Record) bool) ([]Record, error) {
	header, rows, err := db.readAll(ctx, "scan", sheet)
	if err != nil || len(header) == 0 {
		return nil, err
	}
	var out []Record
	for _, cells := range rows {
		rec := Decode(header, cells)
		if pred == nil || pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// readAll returns the header row and data rows of sheet. The header row read
// here also refreshes the header cache.
func (db *DB) readAll(ctx context.Context, op, sheet string) ([]string, [][]string, error) {
	values, err := db.getRange(ctx, op, sheets.WholeSheet(sheet))
	if err != nil {
		return nil, nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, nil, nil
	}
	db.headers.Put(sheet, values[0])
	return values[0], values[1:], nil
}

// Append projects rec onto the header row and appends it after the last used
// row. Fields that are not columns of the sheet are dropped.
func (db *DB) Append(ctx context.Context, sheet string, rec Record) error {
	headers, err := db.requireHeaders(ctx, "append", sheet)
	if err != nil {
		return err
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		for field := range rec {
			if !slices.Contains(headers, field) {
				log.WithFields(log.Fields{"sheet": sheet, "field": field}).Debug("Dropping unknown field on append")
			}
		}
	}

	values := Project(headers, rec)
	err = run(ctx, db, "append", sheet, func(ctx context.Context) error {
		return db.store.AppendRow(ctx, sheet, values)
	})
	if err != nil {
		return err
	}
	db.invalidateIndex(sheet)
	return nil
}

// GetByIndex returns the live row whose indexed key equals key. When owner is
// non-empty the row must also belong to owner. Not found is (nil, false, nil).
func (db *DB) GetByIndex(ctx context.Context, sheet, key, owner string) (Record, bool, error) {
	ic, err := db.index("get by index", sheet)
	if err != nil {
		return nil, false, err
	}
	loc, ok, err := db.lookup(ctx, ic, key, owner)
	return loc.rec, ok, err
}

// GetManyByOwner returns every row the index attributes to owner, in row
// order, using one batch read per chunk of rows. Rows whose owner column no
// longer matches trigger a single rebuild and refetch.
func (db *DB) GetManyByOwner(ctx context.Context, sheet, owner string) ([]Record, error) {
	ic, err := db.index("get many by owner", sheet)
	if err != nil {
		return nil, err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, nil
	}

	var out []Record
	for attempt := 0; attempt < 2; attempt++ {
		idx, err := ic.Ensure(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		rows := idx.ByOwner[owner]
		if len(rows) == 0 {
			return nil, nil
		}
		_, fetched, err := db.fetchRows(ctx, sheet, rows)
		if err != nil {
			return nil, err
		}

		out = out[:0]
		consistent := true
		for _, f := range fetched {
			if strings.TrimSpace(f.rec[ic.spec.OwnerColumn]) == owner && ic.spec.normalize(f.rec[ic.spec.KeyColumn]) != "" {
				out = append(out, f.rec)
			} else {
				consistent = false
			}
		}
		if consistent {
			break
		}
		log.WithFields(log.Fields{"sheet": sheet, "owner": owner}).Debug("Owner rows shifted, rebuilding index")
	}
	return out, nil
}

// fetchRows reads full rows by number and returns them with the header row
// they were decoded against. Numbers are deduplicated and sorted, then fetched
// in chunks of at most ChunkSize ranges per batch call.
func (db *DB) fetchRows(ctx context.Context, sheet string, rows []int) ([]string, []fetchedRow, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}
	headers, err := db.requireHeaders(ctx, "fetch rows", sheet)
	if err != nil {
		return nil, nil, err
	}

	var out []fetchedRow
	for _, chunk := range Chunk(rows, db.opts.ChunkSize) {
		ranges := make([]sheets.Range, len(chunk))
		for i, row := range chunk {
			ranges[i] = sheets.RowCells(sheet, row, len(headers))
		}
		res, err := db.batchGet(ctx, "fetch rows", sheet, ranges)
		if err != nil {
			return nil, nil, err
		}
		for i, row := range chunk {
			var cells []string
			if i < len(res) && len(res[i]) > 0 {
				cells = res[i][0]
			}
			out = append(out, fetchedRow{row: row, rec: Decode(headers, cells)})
		}
	}
	return headers, out, nil
}

// UpdateByIndex overlays patch on the verified row for key/owner and rewrites
// the row over the columns it was read with. It reports false when no such
// row exists.
func (db *DB) UpdateByIndex(ctx context.Context, sheet, key, owner string, patch Record) (bool, error) {
	ic, err := db.index("update by index", sheet)
	if err != nil {
		return false, err
	}
	loc, ok, err := db.lookup(ctx, ic, key, owner)
	if err != nil || !ok {
		return false, err
	}

	values := ApplyPatch(loc.headers, loc.rec, patch)
	if err := db.updateRange(ctx, "update by index", sheets.RowCells(sheet, loc.row, len(loc.headers)), [][]string{values}); err != nil {
		return false, err
	}
	db.invalidateIndex(sheet)
	return true, nil
}

// DeletePointByIndex physically removes the verified row for key/owner. Every
// later row moves up by one, so the sheet's index is dropped unconditionally.
func (db *DB) DeletePointByIndex(ctx context.Context, sheet, key, owner string) (bool, error) {
	ic, err := db.index("delete by index", sheet)
	if err != nil {
		return false, err
	}
	loc, ok, err := db.lookup(ctx, ic, key, owner)
	if err != nil || !ok {
		return false, err
	}

	list, err := db.listSheets(ctx, "delete by index")
	if err != nil {
		return false, err
	}
	i := slices.IndexFunc(list, func(s sheets.SheetInfo) bool { return s.Title == sheet })
	if i == -1 {
		return false, sheets.Errorf(sheets.KindStructural, "delete by index", sheet, "grid id not found")
	}
	gridID := list[i].GridID

	err = run(ctx, db, "delete by index", sheet, func(ctx context.Context) error {
		return db.store.DeleteRows(ctx, gridID, loc.row-1, loc.row)
	})
	db.invalidateIndex(sheet)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteWhere removes every data row accepted by pred by clearing the sheet
// and rewriting the header with the kept rows. It costs a full read and is
// meant for sheets without per-row random access.
func (db *DB) DeleteWhere(ctx context.Context, sheet string, pred func(Record) bool) (int, error) {
	if pred == nil {
		return 0, nil
	}
	header, rows, err := db.readAll(ctx, "delete where", sheet)
	if err != nil || len(header) == 0 {
		return 0, err
	}

	kept := [][]string{header}
	for _, cells := range rows {
		if !pred(Decode(header, cells)) {
			kept = append(kept, cells)
		}
	}
	deleted := len(rows) - (len(kept) - 1)
	if deleted == 0 {
		return 0, nil
	}

	err = run(ctx, db, "delete where", sheet, func(ctx context.Context) error {
		return db.store.ClearRange(ctx, sheets.WholeSheet(sheet))
	})
	if err == nil {
		err = db.updateRange(ctx, "delete where", sheets.Anchor(sheet, 1, 1), kept)
	}
	// An index built while the sheet was cleared must not survive the rewrite.
	db.invalidateIndex(sheet)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"sheet": sheet, "deleted": deleted}).Debug("Deleted rows")
	return deleted, nil
}

// UpdateWhereField rewrites the first data row whose field equals value with
// patch applied. It scans the whole sheet and suits sheets without an index.
func (db *DB) UpdateWhereField(ctx context.Context, sheet, field, value string, patch Record) (bool, error) {
	header, rows, err := db.readAll(ctx, "update where", sheet)
	if err != nil {
		return false, err
	}
	if len(header) == 0 {
		return false, sheets.Errorf(sheets.KindSchema, "update where", sheet, "sheet is missing its header row")
	}
	col := slices.Index(header, field)
	if col == -1 {
		return false, sheets.Errorf(sheets.KindSchema, "update where", sheet, "field %q not in header row", field)
	}

	for i, cells := range rows {
		if col >= len(cells) || cells[col] != value {
			continue
		}
		values := ApplyPatch(header, Decode(header, cells), patch)
		r := sheets.RowCells(sheet, i+2, len(header))
		if err := db.updateRange(ctx, "update where", r, [][]string{values}); err != nil {
			return false, err
		}
		db.invalidateIndex(sheet)
		return true, nil
	}
	return false, nil
}
