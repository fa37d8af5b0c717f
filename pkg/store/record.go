package store

import (
	"slices"

	"github.com/tolitz22/library-management/pkg/sheets"
)

// Record is a row decoded against its sheet's header: field name to cell value.
type Record map[string]string

// Decode zips cells against headers. Missing trailing cells decode to "".
func Decode(headers, cells []string) Record {
	out := make(Record, len(headers))
	for i, h := range headers {
		if i < len(cells) {
			out[h] = cells[i]
		} else {
			out[h] = ""
		}
	}
	return out
}

// Project lays a record out in header order; absent fields become "".
func Project(headers []string, rec Record) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = rec[h]
	}
	return out
}

// ApplyPatch returns the full row that results from overlaying patch on
// current. Columns absent from patch keep their current value.
func ApplyPatch(headers []string, current, patch Record) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		if v, ok := patch[h]; ok {
			out[i] = v
		} else {
			out[i] = current[h]
		}
	}
	return out
}

// Chunk deduplicates and sorts row numbers, then splits them into groups of at
// most size. A non-positive size uses sheets.MaxBatchRanges.
func Chunk(rows []int, size int) [][]int {
	if size <= 0 {
		size = sheets.MaxBatchRanges
	}
	sorted := slices.Clone(rows)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var out [][]int
	for len(sorted) > 0 {
		n := min(size, len(sorted))
		out = append(out, sorted[:n:n])
		sorted = sorted[n:]
	}
	return out
}
