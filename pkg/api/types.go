package api

import (
	"github.com/tolitz22/library-management/pkg/store"
)

// Sheet names. Do not rename these or a new, empty sheet will be created.
const (
	SheetBooks      = "books"
	SheetNotes      = "notes"
	SheetHighlights = "highlights"
	SheetShelves    = "shelves"
	SheetUsers      = "users"
)

const defaultShelf = "Desk Stack"

const (
	StatusQueued    = "queued"
	StatusReading   = "reading"
	StatusCompleted = "completed"
)

var statuses = map[string]bool{
	StatusQueued:    true,
	StatusReading:   true,
	StatusCompleted: true,
}

// Header rows written on startup. New columns may be appended; existing ones
// must never be reordered.
var sheetHeaders = map[string][]string{
	SheetBooks: {
		"id",
		"userId",
		"title",
		"author",
		"isbn",
		"imageUrl",
		"shelf",
		"tags",
		"currentPage",
		"totalPages",
		"progress",
		"status",
		"createdAt",
		"updatedAt",
	},
	SheetNotes:      {"id", "bookId", "userId", "content", "createdAt"},
	SheetHighlights: {"id", "bookId", "userId", "content", "createdAt"},
	SheetShelves:    {"id", "userId", "name", "createdAt"},
	SheetUsers:      {"userId", "email", "name", "createdAt"},
}

// sheetOrder fixes the order sheets are created in.
var sheetOrder = []string{SheetUsers, SheetBooks, SheetNotes, SheetHighlights, SheetShelves}

// Indexes lists the secondary indexes the API relies on.
var Indexes = []store.IndexSpec{
	{Sheet: SheetBooks, KeyColumn: "id", OwnerColumn: "userId"},
	{Sheet: SheetUsers, KeyColumn: "email", OwnerColumn: "userId", Normalize: store.NormalizeEmail},
}
