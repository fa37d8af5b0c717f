package store

import (
	"context"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/sheets"
)

type headerEntry struct {
	headers   []string
	expiresAt time.Time
}

// HeaderCache holds the header row of each sheet for a fixed TTL. Entries are
// replaced whole, never edited in place.
type HeaderCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]headerEntry
}

func NewHeaderCache(ttl time.Duration) *HeaderCache {
	return &HeaderCache{ttl: ttl, entries: make(map[string]headerEntry)}
}

// Get returns a copy of the cached headers if they have not expired.
func (c *HeaderCache) Get(sheet string) ([]string, bool) {
	c.mu.RLock()
	e, ok := c.entries[sheet]
	c.mu.RUnlock()
	if !ok || !nowFunc().Before(e.expiresAt) {
		return nil, false
	}
	return slices.Clone(e.headers), true
}

// Put caches headers with a fresh expiry.
func (c *HeaderCache) Put(sheet string, headers []string) {
	e := headerEntry{headers: slices.Clone(headers), expiresAt: nowFunc().Add(c.ttl)}
	c.mu.Lock()
	c.entries[sheet] = e
	c.mu.Unlock()
}

func (c *HeaderCache) Invalidate(sheet string) {
	c.mu.Lock()
	delete(c.entries, sheet)
	c.mu.Unlock()
}

// Headers returns the ordered column names of sheet, from cache when fresh.
// A sheet without a header row is a schema error.
func (db *DB) Headers(ctx context.Context, sheet string) ([]string, error) {
	return db.requireHeaders(ctx, "headers", sheet)
}

func (db *DB) requireHeaders(ctx context.Context, op, sheet string) ([]string, error) {
	if h, ok := db.headers.Get(sheet); ok {
		return h, nil
	}
	h, err := db.readHeaders(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, sheets.Errorf(sheets.KindSchema, op, sheet, "sheet is missing its header row")
	}
	return h, nil
}

// readHeaders reads row 1 and caches it when non-empty.
func (db *DB) readHeaders(ctx context.Context, sheet string) ([]string, error) {
	values, err := db.getRange(ctx, "read headers", sheets.Rows(sheet, 1, 1))
	if err != nil {
		return nil, err
	}
	var h []string
	if len(values) > 0 {
		h = values[0]
	}
	if len(h) > 0 {
		db.headers.Put(sheet, h)
	}
	return h, nil
}

// EnsureSheet creates sheet if needed and makes sure its header row contains
// every name in required. Missing names are appended after the existing ones,
// so established column positions never move. Repeated calls are no-ops.
func (db *DB) EnsureSheet(ctx context.Context, sheet string, required []string) error {
	if h, ok := db.headers.Get(sheet); ok && len(missingHeaders(h, required)) == 0 {
		return nil
	}

	list, err := db.listSheets(ctx, "ensure sheet")
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(list, func(s sheets.SheetInfo) bool { return s.Title == sheet }) {
		err := run(ctx, db, "add sheet", sheet, func(ctx context.Context) error {
			return db.store.AddSheet(ctx, sheet)
		})
		if err != nil {
			return err
		}
	}

	current, err := db.readHeaders(ctx, sheet)
	if err != nil {
		return err
	}
	var merged []string
	if len(current) == 0 {
		if len(required) == 0 {
			return nil
		}
		merged = slices.Clone(required)
	} else {
		missing := missingHeaders(current, required)
		if len(missing) == 0 {
			return nil
		}
		merged = append(slices.Clone(current), missing...)
	}

	if err := db.updateRange(ctx, "write headers", sheets.Rows(sheet, 1, 1), [][]string{merged}); err != nil {
		return err
	}
	db.headers.Put(sheet, merged)
	log.WithFields(log.Fields{
		"sheet":   sheet,
		"headers": merged,
	}).Info("Wrote header row")
	return nil
}

// missingHeaders returns the names of required absent from current, in order,
// without duplicates.
func missingHeaders(current, required []string) []string {
	var missing []string
	for _, h := range required {
		if !slices.Contains(current, h) && !slices.Contains(missing, h) {
			missing = append(missing, h)
		}
	}
	return missing
}
