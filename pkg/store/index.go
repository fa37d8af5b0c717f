package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tolitz22/library-management/pkg/sheets"
)

// IndexSpec designates the two columns a secondary index is built from.
type IndexSpec struct {
	Sheet       string
	KeyColumn   string
	OwnerColumn string
	// Normalize maps key values before they are indexed or looked up.
	// Nil means strings.TrimSpace.
	Normalize func(string) string
}

func (s IndexSpec) normalize(v string) string {
	if s.Normalize != nil {
		return s.Normalize(v)
	}
	return strings.TrimSpace(v)
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// IndexEntry locates a key: the absolute row number and the owner seen there.
type IndexEntry struct {
	Row   int
	Owner string
}

// Index maps keys and owners to row numbers. Row numbers are only valid as of
// the scan that produced the index; an Index is never mutated once built.
type Index struct {
	ExpiresAt time.Time
	ByKey     map[string]IndexEntry
	ByOwner   map[string][]int
}

// IndexCache owns the current Index of one sheet. Every invalidation bumps a
// generation; concurrent rebuilds within a generation share one scan, and a
// scan is only installed if no invalidation happened while it ran.
type IndexCache struct {
	spec  IndexSpec
	ttl   time.Duration
	build func(ctx context.Context) (*Index, error)

	mu         sync.Mutex
	current    *Index
	generation uint64
	group      singleflight.Group
}

func NewIndexCache(spec IndexSpec, ttl time.Duration, build func(ctx context.Context) (*Index, error)) *IndexCache {
	return &IndexCache{spec: spec, ttl: ttl, build: build}
}

// Ensure returns the cached index, rebuilding it when missing, expired, or
// when forceRebuild is set. The rebuild is shared by every concurrent caller
// and is not cancelled with the caller that started it; each caller still
// returns early when its own ctx is done.
func (c *IndexCache) Ensure(ctx context.Context, forceRebuild bool) (*Index, error) {
	c.mu.Lock()
	cur, gen := c.current, c.generation
	c.mu.Unlock()
	if !forceRebuild && cur != nil && nowFunc().Before(cur.ExpiresAt) {
		return cur, nil
	}

	key := fmt.Sprintf("%d/%t", gen, forceRebuild)
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight for this key may have installed an index since we looked.
		c.mu.Lock()
		cur := c.current
		reuse := !forceRebuild && c.generation == gen && cur != nil && nowFunc().Before(cur.ExpiresAt)
		c.mu.Unlock()
		if reuse {
			return cur, nil
		}

		start := nowFunc()
		idx, err := c.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		idx.ExpiresAt = nowFunc().Add(c.ttl)

		c.mu.Lock()
		installed := c.generation == gen
		if installed {
			c.current = idx
		}
		c.mu.Unlock()

		log.WithFields(log.Fields{
			"sheet":     c.spec.Sheet,
			"keys":      len(idx.ByKey),
			"owners":    len(idx.ByOwner),
			"installed": installed,
			"took":      nowFunc().Sub(start),
		}).Debug("Rebuilt index")
		return idx, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

// Invalidate drops the cached index; the next Ensure rebuilds it.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.generation++
	c.mu.Unlock()
	log.WithField("sheet", c.spec.Sheet).Debug("Invalidated index")
}

// buildIndex reads the key and owner columns in one batch call and pairs them
// by row. Rows where either value is empty are skipped.
func (db *DB) buildIndex(ctx context.Context, spec IndexSpec) (*Index, error) {
	headers, err := db.requireHeaders(ctx, "build index", spec.Sheet)
	if err != nil {
		return nil, err
	}
	keyCol := slices.Index(headers, spec.KeyColumn)
	ownerCol := slices.Index(headers, spec.OwnerColumn)
	if keyCol == -1 || ownerCol == -1 {
		return nil, sheets.Errorf(sheets.KindSchema, "build index", spec.Sheet,
			"index columns %q/%q not in header row", spec.KeyColumn, spec.OwnerColumn)
	}

	cols, err := db.batchGet(ctx, "build index", spec.Sheet, []sheets.Range{
		sheets.Column(spec.Sheet, keyCol, 2),
		sheets.Column(spec.Sheet, ownerCol, 2),
	})
	if err != nil {
		return nil, err
	}
	var keys, owners [][]string
	if len(cols) > 0 {
		keys = cols[0]
	}
	if len(cols) > 1 {
		owners = cols[1]
	}
	return pairIndex(spec, keys, owners), nil
}

func pairIndex(spec IndexSpec, keys, owners [][]string) *Index {
	idx := &Index{
		ByKey:   make(map[string]IndexEntry),
		ByOwner: make(map[string][]int),
	}
	for i := range max(len(keys), len(owners)) {
		key := spec.normalize(firstCell(keys, i))
		owner := strings.TrimSpace(firstCell(owners, i))
		if key == "" || owner == "" {
			continue
		}
		row := i + 2
		idx.ByKey[key] = IndexEntry{Row: row, Owner: owner}
		idx.ByOwner[owner] = append(idx.ByOwner[owner], row)
	}
	return idx
}

func firstCell(col [][]string, i int) string {
	if i < len(col) && len(col[i]) > 0 {
		return col[i][0]
	}
	return ""
}

// matches reports whether a live row still carries key and, when owner is
// set, belongs to owner.
func (s IndexSpec) matches(rec Record, key, owner string) bool {
	if s.normalize(rec[s.KeyColumn]) != key {
		return false
	}
	return owner == "" || strings.TrimSpace(rec[s.OwnerColumn]) == owner
}

// located is a verified row together with the header row it was decoded with.
type located struct {
	row     int
	rec     Record
	headers []string
}

// lookup resolves key to a verified live row. The index may be stale, so a
// hit is only trusted after the row itself is read back and matches. A miss or
// failed verification forces exactly one rebuild before giving up.
func (db *DB) lookup(ctx context.Context, ic *IndexCache, key, owner string) (located, bool, error) {
	key = ic.spec.normalize(key)
	owner = strings.TrimSpace(owner)
	if key == "" {
		return located{}, false, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		idx, err := ic.Ensure(ctx, attempt > 0)
		if err != nil {
			return located{}, false, err
		}
		hit, ok := idx.ByKey[key]
		if !ok || (owner != "" && hit.Owner != owner) {
			continue
		}
		headers, rows, err := db.fetchRows(ctx, ic.spec.Sheet, []int{hit.Row})
		if err != nil {
			return located{}, false, err
		}
		if len(rows) == 1 && ic.spec.matches(rows[0].rec, key, owner) {
			return located{row: hit.Row, rec: rows[0].rec, headers: headers}, true, nil
		}
		log.WithFields(log.Fields{
			"sheet": ic.spec.Sheet,
			"row":   hit.Row,
		}).Debug("Index entry failed verification")
	}
	return located{}, false, nil
}

// IndexStats summarises a sheet's current index.
type IndexStats struct {
	Keys      int
	Owners    int
	ExpiresAt time.Time
}

// IndexStats builds the index if needed and reports its size.
func (db *DB) IndexStats(ctx context.Context, sheet string) (IndexStats, error) {
	ic, err := db.index("index stats", sheet)
	if err != nil {
		return IndexStats{}, err
	}
	idx, err := ic.Ensure(ctx, false)
	if err != nil {
		return IndexStats{}, err
	}
	return IndexStats{Keys: len(idx.ByKey), Owners: len(idx.ByOwner), ExpiresAt: idx.ExpiresAt}, nil
}

func (db *DB) index(op, sheet string) (*IndexCache, error) {
	ic, ok := db.indexes[sheet]
	if !ok {
		return nil, sheets.Errorf(sheets.KindSchema, op, sheet, "sheet has no secondary index")
	}
	return ic, nil
}
