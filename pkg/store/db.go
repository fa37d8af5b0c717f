// Package store turns a spreadsheet into a small multi-tenant database: cached
// header resolution, derived secondary indexes, chunked batch reads, and
// read-modify-write row mutations.
package store

import (
	"context"
	"time"

	"github.com/tolitz22/library-management/pkg/retry"
	"github.com/tolitz22/library-management/pkg/sheets"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// DefaultTTL is the lifetime of header and index cache entries.
const DefaultTTL = 45 * time.Second

// Options configures a DB.
type Options struct {
	// TTL applies to both the header cache and every index cache.
	TTL time.Duration
	// ChunkSize bounds the number of ranges per batch read.
	ChunkSize int
	Retry     retry.Policy
	// Indexes lists the sheets that get a secondary index.
	Indexes []IndexSpec
}

// DefaultOptions returns the options used in production.
func DefaultOptions() Options {
	return Options{
		TTL:       DefaultTTL,
		ChunkSize: sheets.MaxBatchRanges,
		Retry:     retry.DefaultPolicy(sheets.IsTransient),
	}
}

// DB is the row access layer. It is safe for concurrent use; caches are owned
// by the instance, so independent DBs never share state.
type DB struct {
	store   sheets.Store
	opts    Options
	headers *HeaderCache
	indexes map[string]*IndexCache
}

// New builds a DB over store. Zero-valued options fall back to defaults.
func New(store sheets.Store, opts Options) *DB {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize > sheets.MaxBatchRanges {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = sheets.IsTransient
	}

	db := &DB{
		store:   store,
		opts:    opts,
		headers: NewHeaderCache(opts.TTL),
		indexes: make(map[string]*IndexCache, len(opts.Indexes)),
	}
	for _, spec := range opts.Indexes {
		db.indexes[spec.Sheet] = NewIndexCache(spec, opts.TTL, func(ctx context.Context) (*Index, error) {
			return db.buildIndex(ctx, spec)
		})
	}
	return db
}

// Invalidate drops every cached entry for sheet.
func (db *DB) Invalidate(sheet string) {
	db.headers.Invalidate(sheet)
	db.invalidateIndex(sheet)
}

func (db *DB) invalidateIndex(sheet string) {
	if ic, ok := db.indexes[sheet]; ok {
		ic.Invalidate()
	}
}

func call[T any](ctx context.Context, db *DB, op, sheet string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, db.opts.Retry, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		return v, sheets.Classify(op, sheet, err)
	})
}

func run(ctx context.Context, db *DB, op, sheet string, fn func(ctx context.Context) error) error {
	return retry.Run(ctx, db.opts.Retry, func(ctx context.Context) error {
		return sheets.Classify(op, sheet, fn(ctx))
	})
}

func (db *DB) getRange(ctx context.Context, op string, r sheets.Range) ([][]string, error) {
	return call(ctx, db, op, r.Sheet, func(ctx context.Context) ([][]string, error) {
		return db.store.GetRange(ctx, r)
	})
}

func (db *DB) batchGet(ctx context.Context, op, sheet string, ranges []sheets.Range) ([][][]string, error) {
	return call(ctx, db, op, sheet, func(ctx context.Context) ([][][]string, error) {
		return db.store.BatchGetRanges(ctx, ranges)
	})
}

func (db *DB) updateRange(ctx context.Context, op string, r sheets.Range, values [][]string) error {
	return run(ctx, db, op, r.Sheet, func(ctx context.Context) error {
		return db.store.UpdateRange(ctx, r, values)
	})
}

func (db *DB) listSheets(ctx context.Context, op string) ([]sheets.SheetInfo, error) {
	return call(ctx, db, op, "", db.store.ListSheets)
}
