package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolitz22/library-management/pkg/retry"
	"github.com/tolitz22/library-management/pkg/sheets"
)

var (
	bookHeaders = []string{"id", "userId", "title", "author", "shelf"}
	userHeaders = []string{"userId", "email", "name"}
	noteHeaders = []string{"id", "bookId", "userId", "content"}

	booksIndex = IndexSpec{Sheet: "books", KeyColumn: "id", OwnerColumn: "userId"}
	usersIndex = IndexSpec{Sheet: "users", KeyColumn: "email", OwnerColumn: "userId", Normalize: NormalizeEmail}
)

func testOptions() Options {
	return Options{
		Retry:   retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
		Indexes: []IndexSpec{booksIndex, usersIndex},
	}
}

// newTestDB returns a DB over a fresh memory store with the books, users and
// notes sheets created and call counters reset.
func newTestDB(t *testing.T) (*DB, *sheets.MemoryStore) {
	t.Helper()
	return newTestDBWith(t, testOptions())
}

func newTestDBWith(t *testing.T, opts Options) (*DB, *sheets.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	mem := sheets.NewMemoryStore()
	db := New(mem, opts)
	require.NoError(t, db.EnsureSheet(ctx, "books", bookHeaders))
	require.NoError(t, db.EnsureSheet(ctx, "users", userHeaders))
	require.NoError(t, db.EnsureSheet(ctx, "notes", noteHeaders))
	mem.ResetCalls()
	return db, mem
}

// freezeTime pins nowFunc until the test ends and returns a setter.
func freezeTime(t *testing.T) func(time.Time) {
	t.Helper()
	now := time.Date(2025, 10, 11, 5, 58, 35, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = time.Now })
	return func(next time.Time) { now = next }
}

func book(id, owner, title string) Record {
	return Record{"id": id, "userId": owner, "title": title}
}
