package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolitz22/library-management/pkg/config"
	"github.com/tolitz22/library-management/pkg/sheets"
	"github.com/tolitz22/library-management/pkg/store"
)

var fixedTime = time.Date(2025, 10, 11, 5, 58, 35, 0, time.UTC)

type testServer struct {
	handler http.Handler
	db      *store.DB
	mem     *sheets.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	oldNowFunc, oldNewID := nowFunc, newID
	nowFunc = func() time.Time { return fixedTime }
	n := 0
	newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	t.Cleanup(func() {
		nowFunc, newID = oldNowFunc, oldNewID
	})

	mem := sheets.NewMemoryStore()
	opts := Options(config.Defaults().Sheets)
	opts.Retry.BaseDelay = time.Millisecond
	opts.Retry.MaxJitter = 0
	db := store.New(mem, opts)
	require.NoError(t, EnsureSheets(context.Background(), db))
	return &testServer{handler: GetRouter(NewHandler(db)), db: db, mem: mem}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type bookResponse struct {
	Book Book `json:"book"`
}

type booksResponse struct {
	Books []Book `json:"books"`
}

func (s *testServer) createBook(t *testing.T, user string, body map[string]any) Book {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/books", user, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[bookResponse](t, rec).Book
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequireUser(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/books", "/shelves", "/books/x/notes"} {
		rec := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/users", "", map[string]string{"name": "Ada", "email": " Ada@Example.com "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true,"userId":"id-1"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/users", "", map[string]string{"name": "Imposter", "email": "ada@example.COM"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/users", "", map[string]string{"name": "Bob", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	users := s.mem.Snapshot(SheetUsers)
	require.Len(t, users, 2)
	assert.Equal(t, []string{"id-1", "ada@example.com", "Ada", "2025-10-11T05:58:35Z"}, users[1])
}

func TestCreateBook(t *testing.T) {
	s := newTestServer(t)

	book := s.createBook(t, "u1", map[string]any{
		"title":       "Dune",
		"author":      "Frank Herbert",
		"tags":        []string{"sci-fi", " classic ", ""},
		"currentPage": 50,
		"totalPages":  200,
	})
	assert.Equal(t, Book{
		ID:          "id-1",
		Title:       "Dune",
		Author:      "Frank Herbert",
		Shelf:       defaultShelf,
		Tags:        []string{"sci-fi", "classic"},
		CurrentPage: 50,
		TotalPages:  200,
		Progress:    25,
		Status:      StatusReading,
		CreatedAt:   "2025-10-11T05:58:35Z",
		UpdatedAt:   "2025-10-11T05:58:35Z",
	}, book)

	rec := s.do(t, http.MethodPost, "/books", "u1", map[string]any{"title": "No author"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/books", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBooksAreScopedToOwner(t *testing.T) {
	s := newTestServer(t)
	mine := s.createBook(t, "u1", map[string]any{"title": "A", "author": "X"})
	s.createBook(t, "u2", map[string]any{"title": "B", "author": "Y"})
	s.createBook(t, "u1", map[string]any{"title": "C", "author": "Z"})

	rec := s.do(t, http.MethodGet, "/books", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	books := decodeBody[booksResponse](t, rec).Books
	require.Len(t, books, 2)
	assert.Equal(t, "A", books[0].Title)
	assert.Equal(t, "C", books[1].Title)

	rec = s.do(t, http.MethodGet, "/books/"+mine.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/books", "u3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"books":[]}`, rec.Body.String())
}

func TestPatchBook(t *testing.T) {
	s := newTestServer(t)
	book := s.createBook(t, "u1", map[string]any{"title": "A", "author": "X", "currentPage": 10, "totalPages": 200})

	rec := s.do(t, http.MethodPatch, "/books/"+book.ID, "u1", map[string]any{"currentPage": 200, "shelf": "Done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[bookResponse](t, rec).Book
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "Done", got.Shelf)
	assert.Equal(t, "A", got.Title)

	rec = s.do(t, http.MethodGet, "/books/"+book.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, got, decodeBody[bookResponse](t, rec).Book)

	rec = s.do(t, http.MethodPatch, "/books/"+book.ID, "u1", map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/books/"+book.ID, "u2", map[string]any{"status": StatusQueued})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteBookCascades(t *testing.T) {
	s := newTestServer(t)
	doomed := s.createBook(t, "u1", map[string]any{"title": "A", "author": "X"})
	kept := s.createBook(t, "u1", map[string]any{"title": "B", "author": "Y"})

	for _, b := range []Book{doomed, kept} {
		rec := s.do(t, http.MethodPost, "/notes", "u1", map[string]string{"bookId": b.ID, "content": "note on " + b.Title})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rec = s.do(t, http.MethodPost, "/highlights", "u1", map[string]string{"bookId": b.ID, "content": "quote"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodDelete, "/books/"+doomed.ID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/books/"+doomed.ID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"deletedBooks":1}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/books/"+doomed.ID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/books/"+kept.ID, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/books/"+doomed.ID+"/notes", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notes":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/books/"+kept.ID+"/notes", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decodeBody[struct {
		Notes []Entry `json:"notes"`
	}](t, rec).Notes
	require.Len(t, notes, 1)
	assert.Equal(t, "note on B", notes[0].Content)

	rec = s.do(t, http.MethodGet, "/books/"+kept.ID+"/highlights", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	highlights := decodeBody[struct {
		Highlights []Entry `json:"highlights"`
	}](t, rec).Highlights
	assert.Len(t, highlights, 1)
}

func TestEntryRequiresOwnedBook(t *testing.T) {
	s := newTestServer(t)
	book := s.createBook(t, "u1", map[string]any{"title": "A", "author": "X"})

	rec := s.do(t, http.MethodPost, "/notes", "u2", map[string]string{"bookId": book.ID, "content": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/notes", "u1", map[string]string{"bookId": book.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShelves(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/shelves", "u1", map[string]string{"name": " Favourites "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/shelves", "u1", map[string]string{"name": "FAVOURITES"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/shelves", "u2", map[string]string{"name": "favourites"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/shelves", "u1", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/shelves", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"shelves":[{"id":"id-1","name":"Favourites","createdAt":"2025-10-11T05:58:35Z"}]}`, rec.Body.String())
}

func TestTransientStoreErrorIs503(t *testing.T) {
	s := newTestServer(t)
	s.mem.Fail = func(op string) error {
		if op == sheets.OpBatchGet {
			return errors.New("googleapi: Error 503: The service is currently unavailable")
		}
		return nil
	}

	rec := s.do(t, http.MethodGet, "/books", "u1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 4, s.mem.Calls(sheets.OpBatchGet))
	assert.Contains(t, rec.Body.String(), "Failed to fetch books")
}

func TestPurgeOwner(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	book := s.createBook(t, "u1", map[string]any{"title": "A", "author": "X"})
	s.createBook(t, "u2", map[string]any{"title": "B", "author": "Y"})
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/notes", "u1", map[string]string{"bookId": book.ID, "content": "n"}).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/shelves", "u1", map[string]string{"name": "S"}).Code)

	deleted, err := PurgeOwner(ctx, s.db, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		SheetUsers:      0,
		SheetBooks:      1,
		SheetNotes:      1,
		SheetHighlights: 0,
		SheetShelves:    1,
	}, deleted)

	report, err := IndexReport(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, 1, report[SheetBooks].Keys)
	assert.Equal(t, 0, report[SheetUsers].Keys)
}

func TestEnsureSheetsIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.mem.ResetCalls()

	db := store.New(s.mem, Options(config.Defaults().Sheets))
	require.NoError(t, EnsureSheets(context.Background(), db))
	assert.Equal(t, 0, s.mem.Calls(sheets.OpAddSheet))
	assert.Equal(t, 0, s.mem.Calls(sheets.OpUpdate))
	for _, name := range sheetOrder {
		assert.Equal(t, sheetHeaders[name], s.mem.Snapshot(name)[0], name)
	}
}

func TestNewIDDefault(t *testing.T) {
	_, err := uuid.Parse(newID())
	assert.NoError(t, err)
}
