package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/sheets"
	"github.com/tolitz22/library-management/pkg/store"
)

// UserHeader carries the authenticated user id, set by the auth proxy in
// front of this service.
const UserHeader = "X-User-ID"

const maxShelfName = 60

var (
	nowFunc = time.Now
	newID   = uuid.NewString
)

type userKey struct{}

type Handler struct {
	db *store.DB
}

func NewHandler(db *store.DB) *Handler {
	return &Handler{db: db}
}

func timestamp() string {
	return nowFunc().UTC().Format(time.RFC3339)
}

// requireUser rejects requests without a user id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			sendError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	email := store.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || req.Name == "" {
		sendError(w, http.StatusBadRequest, "Invalid payload", nil)
		return
	}

	_, exists, err := h.db.GetByIndex(r.Context(), SheetUsers, email, "")
	if err != nil {
		sendStoreError(w, "Failed to register", err)
		return
	}
	if exists {
		sendError(w, http.StatusConflict, "Email already in use", nil)
		return
	}

	userID := newID()
	err = h.db.Append(r.Context(), SheetUsers, store.Record{
		"userId":    userID,
		"email":     email,
		"name":      req.Name,
		"createdAt": timestamp(),
	})
	if err != nil {
		sendStoreError(w, "Failed to register", err)
		return
	}
	log.WithField("userId", userID).Info("Registered user")
	sendJSON(w, http.StatusCreated, map[string]any{"ok": true, "userId": userID})
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	recs, err := h.db.GetManyByOwner(r.Context(), SheetBooks, userFrom(r))
	if err != nil {
		sendStoreError(w, "Failed to fetch books", err)
		return
	}
	books := make([]Book, 0, len(recs))
	for _, rec := range recs {
		books = append(books, recordToBook(rec))
	}
	sendJSON(w, http.StatusOK, map[string]any{"books": books})
}

type createBookRequest struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Shelf       string   `json:"shelf"`
	Tags        []string `json:"tags"`
	CurrentPage int      `json:"currentPage"`
	TotalPages  int      `json:"totalPages"`
	ISBN        string   `json:"isbn"`
	ImageURL    string   `json:"imageUrl"`
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if !decode(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	if req.Title == "" || req.Author == "" || req.CurrentPage < 0 || req.TotalPages < 0 {
		sendError(w, http.StatusBadRequest, "Invalid payload", nil)
		return
	}
	if req.Shelf = strings.TrimSpace(req.Shelf); req.Shelf == "" {
		req.Shelf = defaultShelf
	}

	now := timestamp()
	progress := progressOf(req.CurrentPage, req.TotalPages)
	book := Book{
		ID:          newID(),
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		ImageURL:    req.ImageURL,
		Shelf:       req.Shelf,
		Tags:        splitTags(strings.Join(req.Tags, ",")),
		CurrentPage: req.CurrentPage,
		TotalPages:  req.TotalPages,
		Progress:    progress,
		Status:      statusOf(progress),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.db.Append(r.Context(), SheetBooks, book.toRecord(userFrom(r))); err != nil {
		sendStoreError(w, "Failed to create book", err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{"book": book})
}

func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.db.GetByIndex(r.Context(), SheetBooks, chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		sendStoreError(w, "Failed to fetch book", err)
		return
	}
	if !ok {
		sendError(w, http.StatusNotFound, "Not found", nil)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"book": recordToBook(rec)})
}

type patchBookRequest struct {
	Shelf       *string   `json:"shelf"`
	Tags        *[]string `json:"tags"`
	CurrentPage *int      `json:"currentPage"`
	TotalPages  *int      `json:"totalPages"`
	Progress    *int      `json:"progress"`
	Status      *string   `json:"status"`
}

func (req patchBookRequest) valid() bool {
	if req.Status != nil && !statuses[*req.Status] {
		return false
	}
	if req.Progress != nil && (*req.Progress < 0 || *req.Progress > 100) {
		return false
	}
	if req.CurrentPage != nil && *req.CurrentPage < 0 {
		return false
	}
	return req.TotalPages == nil || *req.TotalPages >= 0
}

// patch computes the changed fields. Progress and status follow the page
// counts unless given explicitly.
func (req patchBookRequest) patch(current Book) store.Record {
	currentPage, totalPages := current.CurrentPage, current.TotalPages
	if req.CurrentPage != nil {
		currentPage = *req.CurrentPage
	}
	if req.TotalPages != nil {
		totalPages = *req.TotalPages
	}
	progress := progressOf(currentPage, totalPages)
	if req.Progress != nil {
		progress = *req.Progress
	}
	status := statusOf(progress)
	if req.Status != nil {
		status = *req.Status
	}

	p := store.Record{
		"currentPage": strconv.Itoa(currentPage),
		"totalPages":  strconv.Itoa(totalPages),
		"progress":    strconv.Itoa(progress),
		"status":      status,
		"updatedAt":   timestamp(),
	}
	if req.Shelf != nil {
		p["shelf"] = strings.TrimSpace(*req.Shelf)
	}
	if req.Tags != nil {
		p["tags"] = strings.Join(splitTags(strings.Join(*req.Tags, ",")), ", ")
	}
	return p
}

func (h *Handler) patchBook(w http.ResponseWriter, r *http.Request) {
	var req patchBookRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.valid() {
		sendError(w, http.StatusBadRequest, "Invalid payload", nil)
		return
	}
	id, userID := chi.URLParam(r, "id"), userFrom(r)

	current, ok, err := h.db.GetByIndex(r.Context(), SheetBooks, id, userID)
	if err != nil {
		sendStoreError(w, "Failed to update book", err)
		return
	}
	if !ok {
		sendError(w, http.StatusNotFound, "Not found", nil)
		return
	}
	patch := req.patch(recordToBook(current))
	ok, err = h.db.UpdateByIndex(r.Context(), SheetBooks, id, userID, patch)
	if err != nil {
		sendStoreError(w, "Failed to update book", err)
		return
	}
	if !ok {
		sendError(w, http.StatusNotFound, "Not found", nil)
		return
	}
	for k, v := range patch {
		current[k] = v
	}
	sendJSON(w, http.StatusOK, map[string]any{"book": recordToBook(current)})
}

func (h *Handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, userID := chi.URLParam(r, "id"), userFrom(r)
	ok, err := h.db.DeletePointByIndex(r.Context(), SheetBooks, id, userID)
	if err != nil {
		sendStoreError(w, "Failed to delete book", err)
		return
	}
	if !ok {
		sendError(w, http.StatusNotFound, "Not found", nil)
		return
	}

	// Attached entries go too. A failure here leaves orphans but the book
	// itself is already gone.
	for _, sheet := range []string{SheetNotes, SheetHighlights} {
		n, err := h.db.DeleteWhere(r.Context(), sheet, func(rec store.Record) bool {
			return rec["bookId"] == id && rec["userId"] == userID
		})
		if err != nil {
			log.WithFields(log.Fields{"sheet": sheet, "bookId": id}).Warnf("Failed to delete attached rows: %v", err)
			continue
		}
		if n > 0 {
			log.WithFields(log.Fields{"sheet": sheet, "bookId": id, "deleted": n}).Debug("Deleted attached rows")
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"ok": true, "deletedBooks": 1})
}

type entryRequest struct {
	BookID  string `json:"bookId"`
	Content string `json:"content"`
}

// createEntry appends a note or highlight to one of the caller's books.
func (h *Handler) createEntry(sheet, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entryRequest
		if !decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.BookID) == "" || strings.TrimSpace(req.Content) == "" {
			sendError(w, http.StatusBadRequest, "Invalid payload", nil)
			return
		}
		userID := userFrom(r)

		_, ok, err := h.db.GetByIndex(r.Context(), SheetBooks, req.BookID, userID)
		if err != nil {
			sendStoreError(w, "Failed to save "+key, err)
			return
		}
		if !ok {
			sendError(w, http.StatusNotFound, "Book not found", nil)
			return
		}

		rec := store.Record{
			"id":        newID(),
			"bookId":    req.BookID,
			"userId":    userID,
			"content":   req.Content,
			"createdAt": timestamp(),
		}
		if err := h.db.Append(r.Context(), sheet, rec); err != nil {
			sendStoreError(w, "Failed to save "+key, err)
			return
		}
		sendJSON(w, http.StatusCreated, map[string]any{key: recordToEntry(rec)})
	}
}

// listEntries returns the notes or highlights of one book.
func (h *Handler) listEntries(sheet, key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, userID := chi.URLParam(r, "id"), userFrom(r)
		recs, err := h.db.Scan(r.Context(), sheet, func(rec store.Record) bool {
			return rec["bookId"] == id && rec["userId"] == userID
		})
		if err != nil {
			sendStoreError(w, "Failed to fetch "+key, err)
			return
		}
		entries := make([]Entry, 0, len(recs))
		for _, rec := range recs {
			entries = append(entries, recordToEntry(rec))
		}
		sendJSON(w, http.StatusOK, map[string]any{key: entries})
	}
}

func (h *Handler) listShelves(w http.ResponseWriter, r *http.Request) {
	recs, err := h.db.Scan(r.Context(), SheetShelves, ownedBy(userFrom(r)))
	if err != nil {
		sendStoreError(w, "Failed to fetch shelves", err)
		return
	}
	shelves := make([]Shelf, 0, len(recs))
	for _, rec := range recs {
		if rec["name"] != "" {
			shelves = append(shelves, recordToShelf(rec))
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"shelves": shelves})
}

type shelfRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createShelf(w http.ResponseWriter, r *http.Request) {
	var req shelfRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len([]rune(name)) > maxShelfName {
		sendError(w, http.StatusBadRequest, "Invalid payload", nil)
		return
	}
	userID := userFrom(r)

	existing, err := h.db.Scan(r.Context(), SheetShelves, func(rec store.Record) bool {
		return rec["userId"] == userID && strings.EqualFold(rec["name"], name)
	})
	if err != nil {
		sendStoreError(w, "Failed to create shelf", err)
		return
	}
	if len(existing) > 0 {
		sendError(w, http.StatusConflict, "Shelf already exists", nil)
		return
	}

	rec := store.Record{"id": newID(), "userId": userID, "name": name, "createdAt": timestamp()}
	if err := h.db.Append(r.Context(), SheetShelves, rec); err != nil {
		sendStoreError(w, "Failed to create shelf", err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{"shelf": recordToShelf(rec)})
}

func ownedBy(userID string) func(store.Record) bool {
	return func(rec store.Record) bool { return rec["userId"] == userID }
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid payload", nil)
		return false
	}
	return true
}

// sendStoreError maps store failures: exhausted retries are 503, anything
// else is a 500.
func sendStoreError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	if sheets.IsTransient(err) {
		status = http.StatusServiceUnavailable
	}
	log.WithField("status", status).Errorf("%s: %v", msg, err)
	sendError(w, status, msg, err)
}

func sendError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil {
		body["detail"] = err.Error()
	}
	sendJSON(w, status, body)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode response: %v", err)
		status, body = http.StatusInternalServerError, []byte(`{"error":"Failed to encode response"}`)
	}
	sendResponse(w, status, body)
}

func sendResponse(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
