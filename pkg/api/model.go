package api

import (
	"strconv"
	"strings"

	"github.com/tolitz22/library-management/pkg/store"
)

type Book struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	ISBN        string   `json:"isbn,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Shelf       string   `json:"shelf"`
	Tags        []string `json:"tags"`
	CurrentPage int      `json:"currentPage"`
	TotalPages  int      `json:"totalPages"`
	Progress    int      `json:"progress"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Entry is a note or a highlight attached to a book.
type Entry struct {
	ID        string `json:"id"`
	BookID    string `json:"bookId"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type Shelf struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

func recordToBook(rec store.Record) Book {
	b := Book{
		ID:          rec["id"],
		Title:       rec["title"],
		Author:      rec["author"],
		ISBN:        rec["isbn"],
		ImageURL:    rec["imageUrl"],
		Shelf:       rec["shelf"],
		Tags:        splitTags(rec["tags"]),
		CurrentPage: atoi(rec["currentPage"]),
		TotalPages:  atoi(rec["totalPages"]),
		Progress:    atoi(rec["progress"]),
		Status:      rec["status"],
		CreatedAt:   rec["createdAt"],
		UpdatedAt:   rec["updatedAt"],
	}
	if b.Shelf == "" {
		b.Shelf = defaultShelf
	}
	if !statuses[b.Status] {
		b.Status = StatusQueued
	}
	return b
}

func (b Book) toRecord(userID string) store.Record {
	return store.Record{
		"id":          b.ID,
		"userId":      userID,
		"title":       b.Title,
		"author":      b.Author,
		"isbn":        b.ISBN,
		"imageUrl":    b.ImageURL,
		"shelf":       b.Shelf,
		"tags":        strings.Join(b.Tags, ", "),
		"currentPage": strconv.Itoa(b.CurrentPage),
		"totalPages":  strconv.Itoa(b.TotalPages),
		"progress":    strconv.Itoa(b.Progress),
		"status":      b.Status,
		"createdAt":   b.CreatedAt,
		"updatedAt":   b.UpdatedAt,
	}
}

func recordToEntry(rec store.Record) Entry {
	return Entry{
		ID:        rec["id"],
		BookID:    rec["bookId"],
		Content:   rec["content"],
		CreatedAt: rec["createdAt"],
	}
}

func recordToShelf(rec store.Record) Shelf {
	return Shelf{ID: rec["id"], Name: rec["name"], CreatedAt: rec["createdAt"]}
}

// progressOf returns the completion percentage, clamped to 0..100.
func progressOf(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(float64(current)/float64(total)*100 + 0.5)
	return max(0, min(100, p))
}

func statusOf(progress int) string {
	switch {
	case progress >= 100:
		return StatusCompleted
	case progress > 0:
		return StatusReading
	}
	return StatusQueued
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// atoi parses a numeric cell, treating anything unparsable as 0.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}
