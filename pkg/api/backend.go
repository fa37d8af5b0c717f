package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/config"
	"github.com/tolitz22/library-management/pkg/retry"
	"github.com/tolitz22/library-management/pkg/sheets"
	"github.com/tolitz22/library-management/pkg/store"
)

// OpenStore connects the configured backend.
func OpenStore(ctx context.Context, cfg *config.Config) (sheets.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Settings.Backend == config.BackendMemory {
		log.Warn("Using the in-memory backend, nothing will be persisted")
		return sheets.NewMemoryStore(), nil
	}
	client, err := sheets.NewSheetClient(ctx, cfg.Credentials, cfg.Settings.Sheets.RequestsPerMinute)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Options maps the sheets settings onto store options with the API's indexes.
func Options(s config.SheetsConfig) store.Options {
	return store.Options{
		TTL:       s.CacheTTL.Duration,
		ChunkSize: s.ChunkSize,
		Retry: retry.Policy{
			MaxRetries: s.Retry.MaxRetries,
			BaseDelay:  s.Retry.BaseDelay.Duration,
			MaxJitter:  s.Retry.MaxJitter.Duration,
			Retryable:  sheets.IsTransient,
		},
		Indexes: Indexes,
	}
}

// EnsureSheets creates every sheet the API uses and completes its header row.
func EnsureSheets(ctx context.Context, db *store.DB) error {
	for _, name := range sheetOrder {
		if err := db.EnsureSheet(ctx, name, sheetHeaders[name]); err != nil {
			return err
		}
	}
	return nil
}

// Open connects the backend, builds the DB and prepares every sheet.
func Open(ctx context.Context, cfg *config.Config) (*store.DB, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db := store.New(st, Options(cfg.Settings.Sheets))
	if err := EnsureSheets(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}
