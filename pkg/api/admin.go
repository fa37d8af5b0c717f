package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/store"
)

// PurgeOwner removes every row owned by userID from every sheet, user record
// last. It returns the number of rows deleted per sheet.
func PurgeOwner(ctx context.Context, db *store.DB, userID string) (map[string]int, error) {
	deleted := make(map[string]int, len(sheetOrder))
	for i := len(sheetOrder) - 1; i >= 0; i-- {
		sheet := sheetOrder[i]
		n, err := db.DeleteWhere(ctx, sheet, ownedBy(userID))
		if err != nil {
			return deleted, err
		}
		deleted[sheet] = n
	}
	log.WithFields(log.Fields{"userId": userID, "deleted": deleted}).Info("Purged owner")
	return deleted, nil
}

// IndexReport returns the statistics of every indexed sheet.
func IndexReport(ctx context.Context, db *store.DB) (map[string]store.IndexStats, error) {
	out := make(map[string]store.IndexStats, len(Indexes))
	for _, spec := range Indexes {
		stats, err := db.IndexStats(ctx, spec.Sheet)
		if err != nil {
			return nil, err
		}
		out[spec.Sheet] = stats
	}
	return out, nil
}
