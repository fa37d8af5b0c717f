package main

import (
	"context"
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/api"
	"github.com/tolitz22/library-management/pkg/config"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	configFile := flag.String("config", config.DefaultFilename, "Path to the TOML config file")
	stats := flag.Bool("stats", false, "Print secondary index statistics")
	purgeOwner := flag.String("purge-owner", "", "Delete every row owned by this user id")

	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.New(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Opening the store creates missing sheets and header columns.
	ctx := context.Background()
	db, err := api.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	log.Info("Sheets and headers are in place")

	if *purgeOwner != "" {
		deleted, err := api.PurgeOwner(ctx, db, *purgeOwner)
		if err != nil {
			log.Fatalf("Failed to purge %s: %v", *purgeOwner, err)
		}
		for sheet, n := range deleted {
			log.WithFields(log.Fields{"sheet": sheet, "deleted": n}).Info("Purged rows")
		}
	}

	if *stats {
		report, err := api.IndexReport(ctx, db)
		if err != nil {
			log.Fatalf("Failed to build indexes: %v", err)
		}
		for sheet, s := range report {
			log.WithFields(log.Fields{
				"sheet":   sheet,
				"keys":    s.Keys,
				"owners":  s.Owners,
				"expires": s.ExpiresAt,
			}).Info("Index")
		}
	}
}
