package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tolitz22/library-management/pkg/api"
	"github.com/tolitz22/library-management/pkg/config"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	configFile := flag.String("config", config.DefaultFilename, "Path to the TOML config file")

	flag.Parse()
	if *verbose {
		// Set the log level to debug
		log.SetLevel(log.DebugLevel)
	}
	// Set the log format to include a leading timestamp in ISO8601 format
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.New(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := api.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.Settings.ListenAddress,
		Handler:           api.GetRouter(api.NewHandler(db)),
		ReadHeaderTimeout: 2 * time.Second,
	}
	go startServer(server)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	<-signalChan
	log.Info("Signalled, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
}

func startServer(server *http.Server) {
	log.Infof("listening for HTTP on: %s", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("ListenAndServe: %v", err)
	}
}
