package main

import (
	"flag"
	"log"

	"github.com/gpscal/web-ftp-server/internal/api"
	"github.com/gpscal/web-ftp-server/internal/config"
	"github.com/gpscal/web-ftp-server/internal/storage"
	"github.com/gpscal/web-ftp-server/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	// Load settings from defaults, the optional file and the environment
	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create the storage backend rooted at the configured directory
	store, err := storage.NewFileStore(settings.FilesRoot, settings.MaxUploadBytes())
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Watch the storage root for changes made outside the API
	fileWatcher, err := watcher.New(store.Root(), config.DefaultEventBufferSize, config.DefaultDebounceInterval)
	if err != nil {
		log.Fatalf("Failed to start file watcher: %v", err)
	}
	defer fileWatcher.Close()

	// Start the API server and stream watcher events to websocket clients
	server := api.NewServer(settings, store)
	server.Feed(fileWatcher.Events())
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}
}
