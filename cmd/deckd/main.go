package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/deckworks/deckd/internal/infrastructure/config"
	"github.com/deckworks/deckd/internal/infrastructure/server"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	port := flag.String("port", "", "listen port (overrides PORT)")
	host := flag.String("host", "", "listen host (overrides HOST)")
	configFile := flag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	dev := flag.Bool("dev", false, "development mode: console logs, debug level")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *dev {
		cfg.Logging.Development = true
	}

	overlayPath := *configFile
	explicit := overlayPath != ""
	if overlayPath == "" {
		overlayPath = os.Getenv("CONFIG_FILE")
		explicit = overlayPath != ""
	}
	if overlayPath == "" {
		overlayPath = config.DefaultFileName
	}
	overlay, err := config.LoadFile(overlayPath, explicit)
	if err != nil {
		log.Fatalf("Invalid config file: %v", err)
	}
	cfg.Merge(overlay)

	srv, err := server.NewServer(cfg, overlay)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
