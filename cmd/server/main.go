package main

import (
	"flag"

	"github.com/clipnote/clipnote/internal/config"
	"github.com/clipnote/clipnote/internal/service"
	"github.com/clipnote/clipnote/internal/storage"
	"github.com/clipnote/clipnote/pkg/logger"
)

var (
	port      int
	dbPath    string
	uploadDir string
)

func init() {
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	flag.StringVar(&uploadDir, "uploads", "", "Audio upload directory (overrides config)")
}

func main() {
	flag.Parse()

	log := logger.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if uploadDir != "" {
		cfg.Uploads.Dir = uploadDir
	}
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	db, err := storage.NewDBClient(cfg.DB.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	files, err := storage.NewFileStore(cfg.Uploads.Dir)
	if err != nil {
		log.Fatalf("Failed to open upload dir: %v", err)
	}

	svc := service.New(db, files)
	server := NewServer(svc, files, &cfg)

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
