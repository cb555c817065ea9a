package main

import (
	"context"
	"log"

	"otcdesk/internal/config"
	"otcdesk/internal/db"
	"otcdesk/internal/snapshot"
)

func main() {
	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	store := snapshot.NewPostgresStore(database)
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	log.Println("snapshot schema ready")
}
