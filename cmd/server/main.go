// Package main implements the entry point for the Stride API server: the
// background job queue, credit ledger and recurrence engine behind the
// Stride habit app, plus the operational HTTP surface.
package main

import (
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// A local .env is a development convenience; in deployment the
	// environment is the only source.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	app, err := newApplication()
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("application exited with error: %v", err)
	}
}
