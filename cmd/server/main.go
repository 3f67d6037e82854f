// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Command server is a flag-only entry point for the case service, for
// environments that do not want the full limsd CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdhender/limsd"
	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/pipelines/stages"
	"github.com/mdhender/limsd/processors"
	store "github.com/mdhender/limsd/stores/sqlite"
	"github.com/mdhender/limsd/web/handlers"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	uploadDir := flag.String("upload-dir", "uploads", "root directory for case folders")
	dbPath := flag.String("db", "", "SQLite database file path (empty = in-memory)")
	holdMS := flag.Int("upload-hold-ms", 1000, "minimum upload lock hold, in milliseconds")
	enableSQL := flag.Bool("enable-sql-console", false, "expose the raw-query debug endpoint")
	logWithDefaultFlags := flag.Bool("log-with-default-flags", false, "log with default flags")
	logWithShortFileName := flag.Bool("log-with-shortfile", true, "log with short file name")
	logWithTimestamp := flag.Bool("log-with-timestamp", false, "log with timestamp")
	timeout := flag.Duration("timeout", 0, "auto-shutdown after duration (e.g., 5s, 1m)")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(limsd.Version().Core())
		os.Exit(0)
	}

	logFlags := 0
	if *logWithShortFileName {
		logFlags |= log.Lshortfile
	}
	if *logWithTimestamp {
		logFlags |= log.Ltime
	}
	if *logWithDefaultFlags || logFlags == 0 {
		logFlags = log.LstdFlags
	}
	log.SetFlags(logFlags)

	err := run(*addr, *uploadDir, *dbPath, *holdMS, *enableSQL, *timeout)
	if err != nil {
		log.Printf("error: %v\n", err)
	}
}

func run(addr, uploadDir, dbPath string, holdMS int, enableSQL bool, timeout time.Duration) error {
	var registry *store.SQLiteStore
	var err error

	if dbPath != "" {
		// File-based mode: database must already exist (created by the
		// limsd init-db command).
		log.Printf("store: using file-based SQLite: %s", dbPath)
		registry, err = store.NewSQLiteStoreWithConfig(store.StoreConfig{
			Path: dbPath,
		})
	} else {
		// In-memory mode (default)
		log.Printf("store: using in-memory SQLite")
		registry, err = store.NewSQLiteStore()
	}
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %v", err)
	}
	defer registry.Close()

	stats := registry.Stats()
	log.Printf("store: %d cases, %d results", stats.Cases, stats.Results)

	files := casestore.New(uploadDir)

	uploads := stages.NewUploadService(files, registry)
	uploads.SetHold(time.Duration(holdMS) * time.Millisecond)

	procs := stages.NewProcessService(files, registry, processors.Default())

	h := handlers.New(registry, files, uploads, procs)
	if enableSQL {
		log.Printf("server: SQL console enabled")
		h.EnableSQLConsole()
	}

	mux := http.NewServeMux()
	h.Routes(mux)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	if timeout > 0 {
		go func() {
			log.Printf("server: will auto-shutdown in %v", timeout)
			time.Sleep(timeout)
			log.Printf("server: timeout reached, initiating shutdown")
			shutdown <- os.Interrupt
		}()
	}

	go func() {
		log.Printf("server: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}()

	<-shutdown
	log.Printf("server: shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown error: %w", err)
	}

	log.Printf("server: stopped")
	return nil
}
