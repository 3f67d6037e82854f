// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Command limsd manages the lab case service: serve the HTTP API, manage
// the registry database, and run processors from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mdhender/limsd"
	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/config"
	"github.com/mdhender/limsd/pipelines/stages"
	"github.com/mdhender/limsd/processors"
	"github.com/mdhender/limsd/report"
	store "github.com/mdhender/limsd/stores/sqlite"
	"github.com/mdhender/limsd/web/handlers"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	addFlags := func(cmd *cobra.Command) error {
		cmd.PersistentFlags().Bool("debug", false, "log debugging information")
		cmd.PersistentFlags().Bool("log-with-default-flags", false, "log with default flags")
		cmd.PersistentFlags().Bool("log-with-shortfile", true, "log with short file name")
		cmd.PersistentFlags().Bool("log-with-timestamp", false, "log with timestamp")
		cmd.PersistentFlags().Bool("show-version", false, "show version")
		return nil
	}
	var cmdRoot = &cobra.Command{
		Use:   "limsd",
		Short: "lab case service command line utility",
		Long:  `Run the case service and its maintenance commands`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logWithDefaultFlags, _ := cmd.Flags().GetBool("log-with-default-flags")
			logWithShortFileName, _ := cmd.Flags().GetBool("log-with-shortfile")
			logWithTimestamp, _ := cmd.Flags().GetBool("log-with-timestamp")
			logFlags := 0
			if logWithShortFileName {
				logFlags |= log.Lshortfile
			}
			if logWithTimestamp {
				logFlags |= log.Ltime
			}
			if logWithDefaultFlags || logFlags == 0 {
				logFlags = log.LstdFlags
			}
			log.SetFlags(logFlags)

			if showVersion, _ := cmd.Flags().GetBool("show-version"); showVersion {
				fmt.Printf("limsd: version %q\n", limsd.Version().Core())
			}

			return nil
		},
	}
	cmdRoot.AddCommand(cmdServe())
	cmdRoot.AddCommand(cmdInitDB())
	cmdRoot.AddCommand(cmdCompactDB())
	cmdRoot.AddCommand(cmdProcess())
	cmdRoot.AddCommand(cmdVersion())
	if err := addFlags(cmdRoot); err != nil {
		log.Fatal(err)
	}

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdServe() *cobra.Command {
	var configFile string
	var addr string
	var dbPath string
	var uploadDir string
	var enableSQL bool
	var timeout time.Duration
	var cmd = &cobra.Command{
		Use:          "serve",
		Short:        "serve the case service HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.DB = dbPath
			}
			if cmd.Flags().Changed("upload-dir") {
				cfg.UploadDir = uploadDir
			}
			if cmd.Flags().Changed("enable-sql-console") {
				cfg.EnableSQLConsole = enableSQL
			}
			return runServer(cfg, timeout)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config-file", "c", configFile, "load configuration from file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "limsd.db", `registry database path (":memory:" = in-memory)`)
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "uploads", "root directory for case folders")
	cmd.Flags().BoolVar(&enableSQL, "enable-sql-console", false, "expose the raw-query debug endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "auto-shutdown after duration (e.g., 5s, 1m)")
	return cmd
}

func runServer(cfg *config.Config, timeout time.Duration) error {
	var registry *store.SQLiteStore
	var err error

	if cfg.DB == ":memory:" {
		log.Printf("store: using in-memory SQLite")
		registry, err = store.NewSQLiteStore()
	} else {
		// File mode: the database must already exist (created by init-db).
		log.Printf("store: using file-based SQLite: %s", cfg.DB)
		registry, err = store.NewSQLiteStoreWithConfig(store.StoreConfig{
			Path: cfg.DB,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %v", err)
	}
	defer registry.Close()

	stats := registry.Stats()
	log.Printf("store: %d cases, %d results", stats.Cases, stats.Results)

	files := casestore.New(cfg.UploadDir)

	uploads := stages.NewUploadService(files, registry)
	uploads.SetHold(cfg.UploadHold())
	if len(cfg.AllowedExtensions) > 0 {
		uploads.SetAllowedExtensions(cfg.AllowedExtensions)
	}

	procs := stages.NewProcessService(files, registry, processors.Default())

	h := handlers.New(registry, files, uploads, procs)
	if cfg.EnableSQLConsole {
		log.Printf("server: SQL console enabled")
		h.EnableSQLConsole()
	}

	mux := http.NewServeMux()
	h.Routes(mux)

	server := &http.Server{
		Addr:         cfg.Addr,
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
		log.Printf("server: listening on %s", cfg.Addr)
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

func cmdInitDB() *cobra.Command {
	var dbPath string
	var cmd = &cobra.Command{
		Use:          "init-db",
		Short:        "create and initialize the registry database file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.InitDatabase(dbPath); err != nil {
				return err
			}
			log.Printf("init-db: created %s", dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "limsd.db", "registry database path")
	return cmd
}

func cmdCompactDB() *cobra.Command {
	var dbPath string
	var cmd = &cobra.Command{
		Use:          "compact-db",
		Short:        "checkpoint and vacuum the registry database file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.CompactDatabase(dbPath); err != nil {
				return err
			}
			log.Printf("compact-db: compacted %s", dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "limsd.db", "registry database path")
	return cmd
}

func cmdProcess() *cobra.Command {
	var processor string
	var sampleType string
	var cmd = &cobra.Command{
		Use:          "process <file>",
		Short:        "run a processor against a local file and print the report",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			registry := processors.Default()

			raw, err := registry.Invoke(afero.NewOsFs(), processor, path)
			if err != nil {
				return err
			}

			formatter := report.NewFormatter(registry.Names()...)
			rpt, err := formatter.Build("local", sampleType, processor, raw, filepath.Base(path))
			if err != nil {
				return err
			}

			data, err := rpt.JSON()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			fmt.Print(rpt.Render())
			return nil
		},
	}
	cmd.Flags().StringVarP(&processor, "processor", "p", "dark_light", "processor name")
	cmd.Flags().StringVar(&sampleType, "sample-type", "image", "sample type recorded on the report")
	return cmd
}

func cmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s\n", limsd.Version().String())
		},
	}
}
