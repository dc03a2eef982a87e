package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/LipPkg/LipIndex/pkg/api"
	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/realtime"
	"github.com/LipPkg/LipIndex/pkg/sources/levilamina"
	"github.com/LipPkg/LipIndex/pkg/upstream"
	"github.com/LipPkg/LipIndex/pkg/warehouse"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the scheduler and the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides listen_addr from config)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"), c.String("listen"))
		},
	}
}

// serve runs the periodic fetch scheduler and the JSON API in one process.
func serve(ctx context.Context, configPath, listenAddr string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenAddr == "" {
		listenAddr = cfg.ListenAddr
	}

	registry := core.GetGlobalRegistry()

	if err := createSourcesFromConfig(registry, cfg); err != nil {
		return fmt.Errorf("creating sources: %w", err)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			fmt.Printf("Warning: failed to close registry: %v\n", err)
		}
	}()

	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			fmt.Printf("Warning: failed to close index: %v\n", err)
		}
	}()

	whConfig, err := warehouseConfig(cfg, time.Hour)
	if err != nil {
		return err
	}
	wh := warehouse.NewWarehouse(whConfig, ix)
	defer func() {
		if err := wh.Close(); err != nil {
			fmt.Printf("Warning: failed to close warehouse: %v\n", err)
		}
	}()

	hub := realtime.NewFirehoseHub(0)
	wh.SetEventHub(hub)

	sources := registry.GetAllSources()
	log.Printf("Configuring %d sources:", len(sources))
	for name, src := range sources {
		interval := cfg.GetSourceInterval(name)
		log.Printf("  - %s: %v", name, interval)
		if err := wh.AddSourceWithInterval(name, src, interval); err != nil {
			return fmt.Errorf("adding source to warehouse: %w", err)
		}
	}

	// Create a cancellable context for the warehouse
	warehouseCtx, warehouseCancel := context.WithCancel(ctx)
	defer warehouseCancel()

	// Signal handling - includes SIGHUP for reload
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	fmt.Println("Starting warehouse with per-source intervals")

	// Start warehouse (non-blocking)
	if err := wh.Start(warehouseCtx); err != nil {
		return fmt.Errorf("starting warehouse: %w", err)
	}

	httpServer := startAPIServer(registry, ix, hub, cfg, listenAddr)

	fmt.Println("Serving. Press Ctrl+C to stop, send SIGHUP to reload, or modify config file for automatic reload.")

	// Configuration reload state
	var cfgMutex sync.RWMutex
	currentConfig := cfg

	// Set up filesystem watcher for config file
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Warning: failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Printf("Warning: failed to close config file watcher: %v", err)
			}
		}()

		// Add config file to watcher
		if err := watcher.Add(configPath); err != nil {
			log.Printf("Warning: failed to watch config file %s: %v", configPath, err)
		} else {
			log.Printf("Watching config file for changes: %s", configPath)
		}
	}

	// Main event handling loop
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Println("Received SIGHUP, reloading configuration...")
				if err := reloadConfiguration(configPath, registry, wh, &cfgMutex, &currentConfig); err != nil {
					log.Printf("Failed to reload configuration: %v", err)
				} else {
					log.Println("Configuration reloaded successfully")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\nShutting down...")
				warehouseCancel() // Cancel the warehouse context
				wh.Stop()         // Stop the warehouse and wait for completion

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			// React to write, create, rename, and remove events (editors often use atomic writes)
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				log.Printf("Config file changed: %s (event: %s), reloading configuration...", event.Name, event.Op.String())

				// For rename/remove events, we need to re-add the file to the watcher since it was replaced
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					// Small delay to ensure the new file is fully written
					time.Sleep(200 * time.Millisecond)

					// Check if file was actually replaced (atomic write) or just removed
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						log.Printf("Config file was removed and not replaced, skipping reload")
						continue
					}

					// Re-add the config file to watcher in case it was replaced
					if err := watcher.Add(configPath); err != nil {
						log.Printf("Warning: failed to re-add config file to watcher after rename/remove: %v", err)
					}
				} else {
					// Add a small delay to ensure file write is complete
					time.Sleep(100 * time.Millisecond)
				}

				if err := reloadConfiguration(configPath, registry, wh, &cfgMutex, &currentConfig); err != nil {
					log.Printf("Failed to reload configuration after file change: %v", err)
				} else {
					log.Println("Configuration reloaded successfully after file change")
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			log.Printf("Config file watcher error: %v", err)
		}
	}
}

// startAPIServer wires the JSON API and returns the running HTTP server.
func startAPIServer(registry *core.Registry, ix *index.Index, hub *realtime.FirehoseHub, cfg *config.Config, listenAddr string) *http.Server {
	apiServer := api.NewServer(registry, ix)

	// Tooth lookups bypass the index and hit upstream directly, so they
	// share the revision cache with the sources.
	var opts []upstream.Option
	if cfg.CacheDir != "" {
		cache, err := upstream.NewCache(cfg.CacheDir, 0)
		if err != nil {
			log.Printf("Warning: revision cache disabled for tooth lookups: %v", err)
		} else {
			opts = append(opts, upstream.WithCache(cache))
		}
	}
	client := upstream.NewClient(opts...)
	proxy := upstream.NewGoProxy(client, "")
	apiServer.SetToothLookup(levilamina.NewToothResolver(client, proxy))
	apiServer.SetFirehoseHub(hub)

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	handler := api.CorsMiddleware(mux)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: handler,
	}

	go func() {
		log.Printf("Starting API server on %s", listenAddr)
		log.Printf("Available endpoints:")
		log.Printf("  GET /api/search - Search indexed packages")
		log.Printf("  GET /api/packages/{host}/{owner}/{repo} - Fetch one indexed package")
		log.Printf("  GET /api/teeth/{owner}/{repo}/{version} - Live tooth lookup")
		log.Printf("  GET /api/firehose - Latest indexed packages")
		log.Printf("  GET /api/firehose/ws - Live package stream")
		log.Printf("  GET /api/stats - Index statistics")
		log.Printf("  GET /health - Health check")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed to start: %v", err)
		}
	}()

	return httpServer
}

// reloadConfiguration handles the configuration reload process
func reloadConfiguration(configPath string, registry *core.Registry, wh *warehouse.Warehouse, cfgMutex *sync.RWMutex, currentConfig **config.Config) error {
	cfgMutex.Lock()
	defer cfgMutex.Unlock()

	// Load new configuration
	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading new config: %w", err)
	}

	oldCfg := *currentConfig

	// Remove all existing sources
	oldSources := oldCfg.ListSources()
	for _, name := range oldSources {
		log.Printf("Removing source: %s", name)
		if err := removeSourceFromWarehouse(wh, registry, name); err != nil {
			log.Printf("Warning: failed to remove source %s: %v", name, err)
		}
	}

	// Add all sources from new configuration
	newSources := newCfg.ListSources()
	for _, name := range newSources {
		log.Printf("Adding source: %s", name)
		if err := addSourceToWarehouse(wh, registry, newCfg, name); err != nil {
			return fmt.Errorf("adding source %s: %w", name, err)
		}
	}

	// Update current config
	*currentConfig = newCfg

	log.Printf("Configuration reload complete: removed %d sources, added %d sources",
		len(oldSources), len(newSources))

	// Fetch the new source set now instead of waiting for the tickers.
	wh.Refresh()

	return nil
}

// removeSourceFromWarehouse removes a source from the warehouse and registry
func removeSourceFromWarehouse(wh *warehouse.Warehouse, registry *core.Registry, name string) error {
	// Remove from warehouse first
	if err := wh.RemoveSource(name); err != nil {
		return fmt.Errorf("removing source from warehouse: %w", err)
	}

	// Remove from registry
	if err := registry.RemoveSource(name); err != nil {
		return fmt.Errorf("removing source from registry: %w", err)
	}

	return nil
}

// addSourceToWarehouse adds a new source to the warehouse and registry
func addSourceToWarehouse(wh *warehouse.Warehouse, registry *core.Registry, cfg *config.Config, name string) error {
	if err := configureSource(registry, cfg, name); err != nil {
		return err
	}

	sources := registry.GetAllSources()
	src, exists := sources[name]
	if !exists {
		return fmt.Errorf("source %s not found after creation", name)
	}

	// Add to warehouse
	interval := cfg.GetSourceInterval(name)
	if err := wh.AddSourceWithInterval(name, src, interval); err != nil {
		return fmt.Errorf("adding source %s to warehouse: %w", name, err)
	}

	return nil
}
