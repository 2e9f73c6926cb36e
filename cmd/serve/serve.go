package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JSH-Team/vidcache/internal/config"
	"github.com/JSH-Team/vidcache/internal/server"
)

var (
	origin       string
	listenAddr   string
	storageDir   string
	cacheVersion string
	saveSettings bool
)

// ServeCmd starts the caching worker in front of the library origin
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the video library through the caching worker",
	Run: func(cmd *cobra.Command, args []string) {
		// Flags win over the config file
		if cmd.Flags().Changed("origin") {
			config.Origin = origin
		}
		if cmd.Flags().Changed("listen") {
			config.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("cache-version") {
			config.CacheVersion = cacheVersion
		}
		if config.ListenAddr == "" {
			config.ListenAddr = config.DefaultListenAddr
		}

		if config.Origin == "" {
			fmt.Println("An origin is required: pass --origin or set origin in the config file")
			os.Exit(1)
		}

		if err := config.SetupStorage(storageDir); err != nil {
			fmt.Printf("Failed to setup storage: %v\n", err)
			os.Exit(1)
		}

		if saveSettings {
			config.RememberServeSettings()
			if err := config.SaveConfig(); err != nil {
				fmt.Printf("Failed to save config: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Saved serve settings to the config file")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.RunServer(ctx); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	ServeCmd.Flags().StringVarP(&origin, "origin", "o", "", "Base URL of the video library")
	ServeCmd.Flags().StringVarP(&listenAddr, "listen", "l", config.DefaultListenAddr, "Address to listen on")
	ServeCmd.Flags().StringVarP(&storageDir, "storage-dir", "s", "", "Storage directory for cached responses")
	ServeCmd.Flags().StringVar(&cacheVersion, "cache-version", config.DefaultCacheVersion, "Cache generation version")
	ServeCmd.Flags().BoolVar(&saveSettings, "save", false, "Save the origin, listen address, storage directory and version to the config file")
}
