package cmd

import (
	"fmt"

	"github.com/JSH-Team/vidcache/cmd/cache"
	"github.com/JSH-Team/vidcache/cmd/generations"
	"github.com/JSH-Team/vidcache/cmd/serve"
	"github.com/JSH-Team/vidcache/internal/config"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	rootCmd = &cobra.Command{
		Use:   "vidcache",
		Short: "Offline cache for a video library",
		Long: `vidcache keeps a video library usable offline.
It serves the library through a caching worker and lets you cache,
remove and list videos for offline playback.`,
		Version: version,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vidcache %s\n", version)
			fmt.Printf("Build time: %s\n", buildTime)
			fmt.Printf("Git commit: %s\n", gitCommit)
		},
	}
)

// SetVersion sets the version information
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
	rootCmd.Version = v
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(cache.CacheCmd)
	rootCmd.AddCommand(generations.GenerationsCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.LoadConfig()
}
