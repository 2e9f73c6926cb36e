package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JSH-Team/vidcache/internal/config"
	"github.com/JSH-Team/vidcache/internal/offline"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
)

var workerURL string

// CacheCmd groups the page-side cache operations against a running worker
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage videos cached for offline playback",
	Long: `Talk to a running vidcache worker to cache, remove and list videos.
Relative URLs resolve against the library origin the worker serves.`,
}

var addCmd = &cobra.Command{
	Use:   "add <video-url>...",
	Short: "Cache videos for offline playback",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := register()

		failed := 0
		for _, url := range args {
			if offline.CacheVideo(ctx, url) {
				fmt.Printf("cached   %s\n", url)
			} else {
				fmt.Printf("failed   %s\n", url)
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <video-url>...",
	Short: "Remove cached videos",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := register()

		for _, url := range args {
			if offline.UncacheVideo(ctx, url) {
				fmt.Printf("removed  %s\n", url)
			} else {
				fmt.Printf("missing  %s\n", url)
			}
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <video-url>...",
	Short: "Show whether videos are cached",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := register()

		for _, url := range args {
			state := "not cached"
			if offline.IsCached(ctx, url) {
				state = "cached"
			}
			fmt.Printf("%-11s %s\n", state, url)
		}
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached videos",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := register()

		videos := offline.ListCachedVideos(ctx)
		if len(videos) == 0 {
			fmt.Println("No videos cached")
			return
		}
		for _, url := range videos {
			fmt.Println(url)
		}
	},
}

var pageCmd = &cobra.Command{
	Use:   "page <page-url>",
	Short: "Cache every video found on a page",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := register()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Caching videos"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSpinnerType(14),
		)

		results, err := offline.CachePage(ctx, args[0], func(v offline.PageVideo) {
			bar.Add(1)
		})
		bar.Finish()
		if err != nil {
			fmt.Printf("Failed to cache page: %v\n", err)
			os.Exit(1)
		}

		cached := 0
		for _, v := range results {
			if v.Cached {
				cached++
			} else {
				fmt.Printf("failed   %s\n", v.URL)
			}
		}
		fmt.Printf("Cached %d of %d videos\n", cached, len(results))
	},
}

// register points the process-wide page at the worker. Without one every
// operation answers its default, so the command stops here instead.
func register() context.Context {
	ctx := context.Background()

	target := workerURL
	if target == "" {
		target = config.WorkerURL
	}
	if target == "" {
		target = "http://" + config.DefaultListenAddr
	}

	remote, err := offline.NewRemote(target, fetch.NewNetworkFetcher(fetch.Options{
		Timeout:           config.FetchTimeout,
		RequestsPerSecond: config.RequestsPerSecond,
	}))
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	if !offline.Register(ctx, remote) {
		fmt.Printf("No active worker at %s, start one with 'vidcache serve'\n", target)
		os.Exit(1)
	}
	return ctx
}

func init() {
	CacheCmd.PersistentFlags().StringVarP(&workerURL, "worker", "w", "", "Base URL of the running worker")

	CacheCmd.AddCommand(addCmd)
	CacheCmd.AddCommand(rmCmd)
	CacheCmd.AddCommand(statusCmd)
	CacheCmd.AddCommand(lsCmd)
	CacheCmd.AddCommand(pageCmd)
}
