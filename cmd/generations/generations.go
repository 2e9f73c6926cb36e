package generations

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/JSH-Team/vidcache/internal/config"
	"github.com/JSH-Team/vidcache/internal/storage"

	"github.com/spf13/cobra"
)

var storageDir string

func openStore() (*storage.Store, error) {
	if err := config.SetupStorage(storageDir); err != nil {
		return nil, err
	}
	return storage.NewStore(config.GetIndexPath(), config.GetBlobsPath())
}

func listGenerations(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	if len(stats) == 0 {
		fmt.Println("No cache generations")
		return nil
	}

	// Print table header
	fmt.Printf("%-24s %-8s %s\n", "GENERATION", "ENTRIES", "SIZE")
	fmt.Println(strings.Repeat("-", 48))

	var total int64
	for _, s := range stats {
		fmt.Printf("%-24s %-8d %s\n", s.Name, s.Entries, formatSize(s.Bytes))
		total += s.Bytes
	}
	fmt.Printf("\n%d generations, %s in %s\n", len(stats), formatSize(total), config.StorageDir)

	return nil
}

func clearGenerations(ctx context.Context, names []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if len(names) == 0 {
		if names, err = store.Generations(ctx); err != nil {
			return err
		}
	}

	for _, name := range names {
		existed, err := store.DeleteGeneration(ctx, name)
		if err != nil {
			return err
		}
		if existed {
			fmt.Printf("deleted  %s\n", name)
		} else {
			fmt.Printf("missing  %s\n", name)
		}
	}
	return nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var GenerationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "List cache generations",
	Long:  `List the cache generations in the storage directory with their entry count and size.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := listGenerations(cmd.Context()); err != nil {
			fmt.Printf("Error listing generations: %v\n", err)
			os.Exit(1)
		}
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [generation]...",
	Short: "Delete cache generations",
	Long:  `Delete the named cache generations, or every generation when none is named.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := clearGenerations(cmd.Context(), args); err != nil {
			fmt.Printf("Error clearing generations: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	GenerationsCmd.PersistentFlags().StringVarP(&storageDir, "storage-dir", "s", "", "Storage directory for cached responses")
	GenerationsCmd.AddCommand(clearCmd)
}
