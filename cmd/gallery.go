package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the enrolled face gallery",
}

var galleryRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the HNSW gallery index from PostgreSQL",
	Long: `Rebuild the in-memory HNSW index of enrolled faces from the database and
persist it to HNSW_INDEX_PATH. Run it after restoring a backup or when the
persisted index is out of date.`,
	Args: cobra.NoArgs,
	RunE: runGalleryRebuild,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryRebuildCmd)
}

func runGalleryRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	count, err := b.gallery.CountEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}
	fmt.Printf("Rebuilding gallery index from %d enrolled faces...\n", count)

	start := time.Now()
	b.gallery.UseIndexPath(cfg.Database.HNSWIndexPath)
	if err := b.gallery.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild gallery index: %w", err)
	}

	fmt.Printf("Gallery index rebuilt with %d faces in %s\n", b.gallery.IndexCount(), time.Since(start).Round(time.Millisecond))
	if cfg.Database.HNSWIndexPath != "" {
		fmt.Printf("Persisted to %s\n", cfg.Database.HNSWIndexPath)
	} else {
		fmt.Println("HNSW_INDEX_PATH is not set, the index was not persisted")
	}
	return nil
}
