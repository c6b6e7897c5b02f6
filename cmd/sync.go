package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync <file.json>",
	Short: "Reconcile an exported offline queue",
	Long: `Replay attendance events that a kiosk queued while offline.
The file holds either {"offline_records": [...]} or a bare array of events.
Events are processed in order; duplicates of stored records are reported,
never stored twice.

Examples:
  # Reconcile a kiosk export
  rh360-attendance sync kiosk-3.json

  # Print the report as JSON
  rh360-attendance sync kiosk-3.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Bool("json", false, "Output report as JSON")
}

func runSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	batch, err := reconcile.ParseBatch(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	events := batch.Events()
	if len(events) == 0 {
		return errors.New("no offline records in file")
	}

	cfg := config.Load()
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	client := b.embeddingClient()
	if client != nil {
		b.enableGalleryIndex(context.Background())
	}
	engine := b.reconcileEngine(b.attendanceRouter(client))

	if !jsonOutput {
		bar := progressbar.NewOptions(len(events),
			progressbar.OptionSetDescription("Reconciling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("events"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		engine.OnProgress(func(done, total int) { bar.Set(done) })
	}

	report := engine.Reconcile(context.Background(), events)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println()
	fmt.Printf("\nSincronizados %d de %d registros\n", report.Synced, report.Submitted)
	fmt.Printf("  Duplicates: %d\n", report.Duplicates)
	fmt.Printf("  Failed:     %d\n", report.Failed)
	for _, f := range report.Failures {
		fmt.Printf("  - %s [%s] %s\n", f.LocalID, f.Status, f.Error)
	}
	if report.Failed > len(report.Failures) {
		fmt.Printf("  ... and %d more\n", report.Failed-len(report.Failures))
	}
	return nil
}
