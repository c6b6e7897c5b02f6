package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database/mariadb"
	"github.com/kozaktomas/rh360-attendance/internal/legacy"
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Migrate data from the previous deployment",
}

var legacyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import employees and attendance records from the legacy MySQL database",
	Long: `Import employees and attendance history from the previous deployment's
MySQL/MariaDB database (LEGACY_DATABASE_URL). RUTs are canonicalized, employees
already present (by RUT) are reused, and records go through the same
duplicate window as live submissions, so the import can be re-run safely.

Examples:
  rh360-attendance legacy import
  rh360-attendance legacy import --since 2024-01-01 --json`,
	Args: cobra.NoArgs,
	RunE: runLegacyImport,
}

func init() {
	rootCmd.AddCommand(legacyCmd)
	legacyCmd.AddCommand(legacyImportCmd)

	legacyImportCmd.Flags().String("since", "", "Only import records at or after this date (YYYY-MM-DD)")
	legacyImportCmd.Flags().Bool("json", false, "Output summary as JSON")
}

func runLegacyImport(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg := config.Load()

	var since time.Time
	if s := mustGetString(cmd, "since"); s != "" {
		var err error
		if since, err = time.ParseInLocation("2006-01-02", s, cfg.Attendance.Location); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	if cfg.Legacy.DatabaseURL == "" {
		return errors.New("LEGACY_DATABASE_URL environment variable is required")
	}

	fmt.Println("Connecting to legacy MariaDB database...")
	source, err := mariadb.NewPool(cfg.Legacy.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to legacy database: %w", err)
	}
	defer source.Close()

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	importer := legacy.NewImporter(source, b.employees, b.attendanceRouter(nil).Factory())

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		importer.OnProgress(func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Importing records"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("records"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Set(done)
		})
	}

	summary, err := importer.Run(context.Background(), since)
	if err != nil {
		return fmt.Errorf("legacy import failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Println()
	fmt.Printf("\nEmployees: %d created, %d existing, %d skipped\n",
		summary.EmployeesCreated, summary.EmployeesExisting, summary.EmployeesSkipped)
	fmt.Printf("Records:   %d imported, %d duplicates, %d skipped\n",
		summary.RecordsImported, summary.RecordsDuplicate, summary.RecordsSkipped)
	if len(summary.Problems) > 0 {
		fmt.Println("\nProblems:")
		for _, p := range summary.Problems {
			fmt.Printf("  - %s\n", p)
		}
	}
	return nil
}
