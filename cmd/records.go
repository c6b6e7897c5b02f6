package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/report"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Work with attendance records",
}

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attendance records to an XLSX workbook",
	Long: `Export attendance records of the last days to an XLSX workbook with a
records sheet and a per-method summary. Timestamps are shown in
ATTENDANCE_TIMEZONE.

Examples:
  # Last 7 days of all employees
  rh360-attendance records export -o asistencia.xlsx

  # Last month of one employee
  rh360-attendance records export --days 30 --employee 12.345.678-5 -o ana.xlsx`,
	Args: cobra.NoArgs,
	RunE: runRecordsExport,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsExportCmd)

	recordsExportCmd.Flags().Int("days", 7, "Number of days to export")
	recordsExportCmd.Flags().String("employee", "", "Only export records of this employee (ID, RUT or code)")
	recordsExportCmd.Flags().StringP("output", "o", "asistencia.xlsx", "Output file")
}

func runRecordsExport(cmd *cobra.Command, args []string) error {
	days := mustGetInt(cmd, "days")
	if days <= 0 {
		return errors.New("--days must be positive")
	}
	output := mustGetString(cmd, "output")

	ctx := context.Background()
	cfg := config.Load()
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	now := time.Now()
	filter := database.RecordFilter{Since: now.AddDate(0, 0, -days)}
	if ref := mustGetString(cmd, "employee"); ref != "" {
		emp, err := resolveEmployee(ctx, b.employees, ref)
		if err != nil {
			return err
		}
		filter.EmployeeID = emp.ID
	}

	records, err := b.records.ListRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	counts, err := b.records.CountRecordsByMethod(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	if err := report.WriteXLSX(f, records, counts, report.Options{
		Location: cfg.Attendance.Location,
		From:     filter.Since,
		To:       now,
	}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Printf("Exported %d records (%d facial, %d QR, %d manual) to %s\n", len(records),
		counts[database.MethodFacial], counts[database.MethodQR], counts[database.MethodManual], output)
	return nil
}
