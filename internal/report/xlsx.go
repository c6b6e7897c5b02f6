// Package report renders attendance records as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

const (
	recordsSheet = "Registros"
	summarySheet = "Resumen"
)

var recordHeaders = []any{
	"Empleado", "RUT", "Tipo", "Fecha y hora", "Método", "Confianza", "Offline", "Dirección", "Notas",
}

// Options controls the export.
type Options struct {
	Location *time.Location // zone timestamps are shown in, UTC when nil
	From, To time.Time      // shown in the summary sheet
}

// WriteXLSX writes records and a per-method summary as an XLSX workbook.
func WriteXLSX(w io.Writer, records []database.AttendanceRecord, counts map[database.VerificationMethod]int, opts Options) error {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetRow(recordsSheet, "A1", &recordHeaders); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	if err := f.SetRowStyle(recordsSheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("style headers: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		row := []any{
			r.EmployeeName,
			displayRUT(r.EmployeeRUT),
			r.Type,
			r.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
			string(r.Method),
			confidenceCell(r.FaceConfidence),
			yesNo(r.OfflineSync),
			r.Location.Address,
			r.Notes,
		}
		if err := f.SetSheetRow(recordsSheet, cell, &row); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	if err := f.SetColWidth(recordsSheet, "A", "A", 28); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(recordsSheet, "D", "D", 20); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	summary := [][]any{
		{"Desde", formatBound(opts.From, loc)},
		{"Hasta", formatBound(opts.To, loc)},
		{"Total", len(records)},
		{"Facial", counts[database.MethodFacial]},
		{"QR", counts[database.MethodQR]},
		{"Manual", counts[database.MethodManual]},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func displayRUT(canonical string) string {
	if canonical == "" {
		return ""
	}
	return rut.Format(canonical)
}

func confidenceCell(c *float64) any {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%.1f%%", *c*100)
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func formatBound(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
