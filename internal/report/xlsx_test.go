package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kozaktomas/rh360-attendance/internal/database"
)

func TestWriteXLSX(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	confidence := 0.873
	records := []database.AttendanceRecord{
		{
			ID: "r1", EmployeeName: "Ana Pérez", EmployeeRUT: "12345678-5", Type: "entrada",
			Timestamp: time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC), Method: database.MethodFacial,
			FaceConfidence: &confidence, Location: database.Location{Address: "Av. Providencia 1234"},
		},
		{
			ID: "r2", EmployeeName: "Bruno Soto", EmployeeRUT: "10000013-K", Type: "salida",
			Timestamp: time.Date(2025, 1, 15, 21, 0, 0, 0, time.UTC), Method: database.MethodManual,
			OfflineSync: true, Notes: "Sincronizado offline",
		},
	}
	counts := map[database.VerificationMethod]int{database.MethodFacial: 1, database.MethodManual: 1}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, records, counts, Options{Location: santiago}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{recordsSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(recordsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Empleado", rows[0][0])

	// January is daylight saving time in Santiago (UTC-3).
	assert.Equal(t, []string{"Ana Pérez", "12.345.678-5", "entrada", "2025-01-15 08:30:00", "facial", "87.3%", "No", "Av. Providencia 1234"}, rows[1])
	assert.Equal(t, "10.000.013-K", rows[2][1])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "Sí", rows[2][6])
	assert.Equal(t, "Sincronizado offline", rows[2][8])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Total", "2"}, summary[2])
	assert.Equal(t, []string{"QR", "0"}, summary[4])
	assert.Equal(t, []string{"Desde", "-"}, summary[0])
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, nil, Options{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(recordsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
