package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReport(t *testing.T) WeekReport {
	t.Helper()
	rep, err := NewService(newFakeWeeks(), newFakeLedger(), nil).Week(context.Background(), 1)
	require.NoError(t, err)
	return rep
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport(t)))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Employé", records[0][0])
	assert.Equal(t, []string{"Lucia", "CDD", "3", "0.00", "0.00", "0", "0.00", "0.00", "600.00", "90.00"}, records[1])
	assert.Equal(t, "TOTAL", records[3][0])
	assert.Equal(t, "1000.00", records[3][8])
	assert.Equal(t, "200.00", records[3][9])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleReport(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetEmployees, SheetLedger}, f.GetSheetList())

	number, err := f.GetCellValue(SheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "1", number)
	status, err := f.GetCellValue(SheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, "Finalisée", status)

	rows, err := f.GetRows(SheetEmployees)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Marco", rows[2][0])

	rows, err = f.GetRows(SheetLedger)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "TAX", rows[1][2])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "semaine-1_2026-09-01", FileName(sampleReport(t)))
}
