package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

var performanceHeader = []string{
	"Employé", "Rôle", "Ventes", "CA ventes", "Commission ventes",
	"Ménages", "CA ménages", "Commission ménages", "CA total", "Commission totale",
}

// FileName is the download name of a week export, without extension.
func FileName(r WeekReport) string {
	return fmt.Sprintf("semaine-%d_%s", r.Week.Number, r.Week.Start.Format("2006-01-02"))
}

// WriteCSV writes the per-employee figures of a week followed by a total row.
// Fields are separated by semicolons so spreadsheets with a French locale open it directly.
func WriteCSV(w io.Writer, r WeekReport) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(performanceHeader); err != nil {
		return err
	}
	var sales, cleaning int
	var salesRev, salesCom, cleanRev, cleanCom, totalRev, totalCom float64
	for _, p := range r.Performance {
		record := []string{
			p.DisplayName,
			p.Role.Label(),
			strconv.Itoa(p.SalesCount),
			amount(p.SalesRevenue),
			amount(p.SalesCommission),
			strconv.Itoa(p.CleaningCount),
			amount(p.CleaningRevenue),
			amount(p.CleaningCommission),
			amount(p.TotalRevenue),
			amount(p.TotalCommission),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
		sales += p.SalesCount
		cleaning += p.CleaningCount
		salesRev += p.SalesRevenue
		salesCom += p.SalesCommission
		cleanRev += p.CleaningRevenue
		cleanCom += p.CleaningCommission
		totalRev += p.TotalRevenue
		totalCom += p.TotalCommission
	}
	total := []string{
		"TOTAL", "",
		strconv.Itoa(sales), amount(salesRev), amount(salesCom),
		strconv.Itoa(cleaning), amount(cleanRev), amount(cleanCom),
		amount(totalRev), amount(totalCom),
	}
	if err := cw.Write(total); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// Sheet names of the XLSX export.
const (
	SheetSummary   = "Résumé"
	SheetEmployees = "Employés"
	SheetLedger    = "Trésorerie"
)

// WriteXLSX writes a workbook with a summary sheet, a per-employee sheet and
// the ledger entries of the week.
func WriteXLSX(w io.Writer, r WeekReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}

	status := "Finalisée"
	if r.Projected {
		status = "En cours (projection)"
	}
	summary := [][]any{
		{"Semaine", r.Week.Number},
		{"Du", r.Week.Start.Format("02/01/2006")},
		{"Au", r.Week.End.Format("02/01/2006")},
		{"Statut", status},
		{"Ventes", r.Week.SalesCount},
		{"Ménages", r.Week.CleaningCount},
		{"CA ventes", r.Week.SalesRevenue},
		{"CA ménages", r.Week.CleaningRevenue},
		{"Chiffre d'affaires", r.Week.Revenue},
		{"Commissions", r.Week.Commissions},
		{"Impôt", r.Week.Tax},
		{"Bénéfice net", r.Week.Net},
		{"Trésorerie entrées", r.Ledger.Income},
		{"Trésorerie sorties", r.Ledger.Expense},
		{"Trésorerie solde", r.Ledger.Balance},
	}
	if r.Week.Notes != "" {
		summary = append(summary, []any{"Notes", r.Week.Notes})
	}
	for i, row := range summary {
		if err := setRow(f, SheetSummary, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "B7", "B15", money); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetSummary, "A", "A", 22); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetEmployees); err != nil {
		return err
	}
	header := make([]any, len(performanceHeader))
	for i, h := range performanceHeader {
		header[i] = h
	}
	if err := setRow(f, SheetEmployees, 1, header); err != nil {
		return err
	}
	for i, p := range r.Performance {
		row := []any{
			p.DisplayName, p.Role.Label(),
			p.SalesCount, p.SalesRevenue, p.SalesCommission,
			p.CleaningCount, p.CleaningRevenue, p.CleaningCommission,
			p.TotalRevenue, p.TotalCommission,
		}
		if err := setRow(f, SheetEmployees, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SheetEmployees, "A1", "J1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetEmployees, "A", "J", 16); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetLedger); err != nil {
		return err
	}
	if err := setRow(f, SheetLedger, 1, []any{"Date", "Sens", "Catégorie", "Montant", "Description", "Saisi par"}); err != nil {
		return err
	}
	for i, t := range r.Transactions {
		row := []any{t.CreatedAt.Format("02/01/2006 15:04"), t.Kind.Label(), t.Category, t.Amount, t.Description, t.CreatedByName}
		if err := setRow(f, SheetLedger, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SheetLedger, "A1", "F1", bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
