package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"ncmcheck/internal"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/util"
)

func ExportReportToXLSX(rows []internal.FindingRow, outputPath string) error {
	headers := []string{"position", "code", "description", "valid", "status", "start", "end", "reference_date"}
	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, []any{
			row.Position, row.Code, row.Description, row.Valid, row.Status, row.Start, row.End, row.ReferenceDate,
		})
	}
	return writeSheet("NCM", headers, values, outputPath)
}

// ExportRegistryToXLSX writes every record of reg sorted by code, with dates
// in dd/mm/yyyy form.
func ExportRegistryToXLSX(reg *ncm.Registry, outputPath string) error {
	headers := []string{"Codigo", "Descricao", "Data_Inicio", "Data_Fim"}
	records := reg.Records()
	values := make([][]any, 0, len(records))
	for _, rec := range records {
		values = append(values, []any{
			ncm.FormatCode(rec.Code),
			util.DerefString(rec.Description),
			formatBound(rec.EffectiveFrom, rec.RawFrom),
			formatBound(rec.EffectiveTo, rec.RawTo),
		})
	}
	return writeSheet("Nomenclaturas", headers, values, outputPath)
}

func writeSheet(name string, headers []string, rows [][]any, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(name, cell, h)
	}
	for r, row := range rows {
		for c, value := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(name, cell, value)
		}
	}
	_ = f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func formatBound(parsed *time.Time, raw *string) string {
	if parsed != nil {
		return parsed.Format(ncm.DisplayDateLayout)
	}
	return util.DerefString(raw)
}
