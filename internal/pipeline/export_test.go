package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncmcheck/internal/dataset"
	"ncmcheck/internal/ncm"
)

func TestExportRegistryRoundTrip(t *testing.T) {
	reg, err := ncm.Build([]any{
		map[string]any{"Codigo": "84713019", "Descricao": "Outras", "Data_Inicio": "2023-04-01", "Data_Fim": "9999-12-31"},
		map[string]any{"Codigo": "22030000", "Data_Fim": "indeterminado"},
	})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "registry", "ncm.xlsx")
	require.NoError(t, ExportRegistryToXLSX(reg, out))

	blob, err := os.ReadFile(out)
	require.NoError(t, err)
	raw, used, err := dataset.Decode(blob, dataset.FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, dataset.FormatXLSX, used)

	back, err := ncm.Build(raw)
	require.NoError(t, err)
	assert.Equal(t, reg.Len(), back.Len())

	rec, ok := back.Lookup("8471.30.19")
	require.True(t, ok)
	require.NotNil(t, rec.EffectiveFrom)
	assert.Equal(t, "01/04/2023", rec.EffectiveFrom.Format(ncm.DisplayDateLayout))

	rec, ok = back.Lookup("22030000")
	require.True(t, ok)
	assert.Nil(t, rec.Description)
	require.NotNil(t, rec.RawTo)
	assert.Equal(t, "indeterminado", *rec.RawTo)
}

func TestExportReportFromCheck(t *testing.T) {
	checker, _ := scenarioChecker(t)
	res, err := checker.Check("8471.30.19 0101.21.00", time.Time{})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, ExportReportToXLSX(FindingsFromReport(0, res.Report), out))
	_, err = os.Stat(out)
	assert.NoError(t, err)
}
