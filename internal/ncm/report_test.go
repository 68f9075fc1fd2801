package ncm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Build(map[string]any{
		"Nomenclaturas": []any{
			map[string]any{"codigo": "84713019", "descricao": "Máquinas...", "data_inicio": "2022-01-01", "data_fim": nil},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestBuildReportScenario(t *testing.T) {
	reg := scenarioRegistry(t)
	ref := day(2026, 10, 19)

	report := BuildReport("Produto classificado em 8471.30.19 e também 0101.21.00.", reg, ref)
	require.False(t, report.NothingFound())
	require.Len(t, report.Results, 2)

	first := report.Results[0]
	assert.Equal(t, "84713019", first.Code)
	assert.True(t, first.Valid)
	assert.Equal(t, StatusValid, first.Status)
	require.NotNil(t, first.Record)

	second := report.Results[1]
	assert.Equal(t, "01012100", second.Code)
	assert.False(t, second.Valid)
	assert.Equal(t, StatusNotFound, second.Status)
	assert.Nil(t, second.Record)

	rows := report.Rows()
	assert.Equal(t, Row{Code: "8471.30.19", Description: "Máquinas...", Valid: true, Status: StatusValid, Start: "01/01/2022", End: NoDate}, rows[0])
	assert.Equal(t, Row{Code: "0101.21.00", Description: NotFoundDescription, Valid: false, Status: StatusNotFound, Start: NoDate, End: NoDate}, rows[1])

	assert.Equal(t, Counts{Total: 2, Valid: 1, NotFound: 1}, report.Counts())
}

func TestBuildReportNothingFoundVersusAllInvalid(t *testing.T) {
	reg := scenarioRegistry(t)
	ref := day(2026, 10, 19)

	empty := BuildReport("nenhum código por aqui", reg, ref)
	assert.True(t, empty.NothingFound())
	assert.Empty(t, empty.Rows())

	invalid := BuildReport("9999.99.99", reg, ref)
	assert.False(t, invalid.NothingFound())
	assert.Equal(t, 0, invalid.Counts().Valid)
}

func TestBuildReportAbsentNeverValid(t *testing.T) {
	ref := day(2026, 10, 19)
	for _, reg := range []*Registry{nil, scenarioRegistry(t)} {
		report := BuildReport("0101.21.00 2203.00.00 9999.99.99", reg, ref)
		for _, res := range report.Results {
			assert.False(t, res.Valid, res.Code)
			assert.Equal(t, StatusNotFound, res.Status)
		}
	}
}

func TestBuildReportNotYetEffective(t *testing.T) {
	reg, err := Build([]any{map[string]any{"Codigo": "2203.00.00", "Descricao": "Cervejas", "Data_Inicio": "2099-01-01"}})
	require.NoError(t, err)

	report := BuildReport("NCM 2203.00.00", reg, time.Now())
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Valid)
	assert.Equal(t, StatusNotValid, report.Results[0].Status)
	assert.Equal(t, "01/01/2099", report.Results[0].Row().Start)
}

func TestRowKeepsUnparseableDateText(t *testing.T) {
	reg, err := Build([]any{map[string]any{"Codigo": "22030000", "Data_Fim": "indeterminado"}})
	require.NoError(t, err)

	row := BuildReport("22030000", reg, day(2026, 1, 1)).Rows()[0]
	assert.Equal(t, NoDescription, row.Description)
	assert.Equal(t, "indeterminado", row.End)
	assert.True(t, row.Valid)
}

func TestStorePublishAndConcurrentReads(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Current())
	assert.Nil(t, store.Registry())

	first := scenarioRegistry(t)
	assert.Nil(t, store.Publish(&Snapshot{Registry: first, Source: "test"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				report := BuildReport("8471.30.19", store.Registry(), day(2026, 10, 19))
				assert.Len(t, report.Results, 1)
			}
		}()
	}

	second, err := Build([]any{})
	require.NoError(t, err)
	prev := store.Publish(&Snapshot{Registry: second, Source: "replacement"})
	wg.Wait()

	require.NotNil(t, prev)
	assert.Same(t, first, prev.Registry)
	assert.Same(t, second, store.Registry())
}
