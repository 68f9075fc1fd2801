package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncmcheck/internal"
	"ncmcheck/internal/ncm"
)

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>td{}</style></head><body>
<p>Favor conferir:</p>
<table><tr><th>Item</th><th>NCM</th></tr><tr><td>Notebook</td><td>8471.30.19</td></tr></table>
<div>Cavalo<br>0101.21.00</div></body></html>`

	text, err := htmlToText(html)
	require.NoError(t, err)
	assert.Contains(t, text, "Notebook | 8471.30.19")
	assert.Contains(t, text, "Favor conferir:")
	assert.NotContains(t, text, "td{}")
	assert.Equal(t, []string{"84713019", "01012100"}, ncm.Extract(text))
}

func TestXLSXToText(t *testing.T) {
	blob := mkXLSX(t, [][]any{
		{"Produto", "NCM"},
		{"Cerveja", "2203.00.00"},
		{"Notebook", "8471.30.19"},
	})
	text, err := xlsxToText(blob)
	require.NoError(t, err)
	assert.Equal(t, "Produto | NCM\nCerveja | 2203.00.00\nNotebook | 8471.30.19", text)
}

func TestExtractTextFromEmailRaw(t *testing.T) {
	xlsx := mkXLSX(t, [][]any{{"Produto", "NCM"}, {"Cerveja", "2203.00.00"}})
	raw := mkEmail(
		"=?UTF-8?Q?Classifica=C3=A7=C3=A3o_NCM?=",
		"Segue o código 8471.30.19 para conferência.",
		`<table><tr><td>Cavalo</td><td>0101.21.00</td></tr></table>`,
		attachment{name: "itens.xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content: xlsx},
		attachment{name: "notas.txt", contentType: "text/plain", content: []byte("ver também 8517.12.31")},
		attachment{name: "foto.png", contentType: "image/png", content: []byte{0x89, 'P', 'N', 'G'}},
	)

	content, err := ExtractTextFromEmailRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "Classificação NCM", content.Subject)
	assert.ElementsMatch(t, []string{"itens.xlsx", "notas.txt", "foto.png"}, content.AttachmentNames)
	assert.Equal(t, []string{"84713019", "01012100", "22030000", "85171231"}, ncm.Extract(content.Text))
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText(internal.InputText, []byte("NCM 8471.30.19\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "NCM 8471.30.19", text)

	text, err = ExtractTextFromInput(internal.InputHTML, "<b>2203.00.00</b>")
	require.NoError(t, err)
	assert.Equal(t, "2203.00.00", text)

	_, err = ExtractText(internal.InputType("docx"), nil)
	assert.Error(t, err)

	_, err = ExtractTextFromInput(internal.InputPDF, "/nonexistent/file.pdf")
	assert.Error(t, err)
}
