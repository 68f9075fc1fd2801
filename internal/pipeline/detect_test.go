package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectClassificationRequest(t *testing.T) {
	cases := []struct {
		name        string
		subject     string
		text        string
		attachments []string
		want        bool
	}{
		{name: "subject and codes", subject: "Classificação fiscal", text: "itens 8471.30.19 e 0101.21.00", want: true},
		{name: "single code with spreadsheet", subject: "Pedido", text: "ver 2203.00.00", attachments: []string{"itens.XLSX"}, want: true},
		{name: "keywords without codes", subject: "Dúvida sobre NCM", text: "qual a classificação tarifária?", want: false},
		{name: "newsletter", subject: "Promoções da semana", text: "descontos de até 50%", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := DetectClassificationRequest(tc.subject, tc.text, tc.attachments)
			assert.Equal(t, tc.want, res.IsRequest, "score=%.2f", res.Score)
			assert.LessOrEqual(t, res.Score, 1.0)
		})
	}
}

func TestDetectPassesThreshold(t *testing.T) {
	res := DetectClassificationRequest("", "8471.30.19", nil)
	assert.Equal(t, 1, res.CodeHits)
	assert.True(t, res.Passes(0.3))
	assert.False(t, res.Passes(0.9))
}
