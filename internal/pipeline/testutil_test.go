package pipeline

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func mkXLSX(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type attachment struct {
	name        string
	contentType string
	content     []byte
}

// mkEmail assembles a multipart message with text and html bodies.
func mkEmail(subject, text, html string, attachments ...attachment) []byte {
	var b strings.Builder
	b.WriteString("From: Compras <compras@example.com>\r\n")
	b.WriteString("To: fiscal@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Message-ID: <fixture-1@example.com>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"outer\"\r\n\r\n")

	b.WriteString("--outer\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"inner\"\r\n\r\n")
	b.WriteString("--inner\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(text + "\r\n")
	if html != "" {
		b.WriteString("--inner\r\n")
		b.WriteString("Content-Type: text/html; charset=utf-8\r\nContent-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(html + "\r\n")
	}
	b.WriteString("--inner--\r\n")

	for _, att := range attachments {
		b.WriteString("--outer\r\n")
		b.WriteString("Content-Type: " + att.contentType + "; name=\"" + att.name + "\"\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + att.name + "\"\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		encoded := base64.StdEncoding.EncodeToString(att.content)
		for len(encoded) > 76 {
			b.WriteString(encoded[:76] + "\r\n")
			encoded = encoded[76:]
		}
		b.WriteString(encoded + "\r\n")
	}
	b.WriteString("--outer--\r\n")
	return []byte(b.String())
}
