package pipeline

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"ncmcheck/internal/util"
)

// EmailContent is the searchable text of one message. Text holds the subject,
// both bodies and every readable attachment, cleaned and joined by newlines.
type EmailContent struct {
	Subject         string
	BodyText        string
	HTML            string
	Text            string
	AttachmentNames []string
}

func ExtractTextFromEmailRaw(raw []byte) (EmailContent, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return EmailContent{}, err
	}

	content := EmailContent{
		Subject:  env.GetHeader("Subject"),
		BodyText: env.Text,
		HTML:     env.HTML,
	}

	parts := []string{content.Subject, env.Text}
	if env.HTML != "" {
		if text, err := htmlToText(env.HTML); err == nil {
			parts = append(parts, text)
		}
	}

	content.AttachmentNames = make([]string, 0, len(env.Attachments)+len(env.Inlines))
	for _, att := range append(env.Attachments, env.Inlines...) {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		content.AttachmentNames = append(content.AttachmentNames, filename)

		text, ok := attachmentText(filename, att.ContentType, att.Content)
		if ok {
			parts = append(parts, text)
		}
	}

	content.Text = JoinText(parts...)
	return content, nil
}

func attachmentText(filename, contentType string, blob []byte) (string, bool) {
	lower := strings.ToLower(filename)
	var (
		text string
		err  error
	)
	switch {
	case strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm"):
		text, err = xlsxToText(blob)
	case strings.HasSuffix(lower, ".pdf") || contentType == "application/pdf":
		text, err = pdfToText(blob)
	case strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm"):
		text, err = htmlToText(string(blob))
	case strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv") || strings.HasPrefix(contentType, "text/plain"):
		text = string(blob)
	default:
		return "", false
	}
	if err != nil {
		return "", false
	}
	return text, true
}

// htmlToText renders table rows as "cell | cell" lines and keeps the rest of
// the body as plain text.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,head").Remove()

	lines := []string{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				if v := util.NormalizeSpaces(cell.Text()); v != "" {
					cells = append(cells, v)
				}
			})
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
			}
		})
	})
	doc.Find("table").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p,div,li,h1,h2,h3,h4,tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	for _, line := range util.SplitLines(doc.Text()) {
		if v := util.NormalizeSpaces(line); v != "" {
			lines = append(lines, v)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func xlsxToText(blob []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := []string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if v := util.NormalizeSpaces(c); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func pdfToText(blob []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", err
	}

	lines := []string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		lines = append(lines, util.SplitLines(text)...)
	}
	return strings.Join(lines, "\n"), nil
}
