package pipeline

import (
	"strings"

	"ncmcheck/internal/ncm"
	"ncmcheck/internal/util"
)

const DefaultDetectThreshold = 0.45

type DetectResult struct {
	IsRequest bool
	Score     float64
	CodeHits  int
	Reason    string
}

// Keywords are matched after case and accent folding.
var detectKeywords = []string{"ncm", "classificacao", "classificar", "nomenclatura", "tarifaria", "fiscal", "mercosul", "tipi", "codigo"}

// DetectClassificationRequest scores a message on keywords, code-shaped
// sequences and spreadsheet or PDF attachments. It says whether the document
// is worth checking at all.
func DetectClassificationRequest(subject, text string, attachmentNames []string) DetectResult {
	subject = util.FoldKey(subject)
	folded := util.FoldKey(text)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(folded, kw) {
			score += 0.1
		}
	}

	codeHits := len(ncm.Extract(text))
	if codeHits >= 2 {
		score += 0.4
	} else if codeHits == 1 {
		score += 0.3
	}

	for _, name := range attachmentNames {
		ln := strings.ToLower(name)
		if strings.HasSuffix(ln, ".xlsx") || strings.HasSuffix(ln, ".xls") || strings.HasSuffix(ln, ".pdf") {
			score += 0.25
			break
		}
	}
	if score > 1 {
		score = 1
	}

	res := DetectResult{Score: score, CodeHits: codeHits}
	res.IsRequest = res.Passes(DefaultDetectThreshold)
	res.Reason = "rules_negative"
	if res.IsRequest {
		res.Reason = "rules_positive"
	}
	return res
}

// Passes applies a threshold other than the default. A document with no
// code-shaped sequence never passes.
func (r DetectResult) Passes(threshold float64) bool {
	return r.CodeHits > 0 && r.Score >= threshold
}
