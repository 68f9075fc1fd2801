package ncm

import "time"

// Status is the outcome of checking one extracted code.
type Status string

const (
	StatusValid    Status = "VALID"
	StatusNotValid Status = "NOT_VALID"
	StatusNotFound Status = "NOT_FOUND"
)

// Display placeholders.
const (
	NotFoundDescription = "Não encontrado na tabela NCM vigente"
	NoDescription       = "Sem descrição"
	NoDate              = "-"
)

// LookupResult is one extracted code with its registry record, if any.
// Record is nil when the code is absent from the registry; such results are
// never valid.
type LookupResult struct {
	Code   string
	Record *Record
	Valid  bool
	Status Status
}

// Report holds one result per extracted code, in extraction order.
type Report struct {
	ReferenceDate time.Time
	Results       []LookupResult
}

type Counts struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	NotValid int `json:"notValid"`
	NotFound int `json:"notFound"`
}

// Row is the presentation form of a LookupResult.
type Row struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Valid       bool   `json:"valid"`
	Status      Status `json:"status"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// BuildReport extracts codes from text and checks each one against reg as of
// at. Rows keep extraction order. A nil registry behaves as an empty one.
func BuildReport(text string, reg *Registry, at time.Time) Report {
	codes := Extract(text)
	results := make([]LookupResult, 0, len(codes))
	for _, code := range codes {
		results = append(results, Lookup(reg, code, at))
	}
	return Report{ReferenceDate: at, Results: results}
}

// Lookup checks a single code against reg as of at.
func Lookup(reg *Registry, code string, at time.Time) LookupResult {
	res := LookupResult{Code: code, Status: StatusNotFound}
	rec, ok := reg.Lookup(code)
	if !ok {
		return res
	}
	res.Record = &rec
	res.Valid = rec.ValidAt(at)
	res.Status = StatusNotValid
	if res.Valid {
		res.Status = StatusValid
	}
	return res
}

// NothingFound reports that the text held no code-shaped sequence at all,
// as opposed to codes that were found but are not valid.
func (r Report) NothingFound() bool {
	return len(r.Results) == 0
}

// Counts tallies results by status.
func (r Report) Counts() Counts {
	c := Counts{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusValid:
			c.Valid++
		case StatusNotValid:
			c.NotValid++
		case StatusNotFound:
			c.NotFound++
		}
	}
	return c
}

func (r Report) Rows() []Row {
	out := make([]Row, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Row())
	}
	return out
}

func (res LookupResult) Row() Row {
	row := Row{
		Code:        FormatCode(res.Code),
		Description: NotFoundDescription,
		Valid:       res.Valid,
		Status:      res.Status,
		Start:       NoDate,
		End:         NoDate,
	}
	if res.Record == nil {
		return row
	}
	row.Description = NoDescription
	if res.Record.Description != nil {
		row.Description = *res.Record.Description
	}
	row.Start = displayDate(res.Record.EffectiveFrom, res.Record.RawFrom)
	row.End = displayDate(res.Record.EffectiveTo, res.Record.RawTo)
	return row
}

func displayDate(parsed *time.Time, raw *string) string {
	if parsed != nil {
		return parsed.Format(DisplayDateLayout)
	}
	if raw != nil && *raw != "" {
		return *raw
	}
	return NoDate
}
