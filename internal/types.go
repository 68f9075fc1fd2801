package internal

type DocumentStatus string

const (
	StatusFetched   DocumentStatus = "fetched"
	StatusProcessed DocumentStatus = "processed"
	StatusSkipped   DocumentStatus = "skipped"
	StatusExported  DocumentStatus = "exported"
	StatusFailed    DocumentStatus = "failed"
)

type InputType string

const (
	InputText InputType = "text"
	InputHTML InputType = "html"
	InputXLSX InputType = "xlsx"
	InputPDF  InputType = "pdf"
	InputEML  InputType = "eml"
)

// DocumentRow is one stored input: a fetched e-mail or an uploaded file.
type DocumentRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
	InputType  string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

// FindingRow is one checked code of a document, already in display form.
type FindingRow struct {
	DocumentID    int
	Position      int
	Code          string
	Description   string
	Valid         bool
	Status        string
	Start         string
	End           string
	ReferenceDate string
}

type DatasetRow struct {
	ID          int
	Source      string
	Format      string
	Checksum    string
	AsOf        *string
	RecordCount int
	LoadedAt    string
	Blob        []byte
}
