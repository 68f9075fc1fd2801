package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/storage"
	"ncmcheck/internal/util"
)

type ProcessingService struct {
	db      *storage.DB
	cfg     config.Config
	checker *Checker
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, checker *Checker, m *metrics.Metrics, log *zap.Logger) *ProcessingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessingService{db: db, cfg: cfg, checker: checker, metrics: m, log: log}
}

type ProcessResult struct {
	DocumentID int
	Status     internal.DocumentStatus
	Counts     ncm.Counts
}

func (s *ProcessingService) ProcessByProviderMessageID(provider, messageID string) (ProcessResult, error) {
	doc, err := s.db.MustDocumentByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessDocument(doc)
}

// ProcessPending processes fetched documents oldest first and returns how many
// documents were handled and how many codes they held.
func (s *ProcessingService) ProcessPending(limit int, provider string) (int, int, error) {
	pending, err := s.db.ListDocumentsByStatus(string(internal.StatusFetched), provider, limit)
	if err != nil {
		return 0, 0, err
	}
	processedDocs := 0
	codes := 0
	for _, doc := range pending {
		res, err := s.ProcessDocument(doc)
		if err != nil {
			if errors.Is(err, ErrNoRegistry) {
				return processedDocs, codes, err
			}
			s.log.Error("document processing failed", zap.Int("document_id", doc.ID), zap.Error(err))
			_ = s.db.UpdateDocumentStatus(doc.ID, internal.StatusFailed)
			s.metrics.Document(string(internal.StatusFailed))
			continue
		}
		processedDocs++
		codes += res.Counts.Total
	}
	return processedDocs, codes, nil
}

func (s *ProcessingService) ProcessDocument(doc internal.DocumentRow) (ProcessResult, error) {
	start := time.Now()
	trace := uuid.NewString()
	log := s.log.With(zap.String("trace_id", trace), zap.Int("document_id", doc.ID))

	raw, err := os.ReadFile(doc.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	var text string
	if internal.InputType(doc.InputType) == internal.InputEML {
		content, err := ExtractTextFromEmailRaw(raw)
		if err != nil {
			return ProcessResult{}, err
		}
		detect := DetectClassificationRequest(util.FirstNonEmpty(content.Subject, doc.Subject), content.Text, content.AttachmentNames)
		if !detect.Passes(s.cfg.DetectThreshold) {
			if err := s.db.ReplaceFindings(doc.ID, nil, nil); err != nil {
				return ProcessResult{}, err
			}
			if err := s.db.UpdateDocumentStatus(doc.ID, internal.StatusSkipped); err != nil {
				return ProcessResult{}, err
			}
			_ = s.db.InsertRun(trace, doc.ID, map[string]float64{"totalMs": msSince(start)}, map[string]int{"codes": 0, "score": int(detect.Score * 100)})
			s.metrics.Document(string(internal.StatusSkipped))
			log.Info("document skipped", zap.Float64("score", detect.Score), zap.String("reason", detect.Reason))
			return ProcessResult{DocumentID: doc.ID, Status: internal.StatusSkipped}, nil
		}
		text = content.Text
	} else {
		text, err = ExtractText(internal.InputType(doc.InputType), raw)
		if err != nil {
			return ProcessResult{}, err
		}
	}
	extractedAt := time.Now()

	result, err := s.checker.Check(text, time.Time{})
	if err != nil {
		return ProcessResult{}, err
	}

	var datasetID *int
	if stored, err := s.db.GetDatasetByChecksum(result.Snapshot.Checksum); err == nil && stored != nil {
		datasetID = &stored.ID
	}
	if err := s.db.ReplaceFindings(doc.ID, datasetID, FindingsFromReport(doc.ID, result.Report)); err != nil {
		return ProcessResult{}, err
	}
	if err := s.db.UpdateDocumentStatus(doc.ID, internal.StatusProcessed); err != nil {
		return ProcessResult{}, err
	}

	counts := result.Report.Counts()
	_ = s.db.InsertRun(trace, doc.ID,
		map[string]float64{"extractMs": float64(extractedAt.Sub(start).Milliseconds()), "totalMs": msSince(start)},
		map[string]int{"codes": counts.Total, "valid": counts.Valid, "notValid": counts.NotValid, "notFound": counts.NotFound},
	)
	s.metrics.Document(string(internal.StatusProcessed))
	log.Info("document processed",
		zap.Int("codes", counts.Total),
		zap.Int("valid", counts.Valid),
		zap.Int("not_valid", counts.NotValid),
		zap.Int("not_found", counts.NotFound),
		zap.String("registry", result.Snapshot.Source),
	)

	return ProcessResult{DocumentID: doc.ID, Status: internal.StatusProcessed, Counts: counts}, nil
}

// ExportDocument writes the document's findings to outputPath, or to
// OUTPUT_DIR when outputPath is empty, and marks it exported.
func (s *ProcessingService) ExportDocument(documentID int, outputPath string) (string, error) {
	doc, err := s.db.MustDocumentByID(documentID)
	if err != nil {
		return "", err
	}
	findings, err := s.db.ListFindings(documentID)
	if err != nil {
		return "", err
	}
	if outputPath == "" {
		outputPath = filepath.Join(s.cfg.OutputDir, fmt.Sprintf("ncm-%d-%s.xlsx", doc.ID, util.SanitizeFileName(doc.MessageID)))
	}
	if err := ExportReportToXLSX(findings, outputPath); err != nil {
		return "", err
	}
	if err := s.db.UpdateDocumentStatus(doc.ID, internal.StatusExported); err != nil {
		return "", err
	}
	s.metrics.Document(string(internal.StatusExported))
	return outputPath, nil
}

// FindingsFromReport converts report rows to stored findings, numbered from 1.
func FindingsFromReport(documentID int, report ncm.Report) []internal.FindingRow {
	ref := report.ReferenceDate.Format("2006-01-02")
	rows := report.Rows()
	out := make([]internal.FindingRow, 0, len(rows))
	for i, row := range rows {
		out = append(out, internal.FindingRow{
			DocumentID:    documentID,
			Position:      i + 1,
			Code:          row.Code,
			Description:   row.Description,
			Valid:         row.Valid,
			Status:        string(row.Status),
			Start:         row.Start,
			End:           row.End,
			ReferenceDate: ref,
		})
	}
	return out
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Milliseconds())
}
