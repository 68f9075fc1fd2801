package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
	"ncmcheck/internal/connectors"
	gmailconnector "ncmcheck/internal/connectors/gmail"
	imapconnector "ncmcheck/internal/connectors/imap"
	"ncmcheck/internal/dataset"
	"ncmcheck/internal/pipeline"
	"ncmcheck/internal/storage"
)

// Service polls a mailbox, keeps the registry fresh and checks every new
// message against it.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	sync      *dataset.SyncService
	processor *pipeline.ProcessingService
	log       *zap.Logger

	connectorFactory func(ctx context.Context, provider string) (connectors.MailConnector, error)
}

func NewService(db *storage.DB, cfg config.Config, sync *dataset.SyncService, processor *pipeline.ProcessingService, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{db: db, cfg: cfg, sync: sync, processor: processor, log: log}
	s.connectorFactory = s.makeConnector
	return s
}

type CycleResult struct {
	RegistryRefreshed bool
	Fetched           int
	Stored            int
	Processed         int
	Exported          int
}

func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.MailListenerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.log.Info("listener started", zap.String("provider", s.provider()), zap.Duration("interval", interval))

	for {
		if res, err := s.RunCycle(ctx); err != nil {
			s.log.Error("listener cycle failed", zap.Error(err))
		} else {
			s.log.Info("listener cycle done",
				zap.Bool("registry_refreshed", res.RegistryRefreshed),
				zap.Int("fetched", res.Fetched),
				zap.Int("stored", res.Stored),
				zap.Int("processed", res.Processed),
				zap.Int("exported", res.Exported),
			)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("listener stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one refresh, fetch, process and export round. A failed
// registry refresh is logged and the cycle goes on with the current registry.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	provider := s.provider()

	refreshed, err := s.sync.RefreshIfStale(ctx, s.cfg.RegistryMaxAge)
	if err != nil {
		s.log.Warn("registry refresh failed", zap.Error(err))
	}
	res.RegistryRefreshed = refreshed

	mailConnector, err := s.connectorFactory(ctx, provider)
	if err != nil {
		return res, err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, mailConnector, s.log)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	res.Fetched, res.Stored = fetchResult.Fetched, fetchResult.Stored
	if err != nil {
		return res, err
	}

	res.Processed, _, err = s.processor.ProcessPending(s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return res, err
	}

	if s.cfg.MailListenerAutoExport {
		res.Exported, err = s.exportProcessed(provider)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Service) exportProcessed(provider string) (int, error) {
	docs, err := s.db.ListDocumentsByStatus(string(internal.StatusProcessed), provider, 200)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, doc := range docs {
		findings, err := s.db.ListFindings(doc.ID)
		if err != nil {
			return exported, err
		}
		if len(findings) == 0 {
			continue
		}
		path, err := s.processor.ExportDocument(doc.ID, "")
		if err != nil {
			return exported, err
		}
		s.log.Debug("report exported", zap.Int("document_id", doc.ID), zap.String("path", path))
		exported++
	}
	return exported, nil
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg, s.log)
	case "imap":
		return imapconnector.NewConnector(s.cfg, s.log)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}
