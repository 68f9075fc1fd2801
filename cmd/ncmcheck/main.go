package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"ncmcheck/internal"
	"ncmcheck/internal/config"
	"ncmcheck/internal/connectors"
	gmailconnector "ncmcheck/internal/connectors/gmail"
	imapconnector "ncmcheck/internal/connectors/imap"
	"ncmcheck/internal/dataset"
	"ncmcheck/internal/httpapi"
	"ncmcheck/internal/listener"
	"ncmcheck/internal/logger"
	"ncmcheck/internal/metrics"
	"ncmcheck/internal/ncm"
	"ncmcheck/internal/pipeline"
	"ncmcheck/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	must(err)
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	store := ncm.NewStore()
	sync := dataset.NewSyncService(db, cfg, store, m, log)
	checker := pipeline.NewChecker(store, m, cfg.Location())
	processor := pipeline.NewProcessingService(db, cfg, checker, m, log)

	cmd := os.Args[1]
	switch cmd {
	case "registry:load":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", cfg.DatasetPath, "dataset file (json or xlsx)")
		format := fs.String("format", cfg.DatasetFormat, "auto|json|xlsx")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		f, err := dataset.ParseFormat(*format)
		must(err)
		snap, err := sync.LoadFile(ctx, *file, f)
		must(err)
		printSnapshot(snap)
	case "registry:sync":
		snap, err := sync.Download(ctx)
		must(err)
		printSnapshot(snap)
	case "registry:info":
		snap, err := sync.Restore(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			must(fmt.Errorf("no dataset stored yet, run registry:sync or registry:load"))
		}
		must(err)
		printSnapshot(snap)
	case "registry:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		must(ensureRegistry(ctx, cfg, sync, store, log))
		reg := store.Registry()
		must(pipeline.ExportRegistryToXLSX(reg, *out))
		fmt.Printf("exported %d records to %s\n", reg.Len(), *out)
	case "check":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input file path, or literal content for text and html")
		inType := fs.String("type", "text", "text|html|xlsx|pdf|eml")
		date := fs.String("date", "", "reference date yyyy-mm-dd or dd/mm/yyyy (default today)")
		output := fs.String("output", "", "optional output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *input == "" {
			must(fmt.Errorf("--input is required"))
		}
		at, err := pipeline.ParseReferenceDate(*date, cfg.Location())
		must(err)
		text, err := pipeline.ExtractTextFromInput(internal.InputType(strings.ToLower(*inType)), *input)
		must(err)
		must(ensureRegistry(ctx, cfg, sync, store, log))

		res, err := checker.Check(text, at)
		must(err)
		printReport(res)
		if *output != "" {
			must(pipeline.ExportReportToXLSX(pipeline.FindingsFromReport(0, res.Report), *output))
			fmt.Printf("report written to %s\n", *output)
		}
	case "doc:add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "document to queue for checking")
		inType := fs.String("type", "", "html|xlsx|pdf|eml|text (default from extension)")
		provider := fs.String("provider", "upload", "provider name recorded with the document")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		t := internal.InputType(strings.ToLower(*inType))
		if t == "" {
			t = inputTypeFromPath(*file)
		}
		blob, err := os.ReadFile(*file)
		must(err)
		doc, err := connectors.NewMailStoreService(db, cfg.RawMailDir).StoreUpload(*provider, filepath.Base(*file), t, blob)
		must(err)
		fmt.Printf("queued document id=%d type=%s status=%s\n", doc.ID, doc.InputType, doc.Status)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(ctx, cfg, *provider, log)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, log)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "", "only documents from this provider")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		must(ensureRegistry(ctx, cfg, sync, store, log))
		if strings.TrimSpace(*messageID) != "" {
			if *provider == "" {
				must(fmt.Errorf("--provider is required with --messageId"))
			}
			res, err := processor.ProcessByProviderMessageID(*provider, *messageID)
			must(err)
			fmt.Printf("processed document id=%d status=%s codes=%d valid=%d\n", res.DocumentID, res.Status, res.Counts.Total, res.Counts.Valid)
			return
		}
		docs, codes, err := processor.ProcessPending(*batch, *provider)
		must(err)
		fmt.Printf("processed pending documents=%d codes=%d\n", docs, codes)
	case "mail:listen":
		svc := listener.NewService(db, cfg, sync, processor, log)
		must(svc.Run(ctx))
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		documentID := fs.Int("documentId", 0, "internal document id")
		out := fs.String("out", "", "output xlsx path (default OUTPUT_DIR)")
		_ = fs.Parse(os.Args[2:])
		if *documentID == 0 {
			must(fmt.Errorf("--documentId is required"))
		}
		path, err := processor.ExportDocument(*documentID, *out)
		must(err)
		fmt.Printf("exported document %d to %s\n", *documentID, path)
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTPAddr, "listen address")
		_ = fs.Parse(os.Args[2:])
		cfg.HTTPAddr = *addr
		if err := ensureRegistry(ctx, cfg, sync, store, log); err != nil {
			log.Warn("serving without a registry until one is uploaded", zap.Error(err))
		}
		must(httpapi.New(cfg, store, checker, sync, m, log).Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

// ensureRegistry publishes a registry from NCM_DATASET_PATH when set, and
// otherwise from the stored copy, downloading when that is missing or stale.
func ensureRegistry(ctx context.Context, cfg config.Config, sync *dataset.SyncService, store *ncm.Store, log *zap.Logger) error {
	if cfg.DatasetPath != "" {
		format, err := dataset.ParseFormat(cfg.DatasetFormat)
		if err != nil {
			return err
		}
		_, err = sync.LoadFile(ctx, cfg.DatasetPath, format)
		return err
	}
	if _, err := sync.RefreshIfStale(ctx, cfg.RegistryMaxAge); err != nil {
		if store.Current() == nil {
			return err
		}
		log.Warn("registry refresh failed, using stored copy", zap.Error(err))
	}
	return nil
}

func makeConnector(ctx context.Context, cfg config.Config, provider string, log *zap.Logger) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg, log)
	case "imap":
		return imapconnector.NewConnector(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func inputTypeFromPath(path string) internal.InputType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return internal.InputXLSX
	case ".pdf":
		return internal.InputPDF
	case ".eml":
		return internal.InputEML
	case ".html", ".htm":
		return internal.InputHTML
	default:
		return internal.InputText
	}
}

func printSnapshot(snap *ncm.Snapshot) {
	asOf := ncm.NoDate
	if t, ok := snap.Registry.AsOf(); ok {
		asOf = t.Format(ncm.DisplayDateLayout)
	}
	fmt.Printf("registry source=%s records=%d as_of=%s checksum=%s\n", snap.Source, snap.Registry.Len(), asOf, snap.Checksum)
}

func printReport(res pipeline.Result) {
	report := res.Report
	fmt.Printf("reference date %s, registry %s\n", report.ReferenceDate.Format(ncm.DisplayDateLayout), res.Snapshot.Source)
	if report.NothingFound() {
		fmt.Println("no NCM codes found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATUS\tSTART\tEND\tDESCRIPTION")
	for _, row := range report.Rows() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Code, row.Status, row.Start, row.End, row.Description)
	}
	_ = w.Flush()

	c := report.Counts()
	fmt.Printf("total=%d valid=%d not_valid=%d not_found=%d\n", c.Total, c.Valid, c.NotValid, c.NotFound)
}

func usage() {
	fmt.Println("usage: ncmcheck <command>")
	fmt.Println("commands:")
	fmt.Println("  registry:load --file=nomenclatura.json [--format=auto|json|xlsx]")
	fmt.Println("  registry:sync")
	fmt.Println("  registry:info")
	fmt.Println("  registry:export --out=./out/nomenclaturas.xlsx")
	fmt.Println("  check --input=... [--type=text|html|xlsx|pdf|eml] [--date=2026-10-19] [--output=...xlsx]")
	fmt.Println("  doc:add --file=... [--type=...] [--provider=upload]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process [--provider=gmail|imap] [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  export:xlsx --documentId=1 [--out=./out/result.xlsx]")
	fmt.Println("  serve [--addr=:8080]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
