package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"ncmcheck/internal"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS datasets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  format TEXT NOT NULL,
  checksum TEXT NOT NULL UNIQUE,
  asOf TEXT,
  recordCount INTEGER NOT NULL,
  blob BLOB NOT NULL,
  seq INTEGER NOT NULL DEFAULT 0,
  loadedAt TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE TABLE IF NOT EXISTS documents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  inputType TEXT NOT NULL DEFAULT 'eml',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS findings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  documentId INTEGER NOT NULL,
  position INTEGER NOT NULL,
  code TEXT NOT NULL,
  description TEXT NOT NULL,
  valid INTEGER NOT NULL,
  status TEXT NOT NULL,
  startDate TEXT NOT NULL,
  endDate TEXT NOT NULL,
  referenceDate TEXT NOT NULL,
  datasetId INTEGER,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(documentId, position),
  FOREIGN KEY(documentId) REFERENCES documents(id),
  FOREIGN KEY(datasetId) REFERENCES datasets(id)
);
CREATE INDEX IF NOT EXISTS idx_findings_code ON findings(code);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  documentId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// SaveDataset stores a raw dataset blob. A blob already stored under the same
// checksum is not duplicated; the existing row is returned with created=false.
func (d *DB) SaveDataset(row internal.DatasetRow) (internal.DatasetRow, bool, error) {
	existing, err := d.GetDatasetByChecksum(row.Checksum)
	if err != nil {
		return internal.DatasetRow{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	result, err := d.conn.Exec(`
INSERT INTO datasets (source, format, checksum, asOf, recordCount, blob, seq)
VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM datasets))
`, row.Source, row.Format, row.Checksum, row.AsOf, row.RecordCount, row.Blob)
	if err != nil {
		return internal.DatasetRow{}, false, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.DatasetRow{}, false, err
	}

	saved, err := d.getDataset(`WHERE id = ?`, id)
	if err != nil {
		return internal.DatasetRow{}, false, err
	}
	if saved == nil {
		return internal.DatasetRow{}, false, errors.New("failed to save dataset")
	}
	return *saved, true, nil
}

func (d *DB) GetDatasetByChecksum(checksum string) (*internal.DatasetRow, error) {
	return d.getDataset(`WHERE checksum = ?`, checksum)
}

// LatestDataset returns the most recently stored dataset or ErrNotFound.
func (d *DB) LatestDataset() (internal.DatasetRow, error) {
	row, err := d.getDataset(`ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return internal.DatasetRow{}, err
	}
	if row == nil {
		return internal.DatasetRow{}, fmt.Errorf("dataset: %w", ErrNotFound)
	}
	return *row, nil
}

// TouchDataset marks an existing dataset as the latest load.
func (d *DB) TouchDataset(id int) error {
	_, err := d.conn.Exec(`
UPDATE datasets
SET loadedAt = strftime('%Y-%m-%d %H:%M:%f', 'now'),
    seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM datasets)
WHERE id = ?
`, id)
	return err
}

func (d *DB) getDataset(clause string, args ...any) (*internal.DatasetRow, error) {
	var row internal.DatasetRow
	err := d.conn.QueryRow(`
SELECT id, source, format, checksum, asOf, recordCount, loadedAt, blob
FROM datasets `+clause, args...).Scan(
		&row.ID, &row.Source, &row.Format, &row.Checksum, &row.AsOf, &row.RecordCount, &row.LoadedAt, &row.Blob,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) UpsertDocument(doc internal.DocumentRow) (internal.DocumentRow, error) {
	if doc.Status == "" {
		doc.Status = string(internal.StatusFetched)
	}
	if doc.InputType == "" {
		doc.InputType = string(internal.InputEML)
	}
	_, err := d.conn.Exec(`
INSERT INTO documents (provider, messageId, subject, sender, receivedAt, hash, status, rawRef, inputType)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  inputType=excluded.inputType,
  updatedAt=CURRENT_TIMESTAMP
`, doc.Provider, doc.MessageID, doc.Subject, doc.Sender, doc.ReceivedAt, doc.Hash, doc.Status, doc.RawRef, doc.InputType)
	if err != nil {
		return internal.DocumentRow{}, err
	}

	row, err := d.GetDocumentByProviderMessageID(doc.Provider, doc.MessageID)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, errors.New("failed to upsert document")
	}
	return *row, nil
}

const documentColumns = `id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef, inputType`

func scanDocument(scan func(dest ...any) error) (internal.DocumentRow, error) {
	var row internal.DocumentRow
	var subject, sender, receivedAt sql.NullString
	err := scan(&row.ID, &row.Provider, &row.MessageID, &subject, &sender, &receivedAt, &row.Hash, &row.Status, &row.RawRef, &row.InputType)
	row.Subject = subject.String
	row.Sender = sender.String
	row.ReceivedAt = receivedAt.String
	return row, err
}

func (d *DB) GetDocumentByProviderMessageID(provider, messageID string) (*internal.DocumentRow, error) {
	row, err := scanDocument(d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE provider = ? AND messageId = ?`, provider, messageID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetDocumentByID(id int) (*internal.DocumentRow, error) {
	row, err := scanDocument(d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListDocumentsByStatus returns documents oldest first. An empty provider
// matches every provider.
func (d *DB) ListDocumentsByStatus(status, provider string, limit int) ([]internal.DocumentRow, error) {
	rows, err := d.conn.Query(`
SELECT `+documentColumns+`
FROM documents
WHERE status = ? AND (? = '' OR provider = ?)
ORDER BY receivedAt ASC, id ASC LIMIT ?
`, status, provider, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.DocumentRow
	for rows.Next() {
		row, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateDocumentStatus(documentID int, status internal.DocumentStatus) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), documentID)
	return err
}

// ReplaceFindings drops the document's previous findings and stores the new
// ones in one transaction.
func (d *DB) ReplaceFindings(documentID int, datasetID *int, findings []internal.FindingRow) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM findings WHERE documentId = ?`, documentID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
INSERT INTO findings (documentId, position, code, description, valid, status, startDate, endDate, referenceDate, datasetId)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.Exec(documentID, f.Position, f.Code, f.Description, f.Valid, f.Status, f.Start, f.End, f.ReferenceDate, datasetID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListFindings(documentID int) ([]internal.FindingRow, error) {
	rows, err := d.conn.Query(`
SELECT documentId, position, code, description, valid, status, startDate, endDate, referenceDate
FROM findings WHERE documentId = ?
ORDER BY position ASC
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.FindingRow
	for rows.Next() {
		var f internal.FindingRow
		if err := rows.Scan(&f.DocumentID, &f.Position, &f.Code, &f.Description, &f.Valid, &f.Status, &f.Start, &f.End, &f.ReferenceDate); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (d *DB) InsertRun(traceID string, documentID int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, documentId, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, documentID, string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) CountRuns(documentID int) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM runs WHERE documentId = ?`, documentID).Scan(&n)
	return n, err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (d *DB) MustDocumentByProviderMessageID(provider, messageID string) (internal.DocumentRow, error) {
	row, err := d.GetDocumentByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, fmt.Errorf("document provider=%s messageId=%s: %w", provider, messageID, ErrNotFound)
	}
	return *row, nil
}

func (d *DB) MustDocumentByID(id int) (internal.DocumentRow, error) {
	row, err := d.GetDocumentByID(id)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, fmt.Errorf("document id=%d: %w", id, ErrNotFound)
	}
	return *row, nil
}
