package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"ncmcheck/internal/ncm"
	"ncmcheck/internal/util"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	// ErrMalformed wraps blobs that cannot be read in their format at all.
	ErrMalformed = errors.New("malformed dataset")
)

type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// DefaultSheet is the sheet read from spreadsheet exports when present.
const DefaultSheet = "Nomenclaturas"

var zipMagic = []byte("PK\x03\x04")

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX, "xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func Sniff(blob []byte) Format {
	if bytes.HasPrefix(blob, zipMagic) {
		return FormatXLSX
	}
	return FormatJSON
}

// Decode turns a dataset blob into the raw shape ncm.Build expects and
// reports the concrete format used.
func Decode(blob []byte, format Format) (any, Format, error) {
	if format == "" || format == FormatAuto {
		format = Sniff(blob)
	}
	switch format {
	case FormatJSON:
		raw, err := decodeJSON(blob)
		return raw, format, malformed(err)
	case FormatXLSX:
		raw, err := decodeXLSX(blob)
		return raw, format, malformed(err)
	default:
		return nil, format, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

func decodeJSON(blob []byte) (any, error) {
	blob = bytes.TrimPrefix(blob, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(blob) {
		fixed, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), blob)
		if err != nil {
			return nil, fmt.Errorf("decode windows-1252 dataset: %w", err)
		}
		blob = fixed
	}

	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset json: %w", err)
	}
	return raw, nil
}

// decodeXLSX reads the first row as field names and every later non-empty row
// as one record. Date columns stored as spreadsheet serials come back as
// 2006-01-02 strings.
func decodeXLSX(blob []byte) (any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open dataset workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("dataset workbook has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if util.FoldKey(name) == util.FoldKey(DefaultSheet) {
			sheet = name
			break
		}
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return []any{}, nil
	}

	headers := make([]string, len(rows[0]))
	dateColumn := make([]bool, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
		dateColumn[i] = isDateHeader(headers[i])
	}

	records := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := map[string]any{}
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if dateColumn[i] {
				cell = serialToDate(cell)
			}
			rec[headers[i]] = cell
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

func isDateHeader(h string) bool {
	folded := util.FoldKey(h)
	for _, keys := range [][]string{ncm.StartKeys, ncm.EndKeys} {
		for _, k := range keys {
			if util.FoldKey(k) == folded {
				return true
			}
		}
	}
	return false
}

func serialToDate(cell string) string {
	serial, err := strconv.ParseFloat(cell, 64)
	if err != nil || serial <= 0 {
		return cell
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return cell
	}
	return t.Format("2006-01-02")
}
