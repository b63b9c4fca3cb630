package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// TableOptions selects the sheet and encoding of an input file.
type TableOptions struct {
	Sheet    string
	Encoding string
}

// StreamTable streams the data rows of a .csv or .xlsx file to fn together
// with the header row. fn is called with a 1-based line number (the header is
// line 1). An empty file is a data integrity error.
func StreamTable(ctx context.Context, path string, opts TableOptions, fn func(header, row []string, line int) error) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	var rowCh <-chan []string
	var errCh <-chan error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		r, err := Decode(f, opts.Encoding)
		if err != nil {
			return nil, err
		}
		rowCh, errCh = StreamCSV(ctx, r, CSVOptions{HasHeader: true, HeaderCh: headerCh, LazyQuotes: true, TrimSpace: true})
	case ".xlsx":
		rowCh, errCh = StreamXLSX(ctx, path, XLSXOptions{SheetName: opts.Sheet, HeaderCh: headerCh})
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}

	var header []string
	line := 1
	for row := range rowCh {
		line++
		if header == nil {
			// The producer sends the header before any row.
			header = <-headerCh
		}
		if err := fn(header, row, line); err != nil {
			return header, err
		}
	}
	for err := range errCh {
		if err != nil {
			return header, eris.Wrapf(err, "ingest: read %s", path)
		}
	}

	if header == nil {
		select {
		case header = <-headerCh:
		default:
			return nil, eris.Wrapf(ErrDataIntegrity, "ingest: %s has no header row", path)
		}
	}
	return header, nil
}

// ReadTable loads a whole file as a header and rows.
func ReadTable(ctx context.Context, path string, opts TableOptions) ([]string, [][]string, error) {
	var rows [][]string
	header, err := StreamTable(ctx, path, opts, func(_, row []string, _ int) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}

// ColumnCompleteness reports how filled one column is.
type ColumnCompleteness struct {
	Column  string  `json:"column"`
	Present bool    `json:"present"`
	Blank   int     `json:"blank"`
	Filled  float64 `json:"filled_ratio"`
}

// Completeness counts blank cells for each of columns.
func Completeness(header []string, rows [][]string, columns []string) []ColumnCompleteness {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	out := make([]ColumnCompleteness, len(columns))
	for i, col := range columns {
		c := ColumnCompleteness{Column: col}
		idx, ok := pos[col]
		if !ok {
			c.Blank = len(rows)
			out[i] = c
			continue
		}
		c.Present = true
		for _, row := range rows {
			if idx >= len(row) || strings.TrimSpace(row[idx]) == "" {
				c.Blank++
			}
		}
		if len(rows) > 0 {
			c.Filled = float64(len(rows)-c.Blank) / float64(len(rows))
		}
		out[i] = c
	}
	return out
}
