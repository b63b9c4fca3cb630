package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const maxSheetName = 31

// WriteXLSX writes one sheet per table.
func WriteXLSX(path string, tables []Table) error {
	f := xlsx.NewFile()
	used := make(map[string]bool, len(tables))

	for _, t := range tables {
		sheet, err := f.AddSheet(sheetName(t.Name, used))
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", t.Name)
		}

		header := sheet.AddRow()
		for _, h := range t.Header {
			header.AddCell().SetString(h)
		}
		for _, r := range t.Rows {
			row := sheet.AddRow()
			for _, v := range r {
				cell := row.AddCell()
				switch x := v.(type) {
				case float64:
					cell.SetFloat(x)
				case int:
					cell.SetInt(x)
				case int64:
					cell.SetInt64(x)
				default:
					cell.SetString(cellString(v))
				}
			}
		}
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// sheetName truncates to the XLSX limit and keeps names unique.
func sheetName(name string, used map[string]bool) string {
	if name == "" {
		name = "sheet"
	}
	base := truncateRunes(name, maxSheetName)
	out := base
	for i := 2; used[out]; i++ {
		suffix := "~" + strconv.Itoa(i)
		out = truncateRunes(base, maxSheetName-len(suffix)) + suffix
	}
	used[out] = true
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// WriteCSV writes one table as UTF-8 CSV with a BOM so spreadsheet tools
// detect the encoding.
func WriteCSV(path string, t Table) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.WriteString("\uFEFF"); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	for _, r := range t.Rows {
		rec := make([]string, len(r))
		for i, v := range r {
			rec[i] = cellString(v)
		}
		if err := w.Write(rec); err != nil {
			return eris.Wrapf(err, "export: write %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}
	return f.Close()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal json")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir %s", dir)
	}
	return nil
}
