// Package industry loads the national industry classification and maps raw
// industry codes to their level-1..4 labels.
package industry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
)

// Node is one classification entry.
type Node struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Level    int     `json:"level"`
	Children []*Node `json:"children"`
}

// CSV headers of the classification export.
const (
	ColumnCode  = "CODECODE"
	ColumnName  = "国民经济行业类型"
	ColumnLevel = "等级"
)

// LoadJSON reads a classification tree written by WriteJSON.
func LoadJSON(path string) ([]*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "industry: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var roots []*Node
	if err := json.NewDecoder(f).Decode(&roots); err != nil {
		return nil, eris.Wrapf(err, "industry: decode %s", path)
	}
	return roots, nil
}

// WriteJSON writes the tree as an indented JSON array.
func WriteJSON(w io.Writer, roots []*Node) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(roots); err != nil {
		return eris.Wrap(err, "industry: encode")
	}
	return nil
}

// LoadCSV reads a flat (code, name, level) export and nests it by code
// prefix.
func LoadCSV(ctx context.Context, path string, opts ingest.TableOptions) ([]*Node, error) {
	header, rows, err := ingest.ReadTable(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{ColumnCode, ColumnName, ColumnLevel} {
		if _, ok := pos[col]; !ok {
			return nil, eris.Wrapf(ingest.ErrDataIntegrity, "industry: %s: missing column %s", path, col)
		}
	}

	flat := make([]*Node, 0, len(rows))
	for i, row := range rows {
		get := func(col string) string {
			if j := pos[col]; j < len(row) {
				return strings.TrimSpace(row[j])
			}
			return ""
		}
		level, err := strconv.ParseFloat(get(ColumnLevel), 64)
		if err != nil || level < 1 || level > model.MaxIndustryDepth || level != float64(int(level)) {
			return nil, eris.Wrapf(ingest.ErrDataIntegrity, "industry: %s: line %d: invalid level %q", path, i+2, get(ColumnLevel))
		}
		flat = append(flat, &Node{Code: get(ColumnCode), Name: get(ColumnName), Level: int(level)})
	}
	return Nest(flat), nil
}

// Nest links flat nodes into a forest. A node's parent is the first node one
// level up whose code prefixes it. Nodes above level 1 without a parent are
// dropped and logged.
func Nest(flat []*Node) []*Node {
	byLevel := make(map[int][]*Node)
	for _, n := range flat {
		n.Children = []*Node{}
		byLevel[n.Level] = append(byLevel[n.Level], n)
	}

	var roots []*Node
	orphans := 0
	for _, n := range flat {
		if n.Level == 1 {
			roots = append(roots, n)
			continue
		}
		var parent *Node
		for _, p := range byLevel[n.Level-1] {
			if strings.HasPrefix(n.Code, p.Code) {
				parent = p
				break
			}
		}
		if parent == nil {
			orphans++
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	if orphans > 0 {
		zap.L().Warn("industry: classification entries without parent dropped", zap.Int("count", orphans))
	}
	return roots
}

// Index maps codes to formatted level labels.
type Index struct {
	hierarchy map[string][]string
}

// NewIndex flattens roots; format renders one level label from code and name.
func NewIndex(roots []*Node, format func(code, name string) string) *Index {
	idx := &Index{hierarchy: make(map[string][]string)}
	var visit func(n *Node, labels [model.MaxIndustryDepth]string)
	visit = func(n *Node, labels [model.MaxIndustryDepth]string) {
		if n.Level >= 1 && n.Level <= model.MaxIndustryDepth {
			labels[n.Level-1] = format(n.Code, n.Name)
		}
		idx.hierarchy[n.Code] = model.TrimIndustry(labels[:])
		for _, c := range n.Children {
			visit(c, labels)
		}
	}
	for _, r := range roots {
		visit(r, [model.MaxIndustryDepth]string{})
	}
	return idx
}

// Hierarchy returns the level labels of code, level 1 first.
func (i *Index) Hierarchy(code string) ([]string, bool) {
	h, ok := i.hierarchy[strings.TrimSpace(code)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), h...), true
}

// Len returns the number of indexed codes.
func (i *Index) Len() int {
	return len(i.hierarchy)
}
