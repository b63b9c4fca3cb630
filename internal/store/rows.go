package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
)

// lookupRows flattens entries into rows matching lookupColumns. The
// industry chain is stored as a JSON array.
func lookupRows(runID string, entries []conditiontree.Entry) ([][]any, error) {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		industry, err := json.Marshal(e.Path.Industry)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal industry")
		}
		rows[i] = []any{
			runID, i, string(industry), e.Path.Disability, e.Path.Bracket, e.Path.Renewal,
			e.Leaf.Coefficient, e.Leaf.Score, e.Leaf.Records, e.Leaf.Source,
		}
	}
	return rows, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (conditiontree.Entry, error) {
	var (
		e        conditiontree.Entry
		industry string
	)
	err := row.Scan(&industry, &e.Path.Disability, &e.Path.Bracket, &e.Path.Renewal,
		&e.Leaf.Coefficient, &e.Leaf.Score, &e.Leaf.Records, &e.Leaf.Source)
	if err != nil {
		return e, eris.Wrap(err, "store: scan lookup entry")
	}
	if err := json.Unmarshal([]byte(industry), &e.Path.Industry); err != nil {
		return e, eris.Wrap(err, "store: unmarshal industry")
	}
	return e, nil
}

func marshalSummary(summary map[string]any) (string, error) {
	if summary == nil {
		return "{}", nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal summary")
	}
	return string(b), nil
}

func unmarshalSummary(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(raw, dst), "store: unmarshal summary")
}
