package export

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/assess"
	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/scoring"
)

// DocumentVersion is bumped on incompatible document changes.
const DocumentVersion = 1

// AssessmentDocument is the consolidated machine-readable output of the
// scoring phase. The application phase rebuilds its tree from Lookup.
type AssessmentDocument struct {
	Version     int                      `json:"version"`
	RunID       string                   `json:"run_id,omitempty"`
	Profile     string                   `json:"profile"`
	Input       string                   `json:"input"`
	GeneratedAt time.Time                `json:"generated_at"`
	Records     int                      `json:"records"`
	Total       model.Totals             `json:"total"`
	Weights     scoring.Weights          `json:"weights"`
	Analyses    []assess.AnalysisReport  `json:"analyses"`
	Lookup      []conditiontree.Entry    `json:"lookup"`
	Conflicts   []conditiontree.Conflict `json:"conflicts"`
}

// NewAssessmentDocument assembles the document of a report.
func NewAssessmentDocument(runID, profile, input string, rep *assess.Report, now time.Time) AssessmentDocument {
	return AssessmentDocument{
		Version:     DocumentVersion,
		RunID:       runID,
		Profile:     profile,
		Input:       input,
		GeneratedAt: now.UTC(),
		Records:     rep.Records,
		Total:       rep.Total,
		Weights:     rep.Weights,
		Analyses:    rep.Analyses,
		Lookup:      rep.Tree.Entries(),
		Conflicts:   rep.Conflicts,
	}
}

// Tables returns the sheets of an assessment workbook: one per analysis,
// then the lookup table and any conflicts.
func (d AssessmentDocument) Tables() []Table {
	tables := make([]Table, 0, len(d.Analyses)+2)
	for _, a := range d.Analyses {
		tables = append(tables, AnalysisTable(a))
	}
	tables = append(tables, LookupTable(d.Lookup))
	if len(d.Conflicts) > 0 {
		tables = append(tables, ConflictTable(d.Conflicts))
	}
	return tables
}

// ReadAssessment loads an assessment document and checks its version.
func ReadAssessment(path string) (*AssessmentDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read %s", path)
	}
	var doc AssessmentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "export: decode %s", path)
	}
	if doc.Version != DocumentVersion {
		return nil, eris.Errorf("export: %s: unsupported document version %d", path, doc.Version)
	}
	return &doc, nil
}

// ApplicationDocument is the consolidated output of the application phase.
type ApplicationDocument struct {
	Version     int             `json:"version"`
	RunID       string          `json:"run_id,omitempty"`
	Profile     string          `json:"profile"`
	Input       string          `json:"input"`
	Scores      string          `json:"scores"`
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     resolve.Summary `json:"summary"`
	Outcomes    []model.Outcome `json:"outcomes"`
}

// Tables returns the sheets of an application workbook.
func (d ApplicationDocument) Tables() []Table {
	return []Table{OutcomeTable(d.Outcomes), SummaryTable(d.Summary)}
}
