package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/store"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

// MaxBatch is the largest accepted POST /v1/resolve/batch request.
const MaxBatch = 10000

// maxBodyBytes caps resolve request bodies.
var maxBodyBytes int64 = 8 << 20

// Deps holds the collaborators of a Handler. Store and Industry are optional.
type Deps struct {
	Transform *surcharge.Transform
	Options   resolve.Options
	Profile   config.ProfileConfig
	Store     store.Store
	Industry  ingest.IndustryResolver
	Version   string
}

// Handler holds the active lookup table and serves the API routes. The table
// is swapped atomically on reload; in-flight requests keep the old one.
type Handler struct {
	deps Deps

	mu       sync.RWMutex
	runID    string
	entries  []conditiontree.Entry
	resolver *resolve.Resolver
}

// NewHandler returns a Handler without a table. Call Swap or Reload before
// serving lookups.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Swap installs a lookup table.
func (h *Handler) Swap(runID string, entries []conditiontree.Entry) error {
	tree, err := conditiontree.FromEntries(entries)
	if err != nil {
		return eris.Wrap(err, "api: build tree")
	}
	res, err := resolve.New(tree, h.deps.Transform, h.deps.Options)
	if err != nil {
		return eris.Wrap(err, "api: build resolver")
	}

	h.mu.Lock()
	h.runID, h.entries, h.resolver = runID, entries, res
	h.mu.Unlock()

	zap.L().Info("api: lookup table loaded", zap.String("run_id", runID), zap.Int("leaves", tree.Len()))
	return nil
}

// LoadLatest installs the table of the given run, or of the latest completed
// assessment when runID is empty.
func (h *Handler) LoadLatest(ctx context.Context, runID string) error {
	if h.deps.Store == nil {
		return eris.New("api: no store configured")
	}
	id, entries, err := h.deps.Store.LoadLookupTable(ctx, runID)
	if err != nil {
		return err
	}
	return h.Swap(id, entries)
}

func (h *Handler) active() (string, *resolve.Resolver, []conditiontree.Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runID, h.resolver, h.entries
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	runID, res, entries := h.active()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.deps.Version,
		"ready":   res != nil,
		"run_id":  runID,
		"leaves":  len(entries),
	})
}

// ResolveRequest describes one policy to price. Industry takes precedence
// over IndustryCode; AmountBracket takes precedence over InsuredAmount.
type ResolveRequest struct {
	PolicyID      string   `json:"policy_id,omitempty"`
	Industry      []string `json:"industry,omitempty"`
	IndustryCode  string   `json:"industry_code,omitempty"`
	Disability    string   `json:"disability"`
	AmountBracket string   `json:"amount_bracket,omitempty"`
	InsuredAmount *float64 `json:"insured_amount,omitempty"`
	Renewal       string   `json:"renewal"`
}

// ResolveResponse is returned for a matched record.
type ResolveResponse struct {
	RunID   string        `json:"run_id"`
	Outcome model.Outcome `json:"outcome"`
}

// Resolve handles POST /v1/resolve. Unmatched records get 404 with the
// query that was tried.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	runID, res, _ := h.active()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no lookup table loaded")
		return
	}

	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.record(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o := res.Outcome(0, rec)
	if !o.Matched() {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":  o.NotFound,
			"run_id": runID,
			"query":  o.Query,
		})
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{RunID: runID, Outcome: o})
}

// BatchRequest is the body of POST /v1/resolve/batch.
type BatchRequest struct {
	Records []ResolveRequest `json:"records"`
}

// BatchResponse holds outcomes in request order.
type BatchResponse struct {
	RunID    string          `json:"run_id"`
	Outcomes []model.Outcome `json:"outcomes"`
	Summary  resolve.Summary `json:"summary"`
}

// ResolveBatch handles POST /v1/resolve/batch. Unmatched records are
// reported per outcome and do not fail the request.
func (h *Handler) ResolveBatch(w http.ResponseWriter, r *http.Request) {
	runID, res, _ := h.active()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no lookup table loaded")
		return
	}

	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Records) == 0 || len(req.Records) > MaxBatch {
		writeError(w, http.StatusBadRequest, "records must hold between 1 and "+strconv.Itoa(MaxBatch)+" entries")
		return
	}

	records := make([]model.PolicyRecord, len(req.Records))
	for i, rr := range req.Records {
		rec, err := h.record(rr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "records["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		records[i] = rec
	}

	outcomes, summary, err := res.ResolveAll(r.Context(), records)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{RunID: runID, Outcomes: outcomes, Summary: summary})
}

func (h *Handler) record(req ResolveRequest) (model.PolicyRecord, error) {
	rec := model.PolicyRecord{
		PolicyID:   req.PolicyID,
		Disability: strings.TrimSpace(req.Disability),
		Industry:   model.TrimIndustry(req.Industry),
	}

	if len(rec.Industry) == 0 && req.IndustryCode != "" {
		if h.deps.Industry == nil {
			return rec, eris.New("industry_code given but no classification is loaded")
		}
		levels, ok := h.deps.Industry.Hierarchy(strings.TrimSpace(req.IndustryCode))
		if !ok {
			return rec, eris.Errorf("unknown industry_code %q", req.IndustryCode)
		}
		rec.Industry = levels
	}

	switch {
	case strings.TrimSpace(req.AmountBracket) != "":
		rec.AmountBracket = ingest.NormalizeBracket(strings.TrimSpace(req.AmountBracket))
	case req.InsuredAmount != nil:
		rec.InsuredAmount = decimal.NewFromFloat(*req.InsuredAmount)
		rec.AmountBracket = h.deps.Profile.Bracket(*req.InsuredAmount)
	default:
		return rec, eris.New("amount_bracket or insured_amount is required")
	}

	renewal, err := h.deps.Profile.ParseRenewal(req.Renewal)
	if err != nil {
		return rec, eris.Errorf("renewal: unknown value %q", req.Renewal)
	}
	rec.Renewal = renewal
	return rec, nil
}

// Lookup handles GET /v1/lookup and returns the active table.
func (h *Handler) Lookup(w http.ResponseWriter, _ *http.Request) {
	runID, res, entries := h.active()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no lookup table loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "entries": entries})
}

// Surcharge handles GET /v1/surcharge?score=N.
func (h *Handler) Surcharge(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.ParseFloat(r.URL.Query().Get("score"), 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		writeError(w, http.StatusBadRequest, "score must be a finite number")
		return
	}
	rows := h.deps.Transform.Table([]float64{score})
	writeJSON(w, http.StatusOK, rows[0])
}

// Reload handles POST /v1/reload?run_id=X. Without run_id the latest
// completed assessment is loaded.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	err := h.LoadLatest(r.Context(), r.URL.Query().Get("run_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runID, _, entries := h.active()
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "leaves": len(entries)})
}

// ListRuns handles GET /v1/runs?kind=&status=&limit=&offset=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Kind:   model.RunKind(q.Get("kind")),
		Status: model.RunStatus(q.Get("status")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	runs, err := h.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	run, err := h.deps.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decodeBody reads a size-limited JSON body into v and writes the error
// response itself when that fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON request body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
