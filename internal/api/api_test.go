package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/store"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

const tier = "十级伤残:5%"

type fakeIndustry map[string][]string

func (f fakeIndustry) Hierarchy(code string) ([]string, bool) {
	levels, ok := f[code]
	return levels, ok
}

func testEntries() []conditiontree.Entry {
	return []conditiontree.Entry{
		{
			Path: conditiontree.Path{Industry: []string{"A", "B"}, Disability: tier, Bracket: "200000", Renewal: "true"},
			Leaf: conditiontree.Leaf{Coefficient: 52, Score: 60.25, Records: 3, Source: "tree_industry_2"},
		},
		{
			Path: conditiontree.Path{Industry: []string{"A"}, Disability: tier, Bracket: "200000", Renewal: "true"},
			Leaf: conditiontree.Leaf{Coefficient: 80, Score: 50, Records: 5, Source: "tree_industry_1"},
		},
		{
			Path: conditiontree.Path{Bracket: "200000", Renewal: "false"},
			Leaf: conditiontree.Leaf{Coefficient: 120, Score: 40, Records: 7, Source: "tree_basic"},
		},
	}
}

func newTestHandler(t *testing.T, st store.Store) *Handler {
	t.Helper()
	tr, err := surcharge.New(config.SurchargeConfig{Weight: 1.5, Scale: 1000, Decay: 0.046, Offset: 0.01, Precision: 1})
	require.NoError(t, err)
	return NewHandler(Deps{
		Transform: tr,
		Options:   resolve.Options{Modes: model.DefaultModes, Concurrency: 2},
		Profile:   config.DefaultProfile(),
		Store:     st,
		Industry:  fakeIndustry{"0101": {"A", "B"}},
		Version:   "test",
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	h := newTestHandler(t, nil)
	require.NoError(t, h.Swap("run-1", testEntries()))
	return NewServer(config.ServerConfig{Port: 8080}, h)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := do(t, newTestServer(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, float64(3), body["leaves"])
}

func TestResolve(t *testing.T) {
	s := newTestServer(t)
	amount := 150000.0

	tests := []struct {
		name     string
		req      ResolveRequest
		status   int
		mode     model.MatchMode
		coef     float64
		resolved []string
	}{
		{
			name:     "exact",
			req:      ResolveRequest{Industry: []string{"A", "B"}, Disability: tier, AmountBracket: "200000", Renewal: "true"},
			status:   http.StatusOK,
			mode:     model.ModeExact,
			coef:     78,
			resolved: []string{"A", "B", tier, "200000", "true"},
		},
		{
			name:     "industry code and insured amount",
			req:      ResolveRequest{IndustryCode: "0101", Disability: tier, InsuredAmount: &amount, Renewal: "续保"},
			status:   http.StatusOK,
			mode:     model.ModeExact,
			coef:     78,
			resolved: []string{"A", "B", tier, "200000", "true"},
		},
		{
			name:     "degrade",
			req:      ResolveRequest{Industry: []string{"A", "X", "Y"}, Disability: tier, AmountBracket: "200000", Renewal: "true"},
			status:   http.StatusOK,
			mode:     model.ModeIndustryDegrade,
			coef:     120,
			resolved: []string{"A", tier, "200000", "true"},
		},
		{
			name:     "basic",
			req:      ResolveRequest{Industry: []string{"Z"}, Disability: tier, AmountBracket: "200000.00", Renewal: "新单"},
			status:   http.StatusOK,
			mode:     model.ModeBasic,
			coef:     180,
			resolved: []string{"200000", "false"},
		},
		{
			name:   "not found",
			req:    ResolveRequest{Industry: []string{"Z"}, Disability: tier, AmountBracket: "500000", Renewal: "true"},
			status: http.StatusNotFound,
		},
		{
			name:   "missing bracket",
			req:    ResolveRequest{Industry: []string{"A"}, Renewal: "true"},
			status: http.StatusBadRequest,
		},
		{
			name:   "bad renewal",
			req:    ResolveRequest{Industry: []string{"A"}, AmountBracket: "200000", Renewal: "maybe"},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown industry code",
			req:    ResolveRequest{IndustryCode: "9999", AmountBracket: "200000", Renewal: "true"},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/v1/resolve", tt.req)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status != http.StatusOK {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
				return
			}

			var resp ResolveResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.NotNil(t, resp.Outcome.Result)
			assert.Equal(t, "run-1", resp.RunID)
			assert.Equal(t, tt.mode, resp.Outcome.Result.Mode)
			assert.InDelta(t, tt.coef, resp.Outcome.Result.Coefficient, 1e-9)
			assert.Equal(t, tt.resolved, resp.Outcome.Result.ResolvedPath)
		})
	}
}

func TestResolve_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	newTestServer(t).Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolve_NoTable(t *testing.T) {
	s := NewServer(config.ServerConfig{}, newTestHandler(t, nil))
	rr := do(t, s, http.MethodPost, "/v1/resolve", ResolveRequest{AmountBracket: "200000", Renewal: "true"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestResolveBatch(t *testing.T) {
	s := newTestServer(t)
	req := BatchRequest{Records: []ResolveRequest{
		{PolicyID: "P1", Industry: []string{"A", "B"}, Disability: tier, AmountBracket: "200000", Renewal: "true"},
		{PolicyID: "P2", Industry: []string{"Z"}, AmountBracket: "800000", Renewal: "true"},
		{PolicyID: "P3", Industry: []string{"Q"}, AmountBracket: "200000", Renewal: "false"},
	}}

	rr := do(t, s, http.MethodPost, "/v1/resolve/batch", req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Outcomes, 3)
	assert.Equal(t, "P1", resp.Outcomes[0].PolicyID)
	assert.True(t, resp.Outcomes[0].Matched())
	assert.False(t, resp.Outcomes[1].Matched())
	assert.NotEmpty(t, resp.Outcomes[1].NotFound)
	assert.Equal(t, model.ModeBasic, resp.Outcomes[2].Result.Mode)
	assert.Equal(t, 3, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.NotFound)
}

func TestResolveBatch_Empty(t *testing.T) {
	rr := do(t, newTestServer(t), http.MethodPost, "/v1/resolve/batch", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLookup(t *testing.T) {
	rr := do(t, newTestServer(t), http.MethodGet, "/v1/lookup", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		RunID   string                `json:"run_id"`
		Entries []conditiontree.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, testEntries(), body.Entries)
}

func TestSurcharge(t *testing.T) {
	s := newTestServer(t)

	rr := do(t, s, http.MethodGet, "/v1/surcharge?score=100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var row surcharge.Row
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &row))
	assert.Zero(t, row.Final)

	rr = do(t, s, http.MethodGet, "/v1/surcharge?score=0", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &row))
	assert.InDelta(t, 1000.0, row.Base, 1e-9)
	assert.InDelta(t, 1500.0, row.Final, 1e-9)

	for _, q := range []string{"", "abc", "NaN"} {
		rr = do(t, s, http.MethodGet, "/v1/surcharge?score="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestReloadAndRuns(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "risk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	s := NewServer(config.ServerConfig{}, newTestHandler(t, st))

	rr := do(t, s, http.MethodPost, "/v1/reload", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	run, err := st.CreateRun(ctx, model.RunKindAssess, "default", "orders.csv")
	require.NoError(t, err)
	require.NoError(t, st.SaveLookupTable(ctx, run.ID, testEntries()))
	require.NoError(t, st.CompleteRun(ctx, run.ID, map[string]any{"records": 15}))

	rr = do(t, s, http.MethodPost, "/v1/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodPost, "/v1/resolve", ResolveRequest{Industry: []string{"Q"}, AmountBracket: "200000", Renewal: "false"})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp.RunID)

	rr = do(t, s, http.MethodGet, "/v1/runs?kind=assess", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs.Runs[0].Status)

	rr = do(t, s, http.MethodGet, "/v1/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunsWithoutStore(t *testing.T) {
	rr := do(t, newTestServer(t), http.MethodGet, "/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	newTestServer(t).Router().ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, nil)
	require.NoError(t, h.Swap("run-1", testEntries()))
	s := NewServer(config.ServerConfig{Port: 8080, RateLimit: 0.001, RateBurst: 2}, h)

	for i := 0; i < 2; i++ {
		rr := do(t, s, http.MethodGet, "/v1/lookup", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(t, s, http.MethodGet, "/v1/lookup", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// Health stays outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)

	// Limits are per client.
	req := httptest.NewRequest(http.MethodGet, "/v1/lookup", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	other := httptest.NewRecorder()
	s.Router().ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}
