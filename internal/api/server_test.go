package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fieldtrack/internal/catalog"
	"example.com/fieldtrack/internal/checkin"
	"example.com/fieldtrack/internal/page"
	"example.com/fieldtrack/internal/prospect"
	"example.com/fieldtrack/internal/store"
	"example.com/fieldtrack/internal/store/sqlite"
	"example.com/fieldtrack/internal/store/storetest"
	"example.com/fieldtrack/internal/trajectory"
)

var home = trajectory.Point{Lat: -23.5505, Lng: -46.6333}

func newTestServer(t *testing.T) (*httptest.Server, store.Executor) {
	t.Helper()
	exec, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })
	require.NoError(t, storetest.Reset(context.Background(), exec))

	retrying := store.WithRetry(exec, store.RetryPolicy{MaxAttempts: 3, Step: time.Millisecond})
	limits := page.Limits{Default: 20, Max: 100}
	srv := NewServer(Deps{
		Checkins:  checkin.NewRepository(retrying, limits, 1000),
		Prospects: prospect.NewRepository(retrying, limits),
		Catalog:   catalog.NewMutator(retrying, t.TempDir(), zerolog.Nop()),
		Probes:    map[string]Pinger{"sqlite": exec},
		Home:      home,
		Logger:    zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, exec
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func seedScenario(t *testing.T, exec store.Executor) {
	t.Helper()
	require.NoError(t, storetest.Seed(context.Background(), exec,
		[]any{int64(1), "20240105", "080000", "C1", "Acme", "Campinas", "-22.90", "-47.06", "T1"},
		[]any{int64(2), "20240105", "093000", "C2", "Beta", "Campinas", "-22.95", "-47.10", "T1"},
		[]any{int64(3), "20231231", "100000", "C3", "Gamma", "Santos", "-23.96", "-46.33", "T1"},
		[]any{int64(4), "20240201", "110000", "C4", "Delta", "Santos", "-23.96", "-46.33", "T2"},
		[]any{int64(5), "20240110", "120000", "C5", "Echo", "Santos", "0", "0", "T2"},
	))
}

func TestListCheckinsEnvelope(t *testing.T) {
	ts, exec := newTestServer(t)
	seedScenario(t, exec)

	var body struct {
		Success    bool             `json:"success"`
		Rows       []checkin.Record `json:"rows"`
		Page       int              `json:"page"`
		Limit      int              `json:"limit"`
		Total      int              `json:"total"`
		TotalPages int              `json:"totalPages"`
		Filters    map[string]any   `json:"filters"`
	}
	status := getJSON(t, ts.URL+"/api/checkins?dateInicio=2024-01-01&dateFim=2024-01-31&page=1&limit=2", &body)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.TotalPages)
	require.Len(t, body.Rows, 2)
	assert.EqualValues(t, 1, body.Rows[0].Key)
	assert.EqualValues(t, 2, body.Rows[1].Key)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, "2024-01-01", body.Filters["dateInicio"])
	assert.Equal(t, true, body.Filters["placed"])
}

func TestListCheckinsIncludesUnplacedOnRequest(t *testing.T) {
	ts, exec := newTestServer(t)
	seedScenario(t, exec)

	var body struct {
		Total   int            `json:"total"`
		Filters map[string]any `json:"filters"`
	}
	status := getJSON(t, ts.URL+"/api/checkins?dateInicio=2024-01-01&dateFim=2024-01-31&placed=false", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, false, body.Filters["placed"])
}

func TestMapScenario(t *testing.T) {
	ts, exec := newTestServer(t)
	seedScenario(t, exec)

	var body struct {
		Success             bool                         `json:"success"`
		Checkins            []checkin.Record             `json:"checkins"`
		TrajectoriesByAgent map[string][]trajectory.Stop `json:"trajectoriesByAgent"`
		Statistics          trajectory.Stats             `json:"statistics"`
		Centroid            trajectory.Point             `json:"centroid"`
	}
	status := getJSON(t, ts.URL+"/api/checkins/map?dateInicio=2024-01-01&dateFim=2024-01-31", &body)
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.Success)
	require.Len(t, body.Checkins, 2)
	assert.Equal(t, 2, body.Statistics.TotalCheckins)
	assert.Equal(t, 1, body.Statistics.TotalAgents)
	assert.Equal(t, "20240105", body.Statistics.PeriodStart)

	stops := body.TrajectoriesByAgent["T1"]
	require.Len(t, stops, 2)
	assert.Equal(t, 1, stops[0].Seq)
	assert.Equal(t, "080000", stops[0].Time)
	assert.Equal(t, 2, stops[1].Seq)
	assert.InDelta(t, -22.925, body.Centroid.Lat, 1e-9)
}

func TestMapEmptyUsesHomeCentroid(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Success  bool             `json:"success"`
		Checkins []checkin.Record `json:"checkins"`
		Centroid trajectory.Point `json:"centroid"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/checkins/map?agent=T9", &body))
	assert.True(t, body.Success)
	assert.NotNil(t, body.Checkins)
	assert.Empty(t, body.Checkins)
	assert.Equal(t, home, body.Centroid)
}

func TestLatest(t *testing.T) {
	ts, exec := newTestServer(t)
	seedScenario(t, exec)

	var body struct {
		Success bool            `json:"success"`
		Checkin *checkin.Record `json:"checkin"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/checkins/latest/T1", &body))
	require.NotNil(t, body.Checkin)
	assert.EqualValues(t, 2, body.Checkin.Key)

	body.Checkin = nil
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/checkins/latest/T9", &body))
	assert.True(t, body.Success)
	assert.Nil(t, body.Checkin)

	status, out := doJSON(t, http.MethodGet, ts.URL+"/api/checkins/latest/%20", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, out["success"])
}

func TestProspects(t *testing.T) {
	ts, exec := newTestServer(t)
	_, err := exec.Exec(context.Background(),
		`INSERT INTO prospects (code, name, email, company) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`,
		"P1", "Ana", "ana@x.test", "C1", "P2", "Bruno", "b@x.test", "C2")
	require.NoError(t, err)

	var body struct {
		Success bool                `json:"success"`
		Rows    []prospect.Prospect `json:"rows"`
		Total   int                 `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/prospects?search=ana&company=C1", &body))
	assert.True(t, body.Success)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "P1", body.Rows[0].Code)
}

func TestErrorMessageKeepsPercentSigns(t *testing.T) {
	ts, _ := newTestServer(t)

	status, out := doJSON(t, http.MethodDelete, ts.URL+"/api/images/50%25off", "")
	require.Equal(t, http.StatusNotFound, status)
	msg := out["error"].(map[string]any)["message"].(string)
	assert.Contains(t, msg, "50%off")
	assert.NotContains(t, msg, "MISSING")

	status, out = doJSON(t, http.MethodGet, ts.URL+"/api/commissions/100%25", "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, out["error"].(map[string]any)["message"], "100%")
}

func TestImageLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/images/SKU1"

	status, out := doJSON(t, http.MethodPut, url, `{"imageUrl":"/uploads/sku1.png"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])

	status, out = doJSON(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/uploads/sku1.png", out["image"].(map[string]any)["imageUrl"])

	status, _ = doJSON(t, http.MethodDelete, url, "")
	require.Equal(t, http.StatusOK, status)

	status, out = doJSON(t, http.MethodDelete, url, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, out["success"])

	status, _ = doJSON(t, http.MethodPut, url, `{"imageUrl":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = doJSON(t, http.MethodPut, url, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCommissionUpdate(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/commissions/T1"

	status, _ := doJSON(t, http.MethodPut, url, `{"percent":2.5}`)
	require.Equal(t, http.StatusOK, status)

	status, out := doJSON(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.5, out["commission"].(map[string]any)["percent"])

	status, _ = doJSON(t, http.MethodPut, url, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = doJSON(t, http.MethodPut, url, `{"percent":250}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		OK     bool              `json:"ok"`
		Stores map[string]string `json:"stores"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &body))
	assert.True(t, body.OK)
	assert.Equal(t, "ok", body.Stores["sqlite"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "fieldtrack_store_queries_total")
}

func TestRequestIDEchoed(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-Id"), 36)
}

// brokenReader fails every read the way an unreachable backend would.
type brokenReader struct{}

func (brokenReader) List(context.Context, checkin.Criteria) (page.Envelope[checkin.Record], error) {
	return page.Envelope[checkin.Record]{}, errors.New("dial tcp: connection refused")
}

func (brokenReader) Map(context.Context, checkin.Criteria) (checkin.MapResult, error) {
	return checkin.MapResult{}, errors.New("dial tcp: connection refused")
}

func (brokenReader) Latest(context.Context, string) (*checkin.Record, error) {
	return nil, fmt.Errorf("latest: %w", store.ErrContention)
}

func (brokenReader) Ping(context.Context) error { return errors.New("down") }

func TestBackendFailureKeepsShape(t *testing.T) {
	srv := NewServer(Deps{
		Checkins: brokenReader{},
		Probes:   map[string]Pinger{"postgres": brokenReader{}},
		Home:     home,
		Logger:   zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var list map[string]any
	status := getJSON(t, ts.URL+"/api/checkins?page=2&limit=5", &list)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, list["success"])
	assert.Equal(t, []any{}, list["rows"])
	assert.EqualValues(t, 2, list["page"])
	assert.Contains(t, list["error"], "connection refused")

	var m map[string]any
	status = getJSON(t, ts.URL+"/api/checkins/map", &m)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, m["success"])
	assert.Equal(t, []any{}, m["checkins"])
	assert.Equal(t, map[string]any{}, m["trajectoriesByAgent"])

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/api/checkins/latest/T1", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	var health map[string]any
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/healthz", &health))
}

type panicReader struct{ brokenReader }

func (panicReader) List(context.Context, checkin.Criteria) (page.Envelope[checkin.Record], error) {
	panic("nil map")
}

func TestPanicRecovered(t *testing.T) {
	srv := NewServer(Deps{Checkins: panicReader{}, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, out := doJSON(t, http.MethodGet, ts.URL+"/api/checkins", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, out["success"])
}
