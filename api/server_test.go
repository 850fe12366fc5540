package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradevault/tickstream/pkg/models"
)

type fakeDetector struct {
	status models.MarketStatus
	syms   []string
}

func (f *fakeDetector) IsOpen(ctx context.Context, syms []string) models.MarketStatus {
	f.syms = syms
	return f.status
}

func testServer(detector *fakeDetector) *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewServer(nil, detector, nil, NewTokenVerifier(""), logger, "8080")
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(&fakeDetector{})

	w := httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest("GET", "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleMarketStatus(t *testing.T) {
	detector := &fakeDetector{status: models.MarketStatus{Open: true, Reason: "recent_data"}}
	srv := testServer(detector)

	w := httptest.NewRecorder()
	srv.handleMarketStatus(w, httptest.NewRequest("GET", "/api/market/status?symbols=es.fut,%20nq.fut", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ES.FUT", "NQ.FUT"}, detector.syms, "symbols are trimmed and uppercased")

	var status models.MarketStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Open)
	assert.Equal(t, "recent_data", status.Reason)
}

func TestHandleMarketStatusRejectsNonGet(t *testing.T) {
	srv := testServer(&fakeDetector{})

	w := httptest.NewRecorder()
	srv.handleMarketStatus(w, httptest.NewRequest("POST", "/api/market/status", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := corsMiddleware(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "preflight short-circuits before the handler")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"ES.FUT", "NQZ5"}, normalizeSymbols([]string{" es.fut ", "", "nqz5"}))
	assert.Nil(t, normalizeSymbols([]string{"", "  "}))
	assert.Nil(t, splitSymbols(""))
}
