package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
)

func TestRecovererTurnsPanicIntoInternalError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
	handler := Recoverer(logg)(RequestID(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sweeps", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestRequestIDPropagatesHeader(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, "req-123", w.Header().Get("X-Request-Id"))
}

func TestLoggingRecordsStatus(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
	var recorded *statusRecorder
	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		recorded = w.(*statusRecorder)
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sweeps", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, http.StatusAccepted, recorded.status)
}
