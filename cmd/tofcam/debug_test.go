package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/calibration"
	"github.com/banshee-data/tofcam/internal/logreader"
	"github.com/banshee-data/tofcam/internal/queue"
	"github.com/banshee-data/tofcam/internal/stream"
	"github.com/banshee-data/tofcam/internal/testutil"
)

func debugGet(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestDebugMux_LatestFrame(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	latest := &queue.Latest{}
	src := logreader.NewReader("unused.log")

	mux, err := newDebugMux(src, q, latest, calibration.NewDefault(), stream.NewHub(0))
	require.NoError(t, err)

	w := debugGet(mux, "/debug/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)

	latest.ConsumeImage(testutil.FilledFrame(t, 50, 51))
	w = debugGet(mux, "/debug/latest")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got latestFrame
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got.Seq)
	assert.Equal(t, 50, got.Rows)
	assert.Equal(t, 50, got.Cols)
	assert.Equal(t, 2500, got.Depth.Valid)
	assert.InDelta(t, 0.1, got.Depth.Mean, 1e-9)
	assert.Equal(t, 2500, got.Points)
}

func TestDebugMux_Index(t *testing.T) {
	q := queue.New()
	defer q.Stop()

	mux, err := newDebugMux(logreader.NewReader("unused.log"), q, &queue.Latest{}, calibration.NewDefault(), stream.NewHub(0))
	require.NoError(t, err)

	w := debugGet(mux, "/debug/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "frames enqueued")
	assert.Contains(t, w.Body.String(), "latest")
}

func TestDebugMux_LatestRejectsPost(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	mux, err := newDebugMux(logreader.NewReader("unused.log"), q, &queue.Latest{}, calibration.NewDefault(), stream.NewHub(0))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/debug/latest", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
