package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-panorama/pkg/compose"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", nil)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("localhost:8080", nil)
	assert.Error(t, err)
	_, err = New("ftp://host", nil)
	assert.Error(t, err)
}

func TestClient_Status(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"abc","source":"mock","collecting":true,"frames":3,"default_mode":"mosaic"}`))
	})
	c := newTestClient(t, mux)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", st.ID)
	assert.True(t, st.Collecting)
	assert.Equal(t, 3, st.Frames)
	assert.Equal(t, compose.ModeMosaic, st.DefaultMode)
}

func TestClient_CaptureAndExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collection/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"index":4}`))
	})
	mux.HandleFunc("POST /api/export", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"path": "/out/" + req["path"]})
	})
	c := newTestClient(t, mux)

	idx, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, idx)

	path, err := c.Export(context.Background(), "pano.png")
	require.NoError(t, err)
	assert.Equal(t, "/out/pano.png", path)
}

func TestClient_ComposeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/compose", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"compose: alignment failed","result":{"mode":"panorama","status":"alignment_failed","frames":3}}`))
	})
	c := newTestClient(t, mux)

	_, err := c.Compose(context.Background(), "panorama")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "compose: alignment failed", apiErr.Message)
	require.NotNil(t, apiErr.Result)
	assert.Equal(t, compose.StatusAlignmentFailed, apiErr.Result.Status)
	assert.Equal(t, 3, apiErr.Result.Frames)
}

func TestClient_PlainTextError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collection/stop", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	})
	c := newTestClient(t, mux)

	_, err := c.Stop(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "409 Conflict", apiErr.Message)
}

func TestClient_Composite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/composite", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "jpeg" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF})
	})
	c := newTestClient(t, mux)

	var buf bytes.Buffer
	ct, err := c.Composite(context.Background(), "jpeg", &buf)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, buf.Bytes())
}
