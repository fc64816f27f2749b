package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-panorama/pkg/capture"
	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/export"
	"github.com/teslashibe/go-panorama/pkg/hub"
	"github.com/teslashibe/go-panorama/pkg/metrics"
	"github.com/teslashibe/go-panorama/pkg/session"
)

var testSize = image.Pt(64, 48)

type fixture struct {
	srv    *Server
	sess   *session.Session
	events *hub.Hub
	live   *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ccfg := capture.DefaultConfig()
	ccfg.Backend = capture.BackendMock
	ccfg.Width, ccfg.Height = testSize.X, testSize.Y
	ccfg.Framerate = 100

	scfg := session.DefaultConfig()
	scfg.FrameSize = testSize
	scfg.DefaultMode = compose.ModeMosaic
	scfg.Export.Dir = t.TempDir()

	events := hub.New("events", nil)
	live := hub.New("live", nil)
	m := metrics.New()

	sess := session.New(scfg, capture.NewMockSource(ccfg, nil),
		session.WithMetrics(m),
		session.WithEvents(func(e session.Event) { events.BroadcastJSON(e) }),
		session.WithLiveSink(live.BroadcastBinary),
	)
	t.Cleanup(func() { sess.Close() })

	return &fixture{
		srv:    New(Deps{Session: sess, Live: live, Events: events, Metrics: m}),
		sess:   sess,
		events: events,
		live:   live,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) collect(t *testing.T, n int) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/collection/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, err := f.sess.Live()
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < n; i++ {
		resp := f.do(t, http.MethodPost, "/api/collection/capture", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[map[string]int](t, resp)
		assert.Equal(t, i, got["index"])
	}

	resp = f.do(t, http.MethodPost, "/api/collection/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrCollecting, http.StatusConflict},
		{session.ErrNotCollecting, http.StatusConflict},
		{compose.ErrInsufficientInput, http.StatusBadRequest},
		{compose.ErrUnknownMode, http.StatusBadRequest},
		{&compose.AlignmentError{Pair: 1, Reason: "x"}, http.StatusUnprocessableEntity},
		{compose.ErrNoComposite, http.StatusNotFound},
		{&export.Error{Kind: export.ErrIO, Err: errors.New("denied")}, http.StatusInternalServerError},
		{fmt.Errorf("%w: %q", export.ErrUnsafePath, "/etc/x.png"), http.StatusBadRequest},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, statusCode(tc.err), "%v", tc.err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decode[session.Status](t, resp)
	assert.Equal(t, "mock", st.Source)
	assert.False(t, st.Collecting)
	assert.Equal(t, compose.ModeMosaic, st.DefaultMode)
}

func TestCollectComposeExport(t *testing.T) {
	f := newFixture(t)
	f.collect(t, 4)

	resp := f.do(t, http.MethodPost, "/api/compose", `{"mode":"Mosaic Mode"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[compose.Result](t, resp)
	assert.Equal(t, compose.StatusOK, res.Status)
	assert.Equal(t, 2*testSize.X, res.Width)

	resp = f.do(t, http.MethodGet, "/api/composite", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2*testSize.X, 2*testSize.Y), img.Bounds())

	resp = f.do(t, http.MethodGet, "/api/composite?format=jpg", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = f.do(t, http.MethodPost, "/api/export", `{"path":"result"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	assert.True(t, strings.HasSuffix(out["path"], "result.png"))
}

func TestComposeDefaultMode(t *testing.T) {
	f := newFixture(t)
	f.collect(t, 2)

	resp := f.do(t, http.MethodPost, "/api/compose", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[compose.Result](t, resp)
	assert.Equal(t, compose.ModeMosaic, res.Mode)
}

func TestComposeErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/compose", `{"mode":"panorama"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	require.NotNil(t, body.Result)
	assert.Equal(t, compose.StatusInsufficientInput, body.Result.Status)

	resp = f.do(t, http.MethodPost, "/api/compose", `{"mode":"collage"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/collection/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/compose", `{"mode":"mosaic"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/collection/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNotFoundAndBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/composite", "", http.StatusNotFound},
		{http.MethodGet, "/api/composite?format=gif", "", http.StatusBadRequest},
		{http.MethodGet, "/api/frames/0", "", http.StatusNotFound},
		{http.MethodGet, "/api/frames/abc", "", http.StatusBadRequest},
		{http.MethodGet, "/api/preview", "", http.StatusNotFound},
		{http.MethodGet, "/api/live", "", http.StatusConflict},
		{http.MethodPost, "/api/collection/capture", "", http.StatusConflict},
		{http.MethodPost, "/api/collection/stop", "", http.StatusConflict},
		{http.MethodPost, "/api/export", `{"path":""}`, http.StatusBadRequest},
		{http.MethodPost, "/api/export", `{"path":"x.png"}`, http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestExportStaysInExportDir(t *testing.T) {
	f := newFixture(t)
	f.collect(t, 2)
	resp := f.do(t, http.MethodPost, "/api/compose", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	abs := filepath.Join(t.TempDir(), "abs.png")
	for _, path := range []string{abs, "../x.png", "a/../../x.png"} {
		t.Run(path, func(t *testing.T) {
			body, err := json.Marshal(ExportRequest{Path: path})
			require.NoError(t, err)

			resp := f.do(t, http.MethodPost, "/api/export", string(body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			er := decode[ErrorResponse](t, resp)
			assert.Contains(t, er.Error, "outside export directory")
		})
	}

	_, err := os.Stat(abs)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, f.sess.Status().LastExport)
}

func TestFramesAndPreview(t *testing.T) {
	f := newFixture(t)
	f.collect(t, 2)

	resp := f.do(t, http.MethodGet, "/api/frames/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rectangle{Max: testSize}, img.Bounds())

	resp = f.do(t, http.MethodGet, "/api/preview", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.collect(t, 2)

	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "panorama_frames_captured_total 2")
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	url := "ws://" + ln.Addr().String() + "/ws/events"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.events.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.sess.Start(context.Background()))
	defer f.sess.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var e session.Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, session.EventCollectionStarted, e.Type)
	assert.Equal(t, f.sess.ID(), e.Session)
}
