package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedgate/internal/testutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

func postResult(s *Server, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/camera/results", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func TestPostCameraResult(t *testing.T) {
	env := setupTestServer(t)

	w := postResult(env.server, `{"trigger_id":1,"valid_read":true,"plate":"ABC1D23"}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	assert.Equal(t, 1, testutil.DecodeJSON[map[string]int](t, w.Body)["delivered"])

	require.True(t, env.ctrl.Poll())
	rec, ok := env.display.TryGet()
	require.True(t, ok)
	assert.Equal(t, "ABC1D23", rec.Plate)
	assert.Equal(t, uint64(1), rec.TriggerID)
}

func TestPostCameraResult_Errors(t *testing.T) {
	env := setupTestServer(t)

	testutil.AssertStatusCode(t, postResult(env.server, `{"valid_read":`).Code, http.StatusBadRequest)

	w := httptest.NewRecorder()
	env.server.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/camera/results", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)

	s := NewServer(Options{})
	testutil.AssertStatusCode(t, postResult(s, `{}`).Code, http.StatusServiceUnavailable)
}

func TestPostCameraResult_ControllerBacklogged(t *testing.T) {
	env := setupTestServer(t)

	// fill the controller's result buffer without polling
	for i := 0; i < 16; i++ {
		testutil.AssertStatusCode(t, postResult(env.server, `{"valid_read":false}`).Code, http.StatusAccepted)
	}
	testutil.AssertStatusCode(t, postResult(env.server, `{"valid_read":false}`).Code, http.StatusServiceUnavailable)
	assert.Equal(t, uint64(1), env.results.Dropped())
}

func TestStreamCameraTriggers(t *testing.T) {
	env := setupTestServer(t)
	srv := httptest.NewServer(env.server.ServeMux())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/camera/triggers", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 8)
	go func() {
		scan := bufio.NewScanner(resp.Body)
		for scan.Scan() {
			lines <- scan.Text()
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event stream")
			return ""
		}
	}
	require.Equal(t, ": ping", next())
	require.Equal(t, "", next())

	// the handler subscribed before it sent the ping
	require.Equal(t, 1, env.triggers.Subscribers())
	env.triggers.Publish(traffic.CameraTrigger{ID: 7, SpeedKMH: 72, Vehicle: traffic.Light})

	assert.Equal(t, "event: trigger", next())
	assert.JSONEq(t, `{"id":7,"speed_kmh":72,"vehicle_type":"light"}`, strings.TrimPrefix(next(), "data: "))

	cancel()
	require.Eventually(t, func() bool { return env.triggers.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type brokenStream struct{ header http.Header }

func (b *brokenStream) Header() http.Header       { return b.header }
func (b *brokenStream) Write([]byte) (int, error) { return 0, errors.New("client gone") }
func (b *brokenStream) WriteHeader(int)           {}
func (b *brokenStream) Flush()                    {}

func TestStreamCameraTriggers_StopsWhenPingFails(t *testing.T) {
	env := setupTestServer(t)
	assert.Equal(t, 16, env.server.TriggerCapacity)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.server.streamCameraTriggers(&brokenStream{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/api/camera/triggers", nil))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler kept running after a failed write")
	}
	assert.Zero(t, env.triggers.Subscribers())
}
