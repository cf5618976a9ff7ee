package serialmux

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/protocol"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func postCommand(httpMux *http.ServeMux, form url.Values) *httptest.ResponseRecorder {
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	return w
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	port.Responder = AckAll
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		form           url.Values
		expectedStatus int
		bodyContains   string
	}{
		{"valid command", url.Values{"command": {"at+fps=5"}}, http.StatusOK, "AT+FPS=5"},
		{"bare AT", url.Values{"command": {"AT"}}, http.StatusOK, `"AT"`},
		{"empty command", url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"missing parameter", url.Values{}, http.StatusBadRequest, "Missing command"},
		{"not an AT command", url.Values{"command": {"OJ"}}, http.StatusBadRequest, "must start with AT+"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCommand(httpMux, tt.form)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.bodyContains)
		})
	}
}

func TestAttachAdminRoutes_SendCommandAPI_Rejected(t *testing.T) {
	port := NewTestableSerialPort()
	port.Responder = RejectAll
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := postCommand(httpMux, url.Values{"command": {"AT+BINN=3"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), ErrCommandRejected.Error())
}

func TestAttachAdminRoutes_CommandHookSeesOutcome(t *testing.T) {
	port := NewTestableSerialPort()
	port.Responder = AckAll
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	type seen struct {
		cmd protocol.Command
		err error
	}
	var got []seen
	mux.SetCommandHook(func(cmd protocol.Command, err error) {
		got = append(got, seen{cmd, err})
	})

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	require.Equal(t, http.StatusOK, postCommand(httpMux, url.Values{"command": {"AT+BINN=2"}}).Code)
	port.Responder = RejectAll
	require.Equal(t, http.StatusBadGateway, postCommand(httpMux, url.Values{"command": {"AT+UNIT=3"}}).Code)
	// unparseable commands never reach the device or the hook
	require.Equal(t, http.StatusBadRequest, postCommand(httpMux, url.Values{"command": {"OJ"}}).Code)

	require.Len(t, got, 2)
	assert.Equal(t, protocol.Command{Name: "BINN", Value: "2"}, got[0].cmd)
	assert.NoError(t, got[0].err)
	assert.Equal(t, protocol.Command{Name: "UNIT", Value: "3"}, got[1].cmd)
	assert.ErrorIs(t, got[1].err, ErrCommandRejected)
}

func TestAttachAdminRoutes_MethodNotAllowed(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/debug/send-command-api"},
		{http.MethodPut, "/debug/send-command-api"},
		{http.MethodPost, "/debug/tail"},
	} {
		w := httptest.NewRecorder()
		httpMux.ServeHTTP(w, localHostRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAttachAdminRoutes_Pages(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MaixSense-A010 serial console")

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tail.js", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "EventSource")
}

func TestAttachAdminRoutes_Stats(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData(testPacket(t, 1, 25, 9))
	mux := NewSerialMux(port)
	stop := startMonitor(t, mux)
	require.Eventually(t, func() bool { return mux.Stats().Packets == 1 }, timeoutForTests, pollForTests)
	stop()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got.Packets)
}

func TestAttachAdminRoutes_TailStreamsLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	startMonitor(t, mux)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/tail")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	port.AddReadData([]byte("+UNIT=3\r\n"))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: +UNIT=3\n", line)
}
