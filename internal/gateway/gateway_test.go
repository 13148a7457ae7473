package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func queryAuth(r *http.Request) (DeviceIdentity, error) {
	return DeviceIdentity{
		Owner:    r.URL.Query().Get("owner"),
		DeviceID: r.URL.Query().Get("device_id"),
	}, nil
}

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	g, err := New(AuthFunc(queryAuth), zerolog.New(io.Discard), Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func dial(t *testing.T, srv *httptest.Server, owner, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?owner=" + owner + "&device_id=" + deviceID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s/%s: %v", owner, deviceID, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForConnections(t *testing.T, g *Gateway, owner string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.RLock()
		n := len(g.owners[owner])
		g.mu.RUnlock()
		if n == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("owner %s never reached %d connections", owner, want)
}

func TestNotifySkipsOriginDevice(t *testing.T) {
	g, srv := newTestGateway(t)

	dial(t, srv, "user-1", "device-a")
	other := dial(t, srv, "user-1", "device-b")
	waitForConnections(t, g, "user-1", 2)

	sent := g.Notify("user-1", []byte(`{"collection":"daily_logs"}`), "device-a")
	if sent != 1 {
		t.Fatalf("expected delivery to one device, got %d", sent)
	}

	other.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := other.ReadMessage()
	if err != nil {
		t.Fatalf("read on device-b: %v", err)
	}
	if string(payload) != `{"collection":"daily_logs"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestNotifyIsOwnerScoped(t *testing.T) {
	g, srv := newTestGateway(t)

	stranger := dial(t, srv, "user-2", "device-x")
	waitForConnections(t, g, "user-2", 1)

	if sent := g.Notify("user-1", []byte(`{}`), ""); sent != 0 {
		t.Fatalf("notice for user-1 reached %d connections of another owner", sent)
	}

	stranger.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := stranger.ReadMessage(); err == nil {
		t.Fatal("stranger received a notice scoped to another owner")
	}
}

func TestServeHTTPRejectsMissingIdentity(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing identity, got %d", resp.StatusCode)
	}
}

func TestServeHTTPRejectsFailedAuth(t *testing.T) {
	g, err := New(AuthFunc(func(*http.Request) (DeviceIdentity, error) {
		return DeviceIdentity{}, errors.New("bad token")
	}), zerolog.New(io.Discard), Config{})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	srv := httptest.NewServer(g)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for failed auth, got %d", resp.StatusCode)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	g, srv := newTestGateway(t)

	ws := dial(t, srv, "user-1", "device-a")
	waitForConnections(t, g, "user-1", 1)

	ws.Close()
	waitForConnections(t, g, "user-1", 0)
}
