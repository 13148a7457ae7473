// Package gateway accepts device websocket connections and fans change
// notices out to every device an owner has online.
package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DeviceIdentity is what the authenticator extracts from an inbound
// connection request.
type DeviceIdentity struct {
	Owner    string
	DeviceID string
}

// Authenticator verifies the inbound HTTP request before the connection is
// upgraded.
type Authenticator interface {
	Authenticate(r *http.Request) (DeviceIdentity, error)
}

// AuthFunc is an adapter to allow ordinary functions as authenticators.
type AuthFunc func(r *http.Request) (DeviceIdentity, error)

// Authenticate implements Authenticator.
func (f AuthFunc) Authenticate(r *http.Request) (DeviceIdentity, error) { return f(r) }

// Config controls gateway runtime behaviour.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Gateway upgrades HTTP requests into websocket connections and wires them
// into the per-owner registry.
type Gateway struct {
	auth     Authenticator
	logger   zerolog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	owners map[string]map[*connection]struct{}
}

// New creates a gateway with sane defaults.
func New(auth Authenticator, logger zerolog.Logger, cfg Config) (*Gateway, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	return &Gateway{
		auth:   auth,
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		owners: make(map[string]map[*connection]struct{}),
	}, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	identity, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if identity.Owner == "" || identity.DeviceID == "" {
		http.Error(w, "missing owner or device identity", http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &connection{
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, g.cfg.SendBuffer),
		done:     make(chan struct{}),
	}

	g.register(conn)
	childLogger := g.logger.With().Str("owner", identity.Owner).Str("device", identity.DeviceID).Logger()
	childLogger.Info().Msg("device connected")

	go conn.writeLoop(g.cfg.PingInterval, g.cfg.WriteTimeout)
	go func() {
		conn.readLoop()
		g.unregister(conn)
		childLogger.Info().Msg("device disconnected")
	}()
}

// Notify implements broadcast.Fanout: it delivers the payload to every
// connection of the owner, skipping the originating device.
func (g *Gateway) Notify(owner string, payload []byte, skipDeviceID string) int {
	g.mu.RLock()
	conns := g.owners[owner]
	recipients := make([]*connection, 0, len(conns))
	for c := range conns {
		if skipDeviceID != "" && c.identity.DeviceID == skipDeviceID {
			continue
		}
		recipients = append(recipients, c)
	}
	g.mu.RUnlock()

	sent := 0
	for _, c := range recipients {
		if c.enqueue(payload) {
			sent++
		}
	}
	return sent
}

func (g *Gateway) register(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owners[c.identity.Owner] == nil {
		g.owners[c.identity.Owner] = make(map[*connection]struct{})
	}
	g.owners[c.identity.Owner][c] = struct{}{}
	gatewayConnections.WithLabelValues(c.identity.Owner).Set(float64(len(g.owners[c.identity.Owner])))
}

func (g *Gateway) unregister(c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conns := g.owners[c.identity.Owner]
	if conns == nil {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(g.owners, c.identity.Owner)
	}
	gatewayConnections.WithLabelValues(c.identity.Owner).Set(float64(len(conns)))
}

type connection struct {
	ws       *websocket.Conn
	identity DeviceIdentity
	send     chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *connection) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		// A device that cannot drain its buffer is dropped; it will
		// reconnect and force a sync anyway.
		c.close()
		return false
	}
}

func (c *connection) writeLoop(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.close()
			return
		}
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
