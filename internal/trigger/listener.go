package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/broadcast"
)

const maxReconnectDelay = 30 * time.Second

// Listener keeps a websocket connection to the notify endpoint and converts
// inbound change notices into RemoteChange events. It reconnects with
// exponential backoff and never blocks the event channel: if a notice
// arrives while one is already pending, the pending one suffices.
type Listener struct {
	addr     string
	owner    string
	deviceID string
	events   chan<- Event
	logger   zerolog.Logger
	dialer   websocket.Dialer
}

// NewListener builds a listener for the agent. events should be the same
// channel the agent's run loop consumes.
func NewListener(addr, owner, deviceID string, events chan<- Event, logger zerolog.Logger) (*Listener, error) {
	if addr == "" {
		return nil, errors.New("notify address is required")
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, err
	}
	return &Listener{
		addr:     addr,
		owner:    owner,
		deviceID: deviceID,
		events:   events,
		logger:   logger,
		dialer:   websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}, nil
}

// Start runs the listen loop in the background until the context ends.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

func (l *Listener) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn().Err(err).Dur("backoff", backoff).Msg("notify connection lost; reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			if backoff *= 2; backoff > maxReconnectDelay {
				backoff = maxReconnectDelay
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	u, err := url.Parse(l.addr)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("owner", l.owner)
	q.Set("device_id", l.deviceID)
	u.RawQuery = q.Encode()

	conn, _, err := l.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must not outlive this connection attempt, or every
	// reconnect leaks a goroutine.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	l.logger.Info().Str("addr", l.addr).Msg("notify connection established")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var notice broadcast.Message
		if err := json.Unmarshal(data, &notice); err != nil {
			l.logger.Warn().Err(err).Msg("undecodable change notice; ignoring")
			continue
		}
		if notice.DeviceID == l.deviceID {
			continue
		}

		select {
		case l.events <- RemoteChange:
		default:
			// A sync is already queued; coalesce.
		}
	}
}
