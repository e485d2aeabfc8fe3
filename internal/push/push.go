// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package push maintains the server's WebSocket notification channel and
// fans incoming frames out to typed subscriber streams.
//
// The channel is self-healing: the session is bootstrapped before each
// handshake, a heartbeat detects dead connections, and a dropped connection
// is re-established with a fixed delay up to a configured attempt budget.
// Lifecycle transitions are published on a state stream so the pipeline's
// offline probe and any supervisor can react.
package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/trackgate/internal/logging"
	"github.com/tomtom215/trackgate/internal/metrics"
	"github.com/tomtom215/trackgate/internal/models"
)

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 10 * time.Second

	// subscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls this far behind loses frames rather than stalling the
	// read loop.
	subscriberBuffer = 64

	// defaultHeartbeat applies when no heartbeat interval is configured.
	defaultHeartbeat = 30 * time.Second
)

// Config controls a Channel.
type Config struct {
	// AutoReconnect re-establishes a dropped connection automatically.
	AutoReconnect bool

	// MaxReconnectAttempts bounds consecutive reconnection attempts.
	// Zero means unlimited.
	MaxReconnectAttempts int

	// ReconnectDelay is the fixed wait between reconnection attempts.
	ReconnectDelay time.Duration

	// HeartbeatInterval is the ping cadence. The read deadline is twice
	// this interval, so two missed pongs kill the connection.
	HeartbeatInterval time.Duration
}

// Bootstrap establishes the server session before a handshake, typically by
// logging in so the shared cookie jar holds a valid session cookie.
type Bootstrap func(ctx context.Context) error

// Channel is the self-healing push connection.
type Channel struct {
	cfg       Config
	wsURL     string
	jar       http.CookieJar
	bootstrap Bootstrap

	connMu sync.RWMutex
	conn   *websocket.Conn

	stateMu sync.Mutex
	state   State

	subMu        sync.Mutex
	deviceSubs   []chan models.Device
	positionSubs []chan models.Position
	eventSubs    []chan models.Event
	stateSubs    []chan State
	subsClosed   bool

	intentMu    sync.Mutex
	noReconnect bool

	loopMu       sync.Mutex
	loopsStarted bool
	loopDone     chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Channel for the given server. The cookie jar must be the
// same one the HTTP transport uses so the bootstrapped session covers the
// handshake.
func New(cfg Config, serverURL string, jar http.CookieJar, bootstrap Bootstrap) (*Channel, error) {
	wsURL, err := socketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Channel{
		cfg:       cfg,
		wsURL:     wsURL,
		jar:       jar,
		bootstrap: bootstrap,
		stop:      make(chan struct{}),
	}, nil
}

// socketURL converts the server base URL into the notification socket URL.
func socketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url must be http or https, got %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/socket"
	return u.String(), nil
}

// Connect bootstraps the session and establishes the socket, then starts
// the read and heartbeat loops. A failed handshake puts the channel into
// the error state; with auto-reconnect enabled the recovery sequence keeps
// trying in the background while the initial error is returned. Calling
// Connect on a connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.setReconnectSuppressed(false)

	c.setState(StateConnecting)
	err := c.establish(ctx)
	if err != nil {
		c.setState(StateError)
		if !c.cfg.AutoReconnect {
			return err
		}
	} else {
		c.setState(StateConnected)
	}

	c.startLoops(ctx)
	return err
}

// startLoops launches the read and heartbeat loops unless a previous pair
// is still running.
func (c *Channel) startLoops(ctx context.Context) {
	c.loopMu.Lock()
	if !c.loopsStarted {
		c.loopsStarted = true
		c.loopDone = make(chan struct{})
		c.wg.Add(2)
		go c.readLoop(ctx, c.loopDone)
		go c.pingLoop(ctx, c.loopDone)
	}
	c.loopMu.Unlock()
}

// establish runs the session bootstrap and the WebSocket handshake.
func (c *Channel) establish(ctx context.Context) error {
	if c.bootstrap != nil {
		if err := c.bootstrap(ctx); err != nil {
			return fmt.Errorf("session bootstrap: %w", err)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
		Jar:               c.jar,
	}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logging.Info().Str("url", c.wsURL).Msg("Push channel connected")
	return nil
}

func (c *Channel) readTimeout() time.Duration {
	if c.cfg.HeartbeatInterval > 0 {
		return 2 * c.cfg.HeartbeatInterval
	}
	return 2 * defaultHeartbeat
}

// readLoop consumes frames until the channel is closed or recovery gives
// up. A read failure closes the connection; the loop then runs the
// reconnect sequence. On exit it releases the ping loop and the started
// flag so a later Connect can begin a fresh session.
func (c *Channel) readLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		c.loopMu.Lock()
		c.loopsStarted = false
		c.loopMu.Unlock()
		close(done)
		c.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout())); err != nil {
			logging.Debug().Err(err).Msg("Push channel read deadline not set")
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.stopped() || c.reconnectSuppressed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("Push channel closed by server")
			} else {
				logging.Warn().Err(err).Msg("Push channel read failed")
			}
			c.closeConnection()
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect re-establishes the connection with a fixed delay between
// attempts. Each attempt passes through Reconnecting before redialing.
// Returns false when recovery is disabled, suppressed by Disconnect, or
// the attempt budget is exhausted, leaving the channel in a terminal
// state.
func (c *Channel) reconnect(ctx context.Context) bool {
	if !c.cfg.AutoReconnect || c.reconnectSuppressed() {
		c.setState(StateDisconnected)
		return false
	}

	for attempt := 1; c.cfg.MaxReconnectAttempts == 0 || attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.setState(StateReconnecting)

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return false
		case <-c.stop:
			return false
		}
		if c.reconnectSuppressed() {
			c.setState(StateDisconnected)
			return false
		}

		metrics.PushReconnects.Inc()
		logging.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxReconnectAttempts).
			Msg("Push channel reconnecting")

		c.setState(StateConnecting)
		if err := c.establish(ctx); err != nil {
			logging.Warn().Err(err).Int("attempt", attempt).Msg("Push channel reconnection failed")
			continue
		}

		c.setState(StateConnected)
		return true
	}

	logging.Error().
		Int("attempts", c.cfg.MaxReconnectAttempts).
		Msg("Push channel reconnection attempts exhausted")
	c.setState(StateError)
	return false
}

// pingLoop sends heartbeat pings while a connection exists.
func (c *Channel) pingLoop(ctx context.Context, done <-chan struct{}) {
	defer c.wg.Done()

	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-done:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			c.sendHeartbeat(conn)
		}
	}
}

// sendHeartbeat writes one ping frame. Write failures are logged only; a
// dead connection is detected by the read deadline, not the heartbeat.
func (c *Channel) sendHeartbeat(conn *websocket.Conn) {
	deadline := time.Now().Add(handshakeTimeout)
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		logging.Warn().Err(err).Msg("Push channel heartbeat failed")
	}
}

// handleMessage decodes one frame and dispatches its collections in fixed
// order. Malformed frames are dropped; the connection stays up.
func (c *Channel) handleMessage(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		metrics.PushFramesTotal.WithLabelValues("malformed").Inc()
		logging.Warn().Err(err).Msg("Dropping malformed push frame")
		return
	}
	if f.empty() {
		metrics.PushFramesTotal.WithLabelValues("unknown").Inc()
		return
	}

	if len(f.Devices) > 0 {
		metrics.PushFramesTotal.WithLabelValues("devices").Inc()
		c.broadcastDevices(f.Devices)
	}
	if f.Device != nil {
		metrics.PushFramesTotal.WithLabelValues("devices").Inc()
		c.broadcastDevices([]models.Device{*f.Device})
	}
	if len(f.Positions) > 0 {
		metrics.PushFramesTotal.WithLabelValues("positions").Inc()
		c.broadcastPositions(f.Positions)
	}
	if len(f.Events) > 0 {
		metrics.PushFramesTotal.WithLabelValues("events").Inc()
		c.broadcastEvents(f.Events)
	}
}

// Devices returns a stream of device status updates. Each call registers an
// independent subscriber; slow subscribers lose frames rather than blocking
// the read loop. The channel closes when the push channel closes.
func (c *Channel) Devices() <-chan models.Device {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan models.Device, subscriberBuffer)
	if c.subsClosed {
		close(ch)
		return ch
	}
	c.deviceSubs = append(c.deviceSubs, ch)
	return ch
}

// Positions returns a stream of position updates.
func (c *Channel) Positions() <-chan models.Position {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan models.Position, subscriberBuffer)
	if c.subsClosed {
		close(ch)
		return ch
	}
	c.positionSubs = append(c.positionSubs, ch)
	return ch
}

// Events returns a stream of event notifications.
func (c *Channel) Events() <-chan models.Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan models.Event, subscriberBuffer)
	if c.subsClosed {
		close(ch)
		return ch
	}
	c.eventSubs = append(c.eventSubs, ch)
	return ch
}

// States returns a stream of lifecycle transitions.
func (c *Channel) States() <-chan State {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan State, subscriberBuffer)
	if c.subsClosed {
		close(ch)
		return ch
	}
	c.stateSubs = append(c.stateSubs, ch)
	return ch
}

func (c *Channel) broadcastDevices(devices []models.Device) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.deviceSubs {
		for _, d := range devices {
			select {
			case sub <- d:
			default:
			}
		}
	}
}

func (c *Channel) broadcastPositions(positions []models.Position) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.positionSubs {
		for _, p := range positions {
			select {
			case sub <- p:
			default:
			}
		}
	}
}

func (c *Channel) broadcastEvents(events []models.Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.eventSubs {
		for _, e := range events {
			select {
			case sub <- e:
			default:
			}
		}
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is currently established. Used as
// the pipeline's online probe.
func (c *Channel) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

func (c *Channel) setState(s State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()

	if prev == s {
		return
	}
	metrics.PushChannelState.Set(float64(s))
	logging.Info().
		Str("from", prev.String()).
		Str("to", s.String()).
		Msg("Push channel state transition")

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.stateSubs {
		select {
		case sub <- s:
		default:
		}
	}
}

func (c *Channel) reconnectSuppressed() bool {
	c.intentMu.Lock()
	defer c.intentMu.Unlock()
	return c.noReconnect
}

func (c *Channel) setReconnectSuppressed(v bool) {
	c.intentMu.Lock()
	c.noReconnect = v
	c.intentMu.Unlock()
}

func (c *Channel) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// closeConnection tears down the socket. The read loop treats a nil
// connection as the reconnect trigger.
func (c *Channel) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = c.conn.Close()
	c.conn = nil
}

// Disconnect closes the socket and clears the auto-reconnect intent, so no
// recovery follows. Subscriber streams stay open and Connect can be called
// again later.
func (c *Channel) Disconnect() {
	c.setReconnectSuppressed(true)
	c.closeConnection()
	c.setState(StateDisconnected)
	logging.Info().Msg("Push channel disconnected")
}

// Close shuts the channel down: loops stop, the socket closes, and every
// subscriber stream is closed. Safe to call more than once.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.closeConnection()
		c.wg.Wait()
		c.setState(StateDisconnected)

		c.subMu.Lock()
		c.subsClosed = true
		for _, sub := range c.deviceSubs {
			close(sub)
		}
		for _, sub := range c.positionSubs {
			close(sub)
		}
		for _, sub := range c.eventSubs {
			close(sub)
		}
		for _, sub := range c.stateSubs {
			close(sub)
		}
		c.deviceSubs, c.positionSubs, c.eventSubs, c.stateSubs = nil, nil, nil, nil
		c.subMu.Unlock()

		logging.Info().Msg("Push channel shut down")
	})
	return nil
}
