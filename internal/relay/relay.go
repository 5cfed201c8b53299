// Package relay keeps the persistent web-socket link to the backend collector.
package relay

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/config"
	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
)

const (
	writeTimeout = 2 * time.Second
	inboundDepth = 8
)

type Options struct {
	Host                string
	Port                int
	Path                string
	TLS                 bool
	ReconnectInterval   time.Duration
	PingInterval        time.Duration
	PongTimeout         time.Duration
	MissedPongTolerance int
	RetryLogInterval    time.Duration
	HandshakeTimeout    time.Duration
}

func OptionsFromConfig(cfg config.Relay) Options {
	return Options{
		Host:                cfg.Host,
		Port:                cfg.Port,
		Path:                cfg.Path,
		TLS:                 cfg.TLS,
		ReconnectInterval:   cfg.ReconnectInterval(),
		PingInterval:        cfg.PingInterval(),
		PongTimeout:         cfg.PongTimeout(),
		MissedPongTolerance: cfg.MissedPongTolerance,
		RetryLogInterval:    cfg.RetryLogInterval(),
		HandshakeTimeout:    cfg.HandshakeTimeout(),
	}
}

// URL returns the collector endpoint, ws:// or wss:// depending on TLS.
func (o Options) URL() string {
	scheme := "ws"
	if o.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(o.Host, strconv.Itoa(o.Port)), Path: o.Path}
	return u.String()
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// Relay is driven by Service from the supervisor tick. Only the dial and read
// goroutines run outside it, and they talk back through channels.
type Relay struct {
	opts   Options
	url    string
	dialer *websocket.Dialer

	// OnConnect builds the first message sent on every new connection.
	OnConnect func(now time.Time) Message

	ctx    context.Context
	cancel context.CancelFunc

	armed      bool
	dialing    bool
	dialResult chan dialResult
	nextDialAt time.Time

	conn       *websocket.Conn
	connClosed chan error
	inbound    chan Inbound

	pongs        atomic.Uint64
	lastPingAt   time.Time
	awaitingPong bool
	pongsAtPing  uint64
	missed       int

	lastRetryLog time.Time
	failedDials  int

	// clock is the latest tick time seen, used by Send to arm the reconnect timer
	clock time.Time
}

func New(opts Options) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		opts: opts,
		url:  opts.URL(),
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		ctx:        ctx,
		cancel:     cancel,
		dialResult: make(chan dialResult),
		inbound:    make(chan Inbound, inboundDepth),
	}
}

func (r *Relay) Connected() bool {
	return r.conn != nil
}

// Connect arms the relay and dials at once if no connection is up. From then
// on dropped or failed connections are retried every ReconnectInterval.
func (r *Relay) Connect(now time.Time) {
	r.clock = now
	if !r.armed {
		log.Info().Str("url", r.url).Msg("Relay armed")
	}
	r.armed = true
	if r.conn == nil && !r.dialing {
		r.startDial(now)
	}
}

// MarkStale drops the current connection, e.g. after the network link went away.
// The relay stays armed.
func (r *Relay) MarkStale(now time.Time) {
	r.clock = now
	if r.conn != nil {
		r.drop(now, "session stale")
	}
}

// Send writes m when connected. Otherwise the message is dropped and false returned.
func (r *Relay) Send(m Message) bool {
	if r.conn == nil {
		log.Debug().Str("type", m.MessageType()).Msg("Relay not connected, dropping message")
		return false
	}

	data, err := Encode(m)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode relay message")
		return false
	}

	r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Str("type", m.MessageType()).Msg("Relay write failed")
		r.drop(r.clock, "write failed")
		return false
	}
	return true
}

// Service runs the relay's timers and returns at most one inbound frame.
func (r *Relay) Service(now time.Time) (Inbound, bool) {
	r.clock = now
	r.collectDial(now)

	if r.conn != nil {
		select {
		case err := <-r.connClosed:
			log.Warn().Err(err).Msg("Relay connection closed")
			r.drop(now, "closed by peer")
		default:
		}
	}

	if r.conn != nil {
		r.keepAlive(now)
	} else if r.armed && !r.dialing && !now.Before(r.nextDialAt) {
		r.startDial(now)
	}

	select {
	case msg := <-r.inbound:
		return msg, true
	default:
		return nil, false
	}
}

func (r *Relay) startDial(now time.Time) {
	r.dialing = true
	r.nextDialAt = now.Add(r.opts.ReconnectInterval)
	log.Debug().Str("url", r.url).Msg("Dialing relay")

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.HandshakeTimeout)
		defer cancel()
		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)

		select {
		case r.dialResult <- dialResult{conn: conn, err: err}:
		case <-r.ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (r *Relay) collectDial(now time.Time) {
	if !r.dialing {
		return
	}
	var res dialResult
	select {
	case res = <-r.dialResult:
	default:
		return
	}
	r.dialing = false

	if res.err != nil {
		r.failedDials++
		r.nextDialAt = now.Add(r.opts.ReconnectInterval)
		if r.lastRetryLog.IsZero() || now.Sub(r.lastRetryLog) >= r.opts.RetryLogInterval {
			log.Warn().
				Err(res.err).
				Str("url", r.url).
				Int("attempts", r.failedDials).
				Dur("retry_in", r.opts.ReconnectInterval).
				Msg("Relay unreachable, still trying")
			r.lastRetryLog = now
		}
		return
	}

	if !r.armed {
		res.conn.Close()
		return
	}
	r.install(res.conn, now)
}

func (r *Relay) install(conn *websocket.Conn, now time.Time) {
	r.conn = conn
	r.connClosed = make(chan error, 1)
	r.lastPingAt = now
	r.awaitingPong = false
	r.missed = 0
	r.failedDials = 0
	r.lastRetryLog = time.Time{}

	conn.SetPongHandler(func(string) error {
		r.pongs.Add(1)
		return nil
	})
	go r.reader(conn, r.connClosed)

	log.Info().Str("url", r.url).Msg("Relay connected")
	datadog.Incr("relay.connects")
	datadog.BoolGauge("relay.connected", true)

	if r.OnConnect != nil {
		r.Send(r.OnConnect(now))
	}
}

func (r *Relay) reader(conn *websocket.Conn, closed chan<- error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			closed <- err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			log.Warn().Err(err).Msg("Discarding inbound relay frame")
			continue
		}
		select {
		case r.inbound <- msg:
		default:
			log.Warn().Msg("Relay inbound queue full, dropping frame")
		}
	}
}

func (r *Relay) keepAlive(now time.Time) {
	if r.awaitingPong {
		switch {
		case r.pongs.Load() != r.pongsAtPing:
			r.awaitingPong = false
			r.missed = 0
		case now.Sub(r.lastPingAt) >= r.opts.PongTimeout:
			r.awaitingPong = false
			r.missed++
			log.Warn().
				Int("missed", r.missed).
				Int("tolerance", r.opts.MissedPongTolerance).
				Msg("Relay pong missed")
			if r.missed >= r.opts.MissedPongTolerance {
				r.drop(now, "keep-alive timeout")
				return
			}
		}
	}

	if !r.awaitingPong && now.Sub(r.lastPingAt) >= r.opts.PingInterval {
		r.pongsAtPing = r.pongs.Load()
		err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		if err != nil {
			log.Warn().Err(err).Msg("Relay ping failed")
			r.drop(now, "ping failed")
			return
		}
		r.lastPingAt = now
		r.awaitingPong = true
	}
}

func (r *Relay) drop(now time.Time, reason string) {
	if r.conn == nil {
		return
	}
	r.conn.Close()
	r.conn = nil
	r.connClosed = nil
	r.awaitingPong = false
	r.nextDialAt = now.Add(r.opts.ReconnectInterval)

	log.Warn().
		Str("reason", reason).
		Dur("retry_in", r.opts.ReconnectInterval).
		Msg("Relay disconnected")
	datadog.Incr("relay.drops", "reason:"+reason)
	datadog.BoolGauge("relay.connected", false)
}

// Close disarms the relay and releases the connection. It is safe to call more than once.
func (r *Relay) Close() error {
	r.armed = false
	r.cancel()
	if r.conn == nil {
		return nil
	}
	err := r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	r.conn.Close()
	r.conn = nil
	if err != nil {
		return fmt.Errorf("close relay: %w", err)
	}
	return nil
}
