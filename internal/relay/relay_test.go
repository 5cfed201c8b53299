package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// collector is a test backend. A silent collector never reads, so pings go unanswered.
type collector struct {
	srv      *httptest.Server
	silent   bool
	received chan string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newCollector(t *testing.T, silent bool) *collector {
	c := &collector{silent: silent, received: make(chan string, 32)}
	upgrader := websocket.Upgrader{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.conns = append(c.conns, conn)
		c.mu.Unlock()
		if c.silent {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.received <- string(data)
		}
	}))
	t.Cleanup(func() {
		c.closeAll()
		c.srv.Close()
	})
	return c
}

func (c *collector) options(t *testing.T) Options {
	u, err := url.Parse(c.srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return testOptions(host, port)
}

func testOptions(host string, port int) Options {
	return Options{
		Host:                host,
		Port:                port,
		Path:                "/esp32",
		ReconnectInterval:   10 * time.Second,
		PingInterval:        15 * time.Second,
		PongTimeout:         3 * time.Second,
		MissedPongTolerance: 2,
		RetryLogInterval:    30 * time.Second,
		HandshakeTimeout:    2 * time.Second,
	}
}

func (c *collector) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = nil
}

func (c *collector) connCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *collector) write(t *testing.T, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.conns)
	require.NoError(t, c.conns[len(c.conns)-1].WriteMessage(websocket.TextMessage, []byte(text)))
}

func (c *collector) nextType(t *testing.T) string {
	select {
	case msg := <-c.received:
		var envelope struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &envelope))
		return envelope.Type
	case <-time.After(2 * time.Second):
		t.Fatal("collector received nothing")
		return ""
	}
}

func waitConnected(t *testing.T, r *Relay, now time.Time) {
	require.Eventually(t, func() bool {
		r.Service(now)
		return r.Connected()
	}, 2*time.Second, 5*time.Millisecond)
}

func identifyAt(now time.Time) Message {
	return Identify{DeviceID: "PAI-MASTER", SessionID: "s-1", Timestamp: now.Sub(t0).Milliseconds()}
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	r := New(testOptions("127.0.0.1", 1))
	defer r.Close()

	start := time.Now()
	assert.False(t, r.Send(Alert{Level: "danger", Msg: "x", Distance: 5}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, r.Connected())
}

func TestIdentifySentOnConnect(t *testing.T) {
	c := newCollector(t, false)
	r := New(c.options(t))
	r.OnConnect = identifyAt
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)
	assert.Equal(t, "identify", c.nextType(t))

	require.True(t, r.Send(PeriodicStatus{Module: "sensor", Distance: 80, Level: "caution"}))
	assert.Equal(t, "status", c.nextType(t))
}

func TestReconnectWaitsForInterval(t *testing.T) {
	c := newCollector(t, false)
	r := New(c.options(t))
	r.OnConnect = identifyAt
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)
	assert.Equal(t, "identify", c.nextType(t))

	c.closeAll()
	dropAt := t0.Add(time.Second)
	require.Eventually(t, func() bool {
		r.Service(dropAt)
		return !r.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, r.Send(Alert{Level: "warning"}))

	for i := 0; i < 20; i++ {
		r.Service(dropAt.Add(9999 * time.Millisecond))
		time.Sleep(2 * time.Millisecond)
	}
	assert.False(t, r.Connected())
	assert.Equal(t, 0, c.connCount(), "no dial before the reconnect interval")

	waitConnected(t, r, dropAt.Add(10*time.Second))
	assert.Equal(t, "identify", c.nextType(t))
	assert.True(t, r.Send(Alert{Level: "warning"}))
	assert.Equal(t, "alert", c.nextType(t))
}

func TestKeepAliveDropsSilentConnection(t *testing.T) {
	c := newCollector(t, true)
	r := New(c.options(t))
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)

	r.Service(t0.Add(15 * time.Second)) // first ping
	r.Service(t0.Add(18 * time.Second)) // first miss
	assert.True(t, r.Connected(), "one miss is tolerated")

	r.Service(t0.Add(30 * time.Second)) // second ping
	r.Service(t0.Add(32 * time.Second))
	assert.True(t, r.Connected())

	r.Service(t0.Add(33 * time.Second)) // second miss reaches tolerance
	assert.False(t, r.Connected())
}

func TestKeepAlivePongResetsMisses(t *testing.T) {
	c := newCollector(t, false)
	r := New(c.options(t))
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)

	for cycle := 1; cycle <= 3; cycle++ {
		pingAt := t0.Add(time.Duration(cycle) * 15 * time.Second)
		before := r.pongs.Load()
		r.Service(pingAt)
		require.Eventually(t, func() bool { return r.pongs.Load() > before }, 2*time.Second, 5*time.Millisecond)
		r.Service(pingAt.Add(3 * time.Second))
		assert.True(t, r.Connected())
		assert.Equal(t, 0, r.missed)
	}
}

func TestDialFailureRetriesAfterInterval(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	r := New(testOptions("127.0.0.1", port))
	defer r.Close()

	r.Connect(t0)
	require.Eventually(t, func() bool {
		r.Service(t0)
		return !r.dialing && r.failedDials == 1
	}, 3*time.Second, 5*time.Millisecond)

	r.Service(t0.Add(5 * time.Second))
	assert.False(t, r.dialing)

	r.Service(t0.Add(10 * time.Second))
	assert.True(t, r.dialing)
	assert.Equal(t, t0, r.lastRetryLog)
}

func TestServiceReturnsInboundFrames(t *testing.T) {
	c := newCollector(t, false)
	r := New(c.options(t))
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)

	c.write(t, `{"type":"command","command":"get_status"}`)
	c.write(t, `{"type":"bogus"}`)
	c.write(t, `{"type":"camera-status","connected":true}`)

	var got []Inbound
	require.Eventually(t, func() bool {
		if msg, ok := r.Service(t0); ok {
			got = append(got, msg)
		}
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []Inbound{Command{Name: CommandGetStatus}, CameraStatus{Connected: true}}, got)
}

func TestMarkStaleDropsConnection(t *testing.T) {
	c := newCollector(t, false)
	r := New(c.options(t))
	defer r.Close()

	r.Connect(t0)
	waitConnected(t, r, t0)

	r.MarkStale(t0.Add(time.Second))
	assert.False(t, r.Connected())

	// Connect dials straight away for a new session
	r.Connect(t0.Add(2 * time.Second))
	waitConnected(t, r, t0.Add(2*time.Second))
}

func TestOptionsURL(t *testing.T) {
	opts := Options{Host: "collector.local", Port: 3000, Path: "/esp32"}
	assert.Equal(t, "ws://collector.local:3000/esp32", opts.URL())
	opts.TLS = true
	assert.Equal(t, "wss://collector.local:3000/esp32", opts.URL())
}
