// Package supervisor runs the device's cooperative tick: network state,
// provisioning fallback, peer traffic and the collector relay.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/config"
	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/network"
	"github.com/thatsimonsguy/pai-supervisor/internal/notifications"
	"github.com/thatsimonsguy/pai-supervisor/internal/peer"
	"github.com/thatsimonsguy/pai-supervisor/internal/relay"
)

type CredentialStore interface {
	Load() model.Credentials
}

type Connector interface {
	Connect(creds model.Credentials, timeout time.Duration, keepAP bool) error
}

type Portal interface {
	Start() error
	Stop()
	Active() bool
	Service(now time.Time)
}

type Relay interface {
	Connect(now time.Time)
	MarkStale(now time.Time)
	Connected() bool
	Send(m relay.Message) bool
	Service(now time.Time) (relay.Inbound, bool)
}

type Notifier interface {
	Notify(n notifications.Notice)
}

type Options struct {
	DeviceID            string
	ConnectTimeout      time.Duration
	StatusInterval      time.Duration
	HeartbeatInterval   time.Duration
	PortalRetryInterval time.Duration
	Peers               []config.Peer
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DeviceID:            cfg.DeviceID,
		ConnectTimeout:      cfg.ConnectTimeout(),
		StatusInterval:      cfg.Relay.StatusInterval(),
		HeartbeatInterval:   cfg.Relay.HeartbeatInterval(),
		PortalRetryInterval: cfg.Relay.ReconnectInterval(),
		Peers:               cfg.Peers,
	}
}

type Deps struct {
	Station   network.Station
	Connector Connector
	Store     CredentialStore
	Portal    Portal
	Relay     Relay
	// Registry is nil when the radio could not be brought up.
	Registry *peer.Registry
	Notifier Notifier
}

// Supervisor owns the connection state and credentials. All methods must be
// called from the goroutine running Tick.
type Supervisor struct {
	opts Options
	deps Deps

	state     model.ConnectionState
	creds     model.Credentials
	startedAt time.Time

	sessionReady  bool
	sessionID     string
	peersAttempt  bool
	peersDegraded bool

	provisioned   *model.Credentials
	portalRetryAt time.Time

	lastReading   model.SensorReading
	haveReading   bool
	lastLevel     model.ActuationLevel
	cameraOnline  bool
	alertsSent    int
	lastStatusAt  time.Time
	lastHeartbeat time.Time

	signal   int
	signalAt time.Time
}

type noopNotifier struct{}

func (noopNotifier) Notify(notifications.Notice) {}

func New(opts Options, deps Deps) *Supervisor {
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}
	return &Supervisor{
		opts:  opts,
		deps:  deps,
		state: model.StateDisconnected,
	}
}

func (s *Supervisor) State() model.ConnectionState {
	return s.state
}

func (s *Supervisor) Credentials() model.Credentials {
	return s.creds
}

func (s *Supervisor) Degraded() bool {
	return s.peersDegraded
}

// Boot loads credentials and makes the first bounded join attempt. A failed
// join leaves the supervisor provisioning.
func (s *Supervisor) Boot(now time.Time) {
	s.startedAt = now
	s.creds = s.deps.Store.Load()

	log.Info().
		Str("device_id", s.opts.DeviceID).
		Str("ssid", s.creds.SSID).
		Msg("Supervisor booting")

	s.transition(model.StateConnecting)
	if err := s.deps.Connector.Connect(s.creds, s.opts.ConnectTimeout, false); err != nil {
		log.Warn().Err(err).Msg("Initial network join failed")
		s.enterProvisioning(now)
	}
}

// Run ticks every interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) {
	s.Boot(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Supervisor loop stopping")
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick runs one pass of the loop. Nothing in it blocks except the bounded
// reconnect attempt after a link loss.
func (s *Supervisor) Tick(now time.Time) {
	s.servicePortal(now)

	if s.state == model.StateConnecting && s.deps.Station.Connected() {
		if s.transition(model.StateConnected) {
			s.initSession(now)
		}
	}

	if s.state == model.StateConnected && !s.deps.Station.Connected() {
		s.handleLinkLoss(now)
	}

	if s.deps.Registry != nil && s.deps.Registry.Started() {
		if reading, ok := s.deps.Registry.Next(now); ok {
			s.handleReading(reading, now)
		}
	}

	if s.deps.Relay.Connected() {
		if now.Sub(s.lastStatusAt) >= s.opts.StatusInterval {
			s.sendStatus(now)
		}
		if now.Sub(s.lastHeartbeat) >= s.opts.HeartbeatInterval {
			s.sendHeartbeat(now)
		}
	}

	if msg, ok := s.deps.Relay.Service(now); ok {
		s.handleInbound(msg, now)
	}
}

func (s *Supervisor) servicePortal(now time.Time) {
	if s.state == model.StateProvisioning && !s.deps.Portal.Active() && !now.Before(s.portalRetryAt) {
		s.startPortal(now)
	}

	if s.deps.Portal.Active() {
		s.deps.Portal.Service(now)
	}

	if s.provisioned != nil {
		creds := *s.provisioned
		s.provisioned = nil
		s.creds = creds
		if s.state == model.StateProvisioning && s.transition(model.StateConnected) {
			s.initSession(now)
		}
	}
}

// Provisioned is the portal's hand-off once submitted credentials have joined.
func (s *Supervisor) Provisioned(creds model.Credentials) {
	s.provisioned = &creds
}

func (s *Supervisor) handleLinkLoss(now time.Time) {
	log.Warn().Str("ssid", s.creds.SSID).Msg("Network link lost")
	s.transition(model.StateConnecting)
	s.markStale(now)

	// the rejoin takes the access point down, so a portal still closing out a
	// hand-off goes with it and provisioning can bring it back cleanly
	if s.deps.Portal.Active() {
		s.deps.Portal.Stop()
	}

	if err := s.deps.Connector.Connect(s.creds, s.opts.ConnectTimeout, false); err != nil {
		log.Warn().Err(err).Msg("Reconnect failed")
		s.enterProvisioning(now)
	}
}

func (s *Supervisor) enterProvisioning(now time.Time) {
	if !s.transition(model.StateProvisioning) {
		return
	}
	s.deps.Notifier.Notify(notifications.Notice{
		Title:    fmt.Sprintf("%s needs Wi-Fi", s.opts.DeviceID),
		Message:  "Provisioning portal is up; join the device hotspot to enter credentials",
		Priority: notifications.PriorityHigh,
		Tags:     []string{"warning"},
	})
	s.startPortal(now)
}

func (s *Supervisor) startPortal(now time.Time) {
	if err := s.deps.Portal.Start(); err != nil {
		s.portalRetryAt = now.Add(s.opts.PortalRetryInterval)
		log.Error().
			Err(err).
			Time("retry_at", s.portalRetryAt).
			Msg("Failed to start provisioning portal")
	}
}

func (s *Supervisor) transition(next model.ConnectionState) bool {
	if s.state == next {
		return true
	}
	if !s.state.CanTransition(next) {
		log.Error().
			Str("from", string(s.state)).
			Str("to", string(next)).
			Msg("Refusing invalid state transition")
		return false
	}

	log.Info().
		Str("from", string(s.state)).
		Str("to", string(next)).
		Msg("Connection state changed")
	s.state = next
	datadog.Gauge("connection.state", stateGaugeValue(next))
	return true
}

func stateGaugeValue(st model.ConnectionState) float64 {
	switch st {
	case model.StateConnecting:
		return 1
	case model.StateConnected:
		return 2
	case model.StateProvisioning:
		return 3
	default:
		return 0
	}
}

// initSession runs once per Connected session.
func (s *Supervisor) initSession(now time.Time) {
	if s.sessionReady {
		return
	}
	s.sessionReady = true
	priority := notifications.PriorityLow
	if s.sessionID != "" {
		priority = notifications.PriorityDefault
	}
	s.sessionID = uuid.NewString()
	s.signalAt = time.Time{}

	if !s.peersAttempt {
		s.peersAttempt = true
		s.initPeers()
	}
	s.deps.Relay.Connect(now)

	ip := s.deps.Station.LocalIP()
	log.Info().
		Str("ssid", s.creds.SSID).
		Str("ip", ip).
		Str("session", s.sessionID).
		Msg("Session initialized")
	s.deps.Notifier.Notify(notifications.Notice{
		Title:    fmt.Sprintf("%s online", s.opts.DeviceID),
		Message:  fmt.Sprintf("Connected to %s with address %s", s.creds.SSID, ip),
		Priority: priority,
		Tags:     []string{"wifi"},
	})
}

// initPeers brings up the radio roster once. Failures are reported here and never retried.
func (s *Supervisor) initPeers() {
	reg := s.deps.Registry
	if reg == nil {
		s.peersDegraded = true
		log.Warn().Msg("No peer radio available, running in safe mode without peers")
		return
	}
	if err := reg.Start(); err != nil {
		s.peersDegraded = true
		log.Error().Err(err).Msg("Peer radio failed to start, running in safe mode without peers")
		return
	}
	for _, p := range s.opts.Peers {
		if err := reg.RegisterPeer(p.Address, p.Role); err != nil {
			log.Error().Err(err).Str("role", string(p.Role)).Msg("Failed to register peer")
		}
	}
}

func (s *Supervisor) markStale(now time.Time) {
	s.sessionReady = false
	s.deps.Relay.MarkStale(now)
}

func (s *Supervisor) timestamp(now time.Time) int64 {
	return now.Sub(s.startedAt).Milliseconds()
}
