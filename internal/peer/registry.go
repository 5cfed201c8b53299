// Package peer keeps the static roster of radio peers and turns their raw
// payloads into readings for the supervisor.
package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
	"github.com/thatsimonsguy/pai-supervisor/internal/events"
	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/radio"
)

var (
	ErrDuplicateRole = errors.New("role already registered")
	ErrUnknownRole   = errors.New("unknown peer role")
	ErrNoPeer        = errors.New("no peer registered for role")
)

// Registry owns the peer roster. Every method except the radio callbacks must
// be called from the supervisor tick.
type Registry struct {
	radio   radio.Radio
	queue   *events.Queue
	timeout time.Duration

	byRole map[model.Role]*model.PeerEndpoint
	byAddr map[model.PeerAddr]*model.PeerEndpoint

	started      bool
	sendFailures int
}

func NewRegistry(r radio.Radio, queue *events.Queue, timeout time.Duration) *Registry {
	return &Registry{
		radio:   r,
		queue:   queue,
		timeout: timeout,
		byRole:  make(map[model.Role]*model.PeerEndpoint),
		byAddr:  make(map[model.PeerAddr]*model.PeerEndpoint),
	}
}

// Start hooks the radio callbacks up to the event queue. Calling it again is a no-op.
func (r *Registry) Start() error {
	if r.started {
		return nil
	}
	if err := r.radio.Start(r.onReceive, r.onSent); err != nil {
		return fmt.Errorf("start radio: %w", err)
	}
	r.started = true
	return nil
}

func (r *Registry) Started() bool {
	return r.started
}

// RegisterPeer adds identity to the roster under role and to the radio's peer table.
func (r *Registry) RegisterPeer(identity string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("register %s: %w", role, ErrUnknownRole)
	}
	addr, err := model.ParsePeerAddr(identity)
	if err != nil {
		return fmt.Errorf("register %s: %w", role, err)
	}
	if _, exists := r.byRole[role]; exists {
		return fmt.Errorf("register %s: %w", role, ErrDuplicateRole)
	}
	if err := r.radio.AddPeer(addr); err != nil {
		return fmt.Errorf("register %s %s: %w", role, addr, err)
	}

	p := &model.PeerEndpoint{Identity: addr, Role: role}
	r.byRole[role] = p
	r.byAddr[addr] = p

	log.Info().
		Str("role", string(role)).
		Str("peer", addr.String()).
		Msg("Peer registered")
	return nil
}

func (r *Registry) Peer(role model.Role) (model.PeerEndpoint, bool) {
	p, ok := r.byRole[role]
	if !ok {
		return model.PeerEndpoint{}, false
	}
	return *p, true
}

func (r *Registry) Active(role model.Role, now time.Time) bool {
	p, ok := r.byRole[role]
	return ok && p.Active(now, r.timeout)
}

func (r *Registry) SendFailures() int {
	return r.sendFailures
}

// Send transmits payload to the peer holding role. Delivery is reported later
// through the radio and only feeds liveness.
func (r *Registry) Send(role model.Role, payload []byte) error {
	p, ok := r.byRole[role]
	if !ok {
		return fmt.Errorf("send to %s: %w", role, ErrNoPeer)
	}
	if err := r.radio.Send(p.Identity, payload); err != nil {
		r.sendFailures++
		datadog.Incr("peer.send_failures", "role:"+string(role))
		return fmt.Errorf("send to %s: %w", role, err)
	}
	return nil
}

func (r *Registry) SendActuation(level model.ActuationLevel) error {
	return r.Send(model.RoleActuator, EncodeActuationCommand(level))
}

// onReceive and onSent run on the radio goroutine and only enqueue.
func (r *Registry) onReceive(from model.PeerAddr, payload []byte) {
	if !r.queue.Push(events.PeerFrame{From: from, Payload: payload}) {
		log.Warn().Str("peer", from.String()).Msg("Peer event queue full, dropping frame")
	}
}

func (r *Registry) onSent(to model.PeerAddr, ok bool) {
	if !r.queue.Push(events.PeerSendResult{To: to, OK: ok}) {
		log.Warn().Str("peer", to.String()).Msg("Peer event queue full, dropping send result")
	}
}

// Next drains queued events in arrival order until one sensor reading is
// found. Send results and discarded frames met on the way are applied.
func (r *Registry) Next(now time.Time) (model.SensorReading, bool) {
	for {
		ev, ok := r.queue.Pop()
		if !ok {
			return model.SensorReading{}, false
		}

		switch e := ev.(type) {
		case events.PeerSendResult:
			r.applySendResult(e, now)
		case events.PeerFrame:
			if reading, ok := r.handleFrame(e, now); ok {
				return reading, true
			}
		}
	}
}

func (r *Registry) applySendResult(e events.PeerSendResult, now time.Time) {
	p, known := r.byAddr[e.To]
	if !known {
		return
	}
	if e.OK {
		p.Touch(now)
		return
	}
	r.sendFailures++
	datadog.Incr("peer.send_failures", "role:"+string(p.Role))
	log.Debug().
		Str("role", string(p.Role)).
		Str("peer", e.To.String()).
		Msg("Peer send not acknowledged")
}

func (r *Registry) handleFrame(e events.PeerFrame, now time.Time) (model.SensorReading, bool) {
	p, known := r.byAddr[e.From]
	if !known {
		log.Warn().
			Str("peer", e.From.String()).
			Int("size", len(e.Payload)).
			Msg("Discarding frame from unknown peer")
		return model.SensorReading{}, false
	}

	switch p.Role {
	case model.RoleSensor:
		rec, err := DecodeSensorRecord(e.Payload)
		if err != nil {
			log.Warn().Err(err).Str("peer", e.From.String()).Msg("Discarding malformed sensor payload")
			return model.SensorReading{}, false
		}
		p.Touch(now)
		return rec.Reading(now), true
	case model.RoleActuator:
		if _, err := DecodeActuationCommand(e.Payload); err != nil {
			log.Warn().Err(err).Str("peer", e.From.String()).Msg("Discarding malformed actuator payload")
			return model.SensorReading{}, false
		}
		p.Touch(now)
	}
	return model.SensorReading{}, false
}
