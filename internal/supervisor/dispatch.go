package supervisor

import (
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/peer"
	"github.com/thatsimonsguy/pai-supervisor/internal/relay"
)

// readingActions is what one sensor reading asks of the supervisor.
type readingActions struct {
	Level  model.ActuationLevel
	Update relay.SensorUpdate
	Alert  *relay.Alert
}

func evaluateReading(r model.SensorReading, ts int64, rssi int) readingActions {
	level := model.LevelForReading(r)
	actions := readingActions{
		Level: level,
		Update: relay.SensorUpdate{
			Distance:       r.Distance,
			VibrationLevel: int(level),
			AlertLevel:     level.AlertLevel(),
			AlertMsg:       level.AlertMessage(),
			ModuleID:       peer.SensorModuleID,
			RSSI:           rssi,
			Temperature:    r.Temperature,
			Humidity:       r.Humidity,
			SensorOK:       r.ClimateOK,
			Timestamp:      ts,
		},
	}
	if level >= model.LevelCaution {
		actions.Alert = &relay.Alert{
			Level:     level.AlertLevel(),
			Msg:       level.AlertMessage(),
			Distance:  r.Distance,
			Timestamp: ts,
		}
	}
	return actions
}

func (s *Supervisor) handleReading(r model.SensorReading, now time.Time) {
	s.lastReading = r
	s.haveReading = true

	rssi := 0
	if s.deps.Relay.Connected() {
		rssi = s.signalStrength(now)
	}
	actions := evaluateReading(r, s.timestamp(now), rssi)
	s.lastLevel = actions.Level

	log.Debug().
		Int("distance", r.Distance).
		Bool("valid", r.Valid).
		Str("level", actions.Level.String()).
		Msg("Sensor reading")

	if err := s.deps.Registry.SendActuation(actions.Level); err != nil {
		log.Warn().Err(err).Msg("Failed to send actuation command")
	}

	s.deps.Relay.Send(actions.Update)
	if actions.Alert != nil {
		if s.deps.Relay.Send(*actions.Alert) {
			s.alertsSent++
		}
	}

	datadog.Gauge("sensor.distance", float64(r.Distance))
	datadog.Gauge("actuation.level", float64(actions.Level))
}

func (s *Supervisor) systems(now time.Time) relay.Systems {
	sys := relay.Systems{PAI: true, Camera: s.cameraOnline}
	if reg := s.deps.Registry; reg != nil {
		sys.Sensor = reg.Active(model.RoleSensor, now)
		sys.Vibracall = reg.Active(model.RoleActuator, now)
	}
	return sys
}

// signalStrength samples the station at most once per status interval.
func (s *Supervisor) signalStrength(now time.Time) int {
	if s.signalAt.IsZero() || now.Sub(s.signalAt) >= s.opts.StatusInterval {
		s.signal = s.deps.Station.Signal()
		s.signalAt = now
	}
	return s.signal
}

// freeHeap reports idle heap bytes; tests override it.
var freeHeap = func() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapIdle - m.HeapReleased
}

func (s *Supervisor) statusMessage(now time.Time) relay.PeriodicStatus {
	lastUpdate := s.timestamp(now)
	if s.haveReading {
		lastUpdate = now.Sub(s.lastReading.ReceivedAt).Milliseconds()
	}
	return relay.PeriodicStatus{
		Module:           "sensor",
		Distance:         s.lastReading.Distance,
		Level:            s.lastLevel.String(),
		VibrationLevel:   int(s.lastLevel),
		RSSI:             s.signalStrength(now),
		Temperature:      s.lastReading.Temperature,
		Humidity:         s.lastReading.Humidity,
		SensorOK:         s.lastReading.ClimateOK,
		LastSensorUpdate: lastUpdate,
		Systems:          s.systems(now),
		FreeHeap:         freeHeap(),
		Timestamp:        s.timestamp(now),
	}
}

func (s *Supervisor) sendStatus(now time.Time) {
	s.lastStatusAt = now
	status := s.statusMessage(now)
	s.deps.Relay.Send(status)

	datadog.BoolGauge("peer.sensor.active", status.Systems.Sensor)
	datadog.BoolGauge("peer.actuator.active", status.Systems.Vibracall)
	datadog.BoolGauge("camera.online", status.Systems.Camera)
}

func (s *Supervisor) sendHeartbeat(now time.Time) {
	s.lastHeartbeat = now
	sys := s.systems(now)
	s.deps.Relay.Send(relay.Heartbeat{
		Uptime:    int64(now.Sub(s.startedAt) / time.Second),
		FreeHeap:  freeHeap(),
		Modules:   relay.Modules{Sensor: sys.Sensor, Motor: sys.Vibracall, Camera: sys.Camera},
		Timestamp: s.timestamp(now),
	})
}

// Identify is the first message of every relay connection.
func (s *Supervisor) Identify(now time.Time) relay.Message {
	return relay.Identify{
		DeviceID:  s.opts.DeviceID,
		MAC:       s.deps.Station.MAC(),
		SessionID: s.sessionID,
		Timestamp: s.timestamp(now),
	}
}

func (s *Supervisor) handleInbound(msg relay.Inbound, now time.Time) {
	switch m := msg.(type) {
	case relay.Command:
		log.Info().Str("command", string(m.Name)).Msg("Collector command received")
		switch m.Name {
		case relay.CommandTestMotor:
			if s.deps.Registry == nil || s.peersDegraded {
				log.Warn().Msg("Motor test skipped, no peer radio")
				return
			}
			if err := s.deps.Registry.SendActuation(model.LevelWarning); err != nil {
				log.Warn().Err(err).Msg("Motor test failed")
			}
		case relay.CommandGetStatus:
			s.sendStatus(now)
		}
	case relay.CameraStatus:
		if m.Connected != s.cameraOnline {
			log.Info().Bool("connected", m.Connected).Msg("Camera status changed")
		}
		s.cameraOnline = m.Connected
	}
}
