package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is an outbound frame: one of Identify, PeriodicStatus, Alert,
// Heartbeat or SensorUpdate.
type Message interface {
	MessageType() string
	relayMessage()
}

type Identify struct {
	DeviceID  string `json:"deviceId"`
	MAC       string `json:"mac"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

type Systems struct {
	PAI       bool `json:"pai"`
	Sensor    bool `json:"sensor"`
	Vibracall bool `json:"vibracall"`
	Camera    bool `json:"camera"`
}

type PeriodicStatus struct {
	Module           string  `json:"module"`
	Distance         int     `json:"distance"`
	Level            string  `json:"level"`
	VibrationLevel   int     `json:"vibrationLevel"`
	RSSI             int     `json:"rssi"`
	Temperature      float64 `json:"temperature"`
	Humidity         float64 `json:"humidity"`
	SensorOK         bool    `json:"sensorOk"`
	LastSensorUpdate int64   `json:"lastSensorUpdate"` // ms since the last reading
	Systems          Systems `json:"systems"`
	FreeHeap         uint64  `json:"freeHeap"`
	Timestamp        int64   `json:"timestamp"`
}

type Alert struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Distance  int    `json:"distance"`
	Timestamp int64  `json:"timestamp"`
}

type Modules struct {
	Sensor bool `json:"sensor"`
	Motor  bool `json:"motor"`
	Camera bool `json:"camera"`
}

type Heartbeat struct {
	Uptime    int64   `json:"uptime"` // seconds
	FreeHeap  uint64  `json:"freeHeap"`
	Modules   Modules `json:"modules"`
	Timestamp int64   `json:"timestamp"`
}

type SensorUpdate struct {
	Distance       int     `json:"distance"`
	VibrationLevel int     `json:"vibrationLevel"`
	AlertLevel     string  `json:"alertLevel"`
	AlertMsg       string  `json:"alertMsg"`
	ModuleID       int     `json:"moduleId"`
	RSSI           int     `json:"rssi"`
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	SensorOK       bool    `json:"sensorOk"`
	Timestamp      int64   `json:"timestamp"`
}

func (Identify) MessageType() string       { return "identify" }
func (PeriodicStatus) MessageType() string { return "status" }
func (Alert) MessageType() string          { return "alert" }
func (Heartbeat) MessageType() string      { return "heartbeat" }
func (SensorUpdate) MessageType() string   { return "sensor_update" }

func (Identify) relayMessage()       {}
func (PeriodicStatus) relayMessage() {}
func (Alert) relayMessage()          {}
func (Heartbeat) relayMessage()      {}
func (SensorUpdate) relayMessage()   {}

// Encode renders m as a single JSON object with its "type" tag first.
func Encode(m Message) ([]byte, error) {
	var body any
	switch v := m.(type) {
	case Identify:
		type alias Identify
		body = struct {
			Type string `json:"type"`
			alias
		}{v.MessageType(), alias(v)}
	case PeriodicStatus:
		type alias PeriodicStatus
		body = struct {
			Type string `json:"type"`
			alias
		}{v.MessageType(), alias(v)}
	case Alert:
		type alias Alert
		body = struct {
			Type string `json:"type"`
			alias
		}{v.MessageType(), alias(v)}
	case Heartbeat:
		type alias Heartbeat
		body = struct {
			Type string `json:"type"`
			alias
		}{v.MessageType(), alias(v)}
	case SensorUpdate:
		type alias SensorUpdate
		body = struct {
			Type string `json:"type"`
			alias
		}{v.MessageType(), alias(v)}
	default:
		return nil, fmt.Errorf("encode relay message: unsupported type %T", m)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.MessageType(), err)
	}
	return data, nil
}

// Inbound is a frame from the collector: Command or CameraStatus.
type Inbound interface {
	inbound()
}

type CommandName string

const (
	CommandTestMotor CommandName = "test_motor"
	CommandGetStatus CommandName = "get_status"
)

type Command struct {
	Name CommandName
}

type CameraStatus struct {
	Connected bool
}

func (Command) inbound()      {}
func (CameraStatus) inbound() {}

var ErrUnknownMessage = errors.New("unknown inbound message")

// DecodeInbound parses one inbound frame. Unknown tags and commands are rejected.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw struct {
		Type      string `json:"type"`
		Command   string `json:"command"`
		Connected *bool  `json:"connected"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode inbound message: %w", err)
	}

	switch raw.Type {
	case "command":
		switch name := CommandName(raw.Command); name {
		case CommandTestMotor, CommandGetStatus:
			return Command{Name: name}, nil
		default:
			return nil, fmt.Errorf("%w: command %q", ErrUnknownMessage, raw.Command)
		}
	case "camera-status":
		if raw.Connected == nil {
			return nil, fmt.Errorf("decode camera-status: missing connected field")
		}
		return CameraStatus{Connected: *raw.Connected}, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownMessage, raw.Type)
	}
}
