package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateProvisioning ConnectionState = "provisioning"
)

var allowedTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateProvisioning},
	StateProvisioning: {StateConnected},
	StateConnected:    {StateConnecting},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Credentials struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Password string `json:"password" yaml:"password"`
}

func (c Credentials) Complete() bool {
	return c.SSID != "" && c.Password != ""
}

// Network is one entry of an access point scan.
type Network struct {
	SSID   string `json:"ssid"`
	Signal int    `json:"signal"` // percent, as reported by the station
}

type Role string

const (
	RoleSensor   Role = "sensor"
	RoleActuator Role = "actuator"
)

func (r Role) Valid() bool {
	return r == RoleSensor || r == RoleActuator
}

type PeerAddr [6]byte

// ParsePeerAddr parses a colon or dash separated 6-byte radio address.
// The all-zero and broadcast addresses are rejected since neither can be a peer.
func ParsePeerAddr(s string) (PeerAddr, error) {
	var addr PeerAddr
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return addr, fmt.Errorf("malformed peer address %q", s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return addr, fmt.Errorf("malformed peer address %q: %w", s, err)
	}
	copy(addr[:], raw)
	if addr == (PeerAddr{}) || addr == (PeerAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		return addr, fmt.Errorf("peer address %q is not unicast", s)
	}
	return addr, nil
}

func (a PeerAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

type PeerEndpoint struct {
	Identity   PeerAddr
	Role       Role
	LastSeenAt time.Time
}

func (p *PeerEndpoint) Touch(at time.Time) {
	p.LastSeenAt = at
}

// Active is true while no more than timeout has passed since the peer was last seen.
// A peer that was never seen is inactive.
func (p *PeerEndpoint) Active(now time.Time, timeout time.Duration) bool {
	if p.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(p.LastSeenAt) <= timeout
}

type SensorReading struct {
	Distance    int
	Temperature float64
	Humidity    float64
	Valid       bool // false when the echo timed out
	ClimateOK   bool // temperature/humidity sensor health reported by the node
	ReceivedAt  time.Time
}

type ActuationLevel int

const (
	LevelSafe ActuationLevel = iota
	LevelCaution
	LevelWarning
	LevelDanger
)

func LevelForDistance(distance int) ActuationLevel {
	switch {
	case distance < 0:
		return LevelSafe
	case distance < 20:
		return LevelDanger
	case distance < 50:
		return LevelWarning
	case distance < 100:
		return LevelCaution
	default:
		return LevelSafe
	}
}

func LevelForReading(r SensorReading) ActuationLevel {
	if !r.Valid {
		return LevelSafe
	}
	return LevelForDistance(r.Distance)
}

func (l ActuationLevel) String() string {
	switch l {
	case LevelDanger:
		return "danger"
	case LevelWarning:
		return "warning"
	case LevelCaution:
		return "caution"
	default:
		return "safe"
	}
}

// AlertLevel is the severity used on the collector's alert feed.
func (l ActuationLevel) AlertLevel() string {
	switch l {
	case LevelDanger:
		return "danger"
	case LevelWarning:
		return "warning"
	default:
		return "info"
	}
}

func (l ActuationLevel) AlertMessage() string {
	switch l {
	case LevelDanger:
		return "Danger! Object very close"
	case LevelWarning:
		return "Warning! Object nearby"
	case LevelCaution:
		return "Caution! Object detected"
	default:
		return "Path clear"
	}
}
