// Package networktest provides an in-memory Station for tests.
package networktest

import (
	"errors"
	"sync"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// Station joins instantly when the submitted credentials match Reachable,
// and never joins otherwise.
type Station struct {
	mu sync.Mutex

	Reachable model.Credentials
	IP        string
	HWAddr    string
	Strength  int
	Networks  []model.Network
	JoinErr   error
	ScanErr   error

	connected bool
	apActive  bool
	APStarts  int
	APStops   int
	// SignalReads counts Signal calls; on real hardware each one is a radio query.
	SignalReads int
	Joins       []model.Credentials
}

func New(reachable model.Credentials) *Station {
	return &Station{
		Reachable: reachable,
		IP:        "192.168.1.50",
		HWAddr:    "DC:A6:32:01:02:03",
		Strength:  70,
	}
}

func (s *Station) Join(creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Joins = append(s.Joins, creds)
	if s.JoinErr != nil {
		return s.JoinErr
	}
	s.connected = creds == s.Reachable
	return nil
}

func (s *Station) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Drop simulates a link loss.
func (s *Station) Drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Station) LocalIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ""
	}
	return s.IP
}

func (s *Station) MAC() string { return s.HWAddr }

func (s *Station) Signal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SignalReads++
	if !s.connected {
		return 0
	}
	return s.Strength
}

func (s *Station) StartAP(ssid, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ssid == "" {
		return errors.New("empty ssid")
	}
	s.apActive = true
	s.APStarts++
	return nil
}

func (s *Station) StopAP() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apActive = false
	s.APStops++
	return nil
}

func (s *Station) APActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apActive
}

func (s *Station) Scan() ([]model.Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Networks, s.ScanErr
}
